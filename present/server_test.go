package present

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/pagesentry/pagesentry/coordinator"
	"github.com/pagesentry/pagesentry/dbopen"
	"github.com/pagesentry/pagesentry/pagectx"
	"github.com/pagesentry/pagesentry/wire"
)

type harness struct {
	in        *wire.Bus
	toEngine  *wire.Bus
	toPresent *wire.Bus
	coord     *coordinator.Coordinator
	srv       *Server
}

// newHarness runs a real coordinator and a present server over shared
// buses. withEngine adds a fake inference engine that reports ready and
// echoes a canned answer.
func newHarness(t *testing.T, withEngine bool) *harness {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(coordinator.Schema))

	h := &harness{
		in:        wire.NewBus("in", 64, nil),
		toEngine:  wire.NewBus("engine", 64, nil),
		toPresent: wire.NewBus("present", 64, nil),
	}
	h.coord = coordinator.New(coordinator.Config{
		In:          h.in,
		ToEngine:    h.toEngine,
		ToPresent:   h.toPresent,
		Store:       coordinator.NewStore(db, 50),
		ReinitGrace: 2 * time.Second,
	})
	h.srv = NewServer(Config{
		Coord:       h.coord,
		In:          h.in,
		FromCoord:   h.toPresent,
		ChatTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	coordDone := make(chan struct{})
	presentDone := make(chan struct{})
	go func() {
		defer close(coordDone)
		h.coord.Run(ctx)
	}()
	go func() {
		defer close(presentDone)
		h.srv.Run(ctx)
	}()
	if withEngine {
		go h.fakeEngine(ctx)
	}
	t.Cleanup(func() {
		cancel()
		<-coordDone
		<-presentDone
	})
	return h
}

// fakeEngine acks initialization and answers every inference request.
func (h *harness) fakeEngine(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-h.toEngine.Receive():
			if !ok {
				return
			}
			switch p := env.Payload.(type) {
			case wire.InitModel:
				h.in.Send(wire.NewEnvelope(wire.ModelReady{Model: "sentinel-7b"}))
			case wire.LoadModel:
				h.in.Send(wire.NewEnvelope(wire.ModelReady{Model: p.Model}))
			case wire.InferenceRequest:
				h.in.Send(wire.NewEnvelope(wire.InferenceResponse{
					RequestID: p.RequestID,
					Text:      "The page looks safe.",
				}))
			}
		}
	}
}

func (h *harness) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func (h *harness) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

// waitUntil polls cond until it holds or the deadline passes.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHealth(t *testing.T) {
	h := newHarness(t, false)
	rec := h.get(t, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
}

func TestAlertsEndpoint(t *testing.T) {
	h := newHarness(t, false)
	h.in.Send(wire.NewEnvelope(wire.SecurityAlert{
		Kind:    wire.AlertPasswordOverHTTP,
		PageURL: "http://login.example.com",
	}))

	waitUntil(t, time.Second, func() bool {
		n, err := h.coord.History().Count(context.Background())
		return err == nil && n == 1
	})

	rec := h.get(t, "/api/alerts")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body)
	}
	var resp struct {
		Alerts []wire.Alert `json:"alerts"`
		Count  int          `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 1 || len(resp.Alerts) != 1 {
		t.Fatalf("count: got %d", resp.Count)
	}
	if resp.Alerts[0].Severity != wire.SeverityHigh {
		t.Errorf("severity: got %q", resp.Alerts[0].Severity)
	}
}

func TestAlertsBadLimit(t *testing.T) {
	h := newHarness(t, false)
	rec := h.get(t, "/api/alerts?limit=zero")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d", rec.Code)
	}
}

func TestContextEndpoint(t *testing.T) {
	h := newHarness(t, false)

	rec := h.get(t, "/api/context")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("before scan: got %d", rec.Code)
	}

	h.in.Send(wire.NewEnvelope(wire.PageContextUpdate{Context: pagectx.PageContext{
		Technical: pagectx.TechnicalInfo{URL: "https://app.example.com", Title: "App", Secure: true},
	}}))
	waitUntil(t, time.Second, func() bool { return h.coord.Context() != nil })

	rec = h.get(t, "/api/context")
	if rec.Code != http.StatusOK {
		t.Fatalf("after scan: got %d", rec.Code)
	}
	var pc pagectx.PageContext
	if err := json.Unmarshal(rec.Body.Bytes(), &pc); err != nil {
		t.Fatal(err)
	}
	if pc.Technical.URL != "https://app.example.com" {
		t.Errorf("url: got %q", pc.Technical.URL)
	}
}

func TestStatusEndpoint(t *testing.T) {
	h := newHarness(t, false)
	rec := h.get(t, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	var st wire.ModelStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.State != wire.ModelUninitialized {
		t.Errorf("state: got %q", st.State)
	}
}

func TestChatRoundtrip(t *testing.T) {
	h := newHarness(t, true)

	rec := h.post(t, "/api/chat", `{"question":"Is this page safe?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body)
	}
	var resp struct {
		Answer string `json:"answer"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Answer != "The page looks safe." {
		t.Errorf("answer: got %q", resp.Answer)
	}
}

func TestChatMissingQuestion(t *testing.T) {
	h := newHarness(t, false)
	rec := h.post(t, "/api/chat", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d", rec.Code)
	}
}

func TestChatModelNeverReady(t *testing.T) {
	h := newHarness(t, false) // nothing serves the engine bus

	rec := h.post(t, "/api/chat", `{"question":"hello"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), "Model not ready") {
		t.Errorf("body: got %s", rec.Body)
	}
}

func TestModelLoadEndpoint(t *testing.T) {
	h := newHarness(t, true)

	rec := h.post(t, "/api/model/load", `{"model":"guard-13b"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body)
	}
	waitUntil(t, time.Second, func() bool {
		return h.coord.State() == wire.ModelReadyState && h.coord.ModelName() == "guard-13b"
	})
}

func TestModelLoadMissingModel(t *testing.T) {
	h := newHarness(t, false)
	rec := h.post(t, "/api/model/load", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d", rec.Code)
	}
}

func TestBasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, false)
	h.srv.authUser = "sentry"
	h.srv.authHash = string(hash)

	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no credentials: got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.SetBasicAuth("sentry", "wrong")
	h.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.SetBasicAuth("sentry", "s3cret")
	h.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid credentials: got %d", rec.Code)
	}

	// Health stays open for load balancer probes.
	rec = httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health: got %d", rec.Code)
	}
}

func TestEventsStream(t *testing.T) {
	h := newHarness(t, false)
	ts := httptest.NewServer(h.srv.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: got %q", ct)
	}

	// Make sure the subscriber is registered before the alert fires.
	waitUntil(t, time.Second, func() bool {
		h.srv.mu.Lock()
		defer h.srv.mu.Unlock()
		return len(h.srv.subs) == 1
	})
	h.in.Send(wire.NewEnvelope(wire.SecurityAlert{
		Kind:    wire.AlertInsecureProtocol,
		PageURL: "http://plain.example.com",
	}))

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if scanner.Text() == "event: alert_notification" {
			return
		}
	}
	t.Fatalf("stream ended without alert event: %v", scanner.Err())
}

func TestBuildSummary(t *testing.T) {
	status := wire.ModelStatus{State: wire.ModelReadyState, Model: "sentinel-7b"}

	s := BuildSummary(nil, status, nil)
	if s.Headline != "no page scanned yet" {
		t.Errorf("nil context headline: got %q", s.Headline)
	}

	pc := &pagectx.PageContext{
		Technical: pagectx.TechnicalInfo{URL: "http://shop.example.com", Title: "Shop"},
	}
	alerts := []wire.Alert{
		{Severity: wire.SeverityHigh},
		{Severity: wire.SeverityMedium},
	}
	s = BuildSummary(pc, status, alerts)
	if s.AlertCount != 2 || s.HighAlertCount != 1 {
		t.Errorf("counts: got %d/%d", s.AlertCount, s.HighAlertCount)
	}
	if !strings.Contains(s.Headline, "1 high-severity alerts") {
		t.Errorf("headline: got %q", s.Headline)
	}

	s = BuildSummary(pc, status, nil)
	if !strings.Contains(s.Headline, "not served over HTTPS") {
		t.Errorf("insecure headline: got %q", s.Headline)
	}

	pc.Technical.Secure = true
	s = BuildSummary(pc, status, nil)
	if !strings.Contains(s.Headline, "no risk signals") {
		t.Errorf("clean headline: got %q", s.Headline)
	}
}
