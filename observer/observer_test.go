package observer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pagesentry/pagesentry/heuristics"
	"github.com/pagesentry/pagesentry/wire"
)

type fakePage struct {
	mu     sync.Mutex
	id     string
	url    string
	html   string
	events chan Event
	evals  int
}

func newFakePage(id, url, html string) *fakePage {
	return &fakePage{id: id, url: url, html: html, events: make(chan Event, 16)}
}

func (p *fakePage) ID() string { return p.id }

func (p *fakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakePage) HTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

func (p *fakePage) Eval(context.Context, string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evals++
	return `{"cookie_count":2,"local_storage_keys":1,"session_storage_keys":0}`, nil
}

func (p *fakePage) Events() <-chan Event { return p.events }

func (p *fakePage) navigate(url string) {
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	p.events <- Event{Op: EventNavigate, URL: url}
}

const scriptPage = `<html><head><title>t</title></head><body>
<script src="https://malicious-cdn.example.com/track.js"></script>
</body></html>`

// runObserver drives an observer over a fake page, executes fn, then
// stops the loop and returns everything that reached the bus.
func runObserver(t *testing.T, page *fakePage, throttle time.Duration, fn func()) []wire.Envelope {
	t.Helper()
	bus := wire.NewBus("test", 128, nil)
	o := New(Config{
		Page:          page,
		Out:           bus,
		ScanThrottle:  throttle,
		MutationDelay: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Run(ctx)
	}()

	fn()
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done
	bus.Close()

	var got []wire.Envelope
	for env := range bus.Receive() {
		got = append(got, env)
	}
	return got
}

func countAlerts(envs []wire.Envelope, kind wire.AlertKind) int {
	n := 0
	for _, env := range envs {
		if a, ok := env.Payload.(wire.SecurityAlert); ok && a.Kind == kind {
			n++
		}
	}
	return n
}

func countType(envs []wire.Envelope, t wire.Type) int {
	n := 0
	for _, env := range envs {
		if env.Type == t {
			n++
		}
	}
	return n
}

func TestInitialScan(t *testing.T) {
	page := newFakePage("p1", "http://legacy.test/", scriptPage)
	got := runObserver(t, page, time.Hour, func() {})

	if n := countType(got, wire.TypePageContext); n != 1 {
		t.Errorf("page_context count: got %d, want 1", n)
	}
	if n := countAlerts(got, wire.AlertInsecureProtocol); n != 1 {
		t.Errorf("insecure_protocol count: got %d, want 1", n)
	}
	if n := countAlerts(got, wire.AlertSuspiciousScript); n != 1 {
		t.Errorf("suspicious_script count: got %d, want 1", n)
	}
}

func TestScriptAlertDedup(t *testing.T) {
	page := newFakePage("p1", "https://site.test/", scriptPage)
	got := runObserver(t, page, time.Millisecond, func() {
		// Second scan without navigation: script must not re-alert.
		time.Sleep(20 * time.Millisecond)
		page.events <- Event{Op: EventFormsAdded}
		time.Sleep(50 * time.Millisecond)
	})

	if n := countType(got, wire.TypePageContext); n != 2 {
		t.Fatalf("page_context count: got %d, want 2", n)
	}
	if n := countAlerts(got, wire.AlertSuspiciousScript); n != 1 {
		t.Errorf("suspicious_script count: got %d, want 1", n)
	}
}

func TestScriptDedupResetsOnNavigate(t *testing.T) {
	page := newFakePage("p1", "https://site.test/", scriptPage)
	got := runObserver(t, page, time.Millisecond, func() {
		time.Sleep(20 * time.Millisecond)
		page.navigate("https://site.test/other")
		time.Sleep(50 * time.Millisecond)
	})

	if n := countAlerts(got, wire.AlertSuspiciousScript); n != 2 {
		t.Errorf("suspicious_script count: got %d, want 2 (dedup resets on navigation)", n)
	}
}

func TestScanThrottleDropsSilently(t *testing.T) {
	page := newFakePage("p1", "https://site.test/", "<html><body></body></html>")
	got := runObserver(t, page, time.Hour, func() {
		page.events <- Event{Op: EventFormsAdded}
		time.Sleep(50 * time.Millisecond)
	})

	// The initial scan used the hour-long throttle window; the settle
	// rescan is dropped, not queued.
	if n := countType(got, wire.TypePageContext); n != 1 {
		t.Errorf("page_context count: got %d, want 1", n)
	}
}

func TestScanDoesNotAlertRiskyForms(t *testing.T) {
	const page = `<html><body>
	<form action="http://collect.evil.test/submit" method="post">
	  <input type="password" name="pw">
	</form>
	</body></html>`

	fp := newFakePage("p1", "http://legacy.test/", page)
	got := runObserver(t, fp, time.Millisecond, func() {
		// Force a second full pass; the risky form still must not alert
		// without a submission event.
		time.Sleep(20 * time.Millisecond)
		fp.events <- Event{Op: EventFormsAdded}
		time.Sleep(50 * time.Millisecond)
	})

	if n := countType(got, wire.TypePageContext); n != 2 {
		t.Fatalf("page_context count: got %d, want 2", n)
	}
	if n := countAlerts(got, wire.AlertInsecureForm); n != 0 {
		t.Errorf("insecure_form_submission count: got %d, want 0", n)
	}
	if n := countAlerts(got, wire.AlertInsecureProtocol); n != 2 {
		t.Errorf("insecure_protocol count: got %d, want 2", n)
	}
}

func TestFormSubmitAlert(t *testing.T) {
	page := newFakePage("p1", "https://site.test/", "<html><body></body></html>")
	got := runObserver(t, page, time.Hour, func() {
		page.events <- Event{Op: EventFormSubmit, Form: heuristics.FormInfo{
			Action:      "http://collect.evil.test/submit",
			HasPassword: true,
		}}
	})

	if n := countAlerts(got, wire.AlertInsecureForm); n != 1 {
		t.Fatalf("insecure_form_submission count: got %d, want 1", n)
	}
	for _, env := range got {
		if a, ok := env.Payload.(wire.SecurityAlert); ok && a.Kind == wire.AlertInsecureForm {
			if a.Message != "Password submitted over HTTP" {
				t.Errorf("Message: got %q", a.Message)
			}
		}
	}
}

func TestFormSubmitCleanNoAlert(t *testing.T) {
	page := newFakePage("p1", "https://site.test/", "<html><body></body></html>")
	got := runObserver(t, page, time.Hour, func() {
		page.events <- Event{Op: EventFormSubmit, Form: heuristics.FormInfo{
			Action:      "/login",
			HasPassword: true,
		}}
	})

	if n := countAlerts(got, wire.AlertInsecureForm); n != 0 {
		t.Errorf("insecure_form_submission count: got %d, want 0", n)
	}
}

func TestPasswordInputAlert(t *testing.T) {
	page := newFakePage("p1", "http://legacy.test/", "<html><body></body></html>")
	got := runObserver(t, page, time.Hour, func() {
		page.events <- Event{Op: EventPasswordInput, Form: heuristics.FormInfo{Action: "/login"}}
	})

	if n := countAlerts(got, wire.AlertPasswordOverHTTP); n != 1 {
		t.Errorf("password_over_http count: got %d, want 1", n)
	}
}
