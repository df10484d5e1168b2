// Package present is the outward surface: an HTTP API over the
// coordinator's state, a server-sent event stream of live notifications,
// and an MCP tool set for agent access. It owns the request/response
// pairing for chat, so callers get a synchronous answer over what is an
// asynchronous bus underneath.
package present

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/pagesentry/pagesentry/coordinator"
	"github.com/pagesentry/pagesentry/idgen"
	"github.com/pagesentry/pagesentry/shield"
	"github.com/pagesentry/pagesentry/wire"
)

// Config for creating a Server.
type Config struct {
	Coord     *coordinator.Coordinator
	In        *wire.Bus // coordinator's inbound bus
	FromCoord *wire.Bus // coordinator's presentation bus

	// BasicAuthUser and BasicAuthHash (bcrypt) enable HTTP Basic Auth
	// when both are set.
	BasicAuthUser string
	BasicAuthHash string

	// ChatTimeout bounds how long a chat call waits for an answer.
	// Default 90s.
	ChatTimeout time.Duration
	Logger      *slog.Logger
}

type chatOutcome struct {
	answer string
	errMsg string
}

// Server pairs chat requests with their responses and fans coordinator
// notifications out to event-stream subscribers.
type Server struct {
	coord       *coordinator.Coordinator
	in          *wire.Bus
	from        *wire.Bus
	authUser    string
	authHash    string
	chatTimeout time.Duration
	newID       func() string
	logger      *slog.Logger

	mu      sync.Mutex
	waiters map[string]chan chatOutcome
	subs    map[chan wire.Envelope]struct{}
}

// NewServer creates a Server.
func NewServer(cfg Config) *Server {
	if cfg.ChatTimeout <= 0 {
		cfg.ChatTimeout = 90 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		coord:       cfg.Coord,
		in:          cfg.In,
		from:        cfg.FromCoord,
		authUser:    cfg.BasicAuthUser,
		authHash:    cfg.BasicAuthHash,
		chatTimeout: cfg.ChatTimeout,
		newID:       idgen.Prefixed("cht_", idgen.Default),
		logger:      cfg.Logger,
		waiters:     make(map[string]chan chatOutcome),
		subs:        make(map[chan wire.Envelope]struct{}),
	}
}

// Run consumes the coordinator's presentation bus until ctx is cancelled
// or the bus closes. Chat responses resolve their waiter; everything is
// fanned out to event subscribers.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("present: started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("present: stopped")
			return ctx.Err()
		case env, ok := <-s.from.Receive():
			if !ok {
				return nil
			}
			switch p := env.Payload.(type) {
			case wire.ChatResponse:
				s.resolve(p.RequestID, chatOutcome{answer: p.Answer})
			case wire.ChatError:
				s.resolve(p.RequestID, chatOutcome{errMsg: p.Message})
			}
			s.broadcast(env)
		}
	}
}

func (s *Server) resolve(id string, out chatOutcome) {
	s.mu.Lock()
	ch, ok := s.waiters[id]
	delete(s.waiters, id)
	s.mu.Unlock()
	if !ok {
		return // caller already timed out or gave up
	}
	ch <- out
}

func (s *Server) broadcast(env wire.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- env:
		default:
			s.logger.Warn("present: slow event subscriber, dropping", "type", string(env.Type))
		}
	}
}

func (s *Server) subscribe() chan wire.Envelope {
	ch := make(chan wire.Envelope, 16)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan wire.Envelope) {
	s.mu.Lock()
	delete(s.subs, ch)
	s.mu.Unlock()
}

// ask submits a question to the coordinator and waits for the paired
// answer.
func (s *Server) ask(ctx context.Context, question string) (string, error) {
	id := s.newID()
	ch := make(chan chatOutcome, 1)
	s.mu.Lock()
	s.waiters[id] = ch
	s.mu.Unlock()

	drop := func() {
		s.mu.Lock()
		delete(s.waiters, id)
		s.mu.Unlock()
	}

	if !s.in.Send(wire.NewEnvelope(wire.ChatMessage{RequestID: id, Question: question})) {
		drop()
		return "", fmt.Errorf("present: coordinator unavailable")
	}

	select {
	case out := <-ch:
		if out.errMsg != "" {
			return "", fmt.Errorf("%s", out.errMsg)
		}
		return out.answer, nil
	case <-time.After(s.chatTimeout):
		drop()
		return "", fmt.Errorf("present: chat timed out")
	case <-ctx.Done():
		drop()
		return "", ctx.Err()
	}
}

// Handler builds the HTTP API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.APIStack() {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		if s.authUser != "" && s.authHash != "" {
			r.Use(s.basicAuth)
		}

		r.Get("/api/alerts", s.handleAlerts)
		r.Get("/api/context", s.handleContext)
		r.Get("/api/status", s.handleStatus)
		r.Get("/api/summary", s.handleSummary)
		r.Get("/api/events", s.handleEvents)
		r.Post("/api/chat", s.handleChat)
		r.Post("/api/model/init", s.handleModelInit)
		r.Post("/api/model/load", s.handleModelLoad)
	})

	return r
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.authUser)) != 1 ||
			bcrypt.CompareHashAndPassword([]byte(s.authHash), []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="pagesentry"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	alerts, err := s.coord.History().Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("present: list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load alerts"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	pc := s.coord.Context()
	if pc == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no page context captured yet"})
		return
	}
	writeJSON(w, http.StatusOK, pc)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Status())
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.coord.History().Recent(r.Context(), 50)
	if err != nil {
		s.logger.Error("present: summary alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load alerts"})
		return
	}
	writeJSON(w, http.StatusOK, BuildSummary(s.coord.Context(), s.coord.Status(), alerts))
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.Question == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}

	answer, err := s.ask(r.Context(), req.Question)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

func (s *Server) handleModelInit(w http.ResponseWriter, _ *http.Request) {
	if !s.in.Send(wire.NewEnvelope(wire.InitModel{})) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "coordinator unavailable"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "initializing"})
}

func (s *Server) handleModelLoad(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Model == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "model is required"})
		return
	}
	if !s.in.Send(wire.NewEnvelope(wire.LoadModel{Model: req.Model})) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "coordinator unavailable"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "loading", "model": req.Model})
}

// handleEvents streams coordinator notifications as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	ch := s.subscribe()
	defer s.unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case env := <-ch:
			data, err := json.Marshal(env)
			if err != nil {
				s.logger.Error("present: marshal event", "type", string(env.Type), "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.Type, data)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
