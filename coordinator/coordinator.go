// Package coordinator is the aggregation hub: it enriches and persists
// observer alerts, caches the latest page context, tracks the inference
// backend's lifecycle, and brokers chat between presentation surfaces
// and the inference runner.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pagesentry/pagesentry/idgen"
	"github.com/pagesentry/pagesentry/pagectx"
	"github.com/pagesentry/pagesentry/wire"
)

// chatNotReadyMsg matches what presentation surfaces show verbatim.
const chatNotReadyMsg = "Model not ready - please wait for initialization"

// Config for creating a Coordinator.
type Config struct {
	In        *wire.Bus // observers and presentation publish here
	ToEngine  *wire.Bus
	ToPresent *wire.Bus
	Store     *Store
	// ReinitGrace is how long a chat waits for a triggered reinit
	// before failing. Default 1s.
	ReinitGrace time.Duration
	Logger      *slog.Logger
}

// Coordinator runs the aggregation loop. All message handling happens on
// the Run goroutine; the exported getters are safe from any goroutine.
type Coordinator struct {
	in        *wire.Bus
	toEngine  *wire.Bus
	toPresent *wire.Bus
	store     *Store
	enricher  *enricher
	grace     time.Duration
	logger    *slog.Logger

	graceCh chan string

	mu         sync.RWMutex
	modelState wire.ModelState
	modelName  string
	modelErr   string
	currentCtx *pagectx.PageContext

	pending map[string]struct{}         // chats dispatched to the engine
	waiting map[string]wire.ChatMessage // chats parked behind a reinit
}

// New creates a Coordinator.
func New(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReinitGrace <= 0 {
		cfg.ReinitGrace = time.Second
	}
	return &Coordinator{
		in:         cfg.In,
		toEngine:   cfg.ToEngine,
		toPresent:  cfg.ToPresent,
		store:      cfg.Store,
		enricher:   newEnricher(cfg.Logger),
		grace:      cfg.ReinitGrace,
		logger:     cfg.Logger,
		graceCh:    make(chan string, 64),
		modelState: wire.ModelUninitialized,
		pending:    make(map[string]struct{}),
		waiting:    make(map[string]wire.ChatMessage),
	}
}

// Run processes messages until ctx is cancelled or the inbound bus
// closes.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("coordinator: started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("coordinator: stopped")
			return ctx.Err()
		case env, ok := <-c.in.Receive():
			if !ok {
				return nil
			}
			c.handle(ctx, env)
		case id := <-c.graceCh:
			c.graceExpired(id)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, env wire.Envelope) {
	switch p := env.Payload.(type) {
	case wire.SecurityAlert:
		c.handleAlert(ctx, p)
	case wire.PageContextUpdate:
		c.setContext(&p.Context)
	case wire.ModelReady:
		c.handleModelReady(p)
	case wire.ModelError:
		c.handleModelError(p)
	case wire.InferenceResponse:
		c.handleInference(p)
	case wire.ChatMessage:
		c.handleChat(p)
	case wire.InitModel:
		c.requestInit()
	case wire.LoadModel:
		c.setModel(wire.ModelLoading, p.Model, "")
		c.toEngine.Send(wire.NewEnvelope(p))
	default:
		// Unknown payloads are acknowledged generically, never guessed at.
		c.logger.Warn("coordinator: unhandled message type", "type", string(env.Type))
	}
}

// handleAlert enriches, persists, and rebroadcasts. A persistence
// failure is logged but never blocks the rebroadcast; losing history
// beats losing the live notification.
func (c *Coordinator) handleAlert(ctx context.Context, raw wire.SecurityAlert) {
	a := c.enricher.enrich(raw)

	if err := c.store.Append(ctx, a); err != nil {
		c.logger.Error("coordinator: persist alert", "kind", string(a.Kind), "error", err)
	}

	c.logger.Info("coordinator: security alert",
		"kind", string(a.Kind), "severity", string(a.Severity), "url", a.PageURL)
	c.toPresent.Send(wire.NewEnvelope(wire.AlertNotification{Alert: a}))
}

func (c *Coordinator) handleModelReady(p wire.ModelReady) {
	c.setModel(wire.ModelReadyState, p.Model, "")

	// Flush chats that were parked behind the reinit.
	c.mu.Lock()
	parked := c.waiting
	c.waiting = make(map[string]wire.ChatMessage)
	c.mu.Unlock()
	for _, msg := range parked {
		c.dispatch(msg)
	}
}

// handleModelError fails every outstanding chat; a dead backend answers
// nothing, and a silent pending entry would hang its caller.
func (c *Coordinator) handleModelError(p wire.ModelError) {
	c.setModel(wire.ModelErrorState, c.ModelName(), p.Message)

	c.mu.Lock()
	var ids []string
	for id := range c.pending {
		ids = append(ids, id)
	}
	for id := range c.waiting {
		ids = append(ids, id)
	}
	c.pending = make(map[string]struct{})
	c.waiting = make(map[string]wire.ChatMessage)
	c.mu.Unlock()

	for _, id := range ids {
		c.toPresent.Send(wire.NewEnvelope(wire.ChatError{
			RequestID: id,
			Message:   "Failed to process message",
		}))
	}
}

func (c *Coordinator) handleInference(p wire.InferenceResponse) {
	c.mu.Lock()
	_, known := c.pending[p.RequestID]
	delete(c.pending, p.RequestID)
	c.mu.Unlock()

	if !known {
		c.logger.Warn("coordinator: inference response for unknown request", "request_id", p.RequestID)
		return
	}
	c.toPresent.Send(wire.NewEnvelope(wire.ChatResponse{RequestID: p.RequestID, Answer: p.Text}))
}

func (c *Coordinator) handleChat(msg wire.ChatMessage) {
	if msg.RequestID == "" {
		msg.RequestID = idgen.New()
	}

	if c.State() == wire.ModelReadyState {
		c.dispatch(msg)
		return
	}

	// Not ready: trigger one reinit, park the chat for the grace window,
	// and fail it if the backend has not come up by then.
	c.mu.Lock()
	c.waiting[msg.RequestID] = msg
	c.mu.Unlock()

	c.requestInit()

	id := msg.RequestID
	time.AfterFunc(c.grace, func() {
		select {
		case c.graceCh <- id:
		default:
			c.logger.Warn("coordinator: grace queue full", "request_id", id)
		}
	})
}

// dispatch assembles the prompt and hands the request to the engine.
func (c *Coordinator) dispatch(msg wire.ChatMessage) {
	prompt := BuildPrompt(msg.Question, c.Context())

	c.mu.Lock()
	c.pending[msg.RequestID] = struct{}{}
	c.mu.Unlock()

	if !c.toEngine.Send(wire.NewEnvelope(wire.InferenceRequest{
		RequestID: msg.RequestID,
		Prompt:    prompt,
	})) {
		c.mu.Lock()
		delete(c.pending, msg.RequestID)
		c.mu.Unlock()
		c.toPresent.Send(wire.NewEnvelope(wire.ChatError{
			RequestID: msg.RequestID,
			Message:   "Failed to process message",
		}))
	}
}

func (c *Coordinator) graceExpired(id string) {
	c.mu.Lock()
	_, parked := c.waiting[id]
	delete(c.waiting, id)
	c.mu.Unlock()

	if !parked {
		return // dispatched in the meantime
	}
	c.toPresent.Send(wire.NewEnvelope(wire.ChatError{RequestID: id, Message: chatNotReadyMsg}))
}

// requestInit asks the engine to (re)initialize unless a load is already
// in flight.
func (c *Coordinator) requestInit() {
	if c.State() == wire.ModelLoading {
		return
	}
	c.setModel(wire.ModelLoading, c.ModelName(), "")
	c.toEngine.Send(wire.NewEnvelope(wire.InitModel{}))
}

func (c *Coordinator) setModel(state wire.ModelState, model, errMsg string) {
	c.mu.Lock()
	c.modelState = state
	c.modelName = model
	c.modelErr = errMsg
	c.mu.Unlock()

	c.logger.Info("coordinator: model state", "state", string(state), "model", model, "error", errMsg)
	c.toPresent.Send(wire.NewEnvelope(wire.ModelStatus{State: state, Model: model, Error: errMsg}))
}

func (c *Coordinator) setContext(pc *pagectx.PageContext) {
	c.mu.Lock()
	c.currentCtx = pc
	c.mu.Unlock()
	c.logger.Debug("coordinator: page context updated", "url", pc.Technical.URL)
}

// Context returns the most recent page context, or nil before the first
// scan.
func (c *Coordinator) Context() *pagectx.PageContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentCtx
}

// State returns the current model state.
func (c *Coordinator) State() wire.ModelState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.modelState
}

// ModelName returns the configured model, if any.
func (c *Coordinator) ModelName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.modelName
}

// Status snapshots the model lifecycle for presentation surfaces.
func (c *Coordinator) Status() wire.ModelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return wire.ModelStatus{State: c.modelState, Model: c.modelName, Error: c.modelErr}
}

// History exposes the persisted alert store.
func (c *Coordinator) History() *Store {
	return c.store
}
