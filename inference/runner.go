package inference

import (
	"context"
	"log/slog"

	"github.com/pagesentry/pagesentry/wire"
)

// Runner serves the coordinator's engine bus: initialization probes and
// inference requests in, lifecycle and response messages out. Requests
// run on their own goroutines so a slow completion cannot starve a
// reinit.
type Runner struct {
	client *Client
	in     *wire.Bus
	out    *wire.Bus
	logger *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(client *Client, in, out *wire.Bus, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{client: client, in: in, out: out, logger: logger}
}

// Run consumes the engine bus until ctx is cancelled or the bus closes.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("inference: runner started", "model", r.client.Model())
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("inference: runner stopped")
			return ctx.Err()
		case env, ok := <-r.in.Receive():
			if !ok {
				return nil
			}
			r.handle(ctx, env)
		}
	}
}

func (r *Runner) handle(ctx context.Context, env wire.Envelope) {
	switch p := env.Payload.(type) {
	case wire.InitModel:
		go r.initialize(ctx)
	case wire.LoadModel:
		r.client.SetModel(p.Model)
		go r.initialize(ctx)
	case wire.InferenceRequest:
		go r.infer(ctx, p)
	default:
		r.logger.Warn("inference: unhandled message type", "type", string(env.Type))
	}
}

// initialize probes the backend and reports readiness.
func (r *Runner) initialize(ctx context.Context) {
	if err := r.client.Probe(ctx); err != nil {
		r.logger.Error("inference: initialization failed", "error", err)
		r.out.Send(wire.NewEnvelope(wire.ModelError{Message: err.Error()}))
		return
	}
	r.logger.Info("inference: model ready", "model", r.client.Model())
	r.out.Send(wire.NewEnvelope(wire.ModelReady{Model: r.client.Model()}))
}

func (r *Runner) infer(ctx context.Context, req wire.InferenceRequest) {
	text, err := r.client.Complete(ctx, req.Prompt)
	if err != nil {
		r.logger.Error("inference: completion failed", "request_id", req.RequestID, "error", err)
		r.out.Send(wire.NewEnvelope(wire.ModelError{Message: err.Error()}))
		return
	}
	r.out.Send(wire.NewEnvelope(wire.InferenceResponse{RequestID: req.RequestID, Text: text}))
}
