package observer

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/pagesentry/pagesentry/heuristics"
	"github.com/pagesentry/pagesentry/pagectx"
	"github.com/pagesentry/pagesentry/wire"
)

// Config for creating an Observer.
type Config struct {
	Page           Page
	Out            *wire.Bus
	ScanThrottle   time.Duration // min interval between full scans
	MutationDelay  time.Duration // settle delay after form insertions
	InlineWarnings bool
	Logger         *slog.Logger
}

// Observer scans one live page. Run owns the event loop; everything else
// is called from it, so no internal locking is needed.
type Observer struct {
	page           Page
	out            *wire.Bus
	extractor      *pagectx.Extractor
	guard          *guard
	settler        *settler
	inlineWarnings bool
	logger         *slog.Logger
}

// New creates an Observer for one page.
func New(cfg Config) *Observer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ScanThrottle <= 0 {
		cfg.ScanThrottle = time.Second
	}
	if cfg.MutationDelay <= 0 {
		cfg.MutationDelay = 50 * time.Millisecond
	}
	return &Observer{
		page:           cfg.Page,
		out:            cfg.Out,
		extractor:      pagectx.NewExtractor(cfg.Logger),
		guard:          newGuard(cfg.ScanThrottle),
		settler:        newSettler(cfg.MutationDelay),
		inlineWarnings: cfg.InlineWarnings,
		logger:         cfg.Logger,
	}
}

// Run observes the page until ctx is cancelled or the page's event
// channel closes. The initial scan runs immediately; later scans are
// triggered by sentinel events, subject to the throttle.
func (o *Observer) Run(ctx context.Context) error {
	o.logger.Info("observer: started", "page", o.page.ID(), "url", o.page.URL())

	o.guard.allowScan(time.Now())
	o.scan(ctx)

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("observer: stopped", "page", o.page.ID())
			return ctx.Err()

		case ev, ok := <-o.page.Events():
			if !ok {
				o.logger.Warn("observer: page gone", "page", o.page.ID())
				return nil
			}
			o.handle(ctx, ev)

		case <-o.settler.timerC():
			o.settler.reset()
			o.tryScan(ctx)
		}
	}
}

func (o *Observer) handle(ctx context.Context, ev Event) {
	switch ev.Op {
	case EventNavigate:
		o.guard.resetPage()
		o.logger.Debug("observer: navigation", "page", o.page.ID(), "url", ev.URL)
		o.tryScan(ctx)

	case EventFormsAdded:
		o.settler.arm()

	case EventFormSubmit:
		o.handleSubmit(ev)

	case EventPasswordInput:
		// The sentinel only reports input on insecure pages with a
		// non-empty value; every report is an alert.
		o.send(wire.SecurityAlert{
			Kind:    wire.AlertPasswordOverHTTP,
			Message: "Password entered on an insecure page",
			PageURL: o.page.URL(),
			Detail:  ev.Form.Action,
			At:      eventTime(ev),
		})

	case EventPasswordFocus:
		if o.inlineWarnings && !o.pageSecure() {
			o.warnFields(ctx)
		}

	default:
		o.logger.Warn("observer: unknown event", "page", o.page.ID(), "op", string(ev.Op))
	}
}

// handleSubmit runs the authoritative submission-time analysis.
func (o *Observer) handleSubmit(ev Event) {
	analysis := heuristics.AnalyzeSubmission(ev.Form, o.pageSecure())
	if analysis.Risk != heuristics.RiskHigh {
		return
	}
	o.send(wire.SecurityAlert{
		Kind:    wire.AlertInsecureForm,
		Message: analysis.Reason,
		PageURL: o.page.URL(),
		Detail:  analysis.Action,
		At:      eventTime(ev),
	})
}

// tryScan runs a full pass unless the throttle denies it. Denied passes
// are dropped without queueing; the next trigger covers the same state.
func (o *Observer) tryScan(ctx context.Context) {
	if !o.guard.allowScan(time.Now()) {
		return
	}
	o.scan(ctx)
}

func (o *Observer) pageSecure() bool {
	u, err := url.Parse(o.page.URL())
	return err == nil && u.Scheme == "https"
}

func eventTime(ev Event) time.Time {
	if ev.At.IsZero() {
		return time.Now().UTC()
	}
	return ev.At
}
