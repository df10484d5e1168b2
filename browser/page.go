package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/pagesentry/pagesentry/heuristics"
	"github.com/pagesentry/pagesentry/observer"
)

//go:embed sentinel.js
var sentinelJS string

const bindingName = "__pagesentry_binding"

// LivePage is a Chrome tab implementing observer.Page. Sentinel reports
// arrive through a Runtime binding and are republished on the event
// channel; full-document navigations re-inject the sentinel.
type LivePage struct {
	page   *rod.Page
	id     string
	logger *slog.Logger

	mu  sync.RWMutex
	url string

	events chan observer.Event
	cancel context.CancelFunc
}

// OpenPage creates a stealth tab, navigates to pageURL, and arms the
// sentinel.
func OpenPage(ctx context.Context, mgr *Manager, pageURL, pageID string, logger *slog.Logger) (*LivePage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	pageCtx, pageCancel := context.WithCancel(ctx)
	lp := &LivePage{
		page:   page,
		id:     pageID,
		url:    pageURL,
		logger: logger,
		events: make(chan observer.Event, 256),
		cancel: pageCancel,
	}

	if err := lp.arm(pageCtx); err != nil {
		pageCancel()
		page.Close()
		return nil, err
	}
	return lp, nil
}

// arm installs the binding, starts the listener, and injects the sentinel.
func (p *LivePage) arm(ctx context.Context) error {
	if err := (proto.RuntimeAddBinding{Name: bindingName}.Call(p.page)); err != nil {
		p.logger.Warn("browser: add binding failed (may already exist)", "error", err)
	}

	go p.listen(ctx)

	return p.inject()
}

func (p *LivePage) inject() error {
	if _, err := p.page.Eval(sentinelJS); err != nil {
		return fmt.Errorf("browser: inject sentinel: %w", err)
	}
	return nil
}

// listen receives sentinel reports via Runtime.bindingCalled and tracks
// full-document navigations. A single goroutine owns both sources so the
// event channel has exactly one closer.
func (p *LivePage) listen(ctx context.Context) {
	defer close(p.events)

	p.page.Context(ctx).EachEvent(
		func(e *proto.RuntimeBindingCalled) {
			if e.Name != bindingName {
				return
			}

			var reports []struct {
				Op   string              `json:"op"`
				URL  string              `json:"url"`
				Form heuristics.FormInfo `json:"form"`
			}
			if err := json.Unmarshal([]byte(e.Payload), &reports); err != nil {
				p.logger.Warn("browser: parse sentinel payload", "page", p.id, "error", err)
				return
			}

			now := time.Now().UTC()
			for _, r := range reports {
				ev := observer.Event{Op: observer.EventOp(r.Op), URL: r.URL, Form: r.Form, At: now}
				if ev.Op == observer.EventNavigate && r.URL != "" {
					p.setURL(r.URL)
				}
				p.publish(ev)
			}
		},
		// Full navigations replace the document; re-inject the sentinel.
		// SPA route changes are reported by its history hooks instead.
		func(e *proto.PageFrameNavigated) {
			if e.Frame.ParentID != "" {
				return
			}
			p.setURL(e.Frame.URL)
			if err := p.inject(); err != nil {
				p.logger.Warn("browser: re-inject sentinel", "url", e.Frame.URL, "error", err)
			}
			p.publish(observer.Event{Op: observer.EventNavigate, URL: e.Frame.URL, At: time.Now().UTC()})
		},
	)()
}

func (p *LivePage) publish(ev observer.Event) {
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("browser: event buffer full, dropping", "page", p.id, "op", string(ev.Op))
	}
}

func (p *LivePage) setURL(u string) {
	p.mu.Lock()
	p.url = u
	p.mu.Unlock()
}

// ID implements observer.Page.
func (p *LivePage) ID() string { return p.id }

// URL implements observer.Page.
func (p *LivePage) URL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.url
}

// HTML implements observer.Page.
func (p *LivePage) HTML(ctx context.Context) (string, error) {
	res, err := p.page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: get DOM: %w", err)
	}
	return res.Value.Str(), nil
}

// Eval implements observer.Page.
func (p *LivePage) Eval(ctx context.Context, js string) (string, error) {
	res, err := p.page.Context(ctx).Eval(js)
	if err != nil {
		return "", fmt.Errorf("browser: eval: %w", err)
	}
	return res.Value.Str(), nil
}

// Events implements observer.Page.
func (p *LivePage) Events() <-chan observer.Event {
	return p.events
}

// Close tears down the tab. The event channel closes once the listener
// drains.
func (p *LivePage) Close() error {
	p.cancel()
	return p.page.Close()
}
