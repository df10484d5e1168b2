// Package observer implements per-page risk scanning: an event loop that
// combines periodic full scans with sentinel events pushed from the live
// page (form insertions, submissions, password focus, navigations).
package observer

import (
	"context"
	"time"

	"github.com/pagesentry/pagesentry/heuristics"
)

// EventOp identifies a sentinel event pushed from the page.
type EventOp string

const (
	EventNavigate      EventOp = "navigate"
	EventFormsAdded    EventOp = "forms_added"
	EventFormSubmit    EventOp = "form_submit"
	EventPasswordFocus EventOp = "password_focus"
	EventPasswordInput EventOp = "password_input"
)

// Event is one sentinel notification. URL is set for navigate; Form is
// set for form_submit, password_focus, and password_input.
type Event struct {
	Op   EventOp
	URL  string
	Form heuristics.FormInfo
	At   time.Time
}

// Page is the observer's view of a live document. The browser package
// provides the Chrome-backed implementation; tests use a fake.
type Page interface {
	// ID is the stable identifier from configuration.
	ID() string
	// URL is the page's current location. It changes on navigation.
	URL() string
	// HTML serialises the current DOM.
	HTML(ctx context.Context) (string, error)
	// Eval runs JavaScript on the page and returns its string result.
	// Used for inline warnings and the runtime probe.
	Eval(ctx context.Context, js string) (string, error)
	// Events delivers sentinel notifications. The channel closes when
	// the page is gone.
	Events() <-chan Event
}
