package coordinator

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/pagesentry/pagesentry/idgen"
	"github.com/pagesentry/pagesentry/wire"
)

// enricher turns raw observer alerts into the enriched records that are
// persisted and rebroadcast: severity assigned from the kind, a display
// message composed here, and attacker-controlled strings stripped of
// markup before they can reach a presentation surface.
type enricher struct {
	newID     idgen.Generator
	sanitizer *bluemonday.Policy
	logger    *slog.Logger
}

func newEnricher(logger *slog.Logger) *enricher {
	return &enricher{
		newID:     idgen.Prefixed("alr_", idgen.Default),
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger,
	}
}

// enrich assigns identity, severity, and the display message. Unknown
// kinds degrade to medium severity with a generic message and a warning
// in the log, never a dropped alert.
func (e *enricher) enrich(raw wire.SecurityAlert) wire.Alert {
	url := e.sanitizer.Sanitize(raw.PageURL)
	detail := e.sanitizer.Sanitize(raw.Detail)

	a := wire.Alert{
		ID:      e.newID(),
		Kind:    raw.Kind,
		PageURL: url,
		Detail:  detail,
		At:      raw.At,
	}
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}

	switch raw.Kind {
	case wire.AlertPasswordOverHTTP:
		a.Severity = wire.SeverityHigh
		a.Message = fmt.Sprintf("Security risk: password entered on insecure site %s", url)
	case wire.AlertInsecureForm:
		a.Severity = wire.SeverityHigh
		a.Message = fmt.Sprintf("Insecure form submission detected on %s", url)
	case wire.AlertSuspiciousScript:
		a.Severity = wire.SeverityHigh
		a.Message = fmt.Sprintf("Suspicious script: %s on %s", detail, url)
	case wire.AlertSuspiciousLink:
		a.Severity = wire.SeverityMedium
		a.Message = fmt.Sprintf("Suspicious link: %s on %s", detail, url)
	case wire.AlertInsecureProtocol:
		a.Severity = wire.SeverityMedium
		a.Message = fmt.Sprintf("Insecure protocol: %s on %s", detail, url)
	default:
		a.Severity = wire.SeverityMedium
		a.Message = fmt.Sprintf("Security alert: %s", e.sanitizer.Sanitize(string(raw.Kind)))
		e.logger.Warn("coordinator: unknown alert kind", "kind", string(raw.Kind), "url", url)
	}
	return a
}
