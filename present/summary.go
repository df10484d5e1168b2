package present

import (
	"fmt"

	"github.com/pagesentry/pagesentry/pagectx"
	"github.com/pagesentry/pagesentry/wire"
)

// Summary is a compact posture snapshot for dashboards and agents.
type Summary struct {
	PageURL         string           `json:"page_url,omitempty"`
	PageTitle       string           `json:"page_title,omitempty"`
	Secure          bool             `json:"secure"`
	SuspiciousTotal int              `json:"suspicious_total"`
	HasLoginForm    bool             `json:"has_login_form"`
	Model           wire.ModelStatus `json:"model"`
	AlertCount      int              `json:"alert_count"`
	HighAlertCount  int              `json:"high_alert_count"`
	Headline        string           `json:"headline"`
}

// BuildSummary condenses the current context, model status, and recent
// alert history into a Summary. A nil context yields a "nothing scanned
// yet" summary.
func BuildSummary(pc *pagectx.PageContext, status wire.ModelStatus, alerts []wire.Alert) Summary {
	s := Summary{Model: status, AlertCount: len(alerts)}
	for _, a := range alerts {
		if a.Severity == wire.SeverityHigh {
			s.HighAlertCount++
		}
	}

	if pc == nil {
		s.Headline = "no page scanned yet"
		return s
	}

	s.PageURL = pc.Technical.URL
	s.PageTitle = pc.Technical.Title
	s.Secure = pc.Technical.Secure
	s.SuspiciousTotal = pc.SuspiciousTotal()
	s.HasLoginForm = pc.Security.HasLoginForm
	s.Headline = headline(&s)
	return s
}

func headline(s *Summary) string {
	switch {
	case s.HighAlertCount > 0:
		return fmt.Sprintf("%d high-severity alerts on %s", s.HighAlertCount, s.PageURL)
	case s.SuspiciousTotal > 0:
		return fmt.Sprintf("%d suspicious resources on %s", s.SuspiciousTotal, s.PageURL)
	case !s.Secure:
		return fmt.Sprintf("%s is not served over HTTPS", s.PageURL)
	default:
		return fmt.Sprintf("no risk signals on %s", s.PageURL)
	}
}
