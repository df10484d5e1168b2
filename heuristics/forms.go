package heuristics

import "strings"

// Risk is the two-level form risk label. Monotone: once a form is labelled
// RiskHigh no later check downgrades it.
type Risk string

const (
	RiskLow  Risk = "low"
	RiskHigh Risk = "high"
)

// FormInfo is the observer's view of one form: fields and submission
// target, decoupled from any DOM library.
type FormInfo struct {
	Action      string `json:"action"`
	Method      string `json:"method"`
	HasPassword bool   `json:"has_password_field"`
	HasEmail    bool   `json:"has_email_field"`
	InputCount  int    `json:"input_count"`
}

// FormProfile is the pre-submission risk label computed on every scan.
// Not persisted; recomputed fresh each pass.
type FormProfile struct {
	FormInfo
	ActionSecureOrRelative bool   `json:"action_secure_or_relative"`
	Risk                   Risk   `json:"risk"`
	Reason                 string `json:"reason,omitempty"`
}

// reasonPasswordOverHTTP is the exact reason string both analyzers emit.
const reasonPasswordOverHTTP = "Password submitted over HTTP"

// actionSecureOrRelative reports whether a form's submission target is
// transport-secure or relative. Relative targets (leading "/") inherit the
// page's security context.
func actionSecureOrRelative(action string) bool {
	return strings.HasPrefix(action, "https://") || strings.HasPrefix(action, "/")
}

// ProfileForm computes the pre-submission risk label for one form.
// Risk is high iff the form has a password field and either the hosting
// page or the submission target is insecure.
func ProfileForm(f FormInfo, pageSecure bool) FormProfile {
	p := FormProfile{
		FormInfo:               f,
		ActionSecureOrRelative: actionSecureOrRelative(f.Action),
		Risk:                   RiskLow,
	}
	if f.HasPassword && (!pageSecure || !p.ActionSecureOrRelative) {
		p.Risk = RiskHigh
		p.Reason = reasonPasswordOverHTTP
	}
	return p
}

// SubmissionAnalysis is the submission-time security check. It is computed
// independently from ProfileForm and is authoritative when the two
// disagree: it runs synchronously with user intent.
type SubmissionAnalysis struct {
	HasPasswordField bool   `json:"has_password_field"`
	HasEmailField    bool   `json:"has_email_field"`
	PageSecure       bool   `json:"page_secure"`
	ActionSecure     bool   `json:"action_secure"`
	Action           string `json:"action"`
	Risk             Risk   `json:"risk"`
	Reason           string `json:"reason,omitempty"`
}

// AnalyzeSubmission evaluates a form at submission time. Unlike
// ProfileForm it also records email/username field presence, and it treats
// the form-action scheme independently of the page scheme. Both checks are
// kept as written in the reference behaviour; do not merge them.
func AnalyzeSubmission(f FormInfo, pageSecure bool) SubmissionAnalysis {
	a := SubmissionAnalysis{
		HasPasswordField: f.HasPassword,
		HasEmailField:    f.HasEmail,
		PageSecure:       pageSecure,
		ActionSecure:     actionSecureOrRelative(f.Action),
		Action:           f.Action,
		Risk:             RiskLow,
	}
	if f.HasPassword && (!pageSecure || !a.ActionSecure) {
		a.Risk = RiskHigh
		a.Reason = reasonPasswordOverHTTP
	}
	return a
}
