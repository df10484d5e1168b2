package heuristics

import "testing"

func TestProfileForm(t *testing.T) {
	cases := []struct {
		name       string
		form       FormInfo
		pageSecure bool
		wantRisk   Risk
		wantReason string
	}{
		{
			name:       "password over http action on https page",
			form:       FormInfo{Action: "http://collect.example.net/submit", HasPassword: true},
			pageSecure: true,
			wantRisk:   RiskHigh,
			wantReason: "Password submitted over HTTP",
		},
		{
			name:       "relative action on https page",
			form:       FormInfo{Action: "/submit", HasPassword: true},
			pageSecure: true,
			wantRisk:   RiskLow,
		},
		{
			name:       "relative action on http page inherits insecure context",
			form:       FormInfo{Action: "/submit", HasPassword: true},
			pageSecure: false,
			wantRisk:   RiskHigh,
			wantReason: "Password submitted over HTTP",
		},
		{
			name:       "https action on https page",
			form:       FormInfo{Action: "https://login.site.org/auth", HasPassword: true},
			pageSecure: true,
			wantRisk:   RiskLow,
		},
		{
			name:       "no password field never high",
			form:       FormInfo{Action: "http://collect.example.net/submit", HasEmail: true},
			pageSecure: false,
			wantRisk:   RiskLow,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ProfileForm(tc.form, tc.pageSecure)
			if got.Risk != tc.wantRisk {
				t.Errorf("Risk: got %q, want %q", got.Risk, tc.wantRisk)
			}
			if got.Reason != tc.wantReason {
				t.Errorf("Reason: got %q, want %q", got.Reason, tc.wantReason)
			}
		})
	}
}

func TestAnalyzeSubmission_IndependentActionScheme(t *testing.T) {
	// Secure page, insecure action: submission-time analysis flags high
	// even though the page itself is HTTPS.
	got := AnalyzeSubmission(FormInfo{
		Action:      "http://collect.example.net/submit",
		HasPassword: true,
		HasEmail:    true,
	}, true)

	if got.Risk != RiskHigh {
		t.Errorf("Risk: got %q, want %q", got.Risk, RiskHigh)
	}
	if !got.HasEmailField {
		t.Error("HasEmailField: got false, want true")
	}
	if got.ActionSecure {
		t.Error("ActionSecure: got true, want false")
	}
	if got.PageSecure != true {
		t.Error("PageSecure: got false, want true")
	}
}

func TestAnalyzeSubmission_Clean(t *testing.T) {
	got := AnalyzeSubmission(FormInfo{Action: "/auth", HasPassword: true}, true)
	if got.Risk != RiskLow {
		t.Errorf("Risk: got %q, want %q", got.Risk, RiskLow)
	}
	if got.Reason != "" {
		t.Errorf("Reason: got %q, want empty", got.Reason)
	}
}
