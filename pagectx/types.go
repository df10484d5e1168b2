// Package pagectx extracts a structured snapshot of a web page for risk
// assessment and chat grounding. The snapshot is a plain data value; it
// carries no handle back to the live page.
package pagectx

import (
	"time"

	"github.com/pagesentry/pagesentry/heuristics"
)

// TechnicalInfo describes the page's location, transport, and stack
// fingerprints.
type TechnicalInfo struct {
	URL        string            `json:"url"`
	Protocol   string            `json:"protocol"` // "https:", "http:", "file:", ...
	Domain     string            `json:"domain"`
	Title      string            `json:"title"`
	Secure     bool              `json:"secure"`
	Frameworks []string          `json:"frameworks,omitempty"`
	MetaTags   map[string]string `json:"meta_tags,omitempty"`
}

// LinkStats aggregates anchor elements.
type LinkStats struct {
	Total      int `json:"total"`
	External   int `json:"external"`
	Suspicious int `json:"suspicious"`
	Mailto     int `json:"mailto"`
	Tel        int `json:"tel"`
	Download   int `json:"download"`
}

// ScriptStats aggregates script elements.
type ScriptStats struct {
	Total      int `json:"total"`
	External   int `json:"external"`
	Inline     int `json:"inline"`
	Suspicious int `json:"suspicious"`
}

// FrameStats aggregates iframe elements.
type FrameStats struct {
	Total      int `json:"total"`
	External   int `json:"external"`
	Suspicious int `json:"suspicious"`
}

// ImageStats aggregates img elements.
type ImageStats struct {
	Total      int `json:"total"`
	Suspicious int `json:"suspicious"`
}

// ResourceInfo groups the per-element aggregates.
type ResourceInfo struct {
	Links   LinkStats   `json:"links"`
	Scripts ScriptStats `json:"scripts"`
	Frames  FrameStats  `json:"frames"`
	Images  ImageStats  `json:"images"`
}

// ContentInfo carries the textual digest of the page. TextSample is
// bounded (see maxTextSample); it feeds the chat prompt, never the
// heuristics.
type ContentInfo struct {
	MetaDescription string   `json:"meta_description,omitempty"`
	Headings        []string `json:"headings,omitempty"`
	TextSample      string   `json:"text_sample,omitempty"`
	WordCount       int      `json:"word_count"`
	SocialLinks     int      `json:"social_links"`
}

// RuntimeInfo holds values only the live page can report. When the
// probe cannot run, the counts stay zero and ProbeError explains why.
type RuntimeInfo struct {
	CookieCount        int    `json:"cookie_count"`
	LocalStorageKeys   int    `json:"local_storage_keys"`
	SessionStorageKeys int    `json:"session_storage_keys"`
	Probed             bool   `json:"probed"`
	ProbeError         string `json:"probe_error,omitempty"`
}

// SecurityInfo carries the risk-relevant observations.
type SecurityInfo struct {
	Forms                []heuristics.FormProfile `json:"forms,omitempty"`
	HasLoginForm         bool                     `json:"has_login_form"`
	HasPaymentIndicators bool                     `json:"has_payment_indicators"`
	Findings             []heuristics.Finding     `json:"findings,omitempty"`
}

// PageContext is one extraction pass over a page. Extraction is
// best-effort: sections that fail are left zero-valued rather than
// failing the whole snapshot.
type PageContext struct {
	Technical  TechnicalInfo `json:"technical"`
	Content    ContentInfo   `json:"content"`
	Resources  ResourceInfo  `json:"resources"`
	Security   SecurityInfo  `json:"security"`
	Runtime    RuntimeInfo   `json:"runtime"`
	CapturedAt time.Time     `json:"captured_at"`
}

// SuspiciousTotal is the count of all findings across resource kinds.
func (pc *PageContext) SuspiciousTotal() int {
	return len(pc.Security.Findings)
}
