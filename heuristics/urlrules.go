// Package heuristics implements the pattern-matching rules behind
// pagesentry's risk detection: URL classification and form analysis.
//
// All regexes are compiled once at package init and shared. Classification
// is pure and deterministic, so it is safe to call at arbitrarily high
// frequency from the observer's scan loop.
package heuristics

import (
	"regexp"
	"time"
)

// FindingKind identifies what sort of resource a finding points at.
// The set is closed; the coordinator's severity mapping switches over it.
type FindingKind string

const (
	FindingLink   FindingKind = "suspicious_link"
	FindingScript FindingKind = "suspicious_script"
	FindingIframe FindingKind = "suspicious_iframe"
	FindingImage  FindingKind = "suspicious_image"
)

// Finding is a single suspicious resource reference discovered on a page.
// Immutable once created.
type Finding struct {
	Kind         FindingKind `json:"kind"`
	Locator      string      `json:"locator"`
	Excerpt      string      `json:"excerpt,omitempty"`
	DiscoveredAt time.Time   `json:"discovered_at"`
}

// URLRule is one compiled classification rule.
type URLRule struct {
	Name  string
	Regex *regexp.Regexp
}

// urlRules is the ordered rule set. Order is significant: evaluation
// short-circuits on the first match, and test fixtures depend on which
// rule wins for overlapping inputs. Do not reorder.
var urlRules = []URLRule{
	{"shortener", regexp.MustCompile(`(?i)bit\.ly|tinyurl|t\.co|goo\.gl|short\.link`)},
	{"ip_literal", regexp.MustCompile(`[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}`)},
	{"long_random_domain", regexp.MustCompile(`(?i)[a-z0-9]{15,}\.com`)},
	{"intent_keyword", regexp.MustCompile(`(?i)phishing|malware|virus|suspicious|payload|exploit`)},
	{"known_test_domain", regexp.MustCompile(`(?i)example\.com|malicious-cdn\.example\.com`)},
	{"abuse_tld", regexp.MustCompile(`(?i)[a-z0-9]{10,}\.(tk|ml|ga|cf)`)},
}

// URLVerdict is the result of classifying one URL.
type URLVerdict struct {
	Suspicious  bool   `json:"suspicious"`
	MatchedRule string `json:"matched_rule,omitempty"`
}

// ClassifyURL runs the ordered rule set against a URL. The caller passes
// absolute resolved URLs; no normalization happens here. First matching
// rule wins.
func ClassifyURL(rawURL string) URLVerdict {
	for _, r := range urlRules {
		if r.Regex.MatchString(rawURL) {
			return URLVerdict{Suspicious: true, MatchedRule: r.Name}
		}
	}
	return URLVerdict{}
}

// Rules exposes the rule set for introspection (presentation surfaces list
// active rules). The returned slice must not be modified.
func Rules() []URLRule {
	return urlRules
}
