package heuristics

import "testing"

func TestClassifyURL_Suspicious(t *testing.T) {
	cases := []struct {
		url  string
		rule string
	}{
		{"https://bit.ly/3xYz", "shortener"},
		{"http://tinyurl.com/abc", "shortener"},
		{"http://192.168.4.22/login", "ip_literal"},
		{"https://a8f3kz0q2m4n7p1x.com/track", "long_random_domain"},
		{"https://cdn.example.org/payload.js", "intent_keyword"},
		{"http://update-phishing.net/x", "intent_keyword"},
		{"http://malicious-cdn.example.com/x.js", "known_test_domain"},
		{"https://example.com/", "known_test_domain"},
		{"http://x9k2m4p7q1.tk/a", "abuse_tld"},
	}

	for _, tc := range cases {
		got := ClassifyURL(tc.url)
		if !got.Suspicious {
			t.Errorf("ClassifyURL(%q): got clean, want suspicious", tc.url)
			continue
		}
		if got.MatchedRule != tc.rule {
			t.Errorf("ClassifyURL(%q): matched %q, want %q", tc.url, got.MatchedRule, tc.rule)
		}
	}
}

func TestClassifyURL_Clean(t *testing.T) {
	clean := []string{
		"https://golang.org/doc",
		"https://news.site.org/article/42",
		"https://api.github.io/v3/repos",
		"/relative/path",
	}
	for _, u := range clean {
		if got := ClassifyURL(u); got.Suspicious {
			t.Errorf("ClassifyURL(%q): flagged by %q, want clean", u, got.MatchedRule)
		}
	}
}

func TestClassifyURL_OrderSignificant(t *testing.T) {
	// Matches both the shortener and keyword rules; the shortener rule is
	// first and must win.
	got := ClassifyURL("https://bit.ly/malware-sample")
	if got.MatchedRule != "shortener" {
		t.Errorf("matched rule: got %q, want %q", got.MatchedRule, "shortener")
	}
}

func TestClassifyURL_Deterministic(t *testing.T) {
	const u = "http://10.0.0.1/admin"
	first := ClassifyURL(u)
	for i := 0; i < 100; i++ {
		if got := ClassifyURL(u); got != first {
			t.Fatalf("call %d: got %+v, want %+v", i, got, first)
		}
	}
}
