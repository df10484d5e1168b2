package pagectx

import (
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/PuerkitoBio/goquery"

	"github.com/pagesentry/pagesentry/heuristics"
)

// maxTextSample bounds the markdown digest carried in ContentInfo.
const maxTextSample = 500

// maxExcerpt bounds the per-finding excerpt.
const maxExcerpt = 120

// maxHeadings bounds the heading list in ContentInfo.
const maxHeadings = 10

var (
	loginFieldRe   = regexp.MustCompile(`(?i)email|user|login`)
	paymentFieldRe = regexp.MustCompile(`(?i)card|cvv|cvc|credit|payment|billing|expiry`)
	socialRe       = regexp.MustCompile(`(?i)facebook\.com|twitter\.com|x\.com|instagram\.com|linkedin\.com|youtube\.com|tiktok\.com`)
)

// contextMetaTags are the meta names carried into TechnicalInfo.
var contextMetaTags = []string{"generator", "viewport", "robots", "author"}

// Extractor builds PageContext snapshots from raw HTML. Safe for
// concurrent use; the markdown converter is stateless after construction.
type Extractor struct {
	md     *converter.Converter
	logger *slog.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
		logger: logger,
	}
}

// Extract parses one page. The URL must be the page's own location; hrefs
// are classified as written in the document, without resolution, matching
// how the scan heuristics see them. Section failures degrade to zero
// values instead of failing the snapshot.
func (x *Extractor) Extract(rawURL, html string) (*PageContext, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("pagectx: parse document: %w", err)
	}

	pc := &PageContext{CapturedAt: time.Now().UTC()}
	pc.Technical = x.technical(rawURL, doc)
	pc.Resources, pc.Security.Findings = x.resources(doc, pc.Technical.Domain)
	pc.Security.Forms, pc.Security.HasLoginForm = x.forms(doc, pc.Technical.Secure)
	pc.Security.HasPaymentIndicators = hasPaymentIndicators(doc)
	pc.Content = x.content(doc)
	return pc, nil
}

func (x *Extractor) technical(rawURL string, doc *goquery.Document) TechnicalInfo {
	ti := TechnicalInfo{
		URL:   rawURL,
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		x.logger.Debug("pagectx: unparseable page URL", "url", rawURL)
		return ti
	}
	ti.Protocol = u.Scheme + ":"
	ti.Domain = u.Hostname()
	ti.Secure = u.Scheme == "https"
	ti.Frameworks = frameworks(doc)
	ti.MetaTags = metaTags(doc)
	return ti
}

// frameworks fingerprints common stacks from static markup. Best-effort;
// the list is informational, nothing branches on it.
func frameworks(doc *goquery.Document) []string {
	var fw []string
	if doc.Find("[data-reactroot], #__next").Length() > 0 {
		fw = append(fw, "react")
	}
	if doc.Find("[ng-version]").Length() > 0 {
		fw = append(fw, "angular")
	}
	if doc.Find(`[data-v-app], script[src*="vue"]`).Length() > 0 {
		fw = append(fw, "vue")
	}
	if doc.Find(`script[src*="jquery"]`).Length() > 0 {
		fw = append(fw, "jquery")
	}
	if gen, ok := doc.Find(`meta[name="generator"]`).Attr("content"); ok &&
		strings.Contains(strings.ToLower(gen), "wordpress") {
		fw = append(fw, "wordpress")
	}
	return fw
}

func metaTags(doc *goquery.Document) map[string]string {
	tags := make(map[string]string)
	for _, name := range contextMetaTags {
		if v, ok := doc.Find(`meta[name="` + name + `"]`).Attr("content"); ok && v != "" {
			tags[name] = v
		}
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

// resources walks anchors, scripts, frames, and images, classifying each
// locator and collecting findings for the suspicious ones.
func (x *Extractor) resources(doc *goquery.Document, pageDomain string) (ResourceInfo, []heuristics.Finding) {
	var ri ResourceInfo
	var findings []heuristics.Finding
	now := time.Now().UTC()

	record := func(kind heuristics.FindingKind, locator, excerpt string) {
		findings = append(findings, heuristics.Finding{
			Kind:         kind,
			Locator:      locator,
			Excerpt:      truncate(excerpt, maxExcerpt),
			DiscoveredAt: now,
		})
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ri.Links.Total++
		switch {
		case strings.HasPrefix(href, "mailto:"):
			ri.Links.Mailto++
			return
		case strings.HasPrefix(href, "tel:"):
			ri.Links.Tel++
			return
		}
		if _, ok := s.Attr("download"); ok {
			ri.Links.Download++
		}
		if isExternal(href, pageDomain) {
			ri.Links.External++
		}
		if heuristics.ClassifyURL(href).Suspicious {
			ri.Links.Suspicious++
			record(heuristics.FindingLink, href, strings.TrimSpace(s.Text()))
		}
	})

	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		ri.Scripts.Total++
		src, ok := s.Attr("src")
		if !ok || src == "" {
			ri.Scripts.Inline++
			return
		}
		if isExternal(src, pageDomain) {
			ri.Scripts.External++
		}
		if heuristics.ClassifyURL(src).Suspicious {
			ri.Scripts.Suspicious++
			record(heuristics.FindingScript, src, "")
		}
	})

	doc.Find("iframe[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		ri.Frames.Total++
		if isExternal(src, pageDomain) {
			ri.Frames.External++
		}
		if heuristics.ClassifyURL(src).Suspicious {
			ri.Frames.Suspicious++
			record(heuristics.FindingIframe, src, "")
		}
	})

	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		ri.Images.Total++
		if heuristics.ClassifyURL(src).Suspicious {
			ri.Images.Suspicious++
			record(heuristics.FindingImage, src, strings.TrimSpace(s.AttrOr("alt", "")))
		}
	})

	return ri, findings
}

func (x *Extractor) forms(doc *goquery.Document, pageSecure bool) ([]heuristics.FormProfile, bool) {
	var profiles []heuristics.FormProfile
	hasLogin := false

	doc.Find("form").Each(func(_ int, s *goquery.Selection) {
		fi := heuristics.FormInfo{
			Action: s.AttrOr("action", ""),
			Method: strings.ToUpper(s.AttrOr("method", "GET")),
		}
		s.Find("input").Each(func(_ int, in *goquery.Selection) {
			fi.InputCount++
			typ := strings.ToLower(in.AttrOr("type", "text"))
			ident := in.AttrOr("name", "") + " " + in.AttrOr("id", "")
			// Independent checks: a password field whose name also looks
			// like a login identifier sets both flags.
			if typ == "password" {
				fi.HasPassword = true
			}
			if typ == "email" || loginFieldRe.MatchString(ident) {
				fi.HasEmail = true
			}
		})
		if fi.HasPassword {
			hasLogin = true
		}
		profiles = append(profiles, heuristics.ProfileForm(fi, pageSecure))
	})

	return profiles, hasLogin
}

func hasPaymentIndicators(doc *goquery.Document) bool {
	found := false
	doc.Find("input,select").EachWithBreak(func(_ int, in *goquery.Selection) bool {
		ident := in.AttrOr("name", "") + " " + in.AttrOr("id", "") + " " + in.AttrOr("autocomplete", "")
		if paymentFieldRe.MatchString(ident) {
			found = true
			return false
		}
		return true
	})
	return found
}

// content converts the body to markdown for the chat digest, falling back
// to plain text when conversion fails.
func (x *Extractor) content(doc *goquery.Document) ContentInfo {
	ci := ContentInfo{
		MetaDescription: doc.Find(`meta[name="description"]`).AttrOr("content", ""),
	}

	doc.Find("h1, h2, h3").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if text := strings.TrimSpace(s.Text()); text != "" {
			ci.Headings = append(ci.Headings, text)
		}
		return len(ci.Headings) < maxHeadings
	})

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if socialRe.MatchString(s.AttrOr("href", "")) {
			ci.SocialLinks++
		}
	})

	body := doc.Find("body").First()
	plain := strings.Join(strings.Fields(body.Text()), " ")
	ci.WordCount = len(strings.Fields(plain))

	sample := plain
	if html, err := goquery.OuterHtml(body); err == nil {
		if md, err := x.md.ConvertString(html); err == nil && strings.TrimSpace(md) != "" {
			sample = strings.TrimSpace(md)
		} else if err != nil {
			x.logger.Debug("pagectx: markdown conversion failed", "error", err)
		}
	}
	ci.TextSample = truncate(sample, maxTextSample)
	return ci
}

// isExternal reports whether a locator points at a different host. Bare
// relative locators are never external.
func isExternal(locator, pageDomain string) bool {
	u, err := url.Parse(locator)
	if err != nil || u.Host == "" {
		return false
	}
	return !strings.EqualFold(u.Hostname(), pageDomain)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
