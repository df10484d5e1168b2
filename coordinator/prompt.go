package coordinator

import (
	"fmt"
	"strings"

	"github.com/pagesentry/pagesentry/pagectx"
)

const systemPreamble = `You are a cybersecurity assistant with access to the current webpage's security context. Provide helpful, accurate information about:
- Threat analysis and risk assessment
- Security best practices
- Vulnerability identification
- Incident response guidance
- URL and domain reputation analysis
- Phishing and malware detection`

const promptGuidance = `Keep responses concise and actionable. When analyzing the current page, reference specific security findings. If analyzing potentially malicious content, clearly state the risks.`

// previewLen bounds the page text carried into the prompt.
const previewLen = 200

// BuildPrompt assembles the inference prompt: preamble, the page security
// digest when a context is cached, then the user question. The question
// goes in verbatim; the model sees what the user typed.
func BuildPrompt(question string, pc *pagectx.PageContext) string {
	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\n\n")
	if pc != nil {
		writeContextDigest(&b, pc)
	}
	b.WriteString(promptGuidance)
	fmt.Fprintf(&b, "\n\nUser question: %s\n\nResponse:", question)
	return b.String()
}

func writeContextDigest(b *strings.Builder, pc *pagectx.PageContext) {
	b.WriteString("--- CURRENT PAGE SECURITY CONTEXT ---\n")
	fmt.Fprintf(b, "Page: %s (%s)\n", pc.Technical.Title, pc.Technical.URL)
	fmt.Fprintf(b, "Protocol: %s (HTTPS: %t)\n", pc.Technical.Protocol, pc.Technical.Secure)

	if n := pc.SuspiciousTotal(); n > 0 {
		fmt.Fprintf(b, "SUSPICIOUS ELEMENTS DETECTED: %d found\n", n)
	}
	if pc.Security.HasLoginForm {
		b.WriteString("Login form detected")
		if !pc.Technical.Secure {
			b.WriteString(" (INSECURE - over HTTP!)")
		}
		b.WriteString("\n")
	}
	if pc.Security.HasPaymentIndicators {
		b.WriteString("Payment form detected")
		if !pc.Technical.Secure {
			b.WriteString(" (CRITICAL RISK - over HTTP!)")
		}
		b.WriteString("\n")
	}
	if s := pc.Resources.Scripts; s.External > 0 {
		fmt.Fprintf(b, "External scripts: %d (suspicious: %d)\n", s.External, s.Suspicious)
	}
	if f := pc.Resources.Frames; f.Total > 0 {
		fmt.Fprintf(b, "iframes: %d (suspicious: %d)\n", f.Total, f.Suspicious)
	}
	if l := pc.Resources.Links; l.Suspicious > 0 {
		fmt.Fprintf(b, "SUSPICIOUS LINKS: %d of %d total links\n", l.Suspicious, l.Total)
	}
	if pc.Content.TextSample != "" {
		fmt.Fprintf(b, "Page content preview: %q\n", truncate(pc.Content.TextSample, previewLen))
	}
	b.WriteString("--- END CONTEXT ---\n\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
