// Command pagescan runs a single static scan: fetch a URL, extract its
// security context, and print the result as JSON. Useful for triage and
// for testing detection rules without a live browser.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/pagesentry/pagesentry/heuristics"
	"github.com/pagesentry/pagesentry/pagectx"
)

func main() {
	timeout := flag.Duration("timeout", 30*time.Second, "fetch timeout")
	pretty := flag.Bool("pretty", true, "indent JSON output")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: pagescan [flags] <url>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	rawURL := flag.Arg(0)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	html, err := fetch(ctx, rawURL)
	if err != nil {
		logger.Error("fetch", "url", rawURL, "error", err)
		os.Exit(1)
	}

	extractor := pagectx.NewExtractor(logger)
	pc, err := extractor.Extract(rawURL, html)
	if err != nil {
		logger.Error("extract", "url", rawURL, "error", err)
		os.Exit(1)
	}

	out := report{
		Context:         pc,
		SuspiciousTotal: pc.SuspiciousTotal(),
		RulesApplied:    len(heuristics.Rules()),
	}

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(out); err != nil {
		logger.Error("encode", "error", err)
		os.Exit(1)
	}
}

type report struct {
	Context         *pagectx.PageContext `json:"context"`
	SuspiciousTotal int                  `json:"suspicious_total"`
	RulesApplied    int                  `json:"rules_applied"`
}

func fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "pagescan/1.0")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(body), nil
}
