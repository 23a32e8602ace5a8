// Package webpage fetches web pages and reduces them to readable text for
// model consumption.
package webpage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

const (
	// maxBodyBytes caps how much of a page is read; pathological pages
	// should not exhaust memory.
	maxBodyBytes = 4 << 20
	userAgent    = "researcher-bot/1.0 (+https://github.com/graphweave/researcher)"
)

// Article is sanitized page content.
type Article struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Byline   string `json:"byline,omitempty"`
	SiteName string `json:"site_name,omitempty"`
	Text     string `json:"text"`
}

// ErrUnavailable marks pages that could not be fetched or sanitized; the
// coordinator reports these to the model as soft tool errors.
type ErrUnavailable struct {
	URL    string
	Reason string
}

func (e *ErrUnavailable) Error() string {
	return fmt.Sprintf("page %s unavailable: %s", e.URL, e.Reason)
}

// Fetcher retrieves and sanitizes pages.
type Fetcher struct {
	HTTP *http.Client
}

// NewFetcher builds a fetcher with a 30s timeout.
func NewFetcher() *Fetcher {
	return &Fetcher{HTTP: &http.Client{Timeout: 30 * time.Second}}
}

// Fetch downloads a page and extracts its readable content.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*Article, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, &ErrUnavailable{URL: pageURL, Reason: "malformed URL"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &ErrUnavailable{URL: pageURL, Reason: err.Error()}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	client := f.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &ErrUnavailable{URL: pageURL, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ErrUnavailable{URL: pageURL, Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" &&
		!strings.Contains(ct, "text/html") && !strings.Contains(ct, "text/plain") &&
		!strings.Contains(ct, "xhtml") {
		return nil, &ErrUnavailable{URL: pageURL, Reason: fmt.Sprintf("unsupported content type %q", ct)}
	}

	body := io.LimitReader(resp.Body, maxBodyBytes)
	article, err := readability.FromReader(body, parsed)
	if err != nil {
		return nil, &ErrUnavailable{URL: pageURL, Reason: fmt.Sprintf("unreadable content: %v", err)}
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return nil, &ErrUnavailable{URL: pageURL, Reason: "no readable text"}
	}

	return &Article{
		URL:      pageURL,
		Title:    article.Title,
		Byline:   article.Byline,
		SiteName: article.SiteName,
		Text:     text,
	}, nil
}
