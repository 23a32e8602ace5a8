// Package websearch wraps a Serper-style search API. Results pointing at
// non-textual documents are filtered out because the downstream summarizer
// only handles HTML/text content.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

const defaultBaseURL = "https://google.serper.dev/search"

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Client calls the search API.
type Client struct {
	APIKey  string
	BaseURL string
	HTTP    *http.Client
}

// NewClient builds a search client with a 20s timeout.
func NewClient(apiKey string) *Client {
	return &Client{
		APIKey:  apiKey,
		BaseURL: defaultBaseURL,
		HTTP:    &http.Client{Timeout: 20 * time.Second},
	}
}

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

// Search runs a query and returns up to limit textual results. Fewer than
// limit non-textual-filtered results is not an error.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	// Over-request so the textual filter still leaves enough results.
	payload, err := json.Marshal(map[string]interface{}{"q": query, "num": limit * 2})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	base := c.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base, strings.NewReader(string(payload)))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("search API returned status %d", resp.StatusCode)
	}

	var parsed serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]Result, 0, limit)
	for _, item := range parsed.Organic {
		if !TextualURL(item.Link) {
			continue
		}
		out = append(out, Result{Title: item.Title, URL: item.Link, Snippet: item.Snippet})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// nonTextualExtensions are document/media formats the page summarizer cannot
// sanitize.
var nonTextualExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".ppt": true, ".pptx": true,
	".xls": true, ".xlsx": true, ".zip": true, ".gz": true, ".tar": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true,
	".mp3": true, ".mp4": true, ".avi": true, ".mov": true,
}

// TextualURL reports whether a URL plausibly points at HTML/text content.
func TextualURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	return !nonTextualExtensions[ext]
}
