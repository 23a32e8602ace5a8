package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSearchServer(t *testing.T, organic []map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-API-KEY"))
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotEmpty(t, body["q"])
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"organic": organic})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSearchFiltersNonTextualResults(t *testing.T) {
	srv := newSearchServer(t, []map[string]string{
		{"title": "Annual report", "link": "https://example.com/report.pdf", "snippet": "pdf"},
		{"title": "About", "link": "https://example.com/about", "snippet": "company page"},
		{"title": "Deck", "link": "https://example.com/pitch.pptx", "snippet": "slides"},
		{"title": "News", "link": "https://example.com/news.html", "snippet": "news"},
	})
	c := NewClient("test-key")
	c.BaseURL = srv.URL

	results, err := c.Search(context.Background(), "example company", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, TextualURL(r.URL))
		assert.NotContains(t, r.URL, ".pdf")
	}
}

func TestSearchTruncatesToLimit(t *testing.T) {
	var organic []map[string]string
	for i := 0; i < 15; i++ {
		organic = append(organic, map[string]string{
			"title": fmt.Sprintf("r%d", i),
			"link":  fmt.Sprintf("https://example.com/page-%d", i),
		})
	}
	srv := newSearchServer(t, organic)
	c := NewClient("test-key")
	c.BaseURL = srv.URL

	results, err := c.Search(context.Background(), "query", 5)
	require.NoError(t, err)
	assert.Len(t, results, 5)
}

func TestSearchReturnsAvailableSubset(t *testing.T) {
	srv := newSearchServer(t, []map[string]string{
		{"title": "only one", "link": "https://example.com/one"},
	})
	c := NewClient("test-key")
	c.BaseURL = srv.URL

	results, err := c.Search(context.Background(), "query", 10)
	require.NoError(t, err, "fewer results than requested is not an error")
	assert.Len(t, results, 1)
}

func TestSearchSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)
	c := NewClient("test-key")
	c.BaseURL = srv.URL

	_, err := c.Search(context.Background(), "query", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestTextualURL(t *testing.T) {
	assert.True(t, TextualURL("https://example.com/article"))
	assert.True(t, TextualURL("https://example.com/article.html?download=report.pdf"))
	assert.False(t, TextualURL("https://example.com/whitepaper.PDF"))
	assert.False(t, TextualURL("https://example.com/a/b/archive.zip"))
	assert.False(t, TextualURL("://bad-url"))
}
