package webpage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html>
<head><title>Experian PLC - Company Profile</title></head>
<body>
<nav><a href="/">Home</a><a href="/about">About</a></nav>
<article>
<h1>Experian PLC</h1>
<p>Experian PLC is a multinational data analytics and consumer credit
reporting company headquartered in Dublin, Ireland. The company was formed
in 1996 and employs tens of thousands of people across dozens of countries,
aggregating information on over a billion people and businesses.</p>
<p>Its operations span credit services, decision analytics, and marketing
services, with significant revenue generated in North America, Latin
America, the United Kingdom, and EMEA regions.</p>
</article>
<footer>Copyright notice</footer>
</body>
</html>`

func TestFetchExtractsReadableText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(samplePage))
	}))
	t.Cleanup(srv.Close)

	article, err := NewFetcher().Fetch(context.Background(), srv.URL+"/profile")
	require.NoError(t, err)
	assert.Contains(t, article.Title, "Experian")
	assert.Contains(t, article.Text, "Dublin, Ireland")
	assert.NotContains(t, article.Text, "<p>", "text must be stripped of markup")
}

func TestFetchRejectsNonHTMLContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.7"))
	}))
	t.Cleanup(srv.Close)

	_, err := NewFetcher().Fetch(context.Background(), srv.URL+"/report.pdf")
	var unavailable *ErrUnavailable
	require.ErrorAs(t, err, &unavailable)
	assert.Contains(t, unavailable.Reason, "content type")
}

func TestFetchReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	_, err := NewFetcher().Fetch(context.Background(), srv.URL+"/missing")
	var unavailable *ErrUnavailable
	require.ErrorAs(t, err, &unavailable)
	assert.Contains(t, unavailable.Reason, "404")
}

func TestFetchRejectsMalformedURL(t *testing.T) {
	_, err := NewFetcher().Fetch(context.Background(), "not-a-url")
	var unavailable *ErrUnavailable
	require.ErrorAs(t, err, &unavailable)
}
