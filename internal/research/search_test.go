package research

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"repairbot/internal/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ddgHTML = `<html><body>
<div class="result results_links results_links_deep web-result">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Ffix&amp;rut=abc">How to <b>fix</b> a toaster</a>
  <a class="result__snippet" href="#">Unplug it first. Then   check the element.</a>
</div>
<div class="result results_links web-result">
  <a class="result__a" href="https://forum.example.org/t/1">Toaster forum</a>
</div>
<div class="result results_links"><a class="other">no title link</a></div>
</body></html>`

func TestParseDuckDuckGoResults(t *testing.T) {
	t.Parallel()

	results, err := parseDuckDuckGoResults(ddgHTML, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, SearchResult{
		Title:   "How to fix a toaster",
		URL:     "https://example.com/fix",
		Snippet: "Unplug it first. Then check the element.",
	}, results[0])
	assert.Equal(t, "https://forum.example.org/t/1", results[1].URL)

	results, err = parseDuckDuckGoResults(ddgHTML, 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

type fakeProviders struct {
	tavily, instant, html *httptest.Server
	tavilyHits            atomic.Int32
	instantHits           atomic.Int32
	htmlHits              atomic.Int32
}

func newFakeProviders(t *testing.T, tavilyStatus int, tavilyBody, instantBody, htmlBody string) *fakeProviders {
	t.Helper()
	f := &fakeProviders{}
	f.tavily = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.tavilyHits.Add(1)
		var req tavilyRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tvly-key", req.APIKey)
		assert.Equal(t, "basic", req.SearchDepth)
		assert.Equal(t, 3, req.MaxResults)
		w.WriteHeader(tavilyStatus)
		w.Write([]byte(tavilyBody))
	}))
	f.instant = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.instantHits.Add(1)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "1", r.URL.Query().Get("skip_disambig"))
		w.Write([]byte(instantBody))
	}))
	f.html = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.htmlHits.Add(1)
		w.Write([]byte(htmlBody))
	}))
	t.Cleanup(func() {
		f.tavily.Close()
		f.instant.Close()
		f.html.Close()
	})
	return f
}

func (f *fakeProviders) options() Options {
	return Options{
		TavilyAPIKey:     "tvly-key",
		TavilyURL:        f.tavily.URL,
		InstantAnswerURL: f.instant.URL,
		HTMLSearchURL:    f.html.URL,
		MaxResults:       3,
		Timeout:          5 * time.Second,
	}
}

func TestSearch_TavilyFirst(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("a", 250)
	f := newFakeProviders(t, http.StatusOK,
		`{"results":[{"title":"Fix it","content":"`+long+`","url":"https://a"},{"content":"short","url":"https://b"}]}`,
		`{}`, ``)

	out, err := NewSearcher(f.options()).Search(context.Background(), "toaster won't heat")
	require.NoError(t, err)
	assert.Equal(t, "Web search results:\n\n"+
		"**1. Fix it**\n"+strings.Repeat("a", 200)+"...\nSource: https://a\n\n"+
		"**2. No title**\nshort...\nSource: https://b\n\n", out)
	assert.EqualValues(t, 0, f.instantHits.Load())
}

func TestSearch_FallsBackToInstantAnswer(t *testing.T) {
	t.Parallel()
	f := newFakeProviders(t, http.StatusUnauthorized, `{}`,
		`{"Abstract":"A toaster is a small appliance.","AbstractSource":"Wikipedia","AbstractURL":"https://en.wikipedia.org/wiki/Toaster"}`, ``)

	out, err := NewSearcher(f.options()).Search(context.Background(), "toaster")
	require.NoError(t, err)
	assert.Equal(t, "**Web Search Result:**\n\nA toaster is a small appliance.\n\nSource: Wikipedia (https://en.wikipedia.org/wiki/Toaster)", out)
	assert.EqualValues(t, 1, f.tavilyHits.Load())
}

func TestSearch_RelatedTopics(t *testing.T) {
	t.Parallel()
	f := newFakeProviders(t, http.StatusOK, `{"results":[]}`,
		`{"RelatedTopics":[{"Text":"Toaster repair","FirstURL":"https://d/1"},{"Name":"group"},{"Text":"Heating element"}]}`, ``)

	out, err := NewSearcher(f.options()).Search(context.Background(), "toaster")
	require.NoError(t, err)
	assert.Equal(t, "**Related Information:**\n\n1. Toaster repair\n   https://d/1\n2. Heating element\n", out)
}

func TestSearch_FallsBackToHTML(t *testing.T) {
	t.Parallel()
	f := newFakeProviders(t, http.StatusOK, `{"results":[]}`, `{}`, ddgHTML)

	out, err := NewSearcher(f.options()).Search(context.Background(), "toaster")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Web search results:\n\n**1. How to fix a toaster**\n"))
	assert.Contains(t, out, "Source: https://example.com/fix")
	assert.EqualValues(t, 1, f.htmlHits.Load())
}

func TestSearch_NothingUsableYieldsHint(t *testing.T) {
	t.Parallel()
	f := newFakeProviders(t, http.StatusOK, `{"results":[]}`, `{}`, `<html></html>`)

	out, err := NewSearcher(f.options()).Search(context.Background(), "flux capacitor")
	require.NoError(t, err)
	assert.Equal(t, NoResultsHint("flux capacitor"), out)
}

func TestSearch_AllProvidersFail(t *testing.T) {
	t.Parallel()
	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()

	s := NewSearcher(Options{
		InstantAnswerURL: down.URL,
		HTMLSearchURL:    down.URL,
		Timeout:          time.Second,
	})
	_, err := s.Search(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duckduckgo.instant")
	assert.Contains(t, err.Error(), "duckduckgo.html")
}

func TestSearch_NoTavilyWithoutKey(t *testing.T) {
	t.Parallel()
	f := newFakeProviders(t, http.StatusOK, `{}`, `{"Abstract":"x"}`, ``)
	opts := f.options()
	opts.TavilyAPIKey = ""

	_, err := NewSearcher(opts).Search(context.Background(), "q")
	require.NoError(t, err)
	assert.EqualValues(t, 0, f.tavilyHits.Load())
}

func TestSearch_Cached(t *testing.T) {
	t.Parallel()
	f := newFakeProviders(t, http.StatusOK, `{}`, `{"Abstract":"cached answer"}`, ``)
	opts := f.options()
	opts.TavilyAPIKey = ""
	opts.Cache = cache.New(10, time.Minute)
	s := NewSearcher(opts)

	for range 3 {
		out, err := s.Search(context.Background(), "q")
		require.NoError(t, err)
		assert.Contains(t, out, "cached answer")
	}
	assert.EqualValues(t, 1, f.instantHits.Load())
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "héllo", truncate("héllo wörld", 5))
	assert.Equal(t, "hi", truncate("hi", 5))
}
