// Package research implements the web fallback used when the repair
// directory has nothing useful. Providers are tried in order: Tavily (when
// a key is configured), the DuckDuckGo instant answer API, then DuckDuckGo's
// HTML results page.
package research

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"repairbot/internal/cache"
	"repairbot/internal/logging"
)

// SearchResult represents a single search result.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Options configures a Searcher.
type Options struct {
	TavilyAPIKey     string
	TavilyURL        string
	InstantAnswerURL string
	HTMLSearchURL    string
	MaxResults       int
	Timeout          time.Duration
	HTTPClient       *http.Client
	Cache            *cache.Cache
}

// provider returns "" when it ran fine but had nothing usable.
type provider struct {
	name   string
	search func(ctx context.Context, query string) (string, error)
}

// Searcher runs the provider chain. It is safe for concurrent use.
type Searcher struct {
	providers  []provider
	http       *http.Client
	cache      *cache.Cache
	maxResults int
}

// NewSearcher builds the provider chain from opts. Empty URLs disable the
// corresponding provider.
func NewSearcher(opts Options) *Searcher {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	s := &Searcher{
		http:       hc,
		cache:      opts.Cache,
		maxResults: opts.MaxResults,
	}
	if s.maxResults <= 0 {
		s.maxResults = 3
	}

	if opts.TavilyAPIKey != "" && opts.TavilyURL != "" {
		key, endpoint := opts.TavilyAPIKey, opts.TavilyURL
		s.providers = append(s.providers, provider{"tavily", func(ctx context.Context, q string) (string, error) {
			return s.searchTavily(ctx, endpoint, key, q)
		}})
	}
	if opts.InstantAnswerURL != "" {
		endpoint := opts.InstantAnswerURL
		s.providers = append(s.providers, provider{"duckduckgo.instant", func(ctx context.Context, q string) (string, error) {
			return s.searchInstantAnswer(ctx, endpoint, q)
		}})
	}
	if opts.HTMLSearchURL != "" {
		endpoint := opts.HTMLSearchURL
		s.providers = append(s.providers, provider{"duckduckgo.html", func(ctx context.Context, q string) (string, error) {
			return s.searchHTML(ctx, endpoint, q)
		}})
	}
	return s
}

// NoResultsHint is returned when every provider answered but none had
// anything usable.
func NoResultsHint(query string) string {
	return fmt.Sprintf("No detailed web results found. Try searching for '%s' on Google or YouTube for repair videos.", query)
}

// Search returns the first usable provider result. It fails only when every
// provider failed outright.
func (s *Searcher) Search(ctx context.Context, query string) (string, error) {
	return s.cache.GetOrLoad(ctx, "web", cache.Key("web", query), func(ctx context.Context) (string, error) {
		var errs []error
		for _, p := range s.providers {
			out, err := p.search(ctx, query)
			if err != nil {
				logging.Get(logging.CategoryResearch).Warnw("provider failed", "provider", p.name, "error", err)
				errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
				if ctx.Err() != nil {
					break
				}
				continue
			}
			if out != "" {
				logging.Research("web search %q answered by %s", query, p.name)
				return out, nil
			}
			logging.ResearchDebug("provider %s had nothing for %q", p.name, query)
		}
		if len(s.providers) > 0 && len(errs) == len(s.providers) {
			return "", errors.Join(errs...)
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return NoResultsHint(query), nil
	})
}
