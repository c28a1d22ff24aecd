package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	snippetLimit = 200
	maxBody      = 1 << 20
)

type tavilyRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth"`
	MaxResults  int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string `json:"title"`
		Content string `json:"content"`
		URL     string `json:"url"`
	} `json:"results"`
}

func (s *Searcher) searchTavily(ctx context.Context, endpoint, apiKey, query string) (string, error) {
	payload, err := json.Marshal(tavilyRequest{
		APIKey:      apiKey,
		Query:       query,
		SearchDepth: "basic",
		MaxResults:  s.maxResults,
	})
	if err != nil {
		return "", fmt.Errorf("encode tavily request: %w", err)
	}

	var data tavilyResponse
	if err := s.fetchJSON(ctx, http.MethodPost, endpoint, payload, &data); err != nil {
		return "", err
	}
	if len(data.Results) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("Web search results:\n\n")
	for i, r := range data.Results {
		if i == s.maxResults {
			break
		}
		fmt.Fprintf(&sb, "**%d. %s**\n", i+1, orDefault(r.Title, "No title"))
		fmt.Fprintf(&sb, "%s...\n", truncate(orDefault(r.Content, "No content"), snippetLimit))
		fmt.Fprintf(&sb, "Source: %s\n\n", r.URL)
	}
	return sb.String(), nil
}

type instantAnswer struct {
	Abstract       string `json:"Abstract"`
	AbstractSource string `json:"AbstractSource"`
	AbstractURL    string `json:"AbstractURL"`
	RelatedTopics  []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

func (s *Searcher) searchInstantAnswer(ctx context.Context, endpoint, query string) (string, error) {
	params := url.Values{
		"q":             {query},
		"format":        {"json"},
		"no_html":       {"1"},
		"skip_disambig": {"1"},
	}
	var data instantAnswer
	if err := s.fetchJSON(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil, &data); err != nil {
		return "", err
	}

	if data.Abstract != "" {
		var sb strings.Builder
		fmt.Fprintf(&sb, "**Web Search Result:**\n\n%s\n\n", data.Abstract)
		if data.AbstractSource != "" {
			sb.WriteString("Source: " + data.AbstractSource)
		}
		if data.AbstractURL != "" {
			fmt.Fprintf(&sb, " (%s)", data.AbstractURL)
		}
		return sb.String(), nil
	}

	var sb strings.Builder
	n := 0
	for _, topic := range data.RelatedTopics {
		if n == s.maxResults {
			break
		}
		if topic.Text == "" {
			continue
		}
		n++
		fmt.Fprintf(&sb, "%d. %s\n", n, topic.Text)
		if topic.FirstURL != "" {
			fmt.Fprintf(&sb, "   %s\n", topic.FirstURL)
		}
	}
	if n == 0 {
		return "", nil
	}
	return "**Related Information:**\n\n" + sb.String(), nil
}

func (s *Searcher) searchHTML(ctx context.Context, endpoint, query string) (string, error) {
	req, err := s.newRequest(ctx, http.MethodGet, endpoint+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return "", err
	}
	// The HTML endpoint serves a captcha to obvious bots.
	for k, v := range browserHeaders {
		req.Header.Set(k, v)
	}

	body, err := s.do(req)
	if err != nil {
		return "", err
	}

	results, err := parseDuckDuckGoResults(string(body), s.maxResults)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("Web search results:\n\n")
	for i, r := range results {
		fmt.Fprintf(&sb, "**%d. %s**\n", i+1, r.Title)
		if r.Snippet != "" {
			fmt.Fprintf(&sb, "%s\n", truncate(r.Snippet, snippetLimit))
		}
		fmt.Fprintf(&sb, "Source: %s\n\n", r.URL)
	}
	return sb.String(), nil
}

var browserHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.5",
}

func (s *Searcher) newRequest(ctx context.Context, method, target string, payload []byte) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// fetchJSON sends payload (if any) and decodes a JSON answer into out.
func (s *Searcher) fetchJSON(ctx context.Context, method, target string, payload []byte, out any) error {
	req, err := s.newRequest(ctx, method, target, payload)
	if err != nil {
		return err
	}
	body, err := s.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Host, err)
	}
	return nil
}

// do reads at most maxBody bytes of a 200 response.
func (s *Searcher) do(req *http.Request) ([]byte, error) {
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s answered %s", req.URL.Host, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.URL.Host, err)
	}
	return body, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
