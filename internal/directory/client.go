// Package directory talks to the iFixit API 2.0 and flattens its JSON into
// compact text the pipeline can reason about and the model can quote.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"repairbot/internal/cache"
	"repairbot/internal/logging"
)

// ErrStatus is wrapped by errors for non-200, non-404 responses.
var ErrStatus = errors.New("unexpected iFixit status")

const (
	maxDevices = 5
	maxGuides  = 10
	maxBody    = 4 << 20
)

// Client is an iFixit API client. It is safe for concurrent use.
type Client struct {
	baseURL   string
	http      *http.Client
	userAgent string
	cache     *cache.Cache
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithCache shares a result cache with the client.
func WithCache(rc *cache.Cache) Option {
	return func(c *Client) { c.cache = rc }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New creates a client for baseURL, e.g. https://www.ifixit.com/api/2.0.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: timeout},
		userAgent: "repairbot/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SearchDevice maps free text like "my ps5 broke" onto directory device
// titles.
func (c *Client) SearchDevice(ctx context.Context, query string) (string, error) {
	endpoint := fmt.Sprintf("%s/search/%s?filter=device", c.baseURL, url.PathEscape(query))
	return c.cache.GetOrLoad(ctx, "ifixit.search", cache.Key("ifixit", "search", query), func(ctx context.Context) (string, error) {
		var raw searchResponse
		found, err := c.getJSON(ctx, endpoint, &raw)
		if err != nil {
			return "", fmt.Errorf("device search: %w", err)
		}
		if !found {
			return "", fmt.Errorf("device search: %w: 404", ErrStatus)
		}
		out := formatSearchResults(raw)
		logging.Directory("device search %q: %d results", query, len(raw.Results))
		return out, nil
	})
}

// ListGuides lists repair guides for an exact device title.
func (c *Client) ListGuides(ctx context.Context, deviceTitle string) (string, error) {
	endpoint := fmt.Sprintf("%s/wikis/CATEGORY/%s", c.baseURL, url.PathEscape(deviceTitle))
	return c.cache.GetOrLoad(ctx, "ifixit.guides", cache.Key("ifixit", "guides", deviceTitle), func(ctx context.Context) (string, error) {
		var raw categoryResponse
		found, err := c.getJSON(ctx, endpoint, &raw)
		if err != nil {
			return "", fmt.Errorf("guides list: %w", err)
		}
		if !found {
			return "Status: Not Found - No guides available for this device", nil
		}
		logging.Directory("guides for %q: %d", deviceTitle, len(raw.Guides))
		return formatGuidesList(raw), nil
	})
}

// GetGuide fetches step-by-step instructions for a guide id.
func (c *Client) GetGuide(ctx context.Context, guideID string) (string, error) {
	endpoint := fmt.Sprintf("%s/guides/%s", c.baseURL, url.PathEscape(guideID))
	return c.cache.GetOrLoad(ctx, "ifixit.guide", cache.Key("ifixit", "guide", guideID), func(ctx context.Context) (string, error) {
		var raw guideResponse
		found, err := c.getJSON(ctx, endpoint, &raw)
		if err != nil {
			return "", fmt.Errorf("guide %s: %w", guideID, err)
		}
		if !found {
			return "Status: Not Found - Guide does not exist", nil
		}
		logging.Directory("guide %s: %d steps", guideID, len(raw.Steps))
		return formatGuideDetails(raw), nil
	})
}

// getJSON decodes a 200 response into v. A 404 returns found=false and no
// error; every other status is an ErrStatus.
func (c *Client) getJSON(ctx context.Context, endpoint string, v any) (found bool, err error) {
	timer := logging.StartTimer(logging.CategoryDirectory, "GET "+endpoint)
	defer timer.Stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return false, fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	return true, nil
}
