// Package oidc fetches and caches OpenID Connect provider metadata.
//
// Each session manager owns one Client for its configured authority. The
// discovery document is fetched once, coalesced across concurrent callers,
// and cached until ClearCache (invoked on logout, since the provider
// session has reset). A failed fetch leaves the cache empty so the next
// call retries independently.
package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrConfigFetch indicates the discovery document could not be retrieved.
var ErrConfigFetch = errors.New("failed to fetch openid configuration")

// Document holds the provider metadata the session manager consumes.
type Document struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	EndSessionEndpoint    string `json:"end_session_endpoint,omitempty"`
}

// Client fetches and caches the discovery document for one authority.
// It is safe for concurrent use.
type Client struct {
	authority  string
	httpClient *http.Client
	logger     *slog.Logger

	group singleflight.Group

	mu  sync.RWMutex
	doc *Document
}

// NewClient creates a discovery client for the given authority base URL.
// Trailing slashes on the authority are stripped. A nil httpClient uses a
// default with a 10s timeout; a nil logger uses slog.Default().
func NewClient(authority string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		authority:  strings.TrimRight(authority, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Configuration returns the provider metadata, fetching it on first use.
// Concurrent callers during an in-flight fetch share the single pending
// request. The result is cached until ClearCache.
func (c *Client) Configuration(ctx context.Context) (*Document, error) {
	c.mu.RLock()
	doc := c.doc
	c.mu.RUnlock()
	if doc != nil {
		return doc, nil
	}

	v, err, _ := c.group.Do("discover", func() (any, error) {
		// Re-check under the flight: a previous winner may have populated
		// the cache between the fast path and Do.
		c.mu.RLock()
		cached := c.doc
		c.mu.RUnlock()
		if cached != nil {
			return cached, nil
		}

		fetched, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.doc = fetched
		c.mu.Unlock()
		return fetched, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Document), nil
}

// ClearCache drops the cached document so the next call refetches.
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.doc = nil
	c.mu.Unlock()
	c.logger.Debug("discovery cache cleared", "authority", c.authority)
}

func (c *Client) fetch(ctx context.Context) (*Document, error) {
	discoveryURL := c.authority + "/.well-known/openid-configuration"

	c.logger.Debug("fetching openid configuration", "url", discoveryURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigFetch, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigFetch, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d from %s", ErrConfigFetch, resp.StatusCode, discoveryURL)
	}

	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigFetch, err)
	}

	c.logger.Info("openid configuration fetched",
		"issuer", doc.Issuer,
		"authorization_endpoint", doc.AuthorizationEndpoint,
		"token_endpoint", doc.TokenEndpoint)

	return &doc, nil
}
