// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/homelab-tools/quartermaster/internal/config"
	"github.com/homelab-tools/quartermaster/internal/logging"
	"github.com/homelab-tools/quartermaster/internal/metrics"
)

// CacheOptions controls response caching for a single GET call.
// Ignored for non-GET methods.
type CacheOptions struct {
	Enabled bool
	// TTL overrides the client's configured default TTL when positive.
	TTL time.Duration
}

// Caller is the call surface shared by Client and BreakerClient.
// The facade and registry depend on this interface, not on a concrete type.
type Caller interface {
	Name() string
	Get(ctx context.Context, path string, params url.Values, opts *CacheOptions) ([]byte, error)
	Post(ctx context.Context, path string, params url.Values, body interface{}) ([]byte, error)
	Put(ctx context.Context, path string, params url.Values, body interface{}) ([]byte, error)
	Patch(ctx context.Context, path string, params url.Values, body interface{}) ([]byte, error)
	Delete(ctx context.Context, path string, params url.Values) ([]byte, error)
	Probe(ctx context.Context) error
	ClearCache()
	CacheStats() CacheStats
}

// requestTransform mutates an outbound request before send. Transforms are
// resolved once at client construction and applied in a fixed order; they
// replace per-call auth plumbing.
type requestTransform func(*http.Request)

// Client makes outbound calls to one upstream service with uniform
// authentication, timeout, retry-with-backoff and GET response caching.
//
// Retry policy: network failures, timeouts, 5xx and 429 are retried with
// linear backoff (base delay times attempt number) up to MaxRetries extra
// attempts. Other 4xx responses fail immediately. The loop is iterative and
// every wait is cancellable through the context.
//
// Thread safety: safe for concurrent use. The response cache is shared
// across requests to the same service and guarded internally.
type Client struct {
	name           string
	baseURL        string
	httpClient     *http.Client
	maxRetries     int
	retryBaseDelay time.Duration
	defaultTTL     time.Duration
	limiter        *rate.Limiter // nil when no client-side rate limit
	cache          *responseCache
	transforms     []requestTransform
}

var _ Caller = (*Client)(nil)

// NewClient builds a client from a service config. The auth strategy is
// resolved here, once; it is never re-evaluated per request.
func NewClient(cfg *config.ServiceConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	baseDelay := cfg.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &Client{
		name:           cfg.Name,
		baseURL:        strings.TrimSuffix(cfg.URL, "/"),
		httpClient:     &http.Client{Timeout: timeout},
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: baseDelay,
		defaultTTL:     cfg.CacheTTL,
		limiter:        limiter,
		cache:          newResponseCache(cfg.Name),
		transforms:     buildTransforms(cfg),
	}
}

// buildTransforms assembles the fixed request pipeline: standard headers,
// correlation id, then authentication.
func buildTransforms(cfg *config.ServiceConfig) []requestTransform {
	transforms := []requestTransform{
		func(req *http.Request) {
			req.Header.Set("Accept", "application/json")
			if req.Body != nil {
				req.Header.Set("Content-Type", "application/json")
			}
		},
		func(req *http.Request) {
			req.Header.Set("X-Request-ID", uuid.NewString())
		},
	}

	if auth := authTransform(cfg); auth != nil {
		transforms = append(transforms, auth)
	}

	return transforms
}

// authTransform resolves the configured auth strategy into a transform.
// Returns nil for strategy "none" or empty.
func authTransform(cfg *config.ServiceConfig) requestTransform {
	switch cfg.Auth {
	case config.AuthBearer:
		token := cfg.Token
		return func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	case config.AuthBasic:
		user, pass := cfg.Username, cfg.Password
		return func(req *http.Request) {
			req.SetBasicAuth(user, pass)
		}
	case config.AuthAPIKey:
		header, key := cfg.APIKeyHeader, cfg.APIKey
		return func(req *http.Request) {
			req.Header.Set(header, key)
		}
	default:
		return nil
	}
}

// Name returns the service name this client talks to.
func (c *Client) Name() string { return c.name }

// Get performs a GET, consulting the response cache first when opts.Enabled.
// On a cache hit no network call is made. On success with caching requested
// the payload is stored with the effective TTL.
func (c *Client) Get(ctx context.Context, path string, params url.Values, opts *CacheOptions) ([]byte, error) {
	useCache := opts != nil && opts.Enabled

	var key string
	if useCache {
		key = cacheKey(c.name, path, params)
		if payload, ok := c.cache.get(key); ok {
			return payload, nil
		}
	}

	payload, err := c.do(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return nil, err
	}

	if useCache {
		ttl := c.defaultTTL
		if opts.TTL > 0 {
			ttl = opts.TTL
		}
		if ttl > 0 {
			c.cache.set(key, payload, ttl)
		}
	}

	return payload, nil
}

// Post performs a POST with an optional JSON body.
func (c *Client) Post(ctx context.Context, path string, params url.Values, body interface{}) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, params, body)
}

// Put performs a PUT with an optional JSON body.
func (c *Client) Put(ctx context.Context, path string, params url.Values, body interface{}) ([]byte, error) {
	return c.do(ctx, http.MethodPut, path, params, body)
}

// Patch performs a PATCH with an optional JSON body.
func (c *Client) Patch(ctx context.Context, path string, params url.Values, body interface{}) ([]byte, error) {
	return c.do(ctx, http.MethodPatch, path, params, body)
}

// Delete performs a DELETE.
func (c *Client) Delete(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodDelete, path, params, nil)
}

// Probe makes a single authenticated GET to the service root without
// retries or caching. Used by the registry's health fan-out, which applies
// its own per-probe timeout through the context.
func (c *Client) Probe(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/", nil, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(c.name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if upErr := classifyStatus(c.name, resp.StatusCode); upErr != nil {
		return upErr
	}
	return nil
}

// ClearCache drops every cached response.
func (c *Client) ClearCache() { c.cache.clear() }

// CacheStats returns a snapshot of the cache counters.
func (c *Client) CacheStats() CacheStats { return c.cache.stats() }

// do executes the resilient request loop. Only the final classified error
// escapes; intermediate failures are logged and retried.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body interface{}) ([]byte, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body for %s: %w", c.name, err)
		}
	}

	start := time.Now()
	payload, err := c.attemptLoop(ctx, method, path, params, bodyBytes)
	metrics.ProxyRequestDuration.WithLabelValues(c.name, method).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ProxyRequestsTotal.WithLabelValues(c.name, method, "error").Inc()
		var upErr *UpstreamError
		if errors.As(err, &upErr) {
			metrics.ProxyErrorsTotal.WithLabelValues(c.name, string(upErr.Kind)).Inc()
		}
		return nil, err
	}

	metrics.ProxyRequestsTotal.WithLabelValues(c.name, method, "success").Inc()
	return payload, nil
}

// attemptLoop is the iterative retry loop: up to maxRetries additional
// attempts after the first, linear backoff between attempts.
func (c *Client) attemptLoop(ctx context.Context, method, path string, params url.Values, bodyBytes []byte) ([]byte, error) {
	var lastErr *UpstreamError

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		payload, upErr, err := c.attempt(ctx, method, path, params, bodyBytes)
		if err != nil {
			return nil, err // request construction failure, not an upstream condition
		}
		if upErr == nil {
			return payload, nil
		}

		if !upErr.Retryable() {
			return nil, upErr
		}
		lastErr = upErr

		if attempt == c.maxRetries {
			break
		}

		// Linear backoff: base delay times the attempt number (1-based).
		delay := c.retryBaseDelay * time.Duration(attempt+1)
		metrics.ProxyRetriesTotal.WithLabelValues(c.name).Inc()
		logging.Warn().
			Str("service", c.name).
			Str("method", method).
			Str("path", path).
			Int("attempt", attempt+1).
			Int("max_retries", c.maxRetries).
			Dur("delay", delay).
			Str("kind", string(lastErr.Kind)).
			Msg("upstream request failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// attempt performs exactly one request. The error return is reserved for
// local failures (bad URL, marshal); wire failures come back as upErr.
func (c *Client) attempt(ctx context.Context, method, path string, params url.Values, bodyBytes []byte) (payload []byte, upErr *UpstreamError, err error) {
	var bodyReader io.Reader
	if bodyBytes != nil {
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := c.newRequest(ctx, method, path, params, bodyReader)
	if err != nil {
		return nil, nil, err
	}

	resp, doErr := c.httpClient.Do(req)
	if doErr != nil {
		return nil, classifyTransportError(c.name, doErr), nil
	}
	defer func() { _ = resp.Body.Close() }()

	if statusErr := classifyStatus(c.name, resp.StatusCode); statusErr != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, statusErr, nil
	}

	data, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, classifyTransportError(c.name, readErr), nil
	}
	return data, nil, nil
}

// newRequest builds a request and runs it through the transform pipeline.
func (c *Client) newRequest(ctx context.Context, method, path string, params url.Values, body io.Reader) (*http.Request, error) {
	fullURL := c.baseURL + "/" + strings.TrimPrefix(path, "/")
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("create %s request for %s: %w", method, c.name, err)
	}

	for _, transform := range c.transforms {
		transform(req)
	}

	return req, nil
}
