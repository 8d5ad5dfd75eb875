// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab-tools/quartermaster/internal/config"
	"github.com/homelab-tools/quartermaster/internal/logging"
)

//nolint:gochecknoinits // keep test output clean
func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

func testServiceConfig(name, baseURL string) *config.ServiceConfig {
	return &config.ServiceConfig{
		Name:           name,
		URL:            baseURL,
		Enabled:        true,
		Auth:           config.AuthNone,
		Timeout:        5 * time.Second,
		MaxRetries:     2,
		RetryBaseDelay: 10 * time.Millisecond,
		CacheTTL:       time.Minute,
	}
}

func TestRetrySucceedsOnFinalAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := NewClient(testServiceConfig("svc", srv.URL))
	payload, err := client.Get(context.Background(), "/thing", nil, nil)

	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(payload))
	assert.Equal(t, int32(3), calls.Load(), "expected initial attempt plus two retries")
}

func TestRetryExhaustionSurfacesServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(testServiceConfig("svc", srv.URL))
	_, err := client.Get(context.Background(), "/thing", nil, nil)

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, KindServer, upErr.Kind)
	assert.Equal(t, http.StatusInternalServerError, upErr.StatusCode)
	assert.Equal(t, "svc", upErr.Service)
	assert.Equal(t, int32(3), calls.Load(), "no attempts beyond maxRetries+1")
}

func TestNoRetryOnNotFound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(testServiceConfig("svc", srv.URL))
	_, err := client.Get(context.Background(), "/missing", nil, nil)

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, KindClient, upErr.Kind)
	assert.Equal(t, int32(1), calls.Load(), "4xx must be attempted exactly once")
}

func TestRetryOnRateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(testServiceConfig("svc", srv.URL))
	_, err := client.Get(context.Background(), "/thing", nil, nil)

	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestNetworkErrorClassified(t *testing.T) {
	cfg := testServiceConfig("svc", "http://127.0.0.1:1")
	cfg.MaxRetries = 0
	client := NewClient(cfg)

	_, err := client.Get(context.Background(), "/thing", nil, nil)

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Contains(t, []ErrorKind{KindNetwork, KindTimeout}, upErr.Kind)
}

func TestCacheHitSuppressesNetworkCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"n":1}`))
	}))
	defer srv.Close()

	client := NewClient(testServiceConfig("svc", srv.URL))
	opts := &CacheOptions{Enabled: true, TTL: 100 * time.Millisecond}

	for i := 0; i < 2; i++ {
		payload, err := client.Get(context.Background(), "/data", nil, opts)
		require.NoError(t, err)
		assert.JSONEq(t, `{"n":1}`, string(payload))
	}
	assert.Equal(t, int32(1), calls.Load(), "second GET within TTL must be served from cache")

	time.Sleep(120 * time.Millisecond)

	_, err := client.Get(context.Background(), "/data", nil, opts)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "GET after expiry must hit the network again")
}

func TestCacheKeySensitivity(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"page":"` + r.URL.Query().Get("page") + `"}`))
	}))
	defer srv.Close()

	client := NewClient(testServiceConfig("svc", srv.URL))
	opts := &CacheOptions{Enabled: true, TTL: time.Minute}

	p1, err := client.Get(context.Background(), "/list", url.Values{"page": {"1"}}, opts)
	require.NoError(t, err)
	p2, err := client.Get(context.Background(), "/list", url.Values{"page": {"2"}}, opts)
	require.NoError(t, err)

	assert.JSONEq(t, `{"page":"1"}`, string(p1))
	assert.JSONEq(t, `{"page":"2"}`, string(p2))
	assert.Equal(t, int32(2), calls.Load(), "different params must never share a cache entry")
}

func TestCacheDisabledNeverStores(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(testServiceConfig("svc", srv.URL))

	_, err := client.Get(context.Background(), "/live", nil, cacheNone)
	require.NoError(t, err)
	_, err = client.Get(context.Background(), "/live", nil, cacheNone)
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 0, client.CacheStats().Entries)
}

func TestAuthStrategies(t *testing.T) {
	var gotAuth, gotAPIKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAPIKey = r.Header.Get("X-Api-Key")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	t.Run("bearer", func(t *testing.T) {
		cfg := testServiceConfig("svc", srv.URL)
		cfg.Auth = config.AuthBearer
		cfg.Token = "tok123"
		_, err := NewClient(cfg).Get(context.Background(), "/", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "Bearer tok123", gotAuth)
	})

	t.Run("basic", func(t *testing.T) {
		cfg := testServiceConfig("svc", srv.URL)
		cfg.Auth = config.AuthBasic
		cfg.Username = "admin"
		cfg.Password = "hunter2"
		_, err := NewClient(cfg).Get(context.Background(), "/", nil, nil)
		require.NoError(t, err)
		assert.Contains(t, gotAuth, "Basic ")
	})

	t.Run("api key header", func(t *testing.T) {
		cfg := testServiceConfig("svc", srv.URL)
		cfg.Auth = config.AuthAPIKey
		cfg.APIKeyHeader = "X-Api-Key"
		cfg.APIKey = "key456"
		_, err := NewClient(cfg).Get(context.Background(), "/", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "key456", gotAPIKey)
	})
}

func TestContextCancellationStopsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testServiceConfig("svc", srv.URL)
	cfg.MaxRetries = 10
	cfg.RetryBaseDelay = 50 * time.Millisecond
	client := NewClient(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 75*time.Millisecond)
	defer cancel()

	_, err := client.Get(ctx, "/thing", nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || calls.Load() < 11,
		"cancellation must cut the retry loop short")
}

func TestProbeDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(testServiceConfig("svc", srv.URL))
	err := client.Probe(context.Background())

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
