// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab-tools/quartermaster/internal/config"
)

// End-to-end scenario: a download daemon behind basic auth that returns
// 503 twice before recovering. The facade call must succeed on the third
// network call after roughly base*1 + base*2 of backoff.
func TestFacadeTorrentsRetriesThroughToSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok, "expected basic auth credentials")
		require.Equal(t, "admin", user)
		require.Equal(t, "adminadmin", pass)

		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"torrents": []}`))
	}))
	defer srv.Close()

	facade := NewFacade(NewRegistry([]config.ServiceConfig{{
		Name:           config.ServiceDownloader,
		URL:            srv.URL,
		Enabled:        true,
		Auth:           config.AuthBasic,
		Username:       "admin",
		Password:       "adminadmin",
		MaxRetries:     2,
		RetryBaseDelay: 100 * time.Millisecond,
	}}))

	start := time.Now()
	payload, err := facade.Torrents(context.Background())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.JSONEq(t, `{"torrents": []}`, string(payload))
	assert.Equal(t, int32(3), calls.Load())
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond, "linear backoff of 100ms + 200ms")
	assert.Less(t, elapsed, 2*time.Second)
}

func TestFacadeErrorsPassThroughUnchanged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	facade := NewFacade(NewRegistry([]config.ServiceConfig{{
		Name: config.ServiceMedia, URL: srv.URL, Enabled: true,
	}}))

	_, err := facade.MediaSessions(context.Background())

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, config.ServiceMedia, upErr.Service)
	assert.Equal(t, KindClient, upErr.Kind)
	assert.Equal(t, http.StatusForbidden, upErr.StatusCode)
}

func TestFacadeUnconfiguredService(t *testing.T) {
	facade := NewFacade(NewRegistry(nil))

	_, err := facade.SearchTorrents(context.Background(), "ubuntu")
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestFacadeTrendingUsesMetadataCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`[{"title":"Example"}]`))
	}))
	defer srv.Close()

	facade := NewFacade(NewRegistry([]config.ServiceConfig{{
		Name: config.ServiceMetadata, URL: srv.URL, Enabled: true, Auth: config.AuthBearer, Token: "t",
	}}))

	for i := 0; i < 3; i++ {
		payload, err := facade.Trending(context.Background(), "movies", "weekly")
		require.NoError(t, err)
		assert.JSONEq(t, `[{"title":"Example"}]`, string(payload))
	}

	assert.Equal(t, int32(1), calls.Load(), "trending metadata is cached for hours")
}

func TestFacadeTorrentsNeverCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"torrents":[]}`))
	}))
	defer srv.Close()

	facade := NewFacade(NewRegistry([]config.ServiceConfig{{
		Name: config.ServiceDownloader, URL: srv.URL, Enabled: true,
	}}))

	for i := 0; i < 3; i++ {
		_, err := facade.Torrents(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, int32(3), calls.Load(), "live torrent data must not be cached")
}
