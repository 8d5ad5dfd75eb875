// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

package proxy

import (
	"context"
	"errors"
	"net/url"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/homelab-tools/quartermaster/internal/logging"
	"github.com/homelab-tools/quartermaster/internal/metrics"
)

// BreakerClient wraps a Client with a circuit breaker. When an upstream is
// persistently failing, the breaker opens and requests are rejected locally
// instead of burning retries against a dead service.
//
// The breaker sits outside the retry loop: one Execute covers the whole
// resilient request, so a request that eventually succeeds after retries
// counts as a single success.
type BreakerClient struct {
	client *Client
	cb     *gobreaker.CircuitBreaker[[]byte]
}

var _ Caller = (*BreakerClient)(nil)

// NewBreakerClient wraps client with a circuit breaker named after the
// service. The breaker opens after a 60% failure rate across at least 10
// requests inside a one minute window, and probes again after 30 seconds.
func NewBreakerClient(client *Client) *BreakerClient {
	name := client.Name()

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("service", name).
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("circuit breaker state transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, stateToString(from), stateToString(to)).Inc()
		},
	})

	return &BreakerClient{client: client, cb: cb}
}

// Name returns the wrapped service name.
func (b *BreakerClient) Name() string { return b.client.Name() }

func (b *BreakerClient) execute(fn func() ([]byte, error)) ([]byte, error) {
	result, err := b.cb.Execute(fn)

	name := b.client.Name()
	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(name, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(name, "rejected").Inc()
		logging.Warn().Str("service", name).Err(err).Msg("circuit breaker rejected request")
		// Callers see the same taxonomy as a disabled service: the
		// request was never attempted on the wire.
		return nil, &UpstreamError{Service: name, Kind: KindNetwork, Err: err}
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(name, "failure").Inc()
	}

	return result, err
}

// Get delegates to the wrapped client. Cache hits are served before the
// breaker is consulted, so a cached payload stays reachable while the
// circuit is open.
func (b *BreakerClient) Get(ctx context.Context, path string, params url.Values, opts *CacheOptions) ([]byte, error) {
	if opts != nil && opts.Enabled {
		key := cacheKey(b.client.name, path, params)
		if payload, ok := b.client.cache.get(key); ok {
			return payload, nil
		}
	}

	return b.execute(func() ([]byte, error) {
		// The inner Get re-checks the cache; the extra lookup after a miss
		// is cheap and keeps the inner client self-contained.
		return b.client.Get(ctx, path, params, opts)
	})
}

func (b *BreakerClient) Post(ctx context.Context, path string, params url.Values, body interface{}) ([]byte, error) {
	return b.execute(func() ([]byte, error) {
		return b.client.Post(ctx, path, params, body)
	})
}

func (b *BreakerClient) Put(ctx context.Context, path string, params url.Values, body interface{}) ([]byte, error) {
	return b.execute(func() ([]byte, error) {
		return b.client.Put(ctx, path, params, body)
	})
}

func (b *BreakerClient) Patch(ctx context.Context, path string, params url.Values, body interface{}) ([]byte, error) {
	return b.execute(func() ([]byte, error) {
		return b.client.Patch(ctx, path, params, body)
	})
}

func (b *BreakerClient) Delete(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return b.execute(func() ([]byte, error) {
		return b.client.Delete(ctx, path, params)
	})
}

// Probe bypasses the breaker: health checks must observe the real upstream
// state even while the circuit is open.
func (b *BreakerClient) Probe(ctx context.Context) error {
	return b.client.Probe(ctx)
}

func (b *BreakerClient) ClearCache() { b.client.ClearCache() }

func (b *BreakerClient) CacheStats() CacheStats { return b.client.CacheStats() }

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
