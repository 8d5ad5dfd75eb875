// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

package proxy

import (
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors for registry-level failures. These are distinct from
// upstream errors: the request never reached the wire.
var (
	// ErrServiceNotFound is returned when a caller asks for a service name
	// that was never part of the configuration.
	ErrServiceNotFound = errors.New("service not found")

	// ErrServiceUnavailable is returned when a service is known but was
	// disabled or misconfigured, so no client exists for it.
	ErrServiceUnavailable = errors.New("service unavailable")
)

// ErrorKind classifies an upstream failure.
type ErrorKind string

const (
	KindNetwork     ErrorKind = "network"      // no response reached us
	KindTimeout     ErrorKind = "timeout"      // request or dial deadline exceeded
	KindClient      ErrorKind = "client"       // 4xx other than 429, never retried
	KindRateLimited ErrorKind = "rate_limited" // 429, retried
	KindServer      ErrorKind = "server"       // 5xx, retried
)

// UpstreamError is the typed error surfaced after retries are exhausted or
// a non-retryable response arrives. It carries the originating service name
// so callers can tell "qBittorrent is down" from "Jellyfin is down".
type UpstreamError struct {
	Service    string
	Kind       ErrorKind
	StatusCode int // zero when no response was received
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s: %s (status %d)", e.Service, e.Kind, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("upstream %s: %s: %v", e.Service, e.Kind, e.Err)
	}
	return fmt.Sprintf("upstream %s: %s", e.Service, e.Kind)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is worth another attempt.
// Network failures, timeouts, 5xx and 429 are retryable; other 4xx are not.
func (e *UpstreamError) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout, KindRateLimited, KindServer:
		return true
	default:
		return false
	}
}

// classifyTransportError turns a transport-level error (no HTTP response)
// into an UpstreamError of kind network or timeout.
func classifyTransportError(service string, err error) *UpstreamError {
	kind := KindNetwork

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		kind = KindTimeout
	}

	return &UpstreamError{Service: service, Kind: kind, Err: err}
}

// classifyStatus turns a non-2xx HTTP status into an UpstreamError.
// Returns nil for successful statuses.
func classifyStatus(service string, status int) *UpstreamError {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return &UpstreamError{Service: service, Kind: KindRateLimited, StatusCode: status}
	case status >= 500:
		return &UpstreamError{Service: service, Kind: KindServer, StatusCode: status}
	default:
		return &UpstreamError{Service: service, Kind: KindClient, StatusCode: status}
	}
}
