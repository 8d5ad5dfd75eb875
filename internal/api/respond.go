// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/homelab-tools/quartermaster/internal/logging"
	"github.com/homelab-tools/quartermaster/internal/proxy"
)

// errorResponse is the JSON error body for every non-2xx response.
type errorResponse struct {
	Error   string `json:"error"`
	Service string `json:"service,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("failed to encode response")
	}
}

// respondRaw writes an upstream JSON payload through unchanged.
func respondRaw(w http.ResponseWriter, status int, payload json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	if _, err := w.Write(payload); err != nil {
		logging.Error().Err(err).Msg("failed to write response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// respondProxyError translates the proxy error taxonomy into HTTP
// statuses. Upstream 4xx statuses pass through so the PWA sees what the
// service actually said; everything transport-shaped becomes a gateway
// error.
func respondProxyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, proxy.ErrServiceNotFound):
		respondError(w, http.StatusNotFound, "unknown service")
		return
	case errors.Is(err, proxy.ErrServiceUnavailable):
		respondError(w, http.StatusServiceUnavailable, "service disabled or not configured")
		return
	}

	var upErr *proxy.UpstreamError
	if errors.As(err, &upErr) {
		status := http.StatusBadGateway
		switch upErr.Kind {
		case proxy.KindClient:
			status = upErr.StatusCode
		case proxy.KindRateLimited:
			status = http.StatusTooManyRequests
		case proxy.KindTimeout:
			status = http.StatusGatewayTimeout
		case proxy.KindNetwork, proxy.KindServer:
			status = http.StatusBadGateway
		}
		respondJSON(w, status, errorResponse{Error: upErr.Error(), Service: upErr.Service})
		return
	}

	logging.Error().Err(err).Msg("unclassified proxy error")
	respondError(w, http.StatusInternalServerError, "internal error")
}

// decodeBody parses a JSON request body into dst, with a strictness guard
// against unknown fields sneaking past config updates.
func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
