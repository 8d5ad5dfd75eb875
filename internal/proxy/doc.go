// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

/*
Package proxy implements the resilient HTTP layer between Quartermaster and
its upstream services (metadata provider, torrent indexer, download daemon,
container manager, media server, file browser).

Each registered service gets one Client with its own authentication
strategy, timeout, retry policy, client-side rate limit and GET response
cache, wrapped in a circuit breaker. The Registry owns the clients and the
service table; the Facade exposes domain-shaped methods on top so callers
never see transport details.

Error taxonomy: registry-level failures are ErrServiceNotFound and
ErrServiceUnavailable; wire failures surface as *UpstreamError carrying the
service name, an ErrorKind and the offending status code, after retries are
exhausted. Payloads are opaque JSON throughout.
*/
package proxy
