// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

// Package hub implements the WebSocket broadcast hub: connection
// registration, channel subscriptions with an authorization policy,
// heartbeat-driven liveness detection and fan-out of server-side events.
//
// Clients speak a small JSON protocol (auth, subscribe, unsubscribe, ping)
// and receive typed envelopes ({type, event, data, timestamp}). Channels
// under the protected prefixes (downloads, notifications, file-operations)
// require an authenticated connection, and principal-scoped channels
// (prefix:<userId>) are only joinable by their owner.
//
// The hub keeps one coarse lock over the connection registry and channel
// index. Fan-out snapshots its targets under the lock and sends outside it,
// so a slow or dead subscriber delays nobody else; a failed send tears down
// only that subscriber.
package hub
