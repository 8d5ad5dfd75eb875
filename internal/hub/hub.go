// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

package hub

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/homelab-tools/quartermaster/internal/config"
	"github.com/homelab-tools/quartermaster/internal/logging"
	"github.com/homelab-tools/quartermaster/internal/metrics"
)

// TokenValidator is the authentication collaborator. The hub never issues
// or inspects credentials itself; it records the principal returned here.
type TokenValidator interface {
	Validate(userID, token string) (principalID string, err error)
}

// Disconnect reasons, used for logs and metrics.
const (
	DisconnectReasonClose            = "close"
	DisconnectReasonError            = "error"
	DisconnectReasonHeartbeatTimeout = "heartbeat_timeout"
	DisconnectReasonSendFailure      = "send_failure"
	DisconnectReasonShutdown         = "shutdown"
)

// Hub orchestrates WebSocket connection lifecycle and fan-out. It owns the
// connection registry and the channel index under one coarse lock, which is
// plenty at home-lab connection counts. Sends never happen under the lock:
// Broadcast snapshots the subscriber set first, so one slow client cannot
// stall delivery to the rest or block new subscriptions.
type Hub struct {
	cfg       config.WebSocketConfig
	validator TokenValidator

	mu    sync.RWMutex
	conns map[string]*Conn
	index *channelIndex
}

// New creates a hub. The validator may be nil, in which case every auth
// attempt is rejected and only public channels are reachable.
func New(cfg config.WebSocketConfig, validator TokenValidator) *Hub {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = 256
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 64 * 1024
	}

	return &Hub{
		cfg:       cfg,
		validator: validator,
		conns:     make(map[string]*Conn),
		index:     newChannelIndex(),
	}
}

// Accept registers a new connection, sends the system/connected envelope
// with its id and starts the socket pumps. The ws argument may be nil in
// tests; pumps are only started for real sockets.
func (h *Hub) Accept(ws *websocket.Conn) *Conn {
	c := &Conn{
		id:            uuid.NewString(),
		hub:           h,
		ws:            ws,
		send:          make(chan Envelope, h.cfg.SendBufferSize),
		ping:          make(chan struct{}, 1),
		alive:         true,
		lastHeartbeat: time.Now(),
		subscriptions: make(map[string]struct{}),
	}

	h.mu.Lock()
	h.conns[c.id] = c
	total := len(h.conns)
	h.mu.Unlock()

	metrics.WebSocketConnections.Set(float64(total))
	logging.Info().Str("conn_id", c.id).Int("total_connections", total).Msg("websocket connection accepted")

	h.trySend(c, NewEnvelope(TypeSystem, EventConnected, map[string]string{"connectionId": c.id}))

	if ws != nil {
		go c.writePump()
		go c.readPump()
	}

	return c
}

// handleMessage dispatches one inbound frame. Malformed frames and unknown
// types produce an error reply to that connection only; nothing here ever
// disconnects.
func (h *Hub) handleMessage(c *Conn, raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.trySend(c, NewEnvelope(TypeError, EventError, map[string]string{"reason": "malformed message"}))
		return
	}

	metrics.WebSocketMessagesReceived.WithLabelValues(msg.Type).Inc()

	switch msg.Type {
	case msgAuth:
		h.authenticate(c, msg.UserID, msg.Token)
	case msgSubscribe:
		h.subscribe(c, msg.Channel)
	case msgUnsubscribe:
		h.unsubscribe(c, msg.Channel)
	case msgPing:
		h.markAlive(c)
		h.trySend(c, NewEnvelope(TypeSystem, EventPong, nil))
	default:
		h.trySend(c, NewEnvelope(TypeError, EventError, map[string]string{
			"reason": "unknown message type: " + msg.Type,
		}))
	}
}

// authenticate validates the supplied credential through the collaborator.
// Failure leaves the connection anonymous; it may retry.
func (h *Hub) authenticate(c *Conn, userID, token string) {
	if h.validator == nil {
		h.trySend(c, NewEnvelope(TypeAuth, EventError, map[string]string{"reason": "authentication unavailable"}))
		return
	}

	principalID, err := h.validator.Validate(userID, token)
	if err != nil {
		logging.Warn().Err(err).Str("conn_id", c.id).Msg("websocket authentication failed")
		h.trySend(c, NewEnvelope(TypeAuth, EventError, map[string]string{"reason": "invalid credentials"}))
		return
	}

	h.mu.Lock()
	c.principalID = principalID
	h.mu.Unlock()

	logging.Info().Str("conn_id", c.id).Str("principal", principalID).Msg("websocket connection authenticated")
	h.trySend(c, NewEnvelope(TypeAuth, EventAuthenticated, map[string]string{"userId": principalID}))
}

// subscribe joins a channel if the authorization policy allows it.
// Violations get a subscription rejection reply, not a disconnect.
func (h *Hub) subscribe(c *Conn, channel string) {
	if channel == "" {
		h.trySend(c, NewEnvelope(TypeSubscription, EventError, map[string]string{"reason": "channel required"}))
		return
	}

	h.mu.Lock()
	if err := authorizeSubscribe(channel, c.principalID); err != nil {
		h.mu.Unlock()
		logging.Debug().Str("conn_id", c.id).Str("channel", channel).Msg("subscription rejected")
		h.trySend(c, NewEnvelope(TypeSubscription, EventError, map[string]string{
			"channel": channel,
			"reason":  err.Error(),
		}))
		return
	}

	h.index.add(channel, c.id)
	c.subscriptions[channel] = struct{}{}
	channelCount := h.index.count()
	h.mu.Unlock()

	metrics.WebSocketChannels.Set(float64(channelCount))
	h.trySend(c, NewEnvelope(TypeSubscription, EventSubscribed, map[string]string{"channel": channel}))
}

// unsubscribe leaves a channel, pruning it when it empties.
func (h *Hub) unsubscribe(c *Conn, channel string) {
	h.mu.Lock()
	h.index.remove(channel, c.id)
	delete(c.subscriptions, channel)
	channelCount := h.index.count()
	h.mu.Unlock()

	metrics.WebSocketChannels.Set(float64(channelCount))
	h.trySend(c, NewEnvelope(TypeSubscription, EventUnsubscribed, map[string]string{"channel": channel}))
}

// Disconnect removes the connection from every channel it subscribed to,
// prunes emptied channels and drops the connection record. Idempotent:
// disconnecting an already-removed connection is a no-op.
func (h *Hub) Disconnect(c *Conn, reason string) {
	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return
	}
	c.closed = true

	for channel := range c.subscriptions {
		h.index.remove(channel, c.id)
	}
	delete(h.conns, c.id)
	close(c.send)

	total := len(h.conns)
	channelCount := h.index.count()
	h.mu.Unlock()

	if c.ws != nil {
		_ = c.ws.Close()
	}

	metrics.WebSocketConnections.Set(float64(total))
	metrics.WebSocketChannels.Set(float64(channelCount))
	metrics.WebSocketDisconnects.WithLabelValues(reason).Inc()
	logging.Info().Str("conn_id", c.id).Str("reason", reason).Int("total_connections", total).Msg("websocket connection closed")
}

// Broadcast delivers an envelope to every current subscriber of a channel.
// The subscriber set is snapshotted under the read lock and every send
// happens outside it; a failed send triggers that subscriber's disconnect
// path asynchronously without interrupting delivery to the rest.
func (h *Hub) Broadcast(channel string, env Envelope) {
	env = env.stamped()

	h.mu.RLock()
	ids := h.index.subscribers(channel)
	targets := make([]*Conn, 0, len(ids))
	for _, id := range ids {
		if c, ok := h.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !h.trySend(c, env) {
			go h.Disconnect(c, DisconnectReasonSendFailure)
		}
	}
}

// BroadcastToUser delivers an envelope to every live connection owned by
// an authenticated principal, regardless of channel membership. Used for
// personal notifications that are not channel-specific.
func (h *Hub) BroadcastToUser(userID string, env Envelope) {
	env = env.stamped()

	h.mu.RLock()
	targets := make([]*Conn, 0, 2)
	for _, c := range h.conns {
		if c.principalID == userID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !h.trySend(c, env) {
			go h.Disconnect(c, DisconnectReasonSendFailure)
		}
	}
}

// trySend enqueues an envelope without blocking. Returns false when the
// connection is gone or its buffer is full.
func (h *Hub) trySend(c *Conn, env Envelope) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

// markAlive flips a connection back to alive. Called for pong control
// frames and ping JSON messages.
func (h *Hub) markAlive(c *Conn) {
	h.mu.Lock()
	c.alive = true
	c.lastHeartbeat = time.Now()
	h.mu.Unlock()
}

// readWait is the socket read deadline: generous enough that two missed
// sweeps (the disconnect bound) always fire before the transport deadline.
func (h *Hub) readWait() time.Duration {
	return 3 * h.cfg.HeartbeatInterval
}

// Run drives the heartbeat sweep until the context is canceled, then
// closes every connection. Designed for suture supervision.
//
// Each sweep disconnects connections that did not answer the previous
// ping, then marks the survivors not-alive and pings them. A dead
// connection is therefore detected within two sweep intervals.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case <-ticker.C:
			h.sweep()
		}
	}
}

// sweep is one heartbeat pass.
func (h *Hub) sweep() {
	h.mu.Lock()
	var stale []*Conn
	var live []*Conn
	for _, c := range h.conns {
		if !c.alive {
			stale = append(stale, c)
			continue
		}
		c.alive = false
		live = append(live, c)
	}
	h.mu.Unlock()

	for _, c := range stale {
		h.Disconnect(c, DisconnectReasonHeartbeatTimeout)
	}
	for _, c := range live {
		select {
		case c.ping <- struct{}{}:
		default:
		}
	}
}

// closeAll disconnects every connection, used during shutdown.
func (h *Hub) closeAll() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.Disconnect(c, DisconnectReasonShutdown)
	}
	logging.Info().Int("connections_closed", len(conns)).Msg("websocket hub stopped")
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// ActiveChannels returns the names of channels with at least one
// subscriber.
func (h *Hub) ActiveChannels() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.index.activeChannels()
}

// Subscribers returns the connection ids subscribed to a channel.
func (h *Hub) Subscribers(channel string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.index.subscribers(channel)
}
