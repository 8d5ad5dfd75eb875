// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

package hub

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/homelab-tools/quartermaster/internal/logging"
	"github.com/homelab-tools/quartermaster/internal/metrics"
)

// Conn is one live WebSocket connection. Identity starts anonymous; the
// principal id is recorded after a successful auth message. All mutable
// fields are guarded by the owning hub's registry lock, which serializes
// state changes per connection.
type Conn struct {
	id  string
	hub *Hub
	ws  *websocket.Conn // nil in unit tests that exercise the hub directly

	send chan Envelope
	ping chan struct{}

	// Guarded by hub.mu.
	principalID   string
	alive         bool
	lastHeartbeat time.Time
	subscriptions map[string]struct{}
	closed        bool
}

// ID returns the connection id assigned at accept time.
func (c *Conn) ID() string { return c.id }

// PrincipalID returns the authenticated principal, or empty while the
// connection is anonymous.
func (c *Conn) PrincipalID() string {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	return c.principalID
}

// Subscriptions returns a snapshot of the channels this connection is in.
func (c *Conn) Subscriptions() []string {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	channels := make([]string, 0, len(c.subscriptions))
	for ch := range c.subscriptions {
		channels = append(channels, ch)
	}
	return channels
}

// readPump pumps frames from the socket into the hub until the connection
// dies. Transport-level read failures terminate the connection; malformed
// payloads only produce an error reply.
func (c *Conn) readPump() {
	reason := DisconnectReasonError
	defer func() { c.hub.Disconnect(c, reason) }()

	c.ws.SetReadLimit(c.hub.cfg.MaxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(c.hub.readWait())); err != nil {
		logging.Error().Err(err).Str("conn_id", c.id).Msg("failed to set read deadline")
		return
	}

	// A pong control frame is a liveness signal, same as a ping JSON message.
	c.ws.SetPongHandler(func(string) error {
		c.hub.markAlive(c)
		return c.ws.SetReadDeadline(time.Now().Add(c.hub.readWait()))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Str("conn_id", c.id).Msg("unexpected websocket close")
			} else {
				reason = DisconnectReasonClose
			}
			return
		}
		if err := c.ws.SetReadDeadline(time.Now().Add(c.hub.readWait())); err != nil {
			return
		}
		c.hub.handleMessage(c, raw)
	}
}

// writePump is the single writer for the socket: envelopes from the send
// channel and ping control frames requested by the heartbeat sweep.
func (c *Conn) writePump() {
	defer func() { _ = c.ws.Close() }()

	for {
		select {
		case env, ok := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout)); err != nil {
				return
			}
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(env)
			if err != nil {
				logging.Error().Err(err).Str("conn_id", c.id).Msg("failed to marshal envelope")
				continue
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				logging.Warn().Err(err).Str("conn_id", c.id).Msg("websocket write failed")
				return
			}
			metrics.WebSocketMessagesSent.WithLabelValues(env.Type).Inc()

		case <-c.ping:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
