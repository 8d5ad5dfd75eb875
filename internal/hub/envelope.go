// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

package hub

import (
	"time"

	"github.com/goccy/go-json"
)

// Envelope types. Control types carry hub protocol traffic; domain types
// carry application events pushed by pollers and route handlers.
const (
	TypeAuth         = "auth"
	TypeSubscription = "subscription"
	TypeSystem       = "system"
	TypeError        = "error"

	TypeDownload     = "download"
	TypeFile         = "file"
	TypeNotification = "notification"
)

// Envelope events.
const (
	EventConnected     = "connected"
	EventAuthenticated = "authenticated"
	EventSubscribed    = "subscribed"
	EventUnsubscribed  = "unsubscribed"
	EventPong          = "pong"
	EventError         = "error"
)

// Envelope is the server-to-client wire message. It is never mutated after
// construction; Broadcast stamps a fresh snapshot per publish.
type Envelope struct {
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// NewEnvelope builds a stamped envelope.
func NewEnvelope(envType, event string, data interface{}) Envelope {
	return Envelope{
		Type:      envType,
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// stamped returns a copy of e with a fresh timestamp.
func (e Envelope) stamped() Envelope {
	e.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return e
}

// clientMessage is the client-to-server frame. Exactly one of the message
// types from the protocol table is expected: auth, subscribe, unsubscribe,
// ping.
type clientMessage struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Filters json.RawMessage `json:"filters,omitempty"`
	UserID  string          `json:"userId,omitempty"`
	Token   string          `json:"token,omitempty"`
}

// Client message types.
const (
	msgAuth        = "auth"
	msgSubscribe   = "subscribe"
	msgUnsubscribe = "unsubscribe"
	msgPing        = "ping"
)
