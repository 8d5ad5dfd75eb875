// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

package hub

import (
	"fmt"
	"strings"
)

// protectedPrefixes lists channel prefixes that require an authenticated
// connection. A principal-scoped channel (prefix:<userId>) additionally
// requires the authenticated principal to own the suffix.
var protectedPrefixes = []string{
	"downloads",
	"notifications",
	"file-operations",
}

// channelIndex is the inverted index from channel name to subscriber
// connection ids. It is not self-locking: the owning Hub guards it with
// its registry lock.
type channelIndex struct {
	channels map[string]map[string]struct{}
}

func newChannelIndex() *channelIndex {
	return &channelIndex{channels: make(map[string]map[string]struct{})}
}

// add subscribes a connection id to a channel, creating the channel entry
// on first subscriber.
func (ci *channelIndex) add(channel, connID string) {
	subs, ok := ci.channels[channel]
	if !ok {
		subs = make(map[string]struct{})
		ci.channels[channel] = subs
	}
	subs[connID] = struct{}{}
}

// remove drops a connection id from a channel. A channel with no remaining
// subscribers is pruned entirely.
func (ci *channelIndex) remove(channel, connID string) {
	subs, ok := ci.channels[channel]
	if !ok {
		return
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(ci.channels, channel)
	}
}

// subscribers returns a snapshot of the subscriber set for a channel.
func (ci *channelIndex) subscribers(channel string) []string {
	subs, ok := ci.channels[channel]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	return ids
}

// activeChannels returns the names of all channels with at least one
// subscriber.
func (ci *channelIndex) activeChannels() []string {
	names := make([]string, 0, len(ci.channels))
	for name := range ci.channels {
		names = append(names, name)
	}
	return names
}

func (ci *channelIndex) count() int { return len(ci.channels) }

// authorizeSubscribe applies the channel authorization policy:
//   - channels under a protected prefix require authentication
//   - principal-scoped channels (prefix:<userId>) require the authenticated
//     principal to match the suffix, so users cannot snoop on each other
//   - everything else is public
//
// Returns a human-readable reason when the subscription must be rejected.
func authorizeSubscribe(channel, principalID string) error {
	prefix, suffix, scoped := strings.Cut(channel, ":")

	protected := false
	for _, p := range protectedPrefixes {
		if prefix == p {
			protected = true
			break
		}
	}
	if !protected {
		return nil
	}

	if principalID == "" {
		return fmt.Errorf("channel %q requires authentication", channel)
	}
	if scoped && suffix != principalID {
		return fmt.Errorf("channel %q belongs to another user", channel)
	}
	return nil
}
