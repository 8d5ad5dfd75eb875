// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

package poller

import (
	"bytes"
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/homelab-tools/quartermaster/internal/config"
	"github.com/homelab-tools/quartermaster/internal/hub"
	"github.com/homelab-tools/quartermaster/internal/logging"
)

// DownloadsChannel is the broadcast channel download progress is published
// on. It sits under a protected prefix, so only authenticated connections
// can subscribe.
const DownloadsChannel = "downloads"

const pollTimeout = 10 * time.Second

// TorrentSource is the slice of the proxy facade the poller needs.
type TorrentSource interface {
	Torrents(ctx context.Context) (json.RawMessage, error)
}

// Broadcaster is the slice of the hub the poller needs.
type Broadcaster interface {
	Broadcast(channel string, env hub.Envelope)
	Subscribers(channel string) []string
}

// Poller periodically fetches the torrent list and pushes it to hub
// subscribers. Polling is skipped entirely while nobody is subscribed, so
// an idle dashboard costs the download client nothing.
type Poller struct {
	source   TorrentSource
	hub      Broadcaster
	interval time.Duration

	// last successfully broadcast payload; identical polls are suppressed
	// so idle torrents do not generate frame noise.
	last json.RawMessage
}

// New creates a poller. Interval comes from config with a floor of one
// second to protect the upstream from misconfiguration.
func New(cfg config.PollerConfig, source TorrentSource, broadcaster Broadcaster) *Poller {
	interval := cfg.Interval
	if interval < time.Second {
		interval = time.Second
	}
	return &Poller{
		source:   source,
		hub:      broadcaster,
		interval: interval,
	}
}

// Run polls until the context is canceled. Designed for suture
// supervision. Upstream failures are logged and the next tick retries;
// the proxy client's own retry and breaker policies already bound how
// hard each poll hits the service.
func (p *Poller) Run(ctx context.Context) error {
	logging.Info().Dur("interval", p.interval).Msg("download poller started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	if len(p.hub.Subscribers(DownloadsChannel)) == 0 {
		return
	}

	pollCtx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	torrents, err := p.source.Torrents(pollCtx)
	if err != nil {
		logging.Warn().Err(err).Msg("download progress poll failed")
		return
	}

	if bytes.Equal(p.last, torrents) {
		return
	}
	p.last = torrents

	p.hub.Broadcast(DownloadsChannel, hub.NewEnvelope(hub.TypeDownload, "progress", torrents))
}
