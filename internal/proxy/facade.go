// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

package proxy

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/homelab-tools/quartermaster/internal/config"
)

// Cache policies by data volatility. Live data (active downloads, running
// containers) is effectively uncached; search results live for minutes;
// slow-changing metadata for hours.
var (
	cacheNone     = &CacheOptions{Enabled: false}
	cacheSearch   = &CacheOptions{Enabled: true, TTL: 5 * time.Minute}
	cacheMetadata = &CacheOptions{Enabled: true, TTL: 6 * time.Hour}
)

// Facade aggregates all upstream clients behind domain-shaped methods.
// It picks the right client, path and cache policy per call and passes
// upstream errors through unchanged.
//
// Payloads stay opaque: every method returns the upstream JSON as
// json.RawMessage for the route layer to forward.
type Facade struct {
	registry *Registry
}

// NewFacade wraps a registry.
func NewFacade(registry *Registry) *Facade {
	return &Facade{registry: registry}
}

// Registry exposes the underlying registry for admin operations
// (health checks, cache management, config updates).
func (f *Facade) Registry() *Registry { return f.registry }

// --- Metadata provider (bearer auth) ---

// Trending returns trending titles for a media type ("movies", "shows")
// over a time window ("daily", "weekly"). Metadata moves slowly; cached
// for hours.
func (f *Facade) Trending(ctx context.Context, mediaType, window string) (json.RawMessage, error) {
	client, err := f.registry.Client(config.ServiceMetadata)
	if err != nil {
		return nil, err
	}
	params := url.Values{"window": {window}}
	return client.Get(ctx, "/"+mediaType+"/trending", params, cacheMetadata)
}

// Popular returns popular titles for a media type. Cached for hours.
func (f *Facade) Popular(ctx context.Context, mediaType string) (json.RawMessage, error) {
	client, err := f.registry.Client(config.ServiceMetadata)
	if err != nil {
		return nil, err
	}
	return client.Get(ctx, "/"+mediaType+"/popular", nil, cacheMetadata)
}

// SearchMetadata searches the metadata provider. Cached for minutes.
func (f *Facade) SearchMetadata(ctx context.Context, mediaType, query string) (json.RawMessage, error) {
	client, err := f.registry.Client(config.ServiceMetadata)
	if err != nil {
		return nil, err
	}
	params := url.Values{"query": {query}}
	return client.Get(ctx, "/search/"+mediaType, params, cacheSearch)
}

// --- Torrent indexer (API key header auth) ---

// SearchTorrents queries the indexer. Results age fast; cached for minutes.
func (f *Facade) SearchTorrents(ctx context.Context, query string) (json.RawMessage, error) {
	client, err := f.registry.Client(config.ServiceIndexer)
	if err != nil {
		return nil, err
	}
	params := url.Values{"query": {query}}
	return client.Get(ctx, "/api/v1/search", params, cacheSearch)
}

// --- Download daemon (basic auth, qBittorrent API shape) ---

// Torrents lists the daemon's torrents. Live data, never cached.
func (f *Facade) Torrents(ctx context.Context) (json.RawMessage, error) {
	client, err := f.registry.Client(config.ServiceDownloader)
	if err != nil {
		return nil, err
	}
	return client.Get(ctx, "/api/v2/torrents/info", nil, cacheNone)
}

// AddMagnet submits a magnet link to the download daemon.
func (f *Facade) AddMagnet(ctx context.Context, magnet string) (json.RawMessage, error) {
	client, err := f.registry.Client(config.ServiceDownloader)
	if err != nil {
		return nil, err
	}
	params := url.Values{"urls": {magnet}}
	return client.Post(ctx, "/api/v2/torrents/add", params, nil)
}

// PauseTorrent pauses one torrent by hash.
func (f *Facade) PauseTorrent(ctx context.Context, hash string) (json.RawMessage, error) {
	client, err := f.registry.Client(config.ServiceDownloader)
	if err != nil {
		return nil, err
	}
	params := url.Values{"hashes": {hash}}
	return client.Post(ctx, "/api/v2/torrents/pause", params, nil)
}

// ResumeTorrent resumes one torrent by hash.
func (f *Facade) ResumeTorrent(ctx context.Context, hash string) (json.RawMessage, error) {
	client, err := f.registry.Client(config.ServiceDownloader)
	if err != nil {
		return nil, err
	}
	params := url.Values{"hashes": {hash}}
	return client.Post(ctx, "/api/v2/torrents/resume", params, nil)
}

// DeleteTorrent removes a torrent, optionally with its files.
func (f *Facade) DeleteTorrent(ctx context.Context, hash string, deleteFiles bool) (json.RawMessage, error) {
	client, err := f.registry.Client(config.ServiceDownloader)
	if err != nil {
		return nil, err
	}
	params := url.Values{"hashes": {hash}}
	if deleteFiles {
		params.Set("deleteFiles", "true")
	}
	return client.Post(ctx, "/api/v2/torrents/delete", params, nil)
}

// --- Container manager (API key header auth, Portainer API shape) ---

// Containers lists containers. Live data, never cached.
func (f *Facade) Containers(ctx context.Context) (json.RawMessage, error) {
	client, err := f.registry.Client(config.ServiceContainers)
	if err != nil {
		return nil, err
	}
	params := url.Values{"all": {"true"}}
	return client.Get(ctx, "/api/endpoints/1/docker/containers/json", params, cacheNone)
}

// RestartContainer restarts a container by id.
func (f *Facade) RestartContainer(ctx context.Context, id string) (json.RawMessage, error) {
	client, err := f.registry.Client(config.ServiceContainers)
	if err != nil {
		return nil, err
	}
	return client.Post(ctx, "/api/endpoints/1/docker/containers/"+id+"/restart", nil, nil)
}

// StopContainer stops a container by id.
func (f *Facade) StopContainer(ctx context.Context, id string) (json.RawMessage, error) {
	client, err := f.registry.Client(config.ServiceContainers)
	if err != nil {
		return nil, err
	}
	return client.Post(ctx, "/api/endpoints/1/docker/containers/"+id+"/stop", nil, nil)
}

// StartContainer starts a container by id.
func (f *Facade) StartContainer(ctx context.Context, id string) (json.RawMessage, error) {
	client, err := f.registry.Client(config.ServiceContainers)
	if err != nil {
		return nil, err
	}
	return client.Post(ctx, "/api/endpoints/1/docker/containers/"+id+"/start", nil, nil)
}

// ContainerLogs fetches the last lines of a container's logs. Never cached.
func (f *Facade) ContainerLogs(ctx context.Context, id string, tail int) (json.RawMessage, error) {
	client, err := f.registry.Client(config.ServiceContainers)
	if err != nil {
		return nil, err
	}
	params := url.Values{
		"stdout": {"true"},
		"stderr": {"true"},
	}
	if tail > 0 {
		params.Set("tail", strconv.Itoa(tail))
	}
	return client.Get(ctx, "/api/endpoints/1/docker/containers/"+id+"/logs", params, cacheNone)
}

// --- Media server (API key header auth, Jellyfin API shape) ---

// MediaSessions lists active playback sessions. Live data, never cached.
func (f *Facade) MediaSessions(ctx context.Context) (json.RawMessage, error) {
	client, err := f.registry.Client(config.ServiceMedia)
	if err != nil {
		return nil, err
	}
	return client.Get(ctx, "/Sessions", nil, cacheNone)
}

// RefreshLibrary triggers a media library scan.
func (f *Facade) RefreshLibrary(ctx context.Context) (json.RawMessage, error) {
	client, err := f.registry.Client(config.ServiceMedia)
	if err != nil {
		return nil, err
	}
	return client.Post(ctx, "/Library/Refresh", nil, nil)
}

// --- File browser (basic auth) ---

// ListDir lists a directory. Cached briefly so repeated navigation does
// not hammer the file browser.
func (f *Facade) ListDir(ctx context.Context, path string) (json.RawMessage, error) {
	client, err := f.registry.Client(config.ServiceFiles)
	if err != nil {
		return nil, err
	}
	return client.Get(ctx, "/api/resources/"+path, nil, &CacheOptions{Enabled: true, TTL: 30 * time.Second})
}

// CreateDir creates a directory.
func (f *Facade) CreateDir(ctx context.Context, path string) (json.RawMessage, error) {
	client, err := f.registry.Client(config.ServiceFiles)
	if err != nil {
		return nil, err
	}
	return client.Post(ctx, "/api/resources/"+path+"/", nil, nil)
}

// DeleteFile removes a file or directory.
func (f *Facade) DeleteFile(ctx context.Context, path string) (json.RawMessage, error) {
	client, err := f.registry.Client(config.ServiceFiles)
	if err != nil {
		return nil, err
	}
	return client.Delete(ctx, "/api/resources/"+path, nil)
}

// Rename moves a file or directory to a new path.
func (f *Facade) Rename(ctx context.Context, from, to string) (json.RawMessage, error) {
	client, err := f.registry.Client(config.ServiceFiles)
	if err != nil {
		return nil, err
	}
	params := url.Values{
		"action":      {"rename"},
		"destination": {to},
	}
	return client.Patch(ctx, "/api/resources/"+from, params, nil)
}
