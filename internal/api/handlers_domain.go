// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/homelab-tools/quartermaster/internal/hub"
	"github.com/homelab-tools/quartermaster/internal/poller"
)

// Domain passthrough handlers. Each one delegates to the proxy facade and
// returns the upstream JSON unchanged; retries, caching and the breaker
// all live below the facade.

func (h *Handler) Trending(w http.ResponseWriter, r *http.Request) {
	mediaType := queryDefault(r, "type", "movie")
	window := queryDefault(r, "window", "day")
	payload, err := h.facade.Trending(r.Context(), mediaType, window)
	if err != nil {
		respondProxyError(w, err)
		return
	}
	respondRaw(w, http.StatusOK, payload)
}

func (h *Handler) Popular(w http.ResponseWriter, r *http.Request) {
	payload, err := h.facade.Popular(r.Context(), queryDefault(r, "type", "movie"))
	if err != nil {
		respondProxyError(w, err)
		return
	}
	respondRaw(w, http.StatusOK, payload)
}

func (h *Handler) SearchMetadata(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		respondError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	payload, err := h.facade.SearchMetadata(r.Context(), queryDefault(r, "type", "movie"), query)
	if err != nil {
		respondProxyError(w, err)
		return
	}
	respondRaw(w, http.StatusOK, payload)
}

func (h *Handler) SearchTorrents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		respondError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	payload, err := h.facade.SearchTorrents(r.Context(), query)
	if err != nil {
		respondProxyError(w, err)
		return
	}
	respondRaw(w, http.StatusOK, payload)
}

func (h *Handler) Downloads(w http.ResponseWriter, r *http.Request) {
	payload, err := h.facade.Torrents(r.Context())
	if err != nil {
		respondProxyError(w, err)
		return
	}
	respondRaw(w, http.StatusOK, payload)
}

type addMagnetRequest struct {
	Magnet string `json:"magnet"`
}

func (h *Handler) AddDownload(w http.ResponseWriter, r *http.Request) {
	var req addMagnetRequest
	if err := decodeBody(r, &req); err != nil || req.Magnet == "" {
		respondError(w, http.StatusBadRequest, "magnet link is required")
		return
	}

	payload, err := h.facade.AddMagnet(r.Context(), req.Magnet)
	if err != nil {
		respondProxyError(w, err)
		return
	}

	h.hub.Broadcast(poller.DownloadsChannel, hub.NewEnvelope(hub.TypeDownload, "added", map[string]string{"magnet": req.Magnet}))
	respondRaw(w, http.StatusOK, payload)
}

func (h *Handler) PauseDownload(w http.ResponseWriter, r *http.Request) {
	payload, err := h.facade.PauseTorrent(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		respondProxyError(w, err)
		return
	}
	respondRaw(w, http.StatusOK, payload)
}

func (h *Handler) ResumeDownload(w http.ResponseWriter, r *http.Request) {
	payload, err := h.facade.ResumeTorrent(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		respondProxyError(w, err)
		return
	}
	respondRaw(w, http.StatusOK, payload)
}

func (h *Handler) DeleteDownload(w http.ResponseWriter, r *http.Request) {
	deleteFiles := r.URL.Query().Get("delete_files") == "true"
	payload, err := h.facade.DeleteTorrent(r.Context(), chi.URLParam(r, "hash"), deleteFiles)
	if err != nil {
		respondProxyError(w, err)
		return
	}
	respondRaw(w, http.StatusOK, payload)
}

func (h *Handler) Containers(w http.ResponseWriter, r *http.Request) {
	payload, err := h.facade.Containers(r.Context())
	if err != nil {
		respondProxyError(w, err)
		return
	}
	respondRaw(w, http.StatusOK, payload)
}

func (h *Handler) ContainerAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var payload []byte
	var err error
	switch action := chi.URLParam(r, "action"); action {
	case "restart":
		payload, err = h.facade.RestartContainer(r.Context(), id)
	case "stop":
		payload, err = h.facade.StopContainer(r.Context(), id)
	case "start":
		payload, err = h.facade.StartContainer(r.Context(), id)
	default:
		respondError(w, http.StatusBadRequest, "unknown container action: "+action)
		return
	}
	if err != nil {
		respondProxyError(w, err)
		return
	}
	respondRaw(w, http.StatusOK, payload)
}

func (h *Handler) ContainerLogs(w http.ResponseWriter, r *http.Request) {
	tail := 100
	if t := r.URL.Query().Get("tail"); t != "" {
		parsed, err := strconv.Atoi(t)
		if err != nil || parsed < 1 {
			respondError(w, http.StatusBadRequest, "tail must be a positive integer")
			return
		}
		tail = parsed
	}

	payload, err := h.facade.ContainerLogs(r.Context(), chi.URLParam(r, "id"), tail)
	if err != nil {
		respondProxyError(w, err)
		return
	}
	respondRaw(w, http.StatusOK, payload)
}

func (h *Handler) MediaSessions(w http.ResponseWriter, r *http.Request) {
	payload, err := h.facade.MediaSessions(r.Context())
	if err != nil {
		respondProxyError(w, err)
		return
	}
	respondRaw(w, http.StatusOK, payload)
}

func (h *Handler) RefreshLibrary(w http.ResponseWriter, r *http.Request) {
	payload, err := h.facade.RefreshLibrary(r.Context())
	if err != nil {
		respondProxyError(w, err)
		return
	}
	respondRaw(w, http.StatusOK, payload)
}

// fileOperationsChannel carries file mutation events. Protected prefix:
// subscribers must be authenticated.
const fileOperationsChannel = "file-operations"

func (h *Handler) ListDir(w http.ResponseWriter, r *http.Request) {
	payload, err := h.facade.ListDir(r.Context(), queryDefault(r, "path", "/"))
	if err != nil {
		respondProxyError(w, err)
		return
	}
	respondRaw(w, http.StatusOK, payload)
}

type pathRequest struct {
	Path string `json:"path"`
}

func (h *Handler) CreateDir(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := decodeBody(r, &req); err != nil || req.Path == "" {
		respondError(w, http.StatusBadRequest, "path is required")
		return
	}

	payload, err := h.facade.CreateDir(r.Context(), req.Path)
	if err != nil {
		respondProxyError(w, err)
		return
	}

	h.hub.Broadcast(fileOperationsChannel, hub.NewEnvelope(hub.TypeFile, "dir-created", map[string]string{"path": req.Path}))
	respondRaw(w, http.StatusCreated, payload)
}

func (h *Handler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		respondError(w, http.StatusBadRequest, "query parameter path is required")
		return
	}

	payload, err := h.facade.DeleteFile(r.Context(), path)
	if err != nil {
		respondProxyError(w, err)
		return
	}

	h.hub.Broadcast(fileOperationsChannel, hub.NewEnvelope(hub.TypeFile, "deleted", map[string]string{"path": path}))
	respondRaw(w, http.StatusOK, payload)
}

type renameRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (h *Handler) RenameFile(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := decodeBody(r, &req); err != nil || req.From == "" || req.To == "" {
		respondError(w, http.StatusBadRequest, "from and to paths are required")
		return
	}

	payload, err := h.facade.Rename(r.Context(), req.From, req.To)
	if err != nil {
		respondProxyError(w, err)
		return
	}

	h.hub.Broadcast(fileOperationsChannel, hub.NewEnvelope(hub.TypeFile, "renamed", map[string]string{"from": req.From, "to": req.To}))
	respondRaw(w, http.StatusOK, payload)
}

func queryDefault(r *http.Request, key, fallback string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	return fallback
}
