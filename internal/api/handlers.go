// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ManuGH/photocast/internal/engine"
	"github.com/ManuGH/photocast/internal/log"
	"github.com/ManuGH/photocast/internal/render"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 64 << 10

// commandRequest is the optional body of the control routes.
type commandRequest struct {
	Devices []string `json:"devices"`
}

type commandResponse struct {
	OK     bool          `json:"ok"`
	Error  string        `json:"error,omitempty"`
	Status engine.Status `json:"status"`
}

type reindexResponse struct {
	Accepted bool          `json:"accepted"`
	Joined   bool          `json:"joined"`
	Status   engine.Status `json:"status"`
}

func decodeCommand(r *http.Request) (commandRequest, error) {
	var req commandRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return req, fmt.Errorf("read body: %w", err)
	}
	if len(body) == 0 {
		return req, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("invalid request body: %w", err)
	}
	return req, nil
}

// handleCommand runs one targeted engine command. Per-target device problems
// are reported in the status with 200; only malformed requests and unknown
// targets are client errors.
func (s *Server) handleCommand(cmd func(ctx context.Context, targets ...string) (engine.Status, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeCommand(r)
		if err != nil {
			writeBadRequest(w, err)
			return
		}

		st, err := cmd(r.Context(), req.Devices...)
		switch {
		case errors.Is(err, engine.ErrUnknownTarget):
			writeNotFound(w, err)
			return
		case errors.Is(err, engine.ErrClosed):
			writeServiceUnavailable(w, err)
			return
		case r.Context().Err() != nil:
			return
		}

		resp := commandResponse{OK: err == nil, Status: st}
		if err != nil {
			resp.Error = err.Error()
			logger := log.WithComponentFromContext(r.Context(), "api")
			logger.Warn().Err(err).
				Str(log.FieldEvent, "api.command_partial").Str(log.FieldPath, r.URL.Path).
				Msg("command completed with errors")
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	fresh := s.ctl.Reindex()
	writeJSON(w, http.StatusOK, reindexResponse{
		Accepted: true,
		Joined:   !fresh,
		Status:   s.ctl.Status(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Status())
}

func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	ok, err := s.ctl.WritePlaylist(&buf)
	if err != nil {
		writeServiceUnavailable(w, err)
		return
	}
	if !ok {
		buf.WriteString("#EXTM3U\n")
	}
	w.Header().Set("Content-Type", "audio/x-mpegurl")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "assetID")
	f, err := s.ctl.Image(r.Context(), id)
	switch {
	case errors.Is(err, engine.ErrUnknownAsset):
		writeNotFound(w, err)
		return
	case err != nil:
		if render.IsDecode(err) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	serveFrame(w, r, f)
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	f, ok := s.ctl.Frame(r.Context(), key)
	if !ok {
		writeNotFound(w, fmt.Errorf("unknown frame %q", key))
		return
	}
	serveFrame(w, r, f)
}

// serveFrame writes frame bytes. Frames are immutable per key, so the key is
// the ETag and the response is cacheable.
func serveFrame(w http.ResponseWriter, r *http.Request, f *render.Frame) {
	w.Header().Set("Content-Type", f.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	w.Header().Set("ETag", `"`+f.Key+`"`)
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(f.Data))
}
