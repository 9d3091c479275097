package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"oracleescrow/internal/idempotency"
)

const (
	idempotencyHeader = "X-Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	maxBodyBytes      = 1 << 20
)

// actionFunc handles a validated-later POST body and returns the status and
// JSON payload to send.
type actionFunc func(ctx context.Context, body []byte) (int, any)

// serveIdempotent runs h once per idempotency key. Repeats with the same body
// get the stored response; a different body under the same key is a conflict.
func (s *Server) serveIdempotent(w http.ResponseWriter, r *http.Request, route string, h actionFunc) {
	ctx := r.Context()
	clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if clientKey == "" {
		s.reply(w, route, http.StatusBadRequest, errorResponse{Error: "missing " + idempotencyHeader + " header"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.reply(w, route, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
		return
	}

	key := s.guard.Key(route, clientKey)
	if _, busy := s.inflight.LoadOrStore(key, struct{}{}); busy {
		s.reply(w, route, http.StatusConflict, errorResponse{Error: "a request with this idempotency key is in progress"})
		return
	}
	defer s.inflight.Delete(key)

	existing, err := s.guard.Lookup(ctx, key, body)
	switch {
	case errors.Is(err, idempotency.ErrConflict):
		s.reply(w, route, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return
	case err != nil:
		s.logger.Error("idempotency lookup failed", "route", route, "err", err)
		s.reply(w, route, http.StatusServiceUnavailable, errorResponse{Error: "idempotency store unavailable"})
		return
	case existing != nil:
		w.Header().Set(replayedHeader, "true")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.StatusCode)
		_, _ = w.Write(existing.Response)
		s.metrics.incRequest(route, existing.StatusCode)
		s.metrics.incReplay(route)
		return
	}

	status, payload := h(ctx, body)
	resp, err := json.Marshal(payload)
	if err != nil {
		s.reply(w, route, http.StatusInternalServerError, errorResponse{Error: "encode response"})
		return
	}
	resp = append(resp, '\n')

	// Server-side failures are not remembered so the client can retry them.
	if status < http.StatusInternalServerError {
		if err := s.guard.Remember(ctx, key, body, status, resp); err != nil {
			s.logger.Warn("idempotency save failed", "route", route, "err", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(resp)
	s.metrics.incRequest(route, status)
}

func (s *Server) reply(w http.ResponseWriter, route string, status int, v any) {
	s.metrics.incRequest(route, status)
	writeJSON(w, status, v)
}
