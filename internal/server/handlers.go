package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kingrea/bedtime/internal/store"
	"github.com/kingrea/bedtime/internal/wire"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, http.MethodGet, http.MethodHead)
		return
	}
	writeJSON(w, http.StatusOK, wire.Health{
		Status:        string(s.Status()),
		Version:       s.version,
		UptimeSeconds: s.uptimeSeconds(),
		Subscribers:   s.store.Subscribers(),
	})
}

// handleLegacyState serves GET and POST /state. A POST answers with an
// acknowledgement only; clients read the persisted document back.
func (s *Server) handleLegacyState(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		writeDocument(w, http.StatusOK, s.store.Get())
	case http.MethodPost:
		body, ok := s.readBody(w, r)
		if !ok {
			return
		}
		if _, err := s.store.Replace(r.Context(), body); err != nil {
			s.writeStoreError(w, variantLegacy, err)
			return
		}
		s.metrics.write(variantLegacy, resultAccepted)
		writeJSON(w, http.StatusOK, wire.OKBody{OK: true})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodHead, http.MethodPost)
	}
}

// handleStateV1 serves GET and PUT /api/v1/state. A PUT answers with the
// persisted document, or 409 with the current one when the write is stale.
func (s *Server) handleStateV1(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		writeDocument(w, http.StatusOK, s.store.Get())
	case http.MethodPut:
		body, ok := s.readBody(w, r)
		if !ok {
			return
		}
		persisted, err := s.store.ReplaceIfCurrent(r.Context(), body)
		if err != nil {
			s.writeStoreError(w, variantV1, err)
			return
		}
		s.metrics.write(variantV1, resultAccepted)
		writeDocument(w, http.StatusOK, persisted)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodHead, http.MethodPut)
	}
}

func (s *Server) writeStoreError(w http.ResponseWriter, variant string, err error) {
	var conflict *store.ConflictError
	switch {
	case errors.Is(err, store.ErrInvalidDocument):
		s.metrics.write(variant, resultInvalid)
		writeJSON(w, http.StatusBadRequest, wire.ErrorBody{Error: "state must be an object"})
	case errors.As(err, &conflict):
		s.metrics.write(variant, resultConflict)
		s.logger.Info("stale write refused", "incoming", conflict.Incoming, "stored", conflict.Stored)
		writeJSON(w, http.StatusConflict, wire.ConflictBody{CurrentState: conflict.Current})
	default:
		s.metrics.write(variant, resultError)
		s.logger.Error("write failed", "variant", variant, "error", err)
		writeJSON(w, http.StatusInternalServerError, wire.ErrorBody{Error: "state could not be saved"})
	}
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Body == nil {
		writeJSON(w, http.StatusBadRequest, wire.ErrorBody{Error: "empty body"})
		return nil, false
	}
	reader := http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, wire.ErrorBody{Error: "payload exceeds limit"})
			return nil, false
		}
		writeJSON(w, http.StatusBadRequest, wire.ErrorBody{Error: "unable to read body"})
		return nil, false
	}
	return body, true
}

// handleSocket streams state messages over a WebSocket. The current
// document is sent first. Anything the peer sends is read and discarded so
// that close frames and dead peers are noticed.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub, err := s.store.Subscribe()
	if err != nil {
		s.logger.Error("subscribe failed", "error", err)
		return
	}
	defer sub.Close()
	defer s.metrics.connected(transportSocket)()
	s.logger.Debug("push channel opened", "transport", transportSocket, "remote", r.RemoteAddr)

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case msg, ok := <-sub.Messages:
			if !ok {
				deadline := time.Now().Add(s.settings.WriteWait)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "store closed"), deadline)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.settings.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return
			}
			s.metrics.push(transportSocket)
		}
	}
}

// handleStream streams state messages as server-sent events, with comment
// heartbeats so idle proxies keep the connection open.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, wire.ErrorBody{Error: "streaming not supported"})
		return
	}
	sub, err := s.store.Subscribe()
	if err != nil {
		s.logger.Error("subscribe failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, wire.ErrorBody{Error: "subscribe failed"})
		return
	}
	defer sub.Close()
	defer s.metrics.connected(transportStream)()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(s.settings.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-sub.Messages:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", wire.SSEEventState, msg); err != nil {
				return
			}
			flusher.Flush()
			s.metrics.push(transportStream)
		}
	}
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeJSON(w, http.StatusMethodNotAllowed, wire.ErrorBody{Error: "method not allowed"})
}

func writeDocument(w http.ResponseWriter, status int, doc json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(doc)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
