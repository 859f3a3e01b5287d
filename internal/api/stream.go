package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hexlattice/sessiond/internal/events"
)

// streamEvents serves the merged backlog+live event view as a
// text/event-stream. Backlog is drained before the live feed; viewers must
// tolerate at-least-once, approximately-ordered delivery across reconnects.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer cannot stream")
		return
	}

	backlog, sub, err := s.distributor.Subscribe(ctx, session.ID, s.backlogLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "subscribe_failed", err.Error())
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for _, ev := range backlog {
		if err := events.WriteSSE(w, ev.Type, ev.Payload); err != nil {
			return
		}
	}
	flusher.Flush()

	keepAlive := time.NewTicker(s.keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case raw, open := <-sub.Messages():
			if !open {
				return
			}
			var wire events.WireEvent
			if err := json.Unmarshal([]byte(raw), &wire); err != nil {
				s.logger.WarnContext(ctx, "Dropping malformed live event",
					"session_id", session.ID,
					"error", err,
				)
				continue
			}
			if err := events.WriteSSE(w, wire.Type, wire.Payload); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if err := events.WriteKeepAlive(w); err != nil {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
