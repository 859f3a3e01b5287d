package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/hexlattice/sessiond/internal/types"
)

type postMessageRequest struct {
	Content string `json:"content"`
}

// postMessage accepts one turn of user input: persist the message, enqueue
// the job, emit the queued event. Rejected with a conflict before any side
// effect when the session is terminal.
func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	if session.Status.Terminal() {
		writeError(w, http.StatusConflict, "session_terminal", "session is "+string(session.Status))
		return
	}

	var body postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	if strings.TrimSpace(body.Content) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "content must not be empty")
		return
	}

	message := &types.Message{
		SessionID: session.ID,
		Role:      types.RoleUser,
		Content:   body.Content,
	}
	if err := s.entities.CreateMessage(ctx, message); err != nil {
		writeError(w, http.StatusInternalServerError, "message_create_failed", err.Error())
		return
	}

	messageID := strconv.FormatInt(message.ID, 10)
	if err := s.dispatcher.Enqueue(ctx, types.Job{SessionID: session.ID, MessageID: messageID}); err != nil {
		writeError(w, http.StatusInternalServerError, "enqueue_failed", err.Error())
		return
	}

	if err := s.distributor.Publish(ctx, session.ID, "status", map[string]any{
		"status":     "queued",
		"message_id": messageID,
	}); err != nil {
		s.logger.ErrorContext(ctx, "Queued event publish failed",
			"session_id", session.ID,
			"message_id", messageID,
			"error", err,
		)
	}

	s.logger.InfoContext(ctx, "Turn queued",
		"session_id", session.ID,
		"message_id", messageID,
	)
	writeJSON(w, http.StatusCreated, message)
}

// history returns a session's messages in creation order
func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	messages, err := s.entities.ListMessages(r.Context(), session.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "history_failed", err.Error())
		return
	}
	if messages == nil {
		messages = []*types.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

type debugEmitRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// debugEmit injects an arbitrary event into a session's stream
func (s *Server) debugEmit(w http.ResponseWriter, r *http.Request) {
	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	var body debugEmitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Type == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "type and payload required")
		return
	}

	if err := s.distributor.Publish(r.Context(), session.ID, body.Type, body.Payload); err != nil {
		writeError(w, http.StatusInternalServerError, "emit_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
