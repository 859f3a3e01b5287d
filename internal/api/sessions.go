package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hexlattice/sessiond/internal/storage"
	"github.com/hexlattice/sessiond/internal/types"
)

// createSession provisions a VM and returns the new session. The record is
// created in status creating first so a provisioning failure is visible as
// a failed session, not a missing one.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	session := &types.Session{
		ID:     uuid.NewString(),
		Status: types.StatusCreating,
	}
	if err := s.entities.CreateSession(ctx, session); err != nil {
		s.logger.ErrorContext(ctx, "Session create failed", "error", err)
		writeError(w, http.StatusInternalServerError, "create_failed", err.Error())
		return
	}

	vm, err := s.provisioner.Start(ctx, session.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "VM provisioning failed",
			"session_id", session.ID,
			"error", err,
		)
		if terr := s.entities.UpdateSessionStatus(ctx, session.ID, types.StatusFailed, err.Error()); terr != nil {
			s.logger.ErrorContext(ctx, "Failed-status write failed", "session_id", session.ID, "error", terr)
		}
		writeError(w, http.StatusInternalServerError, "provision_failed", err.Error())
		return
	}

	if err := s.entities.UpdateSessionVM(ctx, session.ID, vm.ContainerID, vm.VNCHost, vm.VNCPort, vm.NoVNCURL); err != nil {
		writeError(w, http.StatusInternalServerError, "create_failed", err.Error())
		return
	}
	if err := s.entities.UpdateSessionStatus(ctx, session.ID, types.StatusIdle, ""); err != nil {
		writeError(w, http.StatusInternalServerError, "create_failed", err.Error())
		return
	}

	created, err := s.entities.GetSession(ctx, session.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create_failed", err.Error())
		return
	}

	s.logger.InfoContext(ctx, "Session created",
		"session_id", created.ID,
		"vnc_host", created.VNCHost,
		"vnc_port", created.VNCPort,
	)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.entities.ListSessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	if sessions == nil {
		sessions = []*types.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// stopSession is idempotent: stopping a stopped or failed session is a
// successful no-op. Deprovisioning is best-effort; its failure is recorded
// but never blocks the stop.
func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	if session.Status.Terminal() {
		writeJSON(w, http.StatusOK, session)
		return
	}

	var stopErr string
	if session.VMContainerID != "" {
		if err := s.provisioner.Stop(ctx, session.VMContainerID); err != nil {
			s.logger.WarnContext(ctx, "VM deprovisioning failed, stopping session anyway",
				"session_id", session.ID,
				"container_id", session.VMContainerID,
				"error", err,
			)
			stopErr = "failed stopping container: " + err.Error()
		}
	}

	if err := s.entities.UpdateSessionStatus(ctx, session.ID, types.StatusStopped, stopErr); err != nil {
		writeError(w, http.StatusInternalServerError, "stop_failed", err.Error())
		return
	}

	stopped, err := s.entities.GetSession(ctx, session.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stop_failed", err.Error())
		return
	}
	s.logger.InfoContext(ctx, "Session stopped", "session_id", stopped.ID)
	writeJSON(w, http.StatusOK, stopped)
}

// loadSession resolves the session in the URL, writing a 404 on absence
func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) (*types.Session, bool) {
	sessionID := chi.URLParam(r, "session_id")
	session, err := s.entities.GetSession(r.Context(), sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session_not_found", "session not found")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session_load_failed", err.Error())
		return nil, false
	}
	return session, true
}
