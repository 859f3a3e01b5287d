package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexlattice/sessiond/internal/config"
	"github.com/hexlattice/sessiond/internal/coord"
	"github.com/hexlattice/sessiond/internal/events"
	"github.com/hexlattice/sessiond/internal/provision"
	"github.com/hexlattice/sessiond/internal/queue"
	"github.com/hexlattice/sessiond/internal/storage/memory"
	"github.com/hexlattice/sessiond/internal/types"
)

type fixture struct {
	server     *Server
	entities   *memory.Store
	coordStore *coord.MemoryStore
	dispatcher *queue.Dispatcher
}

func newFixture(t *testing.T, apiKey string, provisioner provision.Provisioner) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{
		entities:   memory.New(),
		coordStore: coord.NewMemoryStore(),
	}
	f.dispatcher = queue.NewDispatcher(f.coordStore)
	distributor := events.NewDistributor(f.entities, f.coordStore, logger)

	cfg := config.Config{
		APIKey:            apiKey,
		KeepAliveInterval: 50 * time.Millisecond,
		BacklogLimit:      config.DefaultBacklogLimit,
	}
	f.server = New(logger, f.entities, f.coordStore, f.dispatcher, distributor, provisioner, cfg)
	return f
}

func staticProvisioner() provision.Provisioner {
	return &provision.Static{Info: provision.VMInfo{
		VNCHost:  "vm.local",
		VNCPort:  5901,
		NoVNCURL: "http://vm.local:6080/",
	}}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) createSession(t *testing.T) types.Session {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var session types.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	return session
}

func TestCreateSessionProvisionsAndGoesIdle(t *testing.T) {
	f := newFixture(t, "", staticProvisioner())

	session := f.createSession(t)
	assert.Equal(t, types.StatusIdle, session.Status)
	assert.Equal(t, "vm.local", session.VNCHost)
	assert.Equal(t, 5901, session.VNCPort)
	assert.Equal(t, "http://vm.local:6080/", session.NoVNCURL)
}

type failingProvisioner struct{}

func (failingProvisioner) Start(context.Context, string) (provision.VMInfo, error) {
	return provision.VMInfo{}, errors.New("no capacity")
}

func (failingProvisioner) Stop(context.Context, string) error {
	return errors.New("cannot stop")
}

func TestCreateSessionProvisionFailure(t *testing.T) {
	f := newFixture(t, "", failingProvisioner{})

	rec := f.do(t, http.MethodPost, "/v1/sessions", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	sessions, err := f.entities.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, types.StatusFailed, sessions[0].Status)
	assert.Contains(t, sessions[0].LastError, "no capacity")
}

func TestGetSessionNotFound(t *testing.T) {
	f := newFixture(t, "", staticProvisioner())
	rec := f.do(t, http.MethodGet, "/v1/sessions/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSessions(t *testing.T) {
	f := newFixture(t, "", staticProvisioner())
	f.createSession(t)
	f.createSession(t)

	rec := f.do(t, http.MethodGet, "/v1/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sessions []types.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sessions))
	assert.Len(t, sessions, 2)
}

func TestStopSessionIsIdempotent(t *testing.T) {
	f := newFixture(t, "", staticProvisioner())
	session := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/v1/sessions/"+session.ID+"/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stopped types.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stopped))
	assert.Equal(t, types.StatusStopped, stopped.Status)

	// Second stop: still success, still stopped.
	rec = f.do(t, http.MethodPost, "/v1/sessions/"+session.ID+"/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stopped))
	assert.Equal(t, types.StatusStopped, stopped.Status)
}

func TestStopRecordsDeprovisionFailureButStillStops(t *testing.T) {
	f := newFixture(t, "", staticProvisioner())
	session := f.createSession(t)

	// Swap in a provisioner whose Stop always fails.
	f.server.provisioner = failingProvisioner{}

	rec := f.do(t, http.MethodPost, "/v1/sessions/"+session.ID+"/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := f.entities.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusStopped, got.Status)
	assert.Contains(t, got.LastError, "cannot stop")
}

func TestPostMessageQueuesTurn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "", staticProvisioner())
	session := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/v1/sessions/"+session.ID+"/messages",
		map[string]string{"content": "hello"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var msg types.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, types.RoleUser, msg.Role)
	assert.Equal(t, "hello", msg.Content)

	// Job enqueued for exactly this message.
	job, ok, err := f.dispatcher.DequeueBlocking(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session.ID, job.SessionID)
	assert.Equal(t, "1", job.MessageID)

	// Queued event persisted.
	evs, err := f.entities.RecentEvents(ctx, session.ID, 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "status", evs[0].Type)
	assert.Contains(t, string(evs[0].Payload), `"queued"`)
}

func TestPostMessageToStoppedSessionIsRejectedBeforeSideEffects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "", staticProvisioner())
	session := f.createSession(t)
	f.do(t, http.MethodPost, "/v1/sessions/"+session.ID+"/stop", nil)

	rec := f.do(t, http.MethodPost, "/v1/sessions/"+session.ID+"/messages",
		map[string]string{"content": "hello"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// No message, no job, no event appeared.
	msgs, err := f.entities.ListMessages(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	_, ok, err := f.dispatcher.DequeueBlocking(ctx, 20*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	evs, err := f.entities.RecentEvents(ctx, session.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestPostMessageValidation(t *testing.T) {
	f := newFixture(t, "", staticProvisioner())
	session := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/v1/sessions/"+session.ID+"/messages",
		map[string]string{"content": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryOrdering(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "", staticProvisioner())
	session := f.createSession(t)

	for _, content := range []string{"one", "two"} {
		require.NoError(t, f.entities.CreateMessage(ctx, &types.Message{
			SessionID: session.ID, Role: types.RoleUser, Content: content,
		}))
	}

	rec := f.do(t, http.MethodGet, "/v1/sessions/"+session.ID+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []types.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "two", msgs[1].Content)
}

func TestAPIKeyEnforcedOnMutations(t *testing.T) {
	f := newFixture(t, "sekrit", staticProvisioner())

	rec := f.do(t, http.MethodPost, "/v1/sessions", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
	req.Header.Set("X-API-Key", "sekrit")
	out := httptest.NewRecorder()
	f.server.ServeHTTP(out, req)
	assert.Equal(t, http.StatusCreated, out.Code)

	// Reads stay open.
	rec = f.do(t, http.MethodGet, "/v1/sessions", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDebugEmit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "", staticProvisioner())
	session := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/v1/debug/sessions/"+session.ID+"/emit",
		map[string]any{"type": "log", "payload": map[string]string{"msg": "injected"}})
	require.Equal(t, http.StatusOK, rec.Code)

	evs, err := f.entities.RecentEvents(ctx, session.ID, 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "log", evs[0].Type)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "", staticProvisioner())
	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
