package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexlattice/sessiond/internal/events"
)

// readFrame consumes one SSE frame, skipping keep-alive comments
func readFrame(t *testing.T, r *bufio.Reader) (eventType, data string) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "" || strings.HasPrefix(line, ":"):
			continue
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
			return eventType, data
		default:
			t.Fatalf("unexpected sse line %q", line)
		}
	}
}

func TestStreamEventsBacklogThenLive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "", staticProvisioner())
	session := f.createSession(t)

	distributor := events.NewDistributor(f.entities, f.coordStore, f.server.logger)
	require.NoError(t, distributor.Publish(ctx, session.ID, "status",
		map[string]string{"status": "queued"}))

	ts := httptest.NewServer(f.server)
	defer ts.Close()

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet,
		ts.URL+"/v1/sessions/"+session.ID+"/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)

	// The persisted event arrives first as backlog.
	eventType, data := readFrame(t, reader)
	assert.Equal(t, "status", eventType)
	assert.Contains(t, data, `"queued"`)

	// The backlog having been written proves the live subscription is open,
	// so this publish must arrive on the stream.
	require.NoError(t, distributor.Publish(ctx, session.ID, "token",
		map[string]string{"delta": "hi"}))

	eventType, data = readFrame(t, reader)
	assert.Equal(t, "token", eventType)
	assert.Contains(t, data, `"hi"`)
}

func TestStreamEventsUnknownSession(t *testing.T) {
	f := newFixture(t, "", staticProvisioner())
	rec := f.do(t, http.MethodGet, "/v1/sessions/nope/events", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamEventsSendsKeepAlives(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "", staticProvisioner())
	session := f.createSession(t)

	ts := httptest.NewServer(f.server)
	defer ts.Close()

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet,
		ts.URL+"/v1/sessions/"+session.ID+"/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	// The fixture's keep-alive interval is short; with no events at all the
	// first line on the stream is the ping comment.
	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": ping", strings.TrimRight(line, "\n"))
}
