// Package events implements durable-plus-live event distribution: every
// event is persisted to the entity store and published on the session's
// coordination-store channel, and viewers get a merged backlog+live view.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hexlattice/sessiond/internal/coord"
	"github.com/hexlattice/sessiond/internal/storage"
	"github.com/hexlattice/sessiond/internal/types"
)

// DefaultBacklogLimit is how many persisted events a new viewer replays
// before the live feed begins
const DefaultBacklogLimit = 50

// WireEvent is the published channel format, identical to the SSE framing
// fed to viewers
type WireEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ChannelKey derives the live event channel for a session id
func ChannelKey(sessionID string) string {
	return "sessions:" + sessionID + ":events"
}

// Distributor dual-writes events: entity store first for durability, then
// the live channel. Persistence failure aborts the publish; channel failure
// after a successful persist is tolerated because backlog replay recovers it.
type Distributor struct {
	entities storage.Store
	coord    coord.Store
	logger   *slog.Logger
}

// NewDistributor creates an event distributor
func NewDistributor(entities storage.Store, coordStore coord.Store, logger *slog.Logger) *Distributor {
	return &Distributor{
		entities: entities,
		coord:    coordStore,
		logger:   logger,
	}
}

// Publish persists one event and broadcasts it live. payload must be
// JSON-marshalable; the persisted and published bodies are identical.
func (d *Distributor) Publish(ctx context.Context, sessionID, eventType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	event := &types.Event{
		SessionID: sessionID,
		Type:      eventType,
		Payload:   raw,
	}
	if err := d.entities.AppendEvent(ctx, event); err != nil {
		// Do not broadcast an event that was not durably recorded.
		return fmt.Errorf("persist event: %w", err)
	}

	wire, err := json.Marshal(WireEvent{Type: eventType, Payload: raw})
	if err != nil {
		return fmt.Errorf("marshal wire event: %w", err)
	}
	if err := d.coord.Publish(ctx, ChannelKey(sessionID), string(wire)); err != nil {
		d.logger.WarnContext(ctx, "Live event publish failed, backlog will recover it",
			"session_id", sessionID,
			"event_type", eventType,
			"error", err,
		)
	}
	return nil
}

// Subscribe returns the most recent backlogLimit persisted events in
// ascending creation order plus a live subscription opened afterwards.
// An event published between the backlog read and the subscription open can
// be missed on this call; callers must tolerate at-least-once,
// approximately-ordered delivery.
func (d *Distributor) Subscribe(ctx context.Context, sessionID string, backlogLimit int) ([]*types.Event, coord.Subscription, error) {
	if backlogLimit <= 0 {
		backlogLimit = DefaultBacklogLimit
	}

	backlog, err := d.entities.RecentEvents(ctx, sessionID, backlogLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("load event backlog: %w", err)
	}

	sub, err := d.coord.Subscribe(ctx, ChannelKey(sessionID))
	if err != nil {
		return nil, nil, fmt.Errorf("open live subscription: %w", err)
	}
	return backlog, sub, nil
}
