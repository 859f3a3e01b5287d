// Package worker implements the turn-execution loop: a stateless consumer
// that dequeues jobs, enforces the per-session lock, drives the session
// state machine, and delegates the actual turn to the agent processor.
// Any number of loop instances may run across processes; they coordinate
// only through the coordination store.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/hexlattice/sessiond/internal/agent"
	"github.com/hexlattice/sessiond/internal/config"
	"github.com/hexlattice/sessiond/internal/events"
	"github.com/hexlattice/sessiond/internal/lock"
	"github.com/hexlattice/sessiond/internal/queue"
	"github.com/hexlattice/sessiond/internal/storage"
	"github.com/hexlattice/sessiond/internal/types"
)

// Options tunes one loop instance
type Options struct {
	LockTTL           time.Duration
	DequeueTimeout    time.Duration
	ContentionBackoff time.Duration
	Model             string
	APIKey            string
}

// DefaultOptions returns the standard loop tuning
func DefaultOptions() Options {
	return Options{
		LockTTL:           config.DefaultLockTTL,
		DequeueTimeout:    config.DefaultDequeueTimeout,
		ContentionBackoff: config.DefaultContentionBackoff,
	}
}

// Loop is one worker loop instance
type Loop struct {
	dispatcher  *queue.Dispatcher
	locks       *lock.Manager
	entities    storage.Store
	distributor *events.Distributor
	processor   agent.Processor
	logger      *slog.Logger
	opts        Options
}

// New creates a worker loop with explicitly injected dependencies
func New(
	dispatcher *queue.Dispatcher,
	locks *lock.Manager,
	entities storage.Store,
	distributor *events.Distributor,
	processor agent.Processor,
	logger *slog.Logger,
	opts Options,
) *Loop {
	return &Loop{
		dispatcher:  dispatcher,
		locks:       locks,
		entities:    entities,
		distributor: distributor,
		processor:   processor,
		logger:      logger,
		opts:        opts,
	}
}

// Run consumes jobs until ctx is canceled. A failed job never stops the
// loop; it is logged and the loop moves on.
func (l *Loop) Run(ctx context.Context) {
	l.logger.InfoContext(ctx, "Worker loop started",
		"lock_ttl", l.opts.LockTTL,
		"dequeue_timeout", l.opts.DequeueTimeout,
	)

	for {
		if ctx.Err() != nil {
			l.logger.InfoContext(ctx, "Worker loop stopping")
			return
		}

		job, ok, err := l.dispatcher.DequeueBlocking(ctx, l.opts.DequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.InfoContext(ctx, "Worker loop stopping")
				return
			}
			l.logger.ErrorContext(ctx, "Dequeue failed", "error", err)
			continue
		}
		if !ok {
			continue
		}

		l.HandleJob(ctx, job)
	}
}

// HandleJob runs one job end to end: lock, state machine, turn, unlock.
// Exported so tests can drive single jobs without the outer loop.
func (l *Loop) HandleJob(ctx context.Context, job types.Job) {
	handle, acquired, err := l.locks.Acquire(ctx, job.SessionID, l.opts.LockTTL)
	if err != nil {
		l.logger.ErrorContext(ctx, "Lock acquire failed, requeueing job",
			"session_id", job.SessionID,
			"message_id", job.MessageID,
			"error", err,
		)
		l.requeue(ctx, job)
		return
	}
	if !acquired {
		// Another worker is mid-turn on this session. Requeue after a
		// short backoff so jobs for other sessions are not starved.
		l.logger.DebugContext(ctx, "Session lock contended, requeueing job",
			"session_id", job.SessionID,
			"message_id", job.MessageID,
		)
		if l.opts.ContentionBackoff > 0 {
			time.Sleep(l.opts.ContentionBackoff)
		}
		l.requeue(ctx, job)
		return
	}

	// Release on every exit path. The release context is detached from ctx
	// so a shutdown mid-turn still frees the lock rather than leaving it
	// to TTL expiry.
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := l.locks.Release(releaseCtx, handle); err != nil {
			l.logger.ErrorContext(ctx, "Lock release failed, TTL will reclaim it",
				"session_id", job.SessionID,
				"error", err,
			)
		}
	}()

	l.runTurn(ctx, job)
}

// runTurn executes the locked portion of a job
func (l *Loop) runTurn(ctx context.Context, job types.Job) {
	session, err := l.entities.GetSession(ctx, job.SessionID)
	if errors.Is(err, storage.ErrNotFound) {
		l.logger.WarnContext(ctx, "Dropping job for vanished session", "session_id", job.SessionID)
		return
	}
	if err != nil {
		l.logger.ErrorContext(ctx, "Session load failed, requeueing job",
			"session_id", job.SessionID,
			"error", err,
		)
		l.requeue(ctx, job)
		return
	}
	if session.Status.Terminal() {
		l.logger.InfoContext(ctx, "Dropping job for terminal session",
			"session_id", session.ID,
			"status", session.Status,
		)
		return
	}

	messageID, err := strconv.ParseInt(job.MessageID, 10, 64)
	if err != nil {
		l.logger.WarnContext(ctx, "Dropping job with malformed message id",
			"session_id", session.ID,
			"message_id", job.MessageID,
		)
		return
	}
	message, err := l.entities.GetMessage(ctx, session.ID, messageID)
	if errors.Is(err, storage.ErrNotFound) {
		l.logger.WarnContext(ctx, "Dropping job for vanished message",
			"session_id", session.ID,
			"message_id", job.MessageID,
		)
		return
	}
	if err != nil {
		l.logger.ErrorContext(ctx, "Message load failed, requeueing job",
			"session_id", session.ID,
			"message_id", job.MessageID,
			"error", err,
		)
		l.requeue(ctx, job)
		return
	}

	if err := l.transition(ctx, session.ID, types.StatusRunning, ""); err != nil {
		// Lost a race with an unlocked stop; treat like a terminal session.
		l.logger.WarnContext(ctx, "Dropping job, session refused running transition",
			"session_id", session.ID,
			"error", err,
		)
		return
	}

	text, err := l.processor.RunTurn(ctx, agent.Turn{
		SessionID: session.ID,
		Input:     message.Content,
		VNCHost:   session.VNCHost,
		VNCPort:   session.VNCPort,
		NoVNCURL:  session.NoVNCURL,
		Model:     l.opts.Model,
		APIKey:    l.opts.APIKey,
	}, l.callbacks(ctx, session.ID))

	if err != nil {
		// Failure policy: the session returns to idle and stays usable;
		// the error is recorded on the session and surfaced to viewers.
		l.logger.ErrorContext(ctx, "Turn failed",
			"session_id", session.ID,
			"message_id", job.MessageID,
			"error", err,
		)
		// Store first, event second, same as the success path: a session
		// stopped mid-turn refuses the transition and gets no idle event.
		if terr := l.entities.UpdateSessionStatus(ctx, session.ID, types.StatusIdle, err.Error()); terr != nil {
			l.logger.ErrorContext(ctx, "Post-failure idle transition failed",
				"session_id", session.ID,
				"error", terr,
			)
			return
		}
		l.publish(ctx, session.ID, "status", map[string]any{
			"status": string(types.StatusIdle),
			"error":  err.Error(),
		})
		return
	}

	assistant := &types.Message{
		SessionID: session.ID,
		Role:      types.RoleAssistant,
		Content:   text,
	}
	if err := l.entities.CreateMessage(ctx, assistant); err != nil {
		l.logger.ErrorContext(ctx, "Assistant message persist failed",
			"session_id", session.ID,
			"error", err,
		)
	} else {
		l.publish(ctx, session.ID, "message", map[string]any{
			"role":    string(types.RoleAssistant),
			"content": text,
		})
	}

	if err := l.transition(ctx, session.ID, types.StatusIdle, ""); err != nil {
		l.logger.ErrorContext(ctx, "Idle transition failed",
			"session_id", session.ID,
			"error", err,
		)
	}
}

// callbacks translates processor progress 1:1 into event publishes
func (l *Loop) callbacks(ctx context.Context, sessionID string) agent.Callbacks {
	return agent.Callbacks{
		OnToken: func(delta string) {
			l.publish(ctx, sessionID, "token", map[string]any{"delta": delta})
		},
		OnToolCall: func(tool string, payload map[string]any) {
			body := map[string]any{"tool": tool}
			for k, v := range payload {
				body[k] = v
			}
			l.publish(ctx, sessionID, "tool_call", body)
		},
		OnScreenshot: func(imageB64, note string) {
			body := map[string]any{"note": note}
			if imageB64 != "" {
				body["image_b64"] = imageB64
			}
			l.publish(ctx, sessionID, "screenshot", body)
		},
	}
}

// transition moves the session's status and mirrors the change as a status
// event
func (l *Loop) transition(ctx context.Context, sessionID string, status types.Status, lastError string) error {
	if err := l.entities.UpdateSessionStatus(ctx, sessionID, status, lastError); err != nil {
		return err
	}
	l.publish(ctx, sessionID, "status", map[string]any{"status": string(status)})
	return nil
}

// publish emits one event; distribution errors are logged, never fatal to
// the turn
func (l *Loop) publish(ctx context.Context, sessionID, eventType string, payload map[string]any) {
	if err := l.distributor.Publish(ctx, sessionID, eventType, payload); err != nil {
		l.logger.ErrorContext(ctx, "Event publish failed",
			"session_id", sessionID,
			"event_type", eventType,
			"error", err,
		)
	}
}

// requeue pushes a job back onto the shared queue
func (l *Loop) requeue(ctx context.Context, job types.Job) {
	if err := l.dispatcher.Enqueue(ctx, job); err != nil {
		l.logger.ErrorContext(ctx, "Requeue failed, job lost",
			"session_id", job.SessionID,
			"message_id", job.MessageID,
			"error", err,
		)
	}
}
