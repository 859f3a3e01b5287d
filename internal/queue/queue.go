// Package queue implements the work dispatcher: job records pushed to a
// single shared list on the coordination store and consumed by any number of
// worker processes.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hexlattice/sessiond/internal/coord"
	"github.com/hexlattice/sessiond/internal/types"
)

// JobsKey is the shared list holding jobs for all sessions. Ordering across
// sessions is not guaranteed; within a session it is FIFO in the absence of
// contention requeues.
const JobsKey = "jobs:agent"

// Dispatcher produces and consumes job records. Delivery is at-least-once:
// a job whose session lock is held gets requeued rather than dropped, so a
// single contended session cannot starve the queue.
type Dispatcher struct {
	store coord.Store
}

// NewDispatcher creates a dispatcher on the given coordination store
func NewDispatcher(store coord.Store) *Dispatcher {
	return &Dispatcher{store: store}
}

// Enqueue pushes a job onto the shared list. No dedup key is applied:
// a duplicate {session_id, message_id} pair produces two turns.
func (d *Dispatcher) Enqueue(ctx context.Context, job types.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := d.store.Push(ctx, JobsKey, string(payload)); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// DequeueBlocking pops the oldest available job, blocking up to timeout.
// Returns ok=false on timeout so callers can poll for shutdown without
// busy-spinning. A malformed record is returned as an error; the caller
// logs and moves on, the record is lost by design.
func (d *Dispatcher) DequeueBlocking(ctx context.Context, timeout time.Duration) (types.Job, bool, error) {
	var job types.Job
	payload, ok, err := d.store.PopBlocking(ctx, JobsKey, timeout)
	if err != nil {
		return job, false, fmt.Errorf("dequeue job: %w", err)
	}
	if !ok {
		return job, false, nil
	}
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return job, false, fmt.Errorf("decode job record %q: %w", payload, err)
	}
	return job, true, nil
}
