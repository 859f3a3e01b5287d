package config

import "time"

// Default timing configuration used throughout sessiond
const (
	// DefaultLockTTL bounds how long a crashed worker can leak a session
	// lock. It must exceed the worst-case turn duration: too short risks
	// double-processing, too long stalls recovery.
	DefaultLockTTL = 180 * time.Second

	// DefaultDequeueTimeout is how long a worker blocks on the job queue
	// before polling for shutdown
	DefaultDequeueTimeout = 5 * time.Second

	// DefaultContentionBackoff is the sleep before requeueing a job whose
	// session lock is held
	DefaultContentionBackoff = 1 * time.Second

	// DefaultKeepAliveInterval is how often the event stream emits an idle
	// ping so intermediaries keep the connection open
	DefaultKeepAliveInterval = 15 * time.Second

	// DefaultBacklogLimit is how many persisted events a new stream viewer
	// replays before live events begin
	DefaultBacklogLimit = 50
)
