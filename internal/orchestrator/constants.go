package orchestrator

import "time"

// Registry defaults used when the configuration leaves them unset.
const (
	DefaultIdleTimeout   = 30 * time.Minute
	DefaultSweepInterval = time.Minute

	// StreamDrainTimeout bounds how long End waits for the backend's last results.
	StreamDrainTimeout = 5 * time.Second
)
