package resolve

import "errors"

// Domain-specific errors for resolution and replay.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrReplayInput is returned when a replay source cannot be read.
	ErrReplayInput = errors.New("resolve: replay input unreadable")

	// ErrEngineStopped is returned when submitting to a stopped engine.
	ErrEngineStopped = errors.New("resolve: engine stopped")
)
