package loop

import "errors"

// Errors returned by the loop package.
var (
	// ErrAlreadyRunning is returned when Run is called on a running loop.
	ErrAlreadyRunning = errors.New("loop: already running")

	// ErrStopped is returned when Run is called after Stop.
	ErrStopped = errors.New("loop: stopped")
)
