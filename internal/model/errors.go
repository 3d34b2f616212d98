package model

import "errors"

var (
	// ErrAlreadyRunning is returned when a run is requested while one is in flight.
	ErrAlreadyRunning = errors.New("script is already running")

	// ErrScriptNotFound is returned when the target script does not exist.
	ErrScriptNotFound = errors.New("script not found")

	// ErrRunNotFound is returned when a run record is not found.
	ErrRunNotFound = errors.New("run not found")

	// ErrShuttingDown is returned when a run is requested during shutdown.
	ErrShuttingDown = errors.New("server is shutting down")
)
