package errorx

import "errors"

// Failure kinds raised by the analysis layer. Callers match them with errors.Is.
var (
	// ErrInitialization is returned when an engine process fails its handshake after all retries
	ErrInitialization = errors.New("engine initialization failed")
	// ErrCommunication is returned when the channel to an engine process breaks
	ErrCommunication = errors.New("engine communication failed")
	// ErrTimeout is returned when an engine makes no progress within the configured bound
	ErrTimeout = errors.New("engine timed out")
	// ErrInvalidPosition is returned when the rules reject a position or move
	ErrInvalidPosition = errors.New("invalid position")
	// ErrCapacity is returned when no engine frees up within the acquire bound
	ErrCapacity = errors.New("timed out waiting for a free engine")
	// ErrDestroyed is returned once the pool or service has been shut down
	ErrDestroyed = errors.New("analysis service destroyed")
	// ErrSessionNotFound is returned for unknown session ids
	ErrSessionNotFound = errors.New("session not found")
)
