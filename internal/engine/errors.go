package engine

import "errors"

// Request errors reported to the originating connection. None are fatal and a
// failed request leaves all state unchanged. Callers wrap these with a
// human-readable message; handlers send err.Error() back as-is.
var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("not authorized")
	ErrInvalidMode     = errors.New("invalid game mode")
	ErrAlreadyAnswered = errors.New("already answered this question")
	ErrNotStarted      = errors.New("question not started")
	ErrWrongPhase      = errors.New("not valid in the current phase")
)
