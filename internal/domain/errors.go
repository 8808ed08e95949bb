package domain

import "errors"

// Sentinel error kinds returned across the service boundary. Callers match
// with errors.Is; the wrapped message is the user-facing text.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrDeadlinePassed  = errors.New("undo deadline passed")
)
