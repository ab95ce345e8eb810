package session

import "errors"

// Error taxonomy for session operations. Handlers map these to HTTP
// statuses; everything else is treated as an internal error.
var (
	// ErrNotFound means the directory or image does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument means the input exists but is unusable: not a
	// directory, not an image, a negative timeout, or an unreadable scan.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNoSession means the operation requires an active session.
	ErrNoSession = errors.New("no directory loaded")

	// ErrForbidden means the requested name escapes the served directory.
	ErrForbidden = errors.New("forbidden path")
)
