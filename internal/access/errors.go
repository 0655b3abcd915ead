package access

import "errors"

var (
	// ErrMissingRole is wrapped with CodeForbidden.
	ErrMissingRole = errors.New("missing role")
	// ErrPaused is wrapped with CodePaused.
	ErrPaused = errors.New("contract paused")
)
