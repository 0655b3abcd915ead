package sentinel

import "errors"

// Sentinel errors for storage and infrastructure facts. Stores return these
// (optionally wrapped) and services translate them into coded domain errors.
//
// - ErrNotFound: record does not exist, or was burned
// - ErrConflict: a uniqueness constraint rejected the write
// - ErrInvalidState: a conditional write found the record in another state
// - ErrUnavailable: backing service temporarily unavailable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
