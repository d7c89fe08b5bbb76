package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and adapters return these
// (optionally wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: record does not exist in the store
//   - ErrAlreadyUsed: identifier already taken (duplicate insert)
//   - ErrConflict: optimistic concurrency check lost
//   - ErrInvalidState: entity not in the state the caller expected
//   - ErrUnavailable: backend temporarily unavailable, safe to retry
//   - ErrLockTimeout: keyed lock could not be acquired before the deadline
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrLockTimeout  = errors.New("lock timeout")
)
