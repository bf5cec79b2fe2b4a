package dispatch

import "errors"

var (
	// ErrNotFound covers unknown request, trip, driver, or rider ids.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned to the loser of a concurrent-mutation race.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState marks an operation against an entity outside the
	// state the operation requires.
	ErrInvalidState = errors.New("invalid state")
	// ErrBadRequest covers malformed operation input.
	ErrBadRequest = errors.New("bad request")
)
