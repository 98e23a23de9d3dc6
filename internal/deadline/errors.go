package deadline

import "errors"

var (
	// ErrDuplicateTimer is returned by Start when the item already has a live timer.
	ErrDuplicateTimer = errors.New("deadline: timer already active")
	// ErrStopped is returned by Start after Shutdown.
	ErrStopped = errors.New("deadline: scheduler stopped")
	// ErrBadSchedule wraps schedule validation failures.
	ErrBadSchedule = errors.New("deadline: invalid schedule")
)
