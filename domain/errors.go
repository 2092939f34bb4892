package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrNotFound is returned when the referenced task does not exist.
	ErrNotFound = errors.New("task not found")
	// ErrSubmitFailed means the remark or completion rows could not be written.
	ErrSubmitFailed = errors.New("data not submitted")
	// ErrProcessingFailed wraps any unexpected failure while closing a task.
	ErrProcessingFailed = errors.New("an error occurred while processing the task")
	// ErrConcurrencyConflict indicates that the underlying storage rejected an
	// update because a newer version of the entity is already persisted.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrInvalidRequest      = errors.New("invalid request")
)

// CooldownError rejects a close that arrives too soon after the previous one.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("You can update your next milestone after %s only.", e.Wait())
}

// Seconds returns the remaining wait rounded up to whole seconds.
func (e *CooldownError) Seconds() int {
	s := int(math.Ceil(e.Remaining.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

// Wait renders the remaining time as "N seconds" below a minute and
// "M minutes" otherwise.
func (e *CooldownError) Wait() string {
	s := e.Seconds()
	if s < 60 {
		return fmt.Sprintf("%d seconds", s)
	}
	return fmt.Sprintf("%d minutes", int(math.Round(float64(s)/60)))
}
