package models

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the storage layer. Handlers map them to HTTP
// statuses; Conflict and Unavailable are safe to retry with the same input.
var (
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrConflict          = errors.New("conflict")
	ErrUnavailable       = errors.New("storage unavailable")
)

// InsufficientPointsError is returned when a deduction or redemption exceeds
// the user's balance. It carries enough detail for the caller to act.
type InsufficientPointsError struct {
	Required  int
	Available int
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points: required %d, available %d, shortfall %d",
		e.Required, e.Available, e.Shortfall())
}

// Shortfall is the number of points the user is missing.
func (e *InsufficientPointsError) Shortfall() int {
	return e.Required - e.Available
}
