package domain

import "errors"

var (
	// ErrNotFound is returned when a job or record does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when the state machine rejects a status change
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrJobNotActive is returned when an item result is written for a job that is not processing
	ErrJobNotActive = errors.New("job is not processing")
	// ErrDuplicateResult is returned when an item already has a recorded result
	ErrDuplicateResult = errors.New("item result already recorded")
	// ErrInvariant is returned when a write would break completed+failed <= total
	ErrInvariant = errors.New("item counters would exceed total")
	// ErrValidation is returned for malformed requests
	ErrValidation = errors.New("validation error")
)
