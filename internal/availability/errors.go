package availability

import "errors"

var (
	// ErrProviderNotFound is returned when no availability exists for a provider.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrTypeNotFound is returned when an appointment type is unknown.
	ErrTypeNotFound = errors.New("appointment type not found")

	ErrInvalidClock = errors.New("invalid clock time")
	ErrInvalidRange = errors.New("invalid time range")
)
