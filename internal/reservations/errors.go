package reservations

import (
	"errors"
	"fmt"

	"github.com/wolfman30/booking-core/internal/availability"
)

// Kind classifies an Error for callers choosing a response.
type Kind int

const (
	KindSystem Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "system"
	}
}

// Error is returned by every Manager operation. errors.Is matches on Code,
// so a wrapped sentinel still compares equal to it.
type Error struct {
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "reservations: " + e.Code
	}
	return "reservations: " + e.Code + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code != "" && t.Code == e.Code
}

var (
	ErrSlotUnavailable  = &Error{Kind: KindConflict, Code: "slot_unavailable"}
	ErrAlreadyFinalized = &Error{Kind: KindConflict, Code: "already_finalized"}
	ErrHoldExpired      = &Error{Kind: KindConflict, Code: "hold_expired"}
	ErrAlreadyCanceled  = &Error{Kind: KindConflict, Code: "already_canceled"}
	ErrAlreadyCompleted = &Error{Kind: KindConflict, Code: "already_completed"}
	ErrNotConfirmed     = &Error{Kind: KindConflict, Code: "not_confirmed"}
	ErrAlreadyPaid      = &Error{Kind: KindConflict, Code: "already_paid"}
	ErrNotEnded         = &Error{Kind: KindConflict, Code: "not_ended"}
	ErrNotFound         = &Error{Kind: KindNotFound, Code: "appointment_not_found"}
	ErrProviderNotFound = &Error{Kind: KindNotFound, Code: "provider_not_found", Err: availability.ErrProviderNotFound}
	ErrTypeNotFound     = &Error{Kind: KindNotFound, Code: "appointment_type_not_found", Err: availability.ErrTypeNotFound}
	ErrVelocityExceeded = &Error{Kind: KindRateLimited, Code: "too_many_holds"}
)

// KindOf classifies err. Errors that are not an *Error are system errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindSystem
}

// CodeOf returns the machine readable code of err.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "system_error"
}

func invalid(format string, args ...any) error {
	return &Error{Kind: KindValidation, Code: "invalid_request", Err: fmt.Errorf(format, args...)}
}

// systemErr wraps a storage failure with operation context. Errors that are
// already classified pass through unchanged.
func systemErr(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindSystem, Code: "system_error", Err: fmt.Errorf("%s: %w", op, err)}
}

// classifyLookup maps availability repository errors to reservation errors.
func classifyLookup(op string, err error) error {
	switch {
	case errors.Is(err, availability.ErrProviderNotFound):
		return ErrProviderNotFound
	case errors.Is(err, availability.ErrTypeNotFound):
		return ErrTypeNotFound
	default:
		return systemErr(op, err)
	}
}
