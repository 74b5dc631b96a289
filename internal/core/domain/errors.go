package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTimeOfDay is returned by ParseTimeOfDay
var ErrInvalidTimeOfDay = errors.New("invalid time of day, expected HH:MM")

// ErrorKind is the lending failure taxonomy
type ErrorKind string

const (
	KindNotFound          ErrorKind = "NOT_FOUND"
	KindAlreadyHolding    ErrorKind = "ALREADY_HOLDING"
	KindKeyUnavailable    ErrorKind = "KEY_UNAVAILABLE"
	KindNotAuthorized     ErrorKind = "NOT_AUTHORIZED"
	KindSuspended         ErrorKind = "SUSPENDED"
	KindInvalidTransition ErrorKind = "INVALID_TRANSITION"
	KindConfigMissing     ErrorKind = "CONFIG_MISSING"
)

// Reason codes. They double as i18n message ids.
const (
	ReasonIdentityNotFound    = "identity.not_found"
	ReasonIdentityAmbiguous   = "identity.ambiguous"
	ReasonIdentitySuspended   = "identity.suspended"
	ReasonAlreadyHolding      = "booking.already_holding"
	ReasonRoomNotFound        = "room.not_found"
	ReasonNoReservation       = "reservation.not_found"
	ReasonNotAuthorized       = "reservation.not_authorized"
	ReasonKeyUnavailable      = "key.unavailable"
	ReasonNoActiveBooking     = "booking.no_active"
	ReasonInvalidTransition   = "booking.invalid_transition"
	ReasonSameIdentity        = "custody.same_identity"
	ReasonTargetHolding       = "custody.target_holding"
	ReasonNoFreeKey           = "room.no_free_key"
	ReasonPenaltyConfigAbsent = "penalty.config_missing"
)

// ErrPenaltyConfigMissing tags the fallback to default penalty rules.
// It is logged and reported, never returned by a lending operation.
var ErrPenaltyConfigMissing = NewLendingError(KindConfigMissing, ReasonPenaltyConfigAbsent)

// LendingError is an expected, user-recoverable failure of a lending operation.
// It never accompanies a state mutation.
type LendingError struct {
	Kind   ErrorKind
	Reason string
}

func (e *LendingError) Error() string {
	return fmt.Sprintf("%s: %s", strings.ToLower(string(e.Kind)), e.Reason)
}

// Is matches another LendingError with the same kind, so callers can write
// errors.Is(err, &LendingError{Kind: KindNotFound}).
func (e *LendingError) Is(target error) bool {
	t, ok := target.(*LendingError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

// NewLendingError creates a lending failure
func NewLendingError(kind ErrorKind, reason string) *LendingError {
	return &LendingError{Kind: kind, Reason: reason}
}

// AsLendingError unwraps err into a LendingError if it is one
func AsLendingError(err error) (*LendingError, bool) {
	var le *LendingError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}
