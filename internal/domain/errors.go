package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies expected business failures. Every ledger operation
// returns one of these as a first-class value; callers branch on the kind
// instead of catching anything.
type ErrorKind string

const (
	KindInsufficient   ErrorKind = "insufficient_available"
	KindInvalidAmount  ErrorKind = "invalid_amount"
	KindNotFound       ErrorKind = "not_found"
	KindNotOwner       ErrorKind = "not_owner"
	KindInvalidState   ErrorKind = "invalid_state"
	KindAlreadyClaimed ErrorKind = "already_claimed"
)

// OpError is an expected business failure with a human-readable reason.
// It never represents a store failure; those propagate as plain errors
// and abort the enclosing transaction.
type OpError struct {
	Kind   ErrorKind
	Reason string
}

func (e *OpError) Error() string {
	return string(e.Kind) + ": " + e.Reason
}

// NewOpError builds an OpError with a formatted reason.
func NewOpError(kind ErrorKind, format string, args ...any) *OpError {
	return &OpError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// KindOf extracts the business kind of an error, or "" when the error is
// not an OpError (i.e. it is fatal for the enclosing transaction).
func KindOf(err error) ErrorKind {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return ""
}

// ReasonOf returns the human-readable reason, falling back to Error().
func ReasonOf(err error) string {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Reason
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// IsBusiness reports whether err is an expected business failure rather
// than a store or programming error.
func IsBusiness(err error) bool {
	return KindOf(err) != ""
}

// ErrConflict is returned when a conditional update loses a race it was
// expected to win under the store's write serialization. It is fatal for
// the enclosing transaction.
var ErrConflict = errors.New("concurrent update conflict")
