package exchange

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error. Domain errors mean the caller's input or
// the current ledger state was invalid; none of them are retriable by the
// core. Infrastructure failures (storage unavailable) are never wrapped in
// an *Error; they propagate as plain errors.
type Kind int

const (
	KindDuplicateName Kind = iota + 1
	KindDuplicateUsername
	KindNotFound
	KindInvalidAmount
	KindInsufficientFunds
	KindInsufficientShares
)

func (k Kind) String() string {
	switch k {
	case KindDuplicateName:
		return "duplicate_name"
	case KindDuplicateUsername:
		return "duplicate_username"
	case KindNotFound:
		return "not_found"
	case KindInvalidAmount:
		return "invalid_amount"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindInsufficientShares:
		return "insufficient_shares"
	}
	return "unknown"
}

// Error is a caller-visible domain error with a human-readable message
// carrying the relevant quantities.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func domainErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ErrorKind extracts the domain error kind from err, or 0 if err is not a
// domain error.
func ErrorKind(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}

// IsDomain reports whether err is a domain error (as opposed to an
// infrastructure failure).
func IsDomain(err error) bool {
	var de *Error
	return errors.As(err, &de)
}
