package fetcher

import (
	"errors"
	"fmt"
)

// ErrBudgetExhausted is returned by Fetch when the remaining daily call
// budget runs out mid-period. The pages accumulated so far are still
// returned; the caller persists them and holds the cursor so the period is
// finished on the next run.
var ErrBudgetExhausted = errors.New("daily call budget exhausted")

// Kind classifies a fetch failure so the collection loop can branch
// exhaustively instead of string-matching error text.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation covers bad input parameters and provider codes 30-33.
	// Fatal, never retried.
	KindValidation
	// KindAuth covers HTTP 401/403 from the provider. Fatal.
	KindAuth
	// KindRateLimit covers provider code 99 and HTTP 429. Fatal to the run.
	KindRateLimit
	// KindNetwork covers timeouts, connection failures and 5xx responses.
	// Retried with backoff inside the client; the cursor is held so the
	// period is retried on the next run.
	KindNetwork
	// KindParse covers malformed XML bodies. Not retried.
	KindParse
	// KindAPIResponse covers any other non-success result code. The period
	// is skipped and the run continues.
	KindAPIResponse
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindRateLimit:
		return "rate_limit"
	case KindNetwork:
		return "network"
	case KindParse:
		return "parse"
	case KindAPIResponse:
		return "api_response"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by the client. Code carries the
// provider result code when the failure came from the response envelope.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s error (code %s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func newError(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, cause: cause}
}

// NewError constructs a classified error without a cause, mainly for
// callers simulating provider failures.
func NewError(kind Kind, code, message string) *Error {
	return newError(kind, code, message, nil)
}

// KindOf extracts the classification from err, returning KindUnknown for
// errors that did not originate in this package.
func KindOf(err error) Kind {
	if fe, ok := err.(*Error); ok {
		return fe.Kind
	}
	return KindUnknown
}

// IsFatal reports whether the error must stop the whole run.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindAuth, KindRateLimit:
		return true
	}
	return false
}

// AdvancesCursor reports whether the loop should move past the failed
// period. Provider-reported errors fail deterministically on refetch, so
// holding the cursor would wedge collection; network-class failures are
// transient and the period is retried on the next run.
func AdvancesCursor(err error) bool {
	return KindOf(err) == KindAPIResponse
}
