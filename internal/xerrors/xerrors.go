// Package xerrors defines the typed error kinds used at the boundary of
// the exchange: validation failures and not-cancellable results are
// returned synchronously (§7 VALIDATION / NOT_CANCELLABLE); invariant
// violations are fatal to the owning instrument and are surfaced as a
// distinct type so callers can tell them apart from ordinary errors.
package xerrors

import "fmt"

// Kind tags the category of a synchronously-returned error.
type Kind int

const (
	// KindValidation covers unknown ticker, unknown side/type, negative
	// price, non-positive quantity, and unknown client on cancel.
	KindValidation Kind = iota
	// KindNotCancellable covers a cancel request for an order that is
	// already terminal, or unknown to the addressed client.
	KindNotCancellable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION"
	case KindNotCancellable:
		return "NOT_CANCELLABLE"
	default:
		return "UNKNOWN"
	}
}

// Error is a typed error carrying a Kind alongside the usual message.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Validation constructs a KindValidation error.
func Validation(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// NotCancellable constructs a KindNotCancellable error.
func NotCancellable(format string, args ...interface{}) error {
	return &Error{Kind: KindNotCancellable, Msg: fmt.Sprintf(format, args...)}
}

// InvariantViolation is panicked with, never returned, by the matching
// engine when it detects internal inconsistency mid-match (§4.4, §7).
// The dispatcher recovers it per-instrument so one instrument's
// corruption does not halt the whole pipeline.
type InvariantViolation struct {
	Ticker string
	Msg    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation on %s: %s", e.Ticker, e.Msg)
}
