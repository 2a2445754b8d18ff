// Package fault defines the error kinds returned across the authorization
// and collaboration core. Transport layers translate a Kind into a response;
// the wrapped cause is kept for logs only.
package fault

import "errors"

type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindForbidden          Kind = "forbidden"
	KindInvalidToken       Kind = "invalid_token"
	KindTransactionAborted Kind = "transaction_aborted"
	KindIntegrity          Kind = "integrity_fault"
	KindInvalidInput       Kind = "invalid_input"
)

// Error is a typed core error. Op names the operation that failed and Msg is
// safe to show to a caller.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind so errors.Is(err, fault.ErrNotFound) works
// for any NotFound regardless of operation.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Op == "" && other.Msg == "" && other.Err == nil && other.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrInvalidToken       = &Error{Kind: KindInvalidToken}
	ErrTransactionAborted = &Error{Kind: KindTransactionAborted}
	ErrIntegrity          = &Error{Kind: KindIntegrity}
	ErrInvalidInput       = &Error{Kind: KindInvalidInput}
)

func NotFound(op, msg string) error {
	return &Error{Kind: KindNotFound, Op: op, Msg: msg}
}

func Conflict(op, msg string) error {
	return &Error{Kind: KindConflict, Op: op, Msg: msg}
}

func Forbidden(op, msg string) error {
	return &Error{Kind: KindForbidden, Op: op, Msg: msg}
}

func InvalidToken(op string, cause error) error {
	return &Error{Kind: KindInvalidToken, Op: op, Msg: "invalid or expired token", Err: cause}
}

func Integrity(op, msg string) error {
	return &Error{Kind: KindIntegrity, Op: op, Msg: msg}
}

func InvalidInput(op, msg string) error {
	return &Error{Kind: KindInvalidInput, Op: op, Msg: msg}
}

// Aborted wraps a failure that happened inside an atomic mutation. Errors that
// already carry a Kind pass through unchanged.
func Aborted(op string, cause error) error {
	if cause == nil {
		return nil
	}
	var typed *Error
	if errors.As(cause, &typed) {
		return cause
	}
	return &Error{Kind: KindTransactionAborted, Op: op, Msg: "transaction aborted", Err: cause}
}

// KindOf reports the Kind carried by err, or "" when err is untyped.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return ""
}
