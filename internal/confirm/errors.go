package confirm

import (
	"errors"
	"fmt"
)

// Store-level sentinels. The engine translates them into *Error values.
var (
	// ErrNotFound is returned for records that are missing or expired.
	ErrNotFound = errors.New("confirmation not found or expired")

	// ErrConflict is returned when a compare-and-set finds an unexpected
	// status, or an insert collides with a live record.
	ErrConflict = errors.New("confirmation state conflict")
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeNotFound: record missing or expired.
	ErrCodeNotFound ErrorCode = "NOT_FOUND_OR_EXPIRED"

	// ErrCodeConflict: illegal transition or a concurrent consume won.
	ErrCodeConflict ErrorCode = "CONFLICT"

	// ErrCodeHashMismatch: the payload drifted since creation.
	ErrCodeHashMismatch ErrorCode = "HASH_MISMATCH"

	// ErrCodeSecondFactorRequired: a token is outstanding.
	ErrCodeSecondFactorRequired ErrorCode = "SECOND_FACTOR_REQUIRED"

	// ErrCodeAdapterFailure: sign or broadcast failed.
	ErrCodeAdapterFailure ErrorCode = "ADAPTER_FAILURE"

	// ErrCodePolicyDenied: policy forbids the transaction.
	ErrCodePolicyDenied ErrorCode = "POLICY_DENIED"

	// ErrCodeInvalidPayload: the chain adapter could not decode the payload.
	ErrCodeInvalidPayload ErrorCode = "INVALID_PAYLOAD"

	// ErrCodeUnknownChain: no adapter is registered for the chain key.
	ErrCodeUnknownChain ErrorCode = "UNKNOWN_CHAIN"

	// ErrCodeDependencyPending: a mandatory linked primary has not been sent.
	ErrCodeDependencyPending ErrorCode = "DEPENDENCY_PENDING"
)

// Error is the structured error returned by every engine operation.
type Error struct {
	Code    ErrorCode
	Message string

	// ID identifies the affected record, when there is one.
	ID string

	// Status is the record status observed when the error was raised.
	Status Status

	// ExpectedToken is set for SECOND_FACTOR_REQUIRED so a legitimate caller
	// holding the creation response can proceed.
	ExpectedToken string

	// Unlocked is set when the supplied token was accepted in two-step mode
	// and the caller must confirm once more.
	Unlocked bool

	// Reasons carries policy reasons or dependency details.
	Reasons []string

	// Err is the underlying cause (adapter error verbatim for ADAPTER_FAILURE).
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ID != "" {
		msg = fmt.Sprintf("%s (id=%s)", msg, e.ID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same request may succeed later without the
// caller changing anything but timing or the supplied token.
func (e *Error) Retryable() bool {
	switch e.Code {
	case ErrCodeAdapterFailure, ErrCodeSecondFactorRequired, ErrCodeDependencyPending:
		return true
	}
	return false
}

// CodeOf returns the ErrorCode of err, or "" when err is not an *Error.
func CodeOf(err error) ErrorCode {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsNotFound reports whether err is a not-found/expired error.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound || errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool {
	return CodeOf(err) == ErrCodeConflict || errors.Is(err, ErrConflict)
}

// IsHashMismatch reports whether err is a hash mismatch.
func IsHashMismatch(err error) bool {
	return CodeOf(err) == ErrCodeHashMismatch
}

// IsSecondFactorRequired reports whether err asks for the second factor.
func IsSecondFactorRequired(err error) bool {
	return CodeOf(err) == ErrCodeSecondFactorRequired
}

// IsAdapterFailure reports whether err wraps a sign/broadcast failure.
func IsAdapterFailure(err error) bool {
	return CodeOf(err) == ErrCodeAdapterFailure
}

// IsPolicyDenied reports whether err is a policy denial.
func IsPolicyDenied(err error) bool {
	return CodeOf(err) == ErrCodePolicyDenied
}

// NewNotFound creates a NOT_FOUND_OR_EXPIRED error.
func NewNotFound(id string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: "unknown or expired confirmation id; rebuild the transaction to create a new one",
		ID:      id,
	}
}

// NewConflict creates a CONFLICT error for a record observed in status.
func NewConflict(id string, status Status, message string) *Error {
	return &Error{Code: ErrCodeConflict, Message: message, ID: id, Status: status}
}

// NewHashMismatch creates a HASH_MISMATCH error. The stored hash is not
// echoed back; a caller that lost it must rebuild.
func NewHashMismatch(id string) *Error {
	return &Error{
		Code:    ErrCodeHashMismatch,
		Message: "summary hash does not match the pending transaction; rebuild and confirm again",
		ID:      id,
	}
}

// NewSecondFactorRequired creates a SECOND_FACTOR_REQUIRED error.
func NewSecondFactorRequired(id, expected, message string, unlocked bool) *Error {
	return &Error{
		Code:          ErrCodeSecondFactorRequired,
		Message:       message,
		ID:            id,
		ExpectedToken: expected,
		Unlocked:      unlocked,
	}
}

// NewAdapterFailure wraps a sign/broadcast error verbatim.
func NewAdapterFailure(id string, err error) *Error {
	return &Error{
		Code:    ErrCodeAdapterFailure,
		Message: "sign/broadcast failed; the record is marked failed and can be retried",
		ID:      id,
		Status:  StatusFailed,
		Err:     err,
	}
}

// NewPolicyDenied creates a POLICY_DENIED error.
func NewPolicyDenied(id string, reasons []string) *Error {
	return &Error{
		Code:    ErrCodePolicyDenied,
		Message: "transaction denied by policy",
		ID:      id,
		Reasons: reasons,
	}
}
