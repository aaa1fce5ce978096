package types

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedProvider is returned when no adapter is registered for a
	// provider identifier. Callers must surface it, never default silently.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrCircuitOpen is returned without a network attempt while a
	// provider's circuit breaker is open.
	ErrCircuitOpen = errors.New("provider temporarily unavailable, will retry automatically")

	// ErrRetriesExhausted wraps the last failure after the bounded retry
	// budget is spent.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// CredentialReason classifies a credential resolution failure.
type CredentialReason string

const (
	ReasonMissingConfiguration  CredentialReason = "missing-configuration"
	ReasonAccessDenied          CredentialReason = "access-denied"
	ReasonInvalidCallerIdentity CredentialReason = "invalid-caller-identity"
	ReasonUnknown               CredentialReason = "unknown"
)

// CredentialError is a classified credential failure carrying a message that
// is shown to the end user verbatim.
type CredentialError struct {
	Reason  CredentialReason
	Message string
	Err     error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// UserMessage returns the remediation text surfaced to the account owner.
func (e *CredentialError) UserMessage() string { return e.Message }

// NewCredentialError builds a classified credential failure.
func NewCredentialError(reason CredentialReason, message string, err error) *CredentialError {
	return &CredentialError{Reason: reason, Message: message, Err: err}
}

// AccessError marks access/configuration failures (denied bucket, invalid
// role, missing destination). These are never retried: the owning export is
// put into an error state and the user is asked to reconnect.
type AccessError struct {
	Message string
	Err     error
}

func (e *AccessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("access error: %s: %v", e.Message, e.Err)
	}
	return "access error: " + e.Message
}

func (e *AccessError) Unwrap() error { return e.Err }

// NewAccessError wraps err as an access-class failure.
func NewAccessError(message string, err error) *AccessError {
	return &AccessError{Message: message, Err: err}
}

// IsAccessError reports whether err is access/configuration class, either
// directly or through a denied credential resolution.
func IsAccessError(err error) bool {
	var ae *AccessError
	if errors.As(err, &ae) {
		return true
	}
	var ce *CredentialError
	if errors.As(err, &ce) {
		return ce.Reason == ReasonAccessDenied || ce.Reason == ReasonInvalidCallerIdentity
	}
	return false
}
