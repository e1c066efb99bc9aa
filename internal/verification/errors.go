package verification

import (
	"errors"
	"fmt"
)

// ErrStaleTransition marks an update that reported an earlier lifecycle
// stage than the persisted status. It is handled internally as a silent
// no-op and never surfaced to callers.
var ErrStaleTransition = errors.New("stale status transition")

// ValidationError reports a bad verification type or payload (HTTP 400).
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// AuthorizationError reports a caller acting on a worker it does not own
// (HTTP 403).
type AuthorizationError struct {
	Msg string
}

func (e *AuthorizationError) Error() string { return e.Msg }

// NotFoundError reports a missing worker or verification record (HTTP 404).
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ProviderUnavailableError wraps a network or HTTP failure talking to an
// external provider. Retryable: surfaced on initiate (HTTP 502),
// logged-and-skipped during batch sweeps.
type ProviderUnavailableError struct {
	Provider string
	Err      error
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %v", e.Provider, e.Err)
}

func (e *ProviderUnavailableError) Unwrap() error { return e.Err }
