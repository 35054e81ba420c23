// Package common defines shared constants and sentinel errors used across
// the credkeeper server, its transport and its outbound integrations.
// Callers should use errors.Is / errors.As to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level error categories. Every error leaving the service layer
	// matches exactly one of these (or none, which means an unexpected fault).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorBadRequest   = errors.New("bad request")
	ErrorConflict     = errors.New("conflict")
	ErrorUpstream     = errors.New("upstream error")

	// ErrInvalidToken covers every bad, expired or replayed token. It matches
	// ErrorUnauthorized so callers cannot tell the failure subtypes apart.
	ErrInvalidToken = fmt.Errorf("invalid token: %w", ErrorUnauthorized)

	// ErrInvalidCredentials is returned for an unknown user or a wrong password.
	ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", ErrorUnauthorized)

	// ErrAlreadyExists is returned when a username or email is taken.
	ErrAlreadyExists = fmt.Errorf("already exists: %w", ErrorConflict)
)

// UpstreamError describes a failed call to a third-party token provider.
// Retryable is set for rate-limit responses and transport failures; any
// other non-2xx answer is final for that attempt.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream %s: %v", e.Provider, e.Err)
}

// Unwrap exposes both the ErrorUpstream category and the underlying cause.
func (e *UpstreamError) Unwrap() []error {
	return []error{ErrorUpstream, e.Err}
}

// IsRetryable reports whether err carries an UpstreamError marked retryable.
func IsRetryable(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Retryable
	}
	return false
}
