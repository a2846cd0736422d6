package service

import (
	"errors"
	"fmt"
	"time"

	"admin-auth-service/internal/credential"
	"admin-auth-service/internal/session"
)

var (
	ErrInvalidCredentials = credential.ErrInvalidCredentials
	// ErrAccountNotAdmin never leaves the service; it is reported as
	// ErrInvalidCredentials.
	ErrAccountNotAdmin  = credential.ErrAccountNotAdmin
	ErrStoreUnavailable = credential.ErrStoreUnavailable
	ErrSessionNotFound  = session.ErrSessionNotFound
	ErrSessionExpired   = session.ErrSessionExpired

	ErrInvalidMFACode       = errors.New("invalid MFA code")
	ErrMFARequired          = errors.New("MFA verification required")
	ErrMFANotEnrolled       = errors.New("MFA not enrolled")
	ErrMFAAlreadyEnrolled   = credential.ErrAlreadyEnrolled
	ErrEnrollmentNotStarted = errors.New("MFA enrollment not started")
)

const (
	ScopeLogin = "login"
	ScopeMFA   = "mfa"
)

// RateLimitedError is returned while an identifier is locked out.
type RateLimitedError struct {
	Scope       string
	LockedUntil *time.Time
}

func (e *RateLimitedError) Error() string {
	if e.LockedUntil == nil {
		return fmt.Sprintf("%s rate limited", e.Scope)
	}
	return fmt.Sprintf("%s rate limited until %s", e.Scope, e.LockedUntil.UTC().Format(time.RFC3339))
}

// RetryAfter is the wait until the lockout lapses, rounded up to a second.
func (e *RateLimitedError) RetryAfter(now time.Time) time.Duration {
	if e.LockedUntil == nil || !e.LockedUntil.After(now) {
		return 0
	}
	return e.LockedUntil.Sub(now).Truncate(time.Second) + time.Second
}

// IsRateLimited unwraps a *RateLimitedError from err.
func IsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// storeFailure folds any backend error into ErrStoreUnavailable.
func storeFailure(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
