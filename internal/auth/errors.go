package auth

import (
	"errors"
	"fmt"
	"time"
)

// Authentication failures are a closed set so callers can map them to HTTP
// statuses with errors.Is/errors.As instead of comparing message strings.
var (
	// ErrInvalidCredentials is deliberately generic: it covers unknown
	// username, deactivated account, and wrong password alike.
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrUserNotFound = errors.New("user not found")
	ErrUserInactive = errors.New("user no longer active")

	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token has been revoked")

	ErrWeakPassword = errors.New("password does not meet policy")
)

// LockedError reports an active lockout window. Unlike ErrInvalidCredentials
// it is surfaced distinctly (429) because the user has to wait, not retype.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.Format(time.RFC3339))
}

// RetryAfter reports the remaining lockout, never less than one second.
func (e *LockedError) RetryAfter(now time.Time) time.Duration {
	d := e.Until.Sub(now)
	if d < time.Second {
		d = time.Second
	}
	return d
}
