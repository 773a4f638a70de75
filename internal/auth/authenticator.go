package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/W1ldcard2152/phoenix-automotive-sub000/internal/audit"
)

const (
	// DefaultMaxFailedLogins failed attempts lock the account for
	// DefaultLockDuration; a correct password during the window still fails.
	DefaultMaxFailedLogins = 5
	DefaultLockDuration    = 15 * time.Minute
)

// Authenticator drives the login session state machine:
// Anonymous -> Authenticated -> (Refreshing) -> Authenticated -> Revoked -> Anonymous.
// It owns credential checks, lockout, token issuance/rotation, and the
// token-version bump that revokes all outstanding refresh tokens at once.
type Authenticator struct {
	users  UserStore
	tokens *TokenIssuer
	policy PasswordPolicy

	MaxFailedLogins int
	LockDuration    time.Duration

	// Audit, when set, records every authentication event. Entries carry
	// usernames and ids only, never credentials.
	Audit *audit.Log

	now func() time.Time // test seam
}

func (a *Authenticator) record(event audit.Event, subject string) {
	if a.Audit != nil {
		a.Audit.Append(event, subject)
	}
}

func NewAuthenticator(users UserStore, tokens *TokenIssuer, policy PasswordPolicy) *Authenticator {
	return &Authenticator{
		users:           users,
		tokens:          tokens,
		policy:          policy,
		MaxFailedLogins: DefaultMaxFailedLogins,
		LockDuration:    DefaultLockDuration,
		now:             time.Now,
	}
}

func (a *Authenticator) issuePair(u *User) (*TokenPair, error) {
	access, accessExp, err := a.tokens.IssueAccess(u)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, refreshExp, err := a.tokens.IssueRefresh(u)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	return &TokenPair{
		AccessToken:    access,
		AccessExpires:  accessExp,
		RefreshToken:   refresh,
		RefreshExpires: refreshExp,
		User:           u.Summary(),
	}, nil
}

// Login verifies credentials and mints a token pair. Unknown usernames,
// deactivated accounts, and wrong passwords are indistinguishable to the
// caller; only an active lockout is reported separately.
func (a *Authenticator) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	u, err := a.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !u.Active {
		return nil, ErrInvalidCredentials
	}

	now := a.now()
	if u.Locked(now) {
		return nil, &LockedError{Until: *u.LockedUntil}
	}

	ok, err := VerifyPassword(password, u.PassHash)
	if err != nil {
		// Hash/infra failures must not masquerade as bad credentials in logs.
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		u.FailedLogins++
		if u.FailedLogins >= a.MaxFailedLogins {
			until := now.Add(a.LockDuration)
			u.LockedUntil = &until
			a.record(audit.EventLockout, u.Username)
		}
		// The counter update is best-effort; the caller sees a generic
		// failure either way.
		_ = a.users.Save(ctx, u)
		a.record(audit.EventLoginFailed, u.Username)
		return nil, ErrInvalidCredentials
	}

	u.FailedLogins = 0
	u.LockedUntil = nil
	u.LastLogin = now
	if err := a.users.Save(ctx, u); err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}
	a.record(audit.EventLoginOK, u.Username)
	return a.issuePair(u)
}

// Refresh rotates the token pair. TokenVersion is the sole revocation
// mechanism: a claim carrying a stale version never catches up.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := a.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, err
	}

	u, err := a.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !u.Active {
		return nil, ErrUserInactive
	}
	if claims.TokenVersion != u.TokenVersion {
		a.record(audit.EventRevoked, u.Username)
		return nil, ErrTokenRevoked
	}
	a.record(audit.EventRefresh, u.Username)
	return a.issuePair(u)
}

// Logout bumps the user's token version, revoking every outstanding refresh
// token immediately. Already-issued access tokens live out their short
// expiry; that exposure window is bounded and accepted.
func (a *Authenticator) Logout(ctx context.Context, userID string) error {
	u, err := a.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	u.TokenVersion++
	if err := a.users.Save(ctx, u); err != nil {
		return err
	}
	a.record(audit.EventLogout, u.Username)
	return nil
}

// ChangePassword verifies the current password, enforces policy on the next,
// revokes all other sessions via the version bump, and hands back a fresh
// pair so the changing session stays logged in.
func (a *Authenticator) ChangePassword(ctx context.Context, userID, current, next string) (*TokenPair, error) {
	if current == "" || next == "" {
		return nil, ErrInvalidCredentials
	}
	if err := a.policy.Validate(next); err != nil {
		return nil, err
	}

	u, err := a.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !u.Active {
		return nil, ErrUserInactive
	}

	ok, err := VerifyPassword(current, u.PassHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	u.NewPassword = next // hashed by the store on Save
	u.PasswordChangedAt = a.now()
	u.TokenVersion++
	if err := a.users.Save(ctx, u); err != nil {
		return nil, fmt.Errorf("save password: %w", err)
	}
	a.record(audit.EventPasswordChange, u.Username)
	return a.issuePair(u)
}
