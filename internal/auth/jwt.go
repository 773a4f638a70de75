package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer mints and verifies both token kinds. Access and refresh tokens
// are signed with distinct secrets so leaking one key space does not forge
// the other. Expiry is encoded in the token; only the token-version check
// needs a store lookup, and that belongs to the Authenticator.
type TokenIssuer struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Iss           string
}

func NewTokenIssuer(accessSecret, refreshSecret []byte, iss string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		AccessSecret:  accessSecret,
		RefreshSecret: refreshSecret,
		AccessTTL:     accessTTL,
		RefreshTTL:    refreshTTL,
		Iss:           iss,
	}
}

func (i *TokenIssuer) IssueAccess(u *User) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(i.AccessTTL)

	claims := jwt.MapClaims{
		"iss":      i.Iss,
		"sub":      u.ID,
		"username": u.Username,
		"role":     string(u.Role),
		"iat":      now.Unix(),
		"exp":      exp.Unix(),
	}
	ss, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.AccessSecret)
	return ss, exp, err
}

func (i *TokenIssuer) IssueRefresh(u *User) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(i.RefreshTTL)

	claims := jwt.MapClaims{
		"iss":           i.Iss,
		"sub":           u.ID,
		"token_version": u.TokenVersion,
		"iat":           now.Unix(),
		"exp":           exp.Unix(),
	}
	ss, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.RefreshSecret)
	return ss, exp, err
}

func (i *TokenIssuer) VerifyAccess(tokenStr string) (*AccessClaims, error) {
	std, err := i.parse(tokenStr, i.AccessSecret)
	if err != nil {
		return nil, err
	}
	return &AccessClaims{
		UserID:    getString(std, "sub"),
		Username:  getString(std, "username"),
		Role:      Role(getString(std, "role")),
		IssuedAt:  getInt64(std, "iat"),
		ExpiresAt: getInt64(std, "exp"),
	}, nil
}

func (i *TokenIssuer) VerifyRefresh(tokenStr string) (*RefreshClaims, error) {
	std, err := i.parse(tokenStr, i.RefreshSecret)
	if err != nil {
		return nil, err
	}
	return &RefreshClaims{
		UserID:       getString(std, "sub"),
		TokenVersion: getInt64(std, "token_version"),
		IssuedAt:     getInt64(std, "iat"),
		ExpiresAt:    getInt64(std, "exp"),
	}, nil
}

// parse distinguishes expiry from every other failure so callers can map
// them to different HTTP statuses (401 vs 403).
func (i *TokenIssuer) parse(tokenStr string, secret []byte) (jwt.MapClaims, error) {
	keyFunc := func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	}

	tok, err := jwt.Parse(tokenStr, keyFunc, jwt.WithIssuer(i.Iss))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !tok.Valid {
		return nil, ErrTokenInvalid
	}
	std, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrTokenInvalid
	}
	return std, nil
}

func getString(m jwt.MapClaims, k string) string {
	if v, ok := m[k].(string); ok {
		return v
	}
	return ""
}

func getInt64(m jwt.MapClaims, k string) int64 {
	switch v := m[k].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}
