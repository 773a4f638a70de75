package auth

import "time"

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
)

func ValidRole(r Role) bool {
	return r == RoleAdmin || r == RoleEditor
}

// AccessClaims is what an access token carries. Authorization decisions are
// re-checked server-side; clients may use ExpiresAt for refresh timing only.
type AccessClaims struct {
	UserID    string `json:"sub"`
	Username  string `json:"username"`
	Role      Role   `json:"role"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// RefreshClaims binds a refresh token to the user's token version. A token
// presenting a stale version is permanently invalid.
type RefreshClaims struct {
	UserID       string `json:"sub"`
	TokenVersion int64  `json:"token_version"`
	IssuedAt     int64  `json:"iat"`
	ExpiresAt    int64  `json:"exp"`
}

// UserSummary is the only user shape returned to clients.
type UserSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// TokenPair is the result of any operation that establishes a session:
// login, refresh, and password change all mint a fresh pair.
type TokenPair struct {
	AccessToken    string
	AccessExpires  time.Time
	RefreshToken   string
	RefreshExpires time.Time
	User           UserSummary
}
