package auth

import (
	"errors"
	"testing"
	"time"
)

func testIssuer(accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return NewTokenIssuer([]byte("access-secret"), []byte("refresh-secret"), "phoenix-auth", accessTTL, refreshTTL)
}

func testUser() *User {
	return &User{
		ID:           "u-1",
		Username:     "admin",
		Role:         RoleAdmin,
		TokenVersion: 3,
		Active:       true,
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	iss := testIssuer(time.Minute, time.Hour)
	u := testUser()

	tok, exp, err := iss.IssueAccess(u)
	if err != nil {
		t.Fatalf("IssueAccess error: %v", err)
	}
	if !exp.After(time.Now()) {
		t.Fatalf("expiry not in the future: %v", exp)
	}

	claims, err := iss.VerifyAccess(tok)
	if err != nil {
		t.Fatalf("VerifyAccess error: %v", err)
	}
	if claims.UserID != u.ID || claims.Username != u.Username || claims.Role != u.Role {
		t.Fatalf("claims mismatch: %+v", claims)
	}
	if claims.ExpiresAt != exp.Unix() {
		t.Fatalf("exp claim %d != %d", claims.ExpiresAt, exp.Unix())
	}
}

func TestRefreshTokenCarriesVersion(t *testing.T) {
	iss := testIssuer(time.Minute, time.Hour)
	tok, _, err := iss.IssueRefresh(testUser())
	if err != nil {
		t.Fatalf("IssueRefresh error: %v", err)
	}
	claims, err := iss.VerifyRefresh(tok)
	if err != nil {
		t.Fatalf("VerifyRefresh error: %v", err)
	}
	if claims.TokenVersion != 3 {
		t.Fatalf("token_version = %d, want 3", claims.TokenVersion)
	}
}

func TestVerifyAccessExpired(t *testing.T) {
	iss := testIssuer(-time.Minute, time.Hour)
	tok, _, err := iss.IssueAccess(testUser())
	if err != nil {
		t.Fatalf("IssueAccess error: %v", err)
	}
	_, err = iss.VerifyAccess(tok)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestSecretsAreNotInterchangeable(t *testing.T) {
	iss := testIssuer(time.Minute, time.Hour)
	access, _, err := iss.IssueAccess(testUser())
	if err != nil {
		t.Fatalf("IssueAccess error: %v", err)
	}
	// An access token presented as a refresh token must fail signature
	// verification, not expiry.
	_, err = iss.VerifyRefresh(access)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerifyAccessMalformed(t *testing.T) {
	iss := testIssuer(time.Minute, time.Hour)
	_, err := iss.VerifyAccess("not.a.jwt")
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}
