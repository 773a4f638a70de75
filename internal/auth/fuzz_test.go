package auth

import (
	"testing"
	"time"
)

func FuzzVerifyPassword(f *testing.F) {
	params := ArgonParams{Memory: 8, Time: 1, Parallelism: 1, SaltLen: 8, KeyLen: 16}
	good, err := HashPassword(params, "CorrectPass1!")
	if err != nil {
		f.Fatal(err)
	}
	f.Add("CorrectPass1!", good)
	f.Add("wrong", good)
	f.Add("x", "argon2id$m=8,t=1,p=1$AAAAAAAA$BBBBBBBB")
	f.Add("", "")
	f.Add("pw", "argon2id$m=junk$short")

	f.Fuzz(func(t *testing.T, password, encoded string) {
		ok, err := VerifyPassword(password, encoded)
		if ok && err != nil {
			t.Fatalf("match reported alongside error %v", err)
		}
	})
}

func FuzzVerifyToken(f *testing.F) {
	issuer := NewTokenIssuer([]byte("fuzz-access"), []byte("fuzz-refresh"), "fuzz", time.Minute, time.Hour)
	u := &User{ID: "u1", Username: "admin", Role: RoleAdmin, TokenVersion: 1, Active: true}

	access, _, err := issuer.IssueAccess(u)
	if err != nil {
		f.Fatal(err)
	}
	refresh, _, err := issuer.IssueRefresh(u)
	if err != nil {
		f.Fatal(err)
	}
	f.Add(access)
	f.Add(refresh)
	f.Add("")
	f.Add("a.b.c")
	f.Add("eyJhbGciOiJub25lIn0..")

	f.Fuzz(func(t *testing.T, token string) {
		if claims, err := issuer.VerifyAccess(token); err == nil && claims.UserID == "" {
			t.Fatal("accepted access token without a subject")
		}
		if claims, err := issuer.VerifyRefresh(token); err == nil && claims.UserID == "" {
			t.Fatal("accepted refresh token without a subject")
		}
	})
}
