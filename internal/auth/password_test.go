package auth

import "testing"

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword(DefaultArgon, "Password123!")
	if err != nil {
		t.Fatalf("HashPassword error: %v", err)
	}
	ok, err := VerifyPassword("Password123!", hash)
	if err != nil {
		t.Fatalf("VerifyPassword error: %v", err)
	}
	if !ok {
		t.Fatalf("expected VerifyPassword to succeed")
	}
}

func TestVerifyPasswordRejectsWrongPassword(t *testing.T) {
	hash, err := HashPassword(DefaultArgon, "Password123!")
	if err != nil {
		t.Fatalf("HashPassword error: %v", err)
	}
	ok, err := VerifyPassword("Password124!", hash)
	if err != nil {
		t.Fatalf("VerifyPassword error: %v", err)
	}
	if ok {
		t.Fatalf("expected mismatch for wrong password")
	}
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	ok, err := VerifyPassword("Password123!", "invalid-hash-format")
	if err == nil {
		t.Fatalf("expected error for malformed hash")
	}
	if ok {
		t.Fatalf("expected verification failure for malformed hash")
	}
}

func TestPasswordPolicy(t *testing.T) {
	p := DefaultPasswordPolicy
	cases := []struct {
		pw string
		ok bool
	}{
		{"CorrectPass1!", true},
		{"short1!", false},
		{"alllowercase1!", false},
		{"NoDigitsHere!", false},
		{"NoSymbols123A", false},
		{"Has Spaces 1!", false},
	}
	for _, c := range cases {
		err := p.Validate(c.pw)
		if c.ok && err != nil {
			t.Errorf("Validate(%q) = %v, want nil", c.pw, err)
		}
		if !c.ok && err == nil {
			t.Errorf("Validate(%q) = nil, want error", c.pw)
		}
	}
}
