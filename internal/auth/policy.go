package auth

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	reUpper = regexp.MustCompile(`[A-Z]`)
	reLower = regexp.MustCompile(`[a-z]`)
	reDigit = regexp.MustCompile(`[0-9]`)
	reSym   = regexp.MustCompile(`[^A-Za-z0-9]`)
)

// PasswordPolicy is enforced before a password ever reaches storage.
type PasswordPolicy struct {
	MinLength        int
	RequireMixedCase bool
	RequireDigit     bool
	RequireSymbol    bool
}

var DefaultPasswordPolicy = PasswordPolicy{
	MinLength:        8,
	RequireMixedCase: true,
	RequireDigit:     true,
	RequireSymbol:    true,
}

// Validate reports the first violated rule, wrapped in ErrWeakPassword.
func (p PasswordPolicy) Validate(pw string) error {
	switch {
	case len(pw) < p.MinLength:
		return fmt.Errorf("%w: must be at least %d characters", ErrWeakPassword, p.MinLength)
	case strings.Contains(pw, " "):
		return fmt.Errorf("%w: must not contain spaces", ErrWeakPassword)
	case p.RequireMixedCase && (!reUpper.MatchString(pw) || !reLower.MatchString(pw)):
		return fmt.Errorf("%w: must include upper and lower case letters", ErrWeakPassword)
	case p.RequireDigit && !reDigit.MatchString(pw):
		return fmt.Errorf("%w: must include a digit", ErrWeakPassword)
	case p.RequireSymbol && !reSym.MatchString(pw):
		return fmt.Errorf("%w: must include a special character", ErrWeakPassword)
	default:
		return nil
	}
}
