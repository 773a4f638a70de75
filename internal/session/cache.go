// Package session is the client half of the auth subsystem: it holds the
// current access token, refreshes it proactively, and drives the inactivity
// guard in front of the admin UI.
package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/W1ldcard2152/phoenix-automotive-sub000/internal/auth"
)

// State is what survives between runs: the access token, its decoded expiry,
// the user it belongs to, and the CSRF token mirrored from the cookie.
// Decoded claims here are display hints only; the server re-verifies
// everything.
type State struct {
	AccessToken string           `json:"accessToken"`
	ExpiresAt   time.Time        `json:"expiresAt"`
	User        auth.UserSummary `json:"user"`
	CSRFToken   string           `json:"csrfToken,omitempty"`
}

// Valid reports whether the token is still usable at t with margin to spare.
func (s *State) Valid(t time.Time, margin time.Duration) bool {
	return s != nil && s.AccessToken != "" && t.Add(margin).Before(s.ExpiresAt)
}

// TokenCache is durable client-side storage for the session state.
type TokenCache interface {
	Load() (*State, error)
	Save(*State) error
	Clear() error
}

// FileTokenCache keeps the state as a JSON file readable only by the owner.
type FileTokenCache struct {
	Path string
}

func NewFileTokenCache(path string) *FileTokenCache {
	return &FileTokenCache{Path: path}
}

func (f *FileTokenCache) Load() (*State, error) {
	raw, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		// A corrupt cache is the same as no cache.
		return nil, nil
	}
	return &s, nil
}

func (f *FileTokenCache) Save(s *State) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(f.Path, raw, 0o600)
}

func (f *FileTokenCache) Clear() error {
	err := os.Remove(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// MemoryTokenCache is for tests and ephemeral sessions.
type MemoryTokenCache struct {
	state *State
}

func (m *MemoryTokenCache) Load() (*State, error) {
	if m.state == nil {
		return nil, nil
	}
	cp := *m.state
	return &cp, nil
}

func (m *MemoryTokenCache) Save(s *State) error {
	cp := *s
	m.state = &cp
	return nil
}

func (m *MemoryTokenCache) Clear() error {
	m.state = nil
	return nil
}
