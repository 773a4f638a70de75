package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// User is the persisted credential record. NewPassword stages a plaintext
// change: every store hashes it into PassHash on Save/Create and never
// persists or returns it.
type User struct {
	ID                string
	Username          string // unique, stored lower-cased
	PassHash          string // argon2id encoded string
	Role              Role
	TokenVersion      int64 // bumped on logout / password change / admin lock
	FailedLogins      int
	LockedUntil       *time.Time
	LastLogin         time.Time
	PasswordChangedAt time.Time
	Active            bool
	CreatedAt         time.Time

	NewPassword string // staged plaintext, consumed by the store
}

func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, Role: u.Role}
}

// Locked reports whether a lockout window is active at the given instant.
// It is independent of Active: a locked account rejects logins even with the
// correct password.
func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

type UserStore interface {
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, u *User) error
	Save(ctx context.Context, u *User) error
}

func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// hashStaged enforces the store-level invariant: a mutated plaintext password
// is re-derived through the hashing service before anything is persisted.
func hashStaged(p ArgonParams, u *User) error {
	if u.NewPassword == "" {
		return nil
	}
	hash, err := HashPassword(p, u.NewPassword)
	if err != nil {
		return err
	}
	u.PassHash = hash
	u.NewPassword = ""
	return nil
}

func prepareNew(p ArgonParams, u *User, now time.Time) error {
	if u == nil {
		return errors.New("user is nil")
	}
	u.Username = NormalizeUsername(u.Username)
	if u.Username == "" {
		return errors.New("username required")
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = RoleAdmin
	}
	if !ValidRole(u.Role) {
		return errors.New("unknown role")
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if err := hashStaged(p, u); err != nil {
		return err
	}
	if u.PassHash == "" {
		return errors.New("password required")
	}
	return nil
}

// MemoryUserStore backs tests and local development.
type MemoryUserStore struct {
	mu         sync.Mutex
	params     ArgonParams
	byID       map[string]*User
	byUsername map[string]*User
}

func NewMemoryUserStore(params ArgonParams) *MemoryUserStore {
	return &MemoryUserStore{
		params:     params,
		byID:       map[string]*User{},
		byUsername: map[string]*User{},
	}
}

func (s *MemoryUserStore) Create(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := prepareNew(s.params, u, time.Now()); err != nil {
		return err
	}
	if _, exists := s.byUsername[u.Username]; exists {
		return errors.New("username already exists")
	}
	clone := *u
	s.byID[u.ID] = &clone
	s.byUsername[u.Username] = &clone
	return nil
}

func (s *MemoryUserStore) Save(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := hashStaged(s.params, u); err != nil {
		return err
	}
	stored, ok := s.byID[u.ID]
	if !ok {
		return ErrUserNotFound
	}
	// Last-write-wins at the record level; fine for human-scale login traffic.
	clone := *u
	*stored = clone
	return nil
}

func (s *MemoryUserStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.byUsername[NormalizeUsername(username)]; ok {
		clone := *u
		return &clone, nil
	}
	return nil, ErrUserNotFound
}

func (s *MemoryUserStore) FindByID(ctx context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.byID[id]; ok {
		clone := *u
		return &clone, nil
	}
	return nil, ErrUserNotFound
}
