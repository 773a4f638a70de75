package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/W1ldcard2152/phoenix-automotive-sub000/internal/auth"
)

const (
	// DefaultRefreshMargin is how long before expiry the client refreshes
	// proactively, and the staleness margin applied when restoring a
	// cached session.
	DefaultRefreshMargin = 5 * time.Minute

	csrfHeader = "X-CSRF-Token"
)

var (
	// ErrNotAuthenticated means there is no current session to act with.
	ErrNotAuthenticated = errors.New("session: not authenticated")
	// ErrSessionExpired means the server rejected the session as
	// unrecoverable and local state has been cleared.
	ErrSessionExpired = errors.New("session: expired, login required")
)

// APIError carries a structured server rejection that is not one of the
// sentinel cases, including rate limiting with its retry hint.
type APIError struct {
	Status     int
	Code       string
	Message    string
	RetryAfter int
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("session: %s (%d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("session: %s (%d)", e.Code, e.Status)
}

type sessionPayload struct {
	AccessToken string           `json:"accessToken"`
	User        auth.UserSummary `json:"user"`
	ExpiresIn   int64            `json:"expiresIn"`
}

type errorPayload struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

// refreshCall is the shared in-flight refresh: every concurrent caller waits
// on done and reads the same outcome, so a token rotation happens at most
// once no matter how many paths ask for it at the same moment.
type refreshCall struct {
	done  chan struct{}
	state *State
	err   error
}

// Client is the session holder used by the admin UI. All state transitions
// go through it; it never reports authenticated without holding a token the
// server minted.
type Client struct {
	baseURL string
	http    *http.Client
	cache   TokenCache
	logger  *log.Logger

	RefreshMargin time.Duration

	mu       sync.Mutex
	state    *State
	inflight *refreshCall
	gen      uint64 // bumped on every login/logout; stale refreshes check it
	timer    *time.Timer
	now      func() time.Time
}

func NewClient(baseURL string, cache TokenCache) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	if cache == nil {
		cache = &MemoryTokenCache{}
	}
	return &Client{
		baseURL:       baseURL,
		http:          &http.Client{Jar: jar, Timeout: 30 * time.Second},
		cache:         cache,
		logger:        log.New(io.Discard, "", 0),
		RefreshMargin: DefaultRefreshMargin,
		now:           time.Now,
	}, nil
}

// SetLogger routes diagnostics somewhere visible; the default is silent.
func (c *Client) SetLogger(l *log.Logger) { c.logger = l }

// Current returns a copy of the live session state, or nil when anonymous.
func (c *Client) Current() *State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return nil
	}
	cp := *c.state
	return &cp
}

// Restore brings a previous session back: a cached token still inside its
// safety margin is used as-is; one past or near expiry gets one refresh
// attempt; anything else leaves the client anonymous.
func (c *Client) Restore(ctx context.Context) (*State, error) {
	cached, err := c.cache.Load()
	if err != nil {
		return nil, err
	}
	if cached == nil {
		return nil, ErrNotAuthenticated
	}
	if cached.Valid(c.now(), c.RefreshMargin) {
		c.mu.Lock()
		c.setStateLocked(cached)
		c.mu.Unlock()
		return cached, nil
	}

	c.mu.Lock()
	c.state = cached // stale, but carries the CSRF token for the refresh
	c.mu.Unlock()
	st, err := c.Refresh(ctx)
	if err != nil {
		c.mu.Lock()
		c.clearLocked()
		c.mu.Unlock()
		return nil, ErrNotAuthenticated
	}
	return st, nil
}

// Login establishes a fresh session. The CSRF token is fetched first so
// later mutating calls can mirror it.
func (c *Client) Login(ctx context.Context, username, password string) (*State, error) {
	csrf, err := c.fetchCSRF(ctx)
	if err != nil {
		c.logger.Printf("csrf fetch: %v", err)
	}

	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := c.post(ctx, "/auth/login", body, "", "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		drain(resp)
		return nil, auth.ErrInvalidCredentials
	default:
		return nil, decodeError(resp)
	}

	var p sessionPayload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, err
	}
	st := c.stateFor(&p, csrf)

	c.mu.Lock()
	c.setStateLocked(st)
	c.mu.Unlock()
	return st, nil
}

// Refresh rotates the token pair. Concurrent callers share one network call;
// a logout that lands while the call is in flight wins, and the refresh
// result is discarded instead of resurrecting the cleared session.
func (c *Client) Refresh(ctx context.Context) (*State, error) {
	c.mu.Lock()
	if c.inflight != nil {
		call := c.inflight
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.state, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	c.inflight = call
	gen := c.gen
	var csrf string
	if c.state != nil {
		csrf = c.state.CSRFToken
	}
	c.mu.Unlock()

	st, err := c.refreshOnce(ctx, csrf)

	c.mu.Lock()
	c.inflight = nil
	switch {
	case gen != c.gen:
		st, err = nil, ErrNotAuthenticated
	case err == nil:
		st.CSRFToken = csrf
		c.setStateLocked(st)
	case errors.Is(err, ErrSessionExpired):
		c.clearLocked()
	}
	c.mu.Unlock()

	call.state, call.err = st, err
	close(call.done)
	return st, err
}

func (c *Client) refreshOnce(ctx context.Context, csrf string) (*State, error) {
	resp, err := c.post(ctx, "/auth/refresh", nil, "", csrf)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		drain(resp)
		return nil, ErrSessionExpired
	default:
		return nil, decodeError(resp)
	}

	var p sessionPayload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, err
	}
	return c.stateFor(&p, ""), nil
}

// Logout ends the session. Local state is cleared first so nothing in
// flight can bring it back; the server call revokes the refresh tokens and
// is best effort beyond that.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	st := c.state
	c.clearLocked()
	c.mu.Unlock()

	if st == nil || st.AccessToken == "" {
		return nil
	}
	resp, err := c.post(ctx, "/auth/logout", nil, st.AccessToken, st.CSRFToken)
	if err != nil {
		return err
	}
	drain(resp)
	resp.Body.Close()
	return nil
}

// Verify asks the server whether the current token is still good. A 401 is
// answered with one refresh-and-retry; a 403 ends the session.
func (c *Client) Verify(ctx context.Context) (auth.UserSummary, error) {
	var out struct {
		Valid bool             `json:"valid"`
		User  auth.UserSummary `json:"user"`
	}
	if err := c.Do(ctx, http.MethodGet, "/auth/verify", nil, &out); err != nil {
		return auth.UserSummary{}, err
	}
	if !out.Valid {
		return auth.UserSummary{}, ErrSessionExpired
	}
	return out.User, nil
}

// ChangePassword swaps the credential and installs the fresh pair the
// server returns, so this session survives the version bump that logs out
// every other device.
func (c *Client) ChangePassword(ctx context.Context, current, newPassword string) error {
	st := c.Current()
	if st == nil {
		return ErrNotAuthenticated
	}
	body, _ := json.Marshal(map[string]string{
		"currentPassword": current,
		"newPassword":     newPassword,
	})
	resp, err := c.post(ctx, "/auth/change-password", body, st.AccessToken, st.CSRFToken)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		drain(resp)
		return auth.ErrInvalidCredentials
	default:
		return decodeError(resp)
	}

	var p sessionPayload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return err
	}
	next := c.stateFor(&p, st.CSRFToken)
	c.mu.Lock()
	c.setStateLocked(next)
	c.mu.Unlock()
	return nil
}

// Do performs an authenticated request against the backend and decodes a
// JSON response into out. Recovery policy: 401 triggers one refresh and one
// retry of the original call; 403 forces a local logout.
func (c *Client) Do(ctx context.Context, method, path string, body []byte, out any) error {
	st := c.Current()
	if st == nil {
		return ErrNotAuthenticated
	}

	resp, err := c.request(ctx, method, path, body, st.AccessToken, st.CSRFToken)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		resp.Body.Close()
		fresh, rerr := c.Refresh(ctx)
		if rerr != nil {
			return rerr
		}
		resp, err = c.request(ctx, method, path, body, fresh.AccessToken, fresh.CSRFToken)
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		drain(resp)
		c.mu.Lock()
		c.clearLocked()
		c.mu.Unlock()
		return ErrSessionExpired
	case resp.StatusCode >= 400:
		return decodeError(resp)
	}

	if out == nil {
		drain(resp)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Close stops the proactive refresh timer. It does not log out.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) fetchCSRF(ctx context.Context) (string, error) {
	resp, err := c.request(ctx, http.MethodGet, "/auth/csrf", nil, "", "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", decodeError(resp)
	}
	var out struct {
		CSRFToken string `json:"csrfToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.CSRFToken, nil
}

func (c *Client) stateFor(p *sessionPayload, csrf string) *State {
	return &State{
		AccessToken: p.AccessToken,
		ExpiresAt:   c.now().Add(time.Duration(p.ExpiresIn) * time.Second),
		User:        p.User,
		CSRFToken:   csrf,
	}
}

// setStateLocked installs a session atomically: state, cache, and the
// proactive refresh timer change together. Callers hold mu.
func (c *Client) setStateLocked(st *State) {
	c.gen++
	c.state = st
	if err := c.cache.Save(st); err != nil {
		c.logger.Printf("cache save: %v", err)
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	d := st.ExpiresAt.Sub(c.now()) - c.RefreshMargin
	if d < 0 {
		d = 0
	}
	c.timer = time.AfterFunc(d, func() {
		if _, err := c.Refresh(context.Background()); err != nil {
			c.logger.Printf("proactive refresh: %v", err)
		}
	})
}

func (c *Client) clearLocked() {
	c.gen++
	c.state = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if err := c.cache.Clear(); err != nil {
		c.logger.Printf("cache clear: %v", err)
	}
}

func (c *Client) post(ctx context.Context, path string, body []byte, bearer, csrf string) (*http.Response, error) {
	return c.request(ctx, http.MethodPost, path, body, bearer, csrf)
}

func (c *Client) request(ctx context.Context, method, path string, body []byte, bearer, csrf string) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if csrf != "" {
		req.Header.Set(csrfHeader, csrf)
	}
	return c.http.Do(req)
}

func decodeError(resp *http.Response) error {
	var p errorPayload
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&p)
	if p.Error == "" {
		p.Error = "server_error"
	}
	return &APIError{
		Status:     resp.StatusCode,
		Code:       p.Error,
		Message:    p.Message,
		RetryAfter: p.RetryAfter,
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
}
