package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// GuardState is where the inactivity machine currently sits. The only inputs
// that move it are the verify result, the two timers, and activity events.
type GuardState string

const (
	StateChecking        GuardState = "checking"
	StateAuthenticated   GuardState = "authenticated"
	StateUnauthenticated GuardState = "unauthenticated"
	StateTimeoutWarning  GuardState = "timeout_warning"
)

const (
	// DefaultWarnAfter is how much inactivity passes before the warning, and
	// DefaultCountdown how long the warning stays up before forced logout.
	// Together they bound an idle session at 30 minutes.
	DefaultWarnAfter = 25 * time.Minute
	DefaultCountdown = 5 * time.Minute

	// activityInterval caps how often activity events are acted on.
	activityInterval = 5 * time.Second
)

// SessionController is the slice of Client the guard needs; tests supply a
// fake.
type SessionController interface {
	Verify(ctx context.Context) (authOK bool, err error)
	Refresh(ctx context.Context) error
	Logout(ctx context.Context) error
}

// clientController adapts *Client to the guard's view of it.
type clientController struct{ c *Client }

func (a clientController) Verify(ctx context.Context) (bool, error) {
	if _, err := a.c.Verify(ctx); err != nil {
		if errors.Is(err, ErrNotAuthenticated) || errors.Is(err, ErrSessionExpired) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (a clientController) Refresh(ctx context.Context) error {
	_, err := a.c.Refresh(ctx)
	return err
}

func (a clientController) Logout(ctx context.Context) error { return a.c.Logout(ctx) }

// Guard gates the admin UI behind the session and forces a logout after
// sustained inactivity, with a visible countdown first.
type Guard struct {
	ctrl SessionController

	WarnAfter time.Duration
	Countdown time.Duration

	// OnState fires on every transition; OnTick fires each second while the
	// countdown runs. Both may be nil.
	OnState func(GuardState)
	OnTick  func(remaining time.Duration)

	mu        sync.Mutex
	state     GuardState
	throttle  *rate.Limiter
	warnTimer *time.Timer
	ticker    *time.Ticker
	tickStop  chan struct{}
	remaining time.Duration
	now       func() time.Time
}

func NewGuard(ctrl SessionController) *Guard {
	return &Guard{
		ctrl:      ctrl,
		WarnAfter: DefaultWarnAfter,
		Countdown: DefaultCountdown,
		state:     StateChecking,
		throttle:  rate.NewLimiter(rate.Every(activityInterval), 1),
		now:       time.Now,
	}
}

// NewClientGuard wires a guard directly to a session client.
func NewClientGuard(c *Client) *Guard {
	return NewGuard(clientController{c: c})
}

// Start verifies the session and arms the inactivity timer. Until Verify
// answers, State reports Checking.
func (g *Guard) Start(ctx context.Context) GuardState {
	g.setState(StateChecking)

	ok, err := g.ctrl.Verify(ctx)
	if err != nil || !ok {
		g.setState(StateUnauthenticated)
		return StateUnauthenticated
	}

	g.mu.Lock()
	g.armWarnLocked()
	g.mu.Unlock()
	g.setState(StateAuthenticated)
	return StateAuthenticated
}

func (g *Guard) State() GuardState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Activity records user input. Events are throttled; at most one in any
// five-second span resets the clock. During a warning, any activity cancels
// the countdown and restores the authenticated state.
func (g *Guard) Activity() {
	g.mu.Lock()
	state := g.state
	if state != StateAuthenticated && state != StateTimeoutWarning {
		g.mu.Unlock()
		return
	}
	if state == StateAuthenticated && !g.throttle.Allow() {
		g.mu.Unlock()
		return
	}
	g.stopCountdownLocked()
	g.armWarnLocked()
	g.mu.Unlock()

	if state == StateTimeoutWarning {
		g.setState(StateAuthenticated)
	}
}

// Extend is the "stay logged in" button: refresh the session and reset the
// clock, or end the session if the refresh is refused.
func (g *Guard) Extend(ctx context.Context) {
	if err := g.ctrl.Refresh(ctx); err != nil {
		g.expire(ctx)
		return
	}
	g.mu.Lock()
	g.stopCountdownLocked()
	g.armWarnLocked()
	g.mu.Unlock()
	g.setState(StateAuthenticated)
}

// Logout is an explicit user logout through the guard.
func (g *Guard) Logout(ctx context.Context) {
	g.mu.Lock()
	g.stopTimersLocked()
	g.mu.Unlock()
	_ = g.ctrl.Logout(ctx)
	g.setState(StateUnauthenticated)
}

// Stop tears the guard down without touching the session. Timers must not
// fire against a dismounted guard.
func (g *Guard) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopTimersLocked()
}

func (g *Guard) setState(s GuardState) {
	g.mu.Lock()
	changed := g.state != s
	g.state = s
	cb := g.OnState
	g.mu.Unlock()
	if changed && cb != nil {
		cb(s)
	}
}

// armWarnLocked (re)starts the inactivity timer. Callers hold mu.
func (g *Guard) armWarnLocked() {
	if g.warnTimer != nil {
		g.warnTimer.Stop()
	}
	g.warnTimer = time.AfterFunc(g.WarnAfter, g.warn)
}

func (g *Guard) warn() {
	g.mu.Lock()
	if g.state != StateAuthenticated {
		g.mu.Unlock()
		return
	}
	g.remaining = g.Countdown
	g.ticker = time.NewTicker(time.Second)
	g.tickStop = make(chan struct{})
	go g.countdown(g.ticker, g.tickStop)
	g.mu.Unlock()

	g.setState(StateTimeoutWarning)
}

func (g *Guard) countdown(ticker *time.Ticker, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			g.mu.Lock()
			g.remaining -= time.Second
			rem := g.remaining
			cb := g.OnTick
			g.mu.Unlock()

			if cb != nil {
				cb(rem)
			}
			if rem <= 0 {
				g.expire(context.Background())
				return
			}
		}
	}
}

// Remaining reports the countdown left while in TimeoutWarning.
func (g *Guard) Remaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateTimeoutWarning {
		return 0
	}
	return g.remaining
}

func (g *Guard) expire(ctx context.Context) {
	g.mu.Lock()
	g.stopTimersLocked()
	g.mu.Unlock()
	_ = g.ctrl.Logout(ctx)
	g.setState(StateUnauthenticated)
}

func (g *Guard) stopCountdownLocked() {
	if g.ticker != nil {
		g.ticker.Stop()
		g.ticker = nil
	}
	if g.tickStop != nil {
		close(g.tickStop)
		g.tickStop = nil
	}
}

func (g *Guard) stopTimersLocked() {
	if g.warnTimer != nil {
		g.warnTimer.Stop()
		g.warnTimer = nil
	}
	g.stopCountdownLocked()
}
