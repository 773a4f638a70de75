package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeController struct {
	mu         sync.Mutex
	verifyOK   bool
	verifyErr  error
	refreshErr error
	refreshes  int
	logouts    int
}

func (f *fakeController) Verify(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verifyOK, f.verifyErr
}

func (f *fakeController) Refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshErr
}

func (f *fakeController) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	return nil
}

func (f *fakeController) counts() (refreshes, logouts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes, f.logouts
}

// shortGuard uses timers small enough for tests but a full-length countdown
// tick, so a one-second countdown means exactly one tick to zero.
func shortGuard(ctrl SessionController) *Guard {
	g := NewGuard(ctrl)
	g.WarnAfter = 50 * time.Millisecond
	g.Countdown = time.Second
	return g
}

func waitForState(t *testing.T, g *Guard, want GuardState) {
	t.Helper()
	require.Eventually(t, func() bool { return g.State() == want },
		3*time.Second, 5*time.Millisecond, "guard never reached %s", want)
}

func TestGuardStartVerifies(t *testing.T) {
	f := &fakeController{verifyOK: true}
	g := shortGuard(f)
	defer g.Stop()

	var transitions []GuardState
	var mu sync.Mutex
	g.OnState = func(s GuardState) {
		mu.Lock()
		transitions = append(transitions, s)
		mu.Unlock()
	}

	require.Equal(t, StateAuthenticated, g.Start(context.Background()))
	mu.Lock()
	require.Contains(t, transitions, StateAuthenticated)
	mu.Unlock()
}

func TestGuardStartUnauthenticated(t *testing.T) {
	cases := []struct {
		name string
		f    *fakeController
	}{
		{"verify says no", &fakeController{verifyOK: false}},
		{"verify errors", &fakeController{verifyErr: errors.New("network down")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := shortGuard(tc.f)
			defer g.Stop()
			require.Equal(t, StateUnauthenticated, g.Start(context.Background()))
		})
	}
}

func TestGuardInactivityWarnsThenExpires(t *testing.T) {
	f := &fakeController{verifyOK: true}
	g := shortGuard(f)
	defer g.Stop()

	var ticks []time.Duration
	var mu sync.Mutex
	g.OnTick = func(rem time.Duration) {
		mu.Lock()
		ticks = append(ticks, rem)
		mu.Unlock()
	}

	g.Start(context.Background())
	waitForState(t, g, StateTimeoutWarning)
	require.Greater(t, g.Remaining(), time.Duration(0))

	// No activity: the countdown runs out and the session is force-ended.
	waitForState(t, g, StateUnauthenticated)
	_, logouts := f.counts()
	require.Equal(t, 1, logouts)

	mu.Lock()
	require.NotEmpty(t, ticks)
	require.LessOrEqual(t, ticks[len(ticks)-1], time.Duration(0))
	mu.Unlock()
}

func TestGuardActivityCancelsWarning(t *testing.T) {
	f := &fakeController{verifyOK: true}
	g := shortGuard(f)
	defer g.Stop()

	g.Start(context.Background())
	waitForState(t, g, StateTimeoutWarning)

	g.Activity()
	require.Equal(t, StateAuthenticated, g.State())

	_, logouts := f.counts()
	require.Equal(t, 0, logouts)

	// The clock restarted: with continued silence the warning comes back.
	waitForState(t, g, StateTimeoutWarning)
}

func TestGuardExtendRefreshes(t *testing.T) {
	f := &fakeController{verifyOK: true}
	g := shortGuard(f)
	defer g.Stop()

	g.Start(context.Background())
	waitForState(t, g, StateTimeoutWarning)

	g.Extend(context.Background())
	require.Equal(t, StateAuthenticated, g.State())
	refreshes, logouts := f.counts()
	require.Equal(t, 1, refreshes)
	require.Equal(t, 0, logouts)
}

func TestGuardExtendRefusedEndsSession(t *testing.T) {
	f := &fakeController{verifyOK: true, refreshErr: ErrSessionExpired}
	g := shortGuard(f)
	defer g.Stop()

	g.Start(context.Background())
	waitForState(t, g, StateTimeoutWarning)

	g.Extend(context.Background())
	require.Equal(t, StateUnauthenticated, g.State())
	_, logouts := f.counts()
	require.Equal(t, 1, logouts)
}

func TestGuardExplicitLogout(t *testing.T) {
	f := &fakeController{verifyOK: true}
	g := shortGuard(f)

	g.Start(context.Background())
	g.Logout(context.Background())
	require.Equal(t, StateUnauthenticated, g.State())
	_, logouts := f.counts()
	require.Equal(t, 1, logouts)

	// Stopped timers stay quiet after logout.
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, StateUnauthenticated, g.State())
}

func TestGuardActivityIgnoredWhenAnonymous(t *testing.T) {
	f := &fakeController{verifyOK: false}
	g := shortGuard(f)
	defer g.Stop()

	g.Start(context.Background())
	g.Activity()
	require.Equal(t, StateUnauthenticated, g.State())
}

func TestGuardStopClearsTimers(t *testing.T) {
	f := &fakeController{verifyOK: true}
	g := shortGuard(f)

	g.Start(context.Background())
	g.Stop()

	time.Sleep(150 * time.Millisecond)
	require.Equal(t, StateAuthenticated, g.State(), "a stopped guard must not fire its timers")
	_, logouts := f.counts()
	require.Equal(t, 0, logouts)
}
