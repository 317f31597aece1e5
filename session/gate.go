package session

import (
	"context"
	"errors"
	"time"
)

// DefaultInactivityTimeout is the idle window after which a session is
// forcibly invalidated regardless of token validity.
const DefaultInactivityTimeout = 15 * time.Minute

var (
	NotAuthenticatedErr = errors.New("Not authenticated")
	SessionInactiveErr  = errors.New("Session expired due to inactivity")
)

// Gate is the request-level guard in front of every downstream warehouse
// operation. It rejects unauthenticated sessions, enforces the inactivity
// timeout and stamps last activity before the wrapped operation runs.
// Session-expiry policy lives here and nowhere else.
type Gate struct {
	manager *Manager
	timeout time.Duration
	nowTime func() time.Time
}

// GateOption defines a function type to modify the Gate instance.
type GateOption func(*Gate)

// WithGateNowTime sets the now time function (primarily for testing)
func WithGateNowTime(nowFunc func() time.Time) GateOption {
	return func(g *Gate) {
		g.nowTime = nowFunc
	}
}

// NewGate creates a Gate over the given manager. A non-positive timeout
// falls back to DefaultInactivityTimeout.
func NewGate(manager *Manager, timeout time.Duration, options ...GateOption) *Gate {
	if timeout <= 0 {
		timeout = DefaultInactivityTimeout
	}
	g := &Gate{
		manager: manager,
		timeout: timeout,
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(g)
	}
	return g
}

// Authorize runs op iff the session is authenticated and active. The
// inactivity check happens - and the session is cleared - before op is
// invoked, so a timed-out session never reaches a privileged operation,
// not even transiently.
func (g *Gate) Authorize(ctx context.Context, sessionID string, op func(ctx context.Context) error) error {
	if !g.manager.Authenticated(ctx, sessionID) {
		return NotAuthenticatedErr
	}

	lastActivity, err := g.manager.LastActivity(sessionID)
	if err != nil {
		return err
	}
	// A zero LastActivity means this is the session's first gated request;
	// it defaults to now below via Touch.
	if !lastActivity.IsZero() && g.nowTime().Sub(lastActivity) > g.timeout {
		if err := g.manager.Clear(sessionID); err != nil {
			return err
		}
		return SessionInactiveErr
	}

	if err := g.manager.Touch(sessionID); err != nil {
		return err
	}
	return op(ctx)
}
