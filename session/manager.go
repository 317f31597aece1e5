package session

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/snowflake-admin-console/oauth"
)

// Refresher is the slice of the token exchanger the manager depends on.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth.Tokens, error)
}

// Manager owns the per-session token record: it is the only component that
// stores, refreshes and clears tokens. Refresh is lazy - it happens inside
// GetAccessToken when the stored expiry has passed, never proactively or in
// the background - and a failed refresh always degrades to a cleared
// session rather than a partially valid one.
type Manager struct {
	repo      Repo
	refresher Refresher
	nowTime   func() time.Time
}

// ManagerOption defines a function type to modify the Manager instance.
type ManagerOption func(*Manager)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

// NewManager initializes a Manager with required dependencies.
func NewManager(repo Repo, refresher Refresher, options ...ManagerOption) (*Manager, error) {
	if repo == nil {
		return nil, errors.New("[NewManager] repo is required")
	}
	if refresher == nil {
		return nil, errors.New("[NewManager] refresher is required")
	}

	m := &Manager{
		repo:      repo,
		refresher: refresher,
		nowTime:   time.Now,
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// StoreTokens records a token pair against the session.
func (m *Manager) StoreTokens(sessionID string, tokens *oauth.Tokens) error {
	if tokens == nil {
		return errors.New("[Manager.StoreTokens] tokens are required")
	}
	return m.repo.Update(sessionID, func(record *Record) {
		record.AccessToken = tokens.AccessToken
		record.RefreshToken = tokens.RefreshToken
		record.ExpiresAt = tokens.ExpiresAt
	})
}

// GetAccessToken returns the session's access token, refreshing it exactly
// once when the stored expiry has passed. A failed refresh clears the
// session and returns an empty token.
func (m *Manager) GetAccessToken(ctx context.Context, sessionID string) (string, error) {
	record, err := m.repo.Get(sessionID)
	if errors.Is(err, NotFoundErr) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "[Manager.GetAccessToken] repo.Get")
	}
	if record.AccessToken == "" {
		return "", nil
	}
	if !m.nowTime().After(record.ExpiresAt) {
		return record.AccessToken, nil
	}

	tokens, err := m.refresher.Refresh(ctx, record.RefreshToken)
	if err != nil {
		log.Warn().
			Str("access_token", oauth.Redact(record.AccessToken)).
			Err(err).
			Msg("token refresh failed, clearing session")
		if clearErr := m.Clear(sessionID); clearErr != nil {
			return "", errors.Wrap(clearErr, "[Manager.GetAccessToken] clear after failed refresh")
		}
		return "", nil
	}
	if err := m.StoreTokens(sessionID, tokens); err != nil {
		return "", errors.Wrap(err, "[Manager.GetAccessToken] store refreshed tokens")
	}
	return tokens.AccessToken, nil
}

// Authenticated reports whether the session currently holds a usable access
// token.
func (m *Manager) Authenticated(ctx context.Context, sessionID string) bool {
	token, err := m.GetAccessToken(ctx, sessionID)
	return err == nil && token != ""
}

// LastActivity returns the session's last-activity timestamp; the zero time
// when the session is absent or has never been touched.
func (m *Manager) LastActivity(sessionID string) (time.Time, error) {
	record, err := m.repo.Get(sessionID)
	if errors.Is(err, NotFoundErr) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, errors.Wrap(err, "[Manager.LastActivity] repo.Get")
	}
	return record.LastActivity, nil
}

// Touch stamps the session's last-activity timestamp with now.
func (m *Manager) Touch(sessionID string) error {
	return m.repo.Update(sessionID, func(record *Record) {
		record.LastActivity = m.nowTime()
	})
}

// Clear removes every session field. Idempotent.
func (m *Manager) Clear(sessionID string) error {
	return m.repo.Delete(sessionID)
}
