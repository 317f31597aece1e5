package oauth

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	stateLength   = 32
	stateTimeout  = 5 * time.Minute
	stateAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// StateStore is the registry of outstanding CSRF states for the
// authorization-code flow. States are single use and expire after
// stateTimeout; expiry is only checked lazily when a state is consumed,
// there is no background sweep.
type StateStore struct {
	mu      sync.Mutex
	states  map[string]time.Time
	nowTime func() time.Time
}

// StateStoreOption defines a function type to modify the StateStore instance.
type StateStoreOption func(*StateStore)

// WithStateNowTime sets the now time function (primarily for testing)
func WithStateNowTime(nowFunc func() time.Time) StateStoreOption {
	return func(s *StateStore) {
		s.nowTime = nowFunc
	}
}

// NewStateStore creates an empty in-memory state registry.
func NewStateStore(options ...StateStoreOption) *StateStore {
	s := &StateStore{
		states:  make(map[string]time.Time),
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Issue generates an unpredictable state string and records its issue time.
func (s *StateStore) Issue() (string, error) {
	state, err := randomState(stateLength)
	if err != nil {
		return "", errors.Wrap(err, "[StateStore.Issue] generate state")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state] = s.nowTime()
	return state, nil
}

// Consume returns true and removes the entry iff the state is known and was
// issued within the last stateTimeout. A second Consume with the same value
// always returns false, and an expired entry is removed on the failed
// attempt.
func (s *StateStore) Consume(state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	issuedAt, ok := s.states[state]
	if !ok {
		return false
	}
	delete(s.states, state)
	return s.nowTime().Sub(issuedAt) <= stateTimeout
}

func randomState(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = stateAlphabet[int(b)%len(stateAlphabet)]
	}
	return string(buf), nil
}
