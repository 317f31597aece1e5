package session

import (
	"fmt"
	"sync"
)

// InMemoryRepo is a thread-safe in-memory implementation of Repo. Sessions
// do not survive a process restart; that only bounds how long a login
// lasts, not durable state.
type InMemoryRepo struct {
	mu       sync.RWMutex
	sessions map[string]Record
}

// NewInMemoryRepo creates a new in-memory session repository
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		sessions: make(map[string]Record),
	}
}

// Get retrieves a session record by ID
func (r *InMemoryRepo) Get(sessionID string) (Record, error) {
	if sessionID == "" {
		return Record{}, fmt.Errorf("sessionID is required")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.sessions[sessionID]
	if !ok {
		return Record{}, NotFoundErr
	}
	return record, nil
}

// Update applies fn to the record under the write lock, creating it if
// absent. Holding the lock for the whole read-modify-write keeps concurrent
// requests from the same browser from losing updates.
func (r *InMemoryRepo) Update(sessionID string, fn func(*Record)) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID is required")
	}
	if fn == nil {
		return fmt.Errorf("update function is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record := r.sessions[sessionID]
	fn(&record)
	r.sessions[sessionID] = record
	return nil
}

// Delete removes a session record
func (r *InMemoryRepo) Delete(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, sessionID)
	return nil
}
