package session

import "errors"

var NotFoundErr = errors.New("session not found")

// Repo stores session records keyed by session ID. Update must apply the
// read-modify-write atomically so concurrent requests from the same browser
// cannot lose writes.
type Repo interface {
	// Get retrieves a session record; NotFoundErr when absent.
	Get(sessionID string) (Record, error)

	// Update applies fn to the record under the store's lock, creating the
	// record if it does not exist yet.
	Update(sessionID string, fn func(*Record)) error

	// Delete removes a session record; deleting an absent record is not an
	// error.
	Delete(sessionID string) error
}
