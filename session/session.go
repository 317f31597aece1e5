package session

import "time"

// Record is the per-browser-session state held server side, keyed by the
// session cookie. Presence of AccessToken is what "authenticated" means; an
// empty AccessToken is an unauthenticated session regardless of the other
// fields. Records are mutated only through the Manager.
type Record struct {
	AccessToken  string    // opaque bearer string from the identity provider
	RefreshToken string    // optional; empty when the provider issued none
	ExpiresAt    time.Time // token lifetime minus the refresh safety margin
	LastActivity time.Time // stamped by the gate on every authorized request
}
