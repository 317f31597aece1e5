package oauth

import "time"

// Tokens is the result of a successful authorization-code exchange or
// refresh against the identity provider.
type Tokens struct {
	// AccessToken is the opaque bearer token presented to the warehouse.
	AccessToken string

	// RefreshToken is empty when the provider did not return one.
	RefreshToken string

	// ExpiresAt is the token lifetime minus a safety margin, so a refresh
	// happens before the provider-side expiry rather than after it.
	ExpiresAt time.Time
}
