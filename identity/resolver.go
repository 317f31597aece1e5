package identity

import (
	"context"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/snowflake-admin-console/oauth"
	"github.com/jrsteele09/snowflake-admin-console/session"
)

var (
	NoTokenErr          = errors.New("no access token in session")
	UndecodableTokenErr = errors.New("access token claims could not be decoded")
)

// Identity is derived on demand from the current access token's claims; it
// is never persisted and recomputing it is side-effect free.
type Identity struct {
	User     string `json:"user"`
	Role     string `json:"role"`
	CanGrant bool   `json:"can_grant"`

	// Degraded marks a fallback identity produced when the token claims
	// could not be decoded. A degraded identity never carries CanGrant and
	// must not be used for authorization decisions beyond basic liveness.
	Degraded bool `json:"degraded,omitempty"`
}

// Fallback configures the legacy degraded-identity behaviour. When disabled
// (the default) an undecodable token fails closed with UndecodableTokenErr.
type Fallback struct {
	Enabled bool
	User    string
	Role    string
}

// Resolver decodes access-token claims into a (user, role) identity plus a
// can-grant capability flag.
type Resolver struct {
	manager         *session.Manager
	allowGrantRoles map[string]struct{}
	fallback        Fallback
}

// NewResolver creates a Resolver. allowGrantRoles is the set of warehouse
// roles permitted to grant permissions; matching is case-insensitive.
func NewResolver(manager *session.Manager, allowGrantRoles []string, fallback Fallback) *Resolver {
	roles := make(map[string]struct{}, len(allowGrantRoles))
	for _, role := range allowGrantRoles {
		role = strings.ToUpper(strings.TrimSpace(role))
		if role != "" {
			roles[role] = struct{}{}
		}
	}
	return &Resolver{
		manager:         manager,
		allowGrantRoles: roles,
		fallback:        fallback,
	}
}

// Resolve extracts the identity from the session's current access token.
// The token signature is deliberately not verified: authenticity was
// established at exchange time over the server-to-server TLS channel, and
// this decode only pulls out display claims. The user is the last
// dot-separated segment of "sub", the role the last colon-separated segment
// of "scope", both uppercased.
func (r *Resolver) Resolve(ctx context.Context, sessionID string) (*Identity, error) {
	token, err := r.manager.GetAccessToken(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, NoTokenErr
	}

	claims := jwtlib.MapClaims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(token, claims); err != nil {
		log.Warn().
			Str("access_token", oauth.Redact(token)).
			Err(err).
			Msg("could not decode access token claims")
		if !r.fallback.Enabled {
			return nil, errors.Wrap(UndecodableTokenErr, err.Error())
		}
		return &Identity{
			User:     strings.ToUpper(r.fallback.User),
			Role:     strings.ToUpper(r.fallback.Role),
			Degraded: true,
		}, nil
	}

	sub, _ := claims["sub"].(string)
	scope, _ := claims["scope"].(string)

	ident := &Identity{
		User: strings.ToUpper(lastSegment(sub, ".")),
		Role: strings.ToUpper(lastSegment(scope, ":")),
	}
	_, ident.CanGrant = r.allowGrantRoles[ident.Role]
	return ident, nil
}

func lastSegment(value, separator string) string {
	parts := strings.Split(value, separator)
	return parts[len(parts)-1]
}
