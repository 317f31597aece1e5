package warehouse

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// rsaKeyProcedure is the maintenance procedure that records key rotations
// in the audit tables before applying them. When it is absent the client
// falls back to a direct ALTER USER.
const rsaKeyProcedure = "UPLAND_MAINTENANCE.SECURITY.SP_UPDATE_USER_RSA_KEY"

var (
	InvalidKeySlotErr = errors.New("key slot must be 1 or 2")
	InvalidKeyBodyErr = errors.New("public key body must be base64 data")

	base64BodyRegexp = regexp.MustCompile(`^[A-Za-z0-9+/=]+$`)
)

// PublicKeyBody strips PEM armor and whitespace from pemOrBody and returns
// the bare base64 key body the warehouse expects.
func PublicKeyBody(pemOrBody string) (string, error) {
	var body strings.Builder
	for _, line := range strings.Split(pemOrBody, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-----") {
			continue
		}
		body.WriteString(line)
	}
	if body.Len() == 0 || !base64BodyRegexp.MatchString(body.String()) {
		return "", InvalidKeyBodyErr
	}
	return body.String(), nil
}

func keyColumn(slot int) (string, error) {
	switch slot {
	case 1:
		return "RSA_PUBLIC_KEY", nil
	case 2:
		return "RSA_PUBLIC_KEY_2", nil
	default:
		return "", InvalidKeySlotErr
	}
}

// SetUserPublicKey installs a public key into one of the user's two key
// slots. The key body is a bind parameter; only the validated username and
// the fixed column name are interpolated.
func (c *Client) SetUserPublicKey(ctx context.Context, username string, slot int, pemOrBody string) error {
	if err := ValidateIdentifier(username, "user"); err != nil {
		return err
	}
	column, err := keyColumn(slot)
	if err != nil {
		return err
	}
	body, err := PublicKeyBody(pemOrBody)
	if err != nil {
		return err
	}
	if _, err := c.query(ctx, fmt.Sprintf("ALTER USER %s SET %s = ?", username, column), body); err != nil {
		return err
	}
	c.ClearUserCache()
	return nil
}

// UnsetUserPublicKey removes the key in the given slot.
func (c *Client) UnsetUserPublicKey(ctx context.Context, username string, slot int) error {
	if err := ValidateIdentifier(username, "user"); err != nil {
		return err
	}
	column, err := keyColumn(slot)
	if err != nil {
		return err
	}
	if _, err := c.query(ctx, fmt.Sprintf("ALTER USER %s UNSET %s", username, column)); err != nil {
		return err
	}
	c.ClearUserCache()
	return nil
}

// UpdateUserRSAKey rotates a user's key through the audited maintenance
// procedure, falling back to a direct ALTER USER when the procedure is not
// installed in this account.
func (c *Client) UpdateUserRSAKey(ctx context.Context, username string, slot int, pemOrBody string) error {
	if err := ValidateIdentifier(username, "user"); err != nil {
		return err
	}
	column, err := keyColumn(slot)
	if err != nil {
		return err
	}
	body, err := PublicKeyBody(pemOrBody)
	if err != nil {
		return err
	}

	if _, err := c.CallProcedure(ctx, rsaKeyProcedure, username, column, body); err != nil {
		if errors.Is(err, NotConnectedErr) {
			return err
		}
		log.Warn().
			Str("user", username).
			Err(err).
			Msg("key rotation procedure unavailable, applying ALTER USER directly")
		return c.SetUserPublicKey(ctx, username, slot, body)
	}
	c.ClearUserCache()
	return nil
}
