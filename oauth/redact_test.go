package oauth_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/snowflake-admin-console/oauth"
)

func TestRedact(t *testing.T) {
	t.Run("empty secret stays empty", func(t *testing.T) {
		require.Equal(t, "", oauth.Redact(""))
	})

	t.Run("short secret hides the prefix too", func(t *testing.T) {
		require.Equal(t, "...(3 chars)", oauth.Redact("abc"))
	})

	t.Run("long secret keeps a four char prefix", func(t *testing.T) {
		require.Equal(t, "supe...(11 chars)", oauth.Redact("supersecret"))
	})

	t.Run("never contains the full secret", func(t *testing.T) {
		secret := "ver8-fyJhbGciOiJIUzI1NiJ9"
		require.NotContains(t, oauth.Redact(secret), secret)
	})
}
