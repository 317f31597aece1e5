package warehouse_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/snowflake-admin-console/warehouse"
)

func TestPublicKeyBody(t *testing.T) {
	t.Run("strips PEM armor", func(t *testing.T) {
		pem := "-----BEGIN PUBLIC KEY-----\nMIIBIjANBgkqhkiG9w0BAQEF\nAAOCAQ8AMIIBCgKCAQEA\n-----END PUBLIC KEY-----\n"
		body, err := warehouse.PublicKeyBody(pem)
		require.NoError(t, err)
		require.Equal(t, "MIIBIjANBgkqhkiG9w0BAQEFAAOCAQ8AMIIBCgKCAQEA", body)
	})

	t.Run("accepts a bare key body", func(t *testing.T) {
		body, err := warehouse.PublicKeyBody("MIIBIjANBgkqhkiG9w0BAQEF")
		require.NoError(t, err)
		require.Equal(t, "MIIBIjANBgkqhkiG9w0BAQEF", body)
	})

	t.Run("rejects non base64 content", func(t *testing.T) {
		_, err := warehouse.PublicKeyBody("MIIBIj'; ALTER USER x --")
		require.ErrorIs(t, err, warehouse.InvalidKeyBodyErr)
	})

	t.Run("rejects empty input", func(t *testing.T) {
		_, err := warehouse.PublicKeyBody("")
		require.ErrorIs(t, err, warehouse.InvalidKeyBodyErr)

		_, err = warehouse.PublicKeyBody("-----BEGIN PUBLIC KEY-----\n-----END PUBLIC KEY-----")
		require.ErrorIs(t, err, warehouse.InvalidKeyBodyErr)
	})
}
