package warehouse_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/snowflake-admin-console/warehouse"
)

func TestClient_RequiresConnection(t *testing.T) {
	client := warehouse.NewClient(warehouse.Config{Account: "acct"})
	ctx := context.Background()

	_, err := client.ListDatabases(ctx)
	require.ErrorIs(t, err, warehouse.NotConnectedErr)

	_, err = client.CallProcedure(ctx, "MAINT.SEC.SP_TEST", 1)
	require.ErrorIs(t, err, warehouse.NotConnectedErr)

	err = client.SetWarehouse(ctx, "COMPUTE_WH")
	require.ErrorIs(t, err, warehouse.NotConnectedErr)

	_, err = client.ListUserKeyDetails(ctx)
	require.ErrorIs(t, err, warehouse.NotConnectedErr)

	_, err = client.UserKeyDetails(ctx, "JDOE")
	require.ErrorIs(t, err, warehouse.NotConnectedErr)

	_, err = client.ListStoredProcedures(ctx, "MAINT.SECURITY")
	require.ErrorIs(t, err, warehouse.NotConnectedErr)

	err = client.SetUserPublicKey(ctx, "JDOE", 1, "MIIBIjAN")
	require.ErrorIs(t, err, warehouse.NotConnectedErr)
}

func TestClient_ValidatesBeforeSQL(t *testing.T) {
	// Identifier validation fires before any connection is needed, so a bad
	// name can never reach a statement.
	client := warehouse.NewClient(warehouse.Config{Account: "acct"})
	ctx := context.Background()

	var invalid *warehouse.InvalidIdentifierError

	_, err := client.ListSchemas(ctx, "db; DROP TABLE users")
	require.ErrorAs(t, err, &invalid)

	_, err = client.RolePrivileges(ctx, "bad role")
	require.ErrorAs(t, err, &invalid)

	_, err = client.CallProcedure(ctx, "schema..proc")
	require.ErrorAs(t, err, &invalid)

	err = client.UpdateUserRSAKey(ctx, "user'; --", 1, "MIIBIjAN")
	require.ErrorAs(t, err, &invalid)

	err = client.UnsetUserPublicKey(ctx, "JDOE", 3)
	require.ErrorIs(t, err, warehouse.InvalidKeySlotErr)

	_, err = client.UserKeyDetails(ctx, "bad user")
	require.ErrorAs(t, err, &invalid)

	_, err = client.ListStoredProcedures(ctx, "schema..bad")
	require.ErrorAs(t, err, &invalid)

	err = client.SetUserPublicKey(ctx, "JDOE", 3, "MIIBIjAN")
	require.ErrorIs(t, err, warehouse.InvalidKeySlotErr)

	err = client.SetUserPublicKey(ctx, "JDOE", 1, "not base64!!")
	require.ErrorIs(t, err, warehouse.InvalidKeyBodyErr)
}

func TestClient_CloseWithoutConnect(t *testing.T) {
	client := warehouse.NewClient(warehouse.Config{Account: "acct"})
	require.NoError(t, client.Close())
}
