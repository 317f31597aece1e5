package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/snowflake-admin-console/internal/config"
	"github.com/jrsteele09/snowflake-admin-console/oauth"
	"github.com/jrsteele09/snowflake-admin-console/server"
	"github.com/jrsteele09/snowflake-admin-console/session"
	"github.com/jrsteele09/snowflake-admin-console/warehouse"
)

// fakeWarehouse records every call so tests can assert what reached the
// warehouse layer and, crucially, what never did.
type fakeWarehouse struct {
	connectTokens []string
	procedures    []string
	procedureArgs [][]any
}

func (f *fakeWarehouse) Connect(_ context.Context, accessToken string) error {
	f.connectTokens = append(f.connectTokens, accessToken)
	return nil
}

func (f *fakeWarehouse) ListDatabases(context.Context) ([]warehouse.Database, error) {
	return []warehouse.Database{{Name: "ANALYTICS", Owner: "SYSADMIN"}}, nil
}

func (f *fakeWarehouse) ListSchemas(_ context.Context, database string) ([]warehouse.Schema, error) {
	return []warehouse.Schema{{Name: "PUBLIC", DatabaseName: database}}, nil
}

func (f *fakeWarehouse) ListRoles(context.Context) ([]warehouse.Role, error) {
	return []warehouse.Role{{Name: "SYSADMIN"}, {Name: "DEV"}}, nil
}

func (f *fakeWarehouse) RolePrivileges(_ context.Context, role string) ([]warehouse.Privilege, error) {
	return []warehouse.Privilege{{Privilege: "USAGE", GrantedOn: "DATABASE", Name: "ANALYTICS"}}, nil
}

func (f *fakeWarehouse) RoleGrants(_ context.Context, role string) ([]warehouse.Grantee, error) {
	return []warehouse.Grantee{{GrantedTo: "USER", GranteeName: "JDOE"}}, nil
}

func (f *fakeWarehouse) ListUsers(context.Context) ([]warehouse.User, error) {
	return []warehouse.User{{Name: "JDOE", LoginName: "jdoe"}}, nil
}

func (f *fakeWarehouse) ListUserKeyDetails(context.Context) ([]warehouse.UserKeyDetails, error) {
	return []warehouse.UserKeyDetails{{Name: "JDOE", LoginName: "jdoe", HasRSAPublicKey: true}}, nil
}

func (f *fakeWarehouse) UserKeyDetails(_ context.Context, username string) (*warehouse.UserKeyDetails, error) {
	if username != "JDOE" {
		return nil, errors.Wrap(warehouse.UserNotFoundErr, username)
	}
	return &warehouse.UserKeyDetails{Name: "JDOE", LoginName: "jdoe", HasRSAPublicKey: true}, nil
}

func (f *fakeWarehouse) ListStoredProcedures(_ context.Context, schema string) ([]string, error) {
	return []string{"SP_GRANT_PERMISSIONS", "SP_UPDATE_USER_RSA_KEY"}, nil
}

func (f *fakeWarehouse) ListWarehouses(context.Context) ([]warehouse.WarehouseInfo, error) {
	return []warehouse.WarehouseInfo{{Name: "COMPUTE_WH", State: "STARTED"}}, nil
}

func (f *fakeWarehouse) SetWarehouse(_ context.Context, name string) error {
	f.procedures = append(f.procedures, "use_warehouse")
	f.procedureArgs = append(f.procedureArgs, []any{name})
	return nil
}

func (f *fakeWarehouse) CallProcedure(_ context.Context, name string, args ...any) ([]map[string]any, error) {
	f.procedures = append(f.procedures, name)
	f.procedureArgs = append(f.procedureArgs, args)
	return []map[string]any{{"status": "OK"}}, nil
}

func (f *fakeWarehouse) UpdateUserRSAKey(ctx context.Context, username string, slot int, pemOrBody string) error {
	f.procedures = append(f.procedures, "update_rsa_key")
	f.procedureArgs = append(f.procedureArgs, []any{username, slot, pemOrBody})
	return nil
}

func (f *fakeWarehouse) UnsetUserPublicKey(_ context.Context, username string, slot int) error {
	f.procedures = append(f.procedures, "unset_rsa_key")
	f.procedureArgs = append(f.procedureArgs, []any{username, slot})
	return nil
}

type fixture struct {
	console   *httptest.Server
	client    *http.Client
	warehouse *fakeWarehouse
}

// newFixture stands up a fake identity provider plus the console itself and
// returns a cookie-carrying client pointed at the console. Options may swap
// collaborators in the dependency set before the server is built.
func newFixture(t *testing.T, role string, opts ...func(*server.Deps)) *fixture {
	t.Helper()

	accessToken, err := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, jwtlib.MapClaims{
		"sub":   "ACCT.JDOE",
		"scope": "refresh_token session:role:" + role,
	}).SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  accessToken,
			"refresh_token": "refresh-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(idp.Close)

	t.Setenv("ENV", "TEST")
	t.Setenv("OAUTH_CLIENT_ID", "console-client")
	t.Setenv("OAUTH_CLIENT_SECRET", "console-secret")
	t.Setenv("OAUTH_AUTH_URL", "https://idp.example.com/authorize")
	t.Setenv("OAUTH_TOKEN_URL", idp.URL)
	t.Setenv("OAUTH_SCOPE", "session:role:"+role)

	wh := &fakeWarehouse{}
	deps := server.Deps{Warehouse: wh}
	for _, opt := range opts {
		opt(&deps)
	}
	s, err := server.New(config.New(), deps)
	require.NoError(t, err)

	console := httptest.NewServer(s)
	t.Cleanup(console.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &fixture{console: console, client: client, warehouse: wh}
}

// login walks the full authorization-code flow against the fixture's fake
// provider and leaves the session cookie in the client jar.
func (f *fixture) login(t *testing.T) {
	t.Helper()

	resp, err := f.client.Get(f.console.URL + server.RouteAuthLogin)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	authURL, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	state := authURL.Query().Get("state")
	require.NotEmpty(t, state)

	resp, err = f.client.Get(f.console.URL + server.RouteCallback + "?code=auth-code&state=" + url.QueryEscape(state))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/", resp.Header.Get("Location"))
}

func (f *fixture) getJSON(t *testing.T, path string, out any) *http.Response {
	t.Helper()
	resp, err := f.client.Get(f.console.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestServer_LoginFlow(t *testing.T) {
	f := newFixture(t, "SYSADMIN")

	var status map[string]bool
	f.getJSON(t, server.RouteSession, &status)
	require.False(t, status["authenticated"])

	f.login(t)

	f.getJSON(t, server.RouteSession, &status)
	require.True(t, status["authenticated"])
}

func TestServer_CallbackRejectsForgedState(t *testing.T) {
	f := newFixture(t, "SYSADMIN")

	resp, err := f.client.Get(f.console.URL + server.RouteCallback + "?code=auth-code&state=forged")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_CallbackPropagatesProviderError(t *testing.T) {
	f := newFixture(t, "SYSADMIN")

	resp, err := f.client.Get(f.console.URL + server.RouteCallback + "?error=access_denied&error_description=user+cancelled")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_UserInfo(t *testing.T) {
	f := newFixture(t, "SYSADMIN")
	f.login(t)

	var ident map[string]any
	resp := f.getJSON(t, server.RouteUserInfo, &ident)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "JDOE", ident["user"])
	require.Equal(t, "SYSADMIN", ident["role"])
	require.Equal(t, true, ident["can_grant"])
}

func TestServer_RequiresSession(t *testing.T) {
	f := newFixture(t, "SYSADMIN")

	var body map[string]string
	resp := f.getJSON(t, server.RouteDatabases, &body)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "Not authenticated", body["error_description"])

	// The gate rejected the request before any warehouse work happened.
	require.Empty(t, f.warehouse.connectTokens)
}

func TestServer_MetadataRoutes(t *testing.T) {
	f := newFixture(t, "SYSADMIN")
	f.login(t)

	for _, path := range []string{
		server.RouteDatabases,
		"/api/databases/ANALYTICS/schemas",
		server.RouteRoles,
		"/api/roles/DEV/privileges",
		"/api/roles/DEV/grants",
		server.RouteUsers,
		server.RouteWarehouses,
	} {
		var body map[string]any
		resp := f.getJSON(t, path, &body)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		require.NotNil(t, body["data"], path)
	}

	require.NotEmpty(t, f.warehouse.connectTokens)
}

func TestServer_SetWarehouse(t *testing.T) {
	f := newFixture(t, "SYSADMIN")
	f.login(t)

	body, _ := json.Marshal(map[string]string{"warehouse": "COMPUTE_WH"})
	resp, err := f.client.Post(f.console.URL+server.RouteWarehouses, "application/json", bytes.NewBuffer(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []any{"COMPUTE_WH"}, f.warehouse.procedureArgs[0])

	body, _ = json.Marshal(map[string]string{"warehouse": "bad name"})
	resp, err = f.client.Post(f.console.URL+server.RouteWarehouses, "application/json", bytes.NewBuffer(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_RejectsInvalidIdentifiers(t *testing.T) {
	f := newFixture(t, "SYSADMIN")
	f.login(t)

	resp := f.getJSON(t, "/api/databases/"+url.PathEscape("db;DROP TABLE users")+"/schemas", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Grants(t *testing.T) {
	payload := func() *bytes.Buffer {
		body, _ := json.Marshal(map[string]string{
			"db":        "ANALYTICS",
			"schema":    "PUBLIC",
			"role":      "DEV",
			"perm_type": "read",
		})
		return bytes.NewBuffer(body)
	}

	t.Run("sysadmin can grant", func(t *testing.T) {
		f := newFixture(t, "SYSADMIN")
		f.login(t)

		resp, err := f.client.Post(f.console.URL+server.RouteGrants, "application/json", payload())
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		require.Len(t, f.warehouse.procedures, 1)
		require.Equal(t, []any{"ANALYTICS", "PUBLIC", "DEV", "read"}, f.warehouse.procedureArgs[0])
	})

	t.Run("non granting role gets 403", func(t *testing.T) {
		f := newFixture(t, "DEV")
		f.login(t)

		resp, err := f.client.Post(f.console.URL+server.RouteGrants, "application/json", payload())
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusForbidden, resp.StatusCode)

		// The denial happened before any procedure call.
		require.Empty(t, f.warehouse.procedures)
	})

	t.Run("bad perm_type rejected", func(t *testing.T) {
		f := newFixture(t, "SYSADMIN")
		f.login(t)

		body, _ := json.Marshal(map[string]string{
			"db": "ANALYTICS", "schema": "PUBLIC", "role": "DEV", "perm_type": "all",
		})
		resp, err := f.client.Post(f.console.URL+server.RouteGrants, "application/json", bytes.NewBuffer(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestServer_UserKeys(t *testing.T) {
	f := newFixture(t, "SECURITYADMIN")
	f.login(t)

	body, _ := json.Marshal(map[string]any{
		"public_key": "-----BEGIN PUBLIC KEY-----\nMIIBIjANBgkq\n-----END PUBLIC KEY-----",
		"slot":       2,
	})
	resp, err := f.client.Post(f.console.URL+"/api/users/JDOE/keys", "application/json", bytes.NewBuffer(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, []string{"update_rsa_key"}, f.warehouse.procedures)
	require.Equal(t, []any{"JDOE", 2, "-----BEGIN PUBLIC KEY-----\nMIIBIjANBgkq\n-----END PUBLIC KEY-----"}, f.warehouse.procedureArgs[0])

	req, err := http.NewRequest(http.MethodDelete, f.console.URL+"/api/users/JDOE/keys?slot=2", nil)
	require.NoError(t, err)
	resp, err = f.client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "unset_rsa_key", f.warehouse.procedures[1])
}

func TestServer_UserKeyManagementView(t *testing.T) {
	f := newFixture(t, "SECURITYADMIN")
	f.login(t)

	var listing struct {
		Data []warehouse.UserKeyDetails `json:"data"`
	}
	resp := f.getJSON(t, server.RouteUserKeyList, &listing)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, listing.Data, 1)
	require.Equal(t, "JDOE", listing.Data[0].Name)
	require.True(t, listing.Data[0].HasRSAPublicKey)

	var details warehouse.UserKeyDetails
	resp = f.getJSON(t, "/api/users/JDOE", &details)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "jdoe", details.LoginName)
}

func TestServer_UserDetailsErrors(t *testing.T) {
	f := newFixture(t, "SECURITYADMIN")
	f.login(t)

	var body map[string]string
	resp := f.getJSON(t, "/api/users/NOBODY", &body)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "User not found", body["error_description"])

	resp = f.getJSON(t, "/api/users/"+url.PathEscape("bad name"), nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Procedures(t *testing.T) {
	f := newFixture(t, "SYSADMIN")
	f.login(t)

	var body struct {
		Data []string `json:"data"`
	}
	resp := f.getJSON(t, "/api/procedures/SECURITY", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body.Data, "SP_GRANT_PERMISSIONS")
}

// flakyRepo fails every update after the first, so the error path that
// follows a successful token store can be exercised.
type flakyRepo struct {
	session.Repo
	updates int
}

func (r *flakyRepo) Update(sessionID string, fn func(*session.Record)) error {
	r.updates++
	if r.updates > 1 {
		return errors.New("session store unavailable")
	}
	return r.Repo.Update(sessionID, fn)
}

func TestServer_CallbackFailsWhenActivityStampFails(t *testing.T) {
	f := newFixture(t, "SYSADMIN", func(deps *server.Deps) {
		deps.Exchanger = oauth.NewExchanger(config.New(), oauth.NewStateStore())
		sessions, err := session.NewManager(&flakyRepo{Repo: session.NewInMemoryRepo()}, deps.Exchanger)
		require.NoError(t, err)
		deps.Sessions = sessions
	})

	resp, err := f.client.Get(f.console.URL + server.RouteAuthLogin)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	authURL, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	state := authURL.Query().Get("state")
	require.NotEmpty(t, state)

	resp, err = f.client.Get(f.console.URL + server.RouteCallback + "?code=auth-code&state=" + url.QueryEscape(state))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	// No session cookie was issued for the half-created session.
	var status map[string]bool
	f.getJSON(t, server.RouteSession, &status)
	require.False(t, status["authenticated"])
}

func TestServer_Logout(t *testing.T) {
	f := newFixture(t, "SYSADMIN")
	f.login(t)

	resp, err := f.client.Get(f.console.URL + server.RouteAuthLogout)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	var body map[string]string
	apiResp := f.getJSON(t, server.RouteDatabases, &body)
	require.Equal(t, http.StatusUnauthorized, apiResp.StatusCode)

	// Logging out twice is fine.
	resp, err = f.client.Get(f.console.URL + server.RouteAuthLogout)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestServer_InactivityTimeout(t *testing.T) {
	t.Setenv("SESSION_INACTIVITY_TIMEOUT", "1")

	f := newFixture(t, "SYSADMIN")
	f.login(t)

	resp := f.getJSON(t, server.RouteDatabases, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	time.Sleep(1100 * time.Millisecond)

	var body map[string]string
	apiResp := f.getJSON(t, server.RouteDatabases, &body)
	require.Equal(t, http.StatusUnauthorized, apiResp.StatusCode)
	require.Equal(t, "Session expired due to inactivity", body["error_description"])

	// The session was cleared, not just rejected.
	var status map[string]bool
	f.getJSON(t, server.RouteSession, &status)
	require.False(t, status["authenticated"])
}
