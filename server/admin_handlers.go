package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/snowflake-admin-console/session"
	"github.com/jrsteele09/snowflake-admin-console/warehouse"
)

// grantProcedure applies a permission grant through the audited maintenance
// procedure rather than raw GRANT statements.
const grantProcedure = "UPLAND_MAINTENANCE.SECURITY.SP_GRANT_PERMISSIONS"

// WarehouseClient is the warehouse surface the handlers need. Production
// wires *warehouse.Client; tests substitute a recording fake.
type WarehouseClient interface {
	Connect(ctx context.Context, accessToken string) error
	ListDatabases(ctx context.Context) ([]warehouse.Database, error)
	ListSchemas(ctx context.Context, database string) ([]warehouse.Schema, error)
	ListRoles(ctx context.Context) ([]warehouse.Role, error)
	RolePrivileges(ctx context.Context, role string) ([]warehouse.Privilege, error)
	RoleGrants(ctx context.Context, role string) ([]warehouse.Grantee, error)
	ListUsers(ctx context.Context) ([]warehouse.User, error)
	ListUserKeyDetails(ctx context.Context) ([]warehouse.UserKeyDetails, error)
	UserKeyDetails(ctx context.Context, username string) (*warehouse.UserKeyDetails, error)
	ListStoredProcedures(ctx context.Context, schema string) ([]string, error)
	ListWarehouses(ctx context.Context) ([]warehouse.WarehouseInfo, error)
	SetWarehouse(ctx context.Context, name string) error
	CallProcedure(ctx context.Context, name string, args ...any) ([]map[string]any, error)
	UpdateUserRSAKey(ctx context.Context, username string, slot int, pemOrBody string) error
	UnsetUserPublicKey(ctx context.Context, username string, slot int) error
}

// withConnection resolves the session's access token and ensures the
// warehouse connection is live before the handler's query runs. The gate
// has already vetted the session by the time this is called.
func (s *Server) withConnection(r *http.Request) (context.Context, error) {
	ctx := r.Context()
	token, err := s.sessions.GetAccessToken(ctx, requestSessionID(r))
	if err != nil {
		return nil, err
	}
	if token == "" {
		// The refresh failed between the gate check and now; the session
		// has already been cleared.
		return nil, session.NotAuthenticatedErr
	}
	if err := s.warehouse.Connect(ctx, token); err != nil {
		return nil, err
	}
	return ctx, nil
}

func (s *Server) writeWarehouseError(w http.ResponseWriter, err error) {
	var invalid *warehouse.InvalidIdentifierError
	switch {
	case errors.As(err, &invalid):
		writeJSONError(w, "invalid_request", invalid.Error(), http.StatusBadRequest)
	case isAuthError(err):
		writeJSONError(w, "unauthorized", err.Error(), http.StatusUnauthorized)
	default:
		log.Error().Err(err).Msg("warehouse request failed")
		writeJSONError(w, "server_error", "Warehouse request failed", http.StatusBadGateway)
	}
}

// UserInfoHandler returns the identity derived from the current access
// token's claims.
func (s *Server) UserInfoHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, err := s.identity.Resolve(r.Context(), requestSessionID(r))
		if err != nil {
			writeJSONError(w, "unauthorized", err.Error(), http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, ident)
	}
}

func (s *Server) DatabasesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, err := s.withConnection(r)
		if err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		databases, err := s.warehouse.ListDatabases(ctx)
		if err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": databases})
	}
}

func (s *Server) SchemasHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		database := r.PathValue("database")
		if err := warehouse.ValidateIdentifier(database, "database"); err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		ctx, err := s.withConnection(r)
		if err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		schemas, err := s.warehouse.ListSchemas(ctx, database)
		if err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": schemas})
	}
}

func (s *Server) RolesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, err := s.withConnection(r)
		if err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		roles, err := s.warehouse.ListRoles(ctx)
		if err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": roles})
	}
}

func (s *Server) RolePrivilegesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := r.PathValue("role")
		if err := warehouse.ValidateIdentifier(role, "role"); err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		ctx, err := s.withConnection(r)
		if err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		privileges, err := s.warehouse.RolePrivileges(ctx, role)
		if err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": privileges})
	}
}

func (s *Server) RoleGrantsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := r.PathValue("role")
		if err := warehouse.ValidateIdentifier(role, "role"); err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		ctx, err := s.withConnection(r)
		if err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		grants, err := s.warehouse.RoleGrants(ctx, role)
		if err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": grants})
	}
}

func (s *Server) UsersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, err := s.withConnection(r)
		if err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		users, err := s.warehouse.ListUsers(ctx)
		if err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": users})
	}
}

func (s *Server) WarehousesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, err := s.withConnection(r)
		if err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		warehouses, err := s.warehouse.ListWarehouses(ctx)
		if err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": warehouses})
	}
}

// UserKeyListHandler returns the key-management view rows for every user,
// the single-round-trip listing the key rotation UI is built on.
func (s *Server) UserKeyListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, err := s.withConnection(r)
		if err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		users, err := s.warehouse.ListUserKeyDetails(ctx)
		if err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": users})
	}
}

// UserDetailsHandler returns the key-management view row for one user.
func (s *Server) UserDetailsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username := r.PathValue("username")
		if err := warehouse.ValidateIdentifier(username, "user"); err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		ctx, err := s.withConnection(r)
		if err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		details, err := s.warehouse.UserKeyDetails(ctx, username)
		if err != nil {
			if errors.Is(err, warehouse.UserNotFoundErr) {
				writeJSONError(w, "not_found", "User not found", http.StatusNotFound)
				return
			}
			s.writeWarehouseError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, details)
	}
}

// ProceduresHandler lists the stored procedures in a schema; the schema
// path value may be database qualified (DB.SCHEMA).
func (s *Server) ProceduresHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		schema := r.PathValue("schema")
		ctx, err := s.withConnection(r)
		if err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		procedures, err := s.warehouse.ListStoredProcedures(ctx, schema)
		if err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": procedures})
	}
}

// SetWarehouseHandler switches the active warehouse for subsequent
// metadata queries.
func (s *Server) SetWarehouseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var request struct {
			Warehouse string `json:"warehouse"`
		}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			writeJSONError(w, "invalid_request", "Invalid JSON body", http.StatusBadRequest)
			return
		}
		if err := warehouse.ValidateIdentifier(request.Warehouse, "warehouse"); err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		ctx, err := s.withConnection(r)
		if err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		if err := s.warehouse.SetWarehouse(ctx, request.Warehouse); err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "warehouse": request.Warehouse})
	}
}

// GrantRequest is the payload for POST /api/grants.
type GrantRequest struct {
	Database string `json:"db"`
	Schema   string `json:"schema"`
	Role     string `json:"role"`
	PermType string `json:"perm_type"`
}

// GrantHandler applies a read or write permission grant. Only identities
// resolved to an allowed granting role may call it; a degraded identity
// never can.
func (s *Server) GrantHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var request GrantRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			writeJSONError(w, "invalid_request", "Invalid JSON body", http.StatusBadRequest)
			return
		}

		permType := strings.ToLower(strings.TrimSpace(request.PermType))
		if permType != "read" && permType != "write" {
			writeJSONError(w, "invalid_request", "perm_type must be read or write", http.StatusBadRequest)
			return
		}
		for _, check := range []struct{ name, kind string }{
			{request.Database, "database"},
			{request.Schema, "schema"},
			{request.Role, "role"},
		} {
			if err := warehouse.ValidateIdentifier(check.name, check.kind); err != nil {
				s.writeWarehouseError(w, err)
				return
			}
		}

		ident, err := s.identity.Resolve(r.Context(), requestSessionID(r))
		if err != nil {
			writeJSONError(w, "unauthorized", err.Error(), http.StatusUnauthorized)
			return
		}
		if !ident.CanGrant {
			log.Warn().Str("user", ident.User).Str("role", ident.Role).Msg("grant attempt by non-granting role")
			writeJSONError(w, "forbidden", "Current role cannot grant permissions", http.StatusForbidden)
			return
		}

		ctx, err := s.withConnection(r)
		if err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		if _, err := s.warehouse.CallProcedure(ctx, grantProcedure, request.Database, request.Schema, request.Role, permType); err != nil {
			s.writeWarehouseError(w, err)
			return
		}

		log.Info().
			Str("user", ident.User).
			Str("database", request.Database).
			Str("schema", request.Schema).
			Str("role", request.Role).
			Str("perm_type", permType).
			Msg("permissions granted")
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

// UserKeyRequest is the payload for POST /api/users/{username}/keys.
type UserKeyRequest struct {
	PublicKey string `json:"public_key"`
	Slot      int    `json:"slot"`
}

// SetUserKeyHandler installs an RSA public key on a warehouse user.
func (s *Server) SetUserKeyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username := r.PathValue("username")
		if err := warehouse.ValidateIdentifier(username, "user"); err != nil {
			s.writeWarehouseError(w, err)
			return
		}

		var request UserKeyRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			writeJSONError(w, "invalid_request", "Invalid JSON body", http.StatusBadRequest)
			return
		}
		if request.Slot == 0 {
			request.Slot = 1
		}

		ctx, err := s.withConnection(r)
		if err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		if err := s.warehouse.UpdateUserRSAKey(ctx, username, request.Slot, request.PublicKey); err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "username": username, "slot": request.Slot})
	}
}

// UnsetUserKeyHandler removes an RSA public key from a warehouse user. The
// slot comes from the ?slot= query parameter, defaulting to 1.
func (s *Server) UnsetUserKeyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username := r.PathValue("username")
		if err := warehouse.ValidateIdentifier(username, "user"); err != nil {
			s.writeWarehouseError(w, err)
			return
		}

		slot := 1
		if raw := r.URL.Query().Get("slot"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeJSONError(w, "invalid_request", "slot must be a number", http.StatusBadRequest)
				return
			}
			slot = parsed
		}

		ctx, err := s.withConnection(r)
		if err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		if err := s.warehouse.UnsetUserPublicKey(ctx, username, slot); err != nil {
			s.writeWarehouseError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "username": username, "slot": slot})
	}
}
