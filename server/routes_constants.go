package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Auth Routes - Login, Logout & IdP Callback
	RouteAuthLogin  = "/auth/login"
	RouteAuthLogout = "/auth/logout"
	RouteCallback   = "/oauth/callback"

	// Session Routes
	RouteSession  = "/api/session"
	RouteUserInfo = "/api/userinfo"

	// Warehouse Metadata Routes
	RouteDatabases   = "/api/databases"
	RouteSchemas     = "/api/databases/{database}/schemas"
	RouteRoles       = "/api/roles"
	RoutePrivileges  = "/api/roles/{role}/privileges"
	RouteRoleGrants  = "/api/roles/{role}/grants"
	RouteUsers       = "/api/users"
	RouteUserKeyList = "/api/users/keys"
	RouteUserDetails = "/api/users/{username}"
	RouteWarehouses  = "/api/warehouses"
	RouteProcedures  = "/api/procedures/{schema}"

	// Warehouse Mutation Routes
	RouteGrants   = "/api/grants"
	RouteUserKeys = "/api/users/{username}/keys"
)
