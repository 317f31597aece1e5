package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	sf "github.com/snowflakedb/gosnowflake"

	"github.com/jrsteele09/snowflake-admin-console/oauth"
)

var (
	NotConnectedErr = errors.New("not connected to warehouse")
	QueryFailedErr  = errors.New("warehouse query failed")
)

// Config identifies the account a Client connects to. The access token is
// per-session and passed to Connect, never stored here.
type Config struct {
	Account   string
	User      string
	Warehouse string
	Role      string
}

// Client is a lazily connected Snowflake client. The underlying connection
// pool is shared and re-established whenever the access token changes, so a
// refreshed session transparently gets a fresh connection.
type Client struct {
	mu        sync.Mutex
	db        *sql.DB
	token     string
	warehouse string
	cfg       Config
	userCache map[string]UserKeyDetails

	openDB func(driverName, dsn string) (*sql.DB, error)
}

// Option configures a Client.
type Option func(*Client)

// WithOpenDB replaces the database/sql opener, used by tests to substitute
// a fake connection.
func WithOpenDB(open func(driverName, dsn string) (*sql.DB, error)) Option {
	return func(c *Client) {
		c.openDB = open
	}
}

func NewClient(cfg Config, options ...Option) *Client {
	client := &Client{
		cfg:       cfg,
		warehouse: cfg.Warehouse,
		openDB:    sql.Open,
	}
	for _, option := range options {
		option(client)
	}
	return client
}

// Connect ensures a live connection authenticated with accessToken. A
// connection opened for a previous token is torn down first.
func (c *Client) Connect(ctx context.Context, accessToken string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil && c.token == accessToken {
		return nil
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			log.Warn().Err(err).Msg("closing stale warehouse connection")
		}
		c.db = nil
		c.token = ""
	}

	dsn, err := sf.DSN(&sf.Config{
		Account:       c.cfg.Account,
		User:          c.cfg.User,
		Role:          c.cfg.Role,
		Warehouse:     c.cfg.Warehouse,
		Authenticator: sf.AuthTypeOAuth,
		Token:         accessToken,
	})
	if err != nil {
		return errors.Wrap(err, "[Client.Connect] building DSN")
	}

	db, err := c.openDB("snowflake", dsn)
	if err != nil {
		return errors.Wrap(err, "[Client.Connect] opening connection")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		log.Error().
			Str("account", c.cfg.Account).
			Str("access_token", oauth.Redact(accessToken)).
			Err(err).
			Msg("warehouse connection failed")
		return errors.Wrap(err, "[Client.Connect] verifying connection")
	}

	c.db = db
	c.token = accessToken

	if c.warehouse != "" {
		if err := c.useWarehouseLocked(ctx, c.warehouse); err != nil {
			log.Warn().Str("warehouse", c.warehouse).Err(err).Msg("could not select warehouse")
		}
	}
	return nil
}

// Close tears down the connection. Safe to call when not connected.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	c.token = ""
	return err
}

func (c *Client) conn() (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil, NotConnectedErr
	}
	return c.db, nil
}

// useWarehouseLocked runs USE WAREHOUSE; the caller holds c.mu. USE cannot
// take a bind parameter, so the name is validated before interpolation.
func (c *Client) useWarehouseLocked(ctx context.Context, name string) error {
	if err := ValidateIdentifier(name, "warehouse"); err != nil {
		return err
	}
	_, err := c.db.ExecContext(ctx, fmt.Sprintf("USE WAREHOUSE %s", name))
	return errors.Wrap(err, "[Client.useWarehouseLocked]")
}

// SetWarehouse switches the active warehouse for subsequent queries.
func (c *Client) SetWarehouse(ctx context.Context, name string) error {
	if err := ValidateIdentifier(name, "warehouse"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return NotConnectedErr
	}
	if err := c.useWarehouseLocked(ctx, name); err != nil {
		return err
	}
	c.warehouse = name
	return nil
}

// query runs statement and materializes every row as a column-name keyed
// map. SHOW output varies by edition, so rows stay schemaless here and the
// typed accessors below pick out the columns they need.
func (c *Client) query(ctx context.Context, statement string, args ...any) ([]map[string]any, error) {
	db, err := c.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, errors.Wrap(QueryFailedErr, err.Error())
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(QueryFailedErr, err.Error())
	}

	var results []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, errors.Wrap(QueryFailedErr, err.Error())
		}
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			row[strings.ToLower(column)] = values[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(QueryFailedErr, err.Error())
	}
	return results, nil
}

// Database is one row of SHOW DATABASES.
type Database struct {
	Name    string `json:"name"`
	Owner   string `json:"owner"`
	Comment string `json:"comment,omitempty"`
}

func (c *Client) ListDatabases(ctx context.Context) ([]Database, error) {
	rows, err := c.query(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, err
	}
	databases := make([]Database, 0, len(rows))
	for _, row := range rows {
		databases = append(databases, Database{
			Name:    stringColumn(row, "name"),
			Owner:   stringColumn(row, "owner"),
			Comment: stringColumn(row, "comment"),
		})
	}
	return databases, nil
}

// Schema is one row of SHOW SCHEMAS.
type Schema struct {
	Name         string `json:"name"`
	DatabaseName string `json:"database_name"`
	Owner        string `json:"owner"`
}

func (c *Client) ListSchemas(ctx context.Context, database string) ([]Schema, error) {
	if err := ValidateIdentifier(database, "database"); err != nil {
		return nil, err
	}
	rows, err := c.query(ctx, fmt.Sprintf("SHOW SCHEMAS IN DATABASE %s", database))
	if err != nil {
		return nil, err
	}
	schemas := make([]Schema, 0, len(rows))
	for _, row := range rows {
		schemas = append(schemas, Schema{
			Name:         stringColumn(row, "name"),
			DatabaseName: stringColumn(row, "database_name"),
			Owner:        stringColumn(row, "owner"),
		})
	}
	return schemas, nil
}

// Role is one row of SHOW ROLES.
type Role struct {
	Name          string `json:"name"`
	Owner         string `json:"owner"`
	AssignedUsers int64  `json:"assigned_to_users"`
	GrantedRoles  int64  `json:"granted_roles"`
	IsDefault     bool   `json:"is_default"`
}

func (c *Client) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := c.query(ctx, "SHOW ROLES")
	if err != nil {
		return nil, err
	}
	roles := make([]Role, 0, len(rows))
	for _, row := range rows {
		roles = append(roles, Role{
			Name:          stringColumn(row, "name"),
			Owner:         stringColumn(row, "owner"),
			AssignedUsers: intColumn(row, "assigned_to_users"),
			GrantedRoles:  intColumn(row, "granted_roles"),
			IsDefault:     boolColumn(row, "is_default"),
		})
	}
	return roles, nil
}

// Privilege is one row of SHOW GRANTS TO ROLE.
type Privilege struct {
	Privilege   string `json:"privilege"`
	GrantedOn   string `json:"granted_on"`
	Name        string `json:"name"`
	GrantOption bool   `json:"grant_option"`
	GrantedBy   string `json:"granted_by"`
}

// RolePrivileges lists the privileges held by role.
func (c *Client) RolePrivileges(ctx context.Context, role string) ([]Privilege, error) {
	if err := ValidateIdentifier(role, "role"); err != nil {
		return nil, err
	}
	rows, err := c.query(ctx, fmt.Sprintf("SHOW GRANTS TO ROLE %s", role))
	if err != nil {
		return nil, err
	}
	privileges := make([]Privilege, 0, len(rows))
	for _, row := range rows {
		privileges = append(privileges, Privilege{
			Privilege:   stringColumn(row, "privilege"),
			GrantedOn:   stringColumn(row, "granted_on"),
			Name:        stringColumn(row, "name"),
			GrantOption: boolColumn(row, "grant_option"),
			GrantedBy:   stringColumn(row, "granted_by"),
		})
	}
	return privileges, nil
}

// Grantee is one row of SHOW GRANTS OF ROLE.
type Grantee struct {
	GrantedTo   string `json:"granted_to"`
	GranteeName string `json:"grantee_name"`
	GrantedBy   string `json:"granted_by"`
}

// RoleGrants lists the users and roles a role has been granted to.
func (c *Client) RoleGrants(ctx context.Context, role string) ([]Grantee, error) {
	if err := ValidateIdentifier(role, "role"); err != nil {
		return nil, err
	}
	rows, err := c.query(ctx, fmt.Sprintf("SHOW GRANTS OF ROLE %s", role))
	if err != nil {
		return nil, err
	}
	grantees := make([]Grantee, 0, len(rows))
	for _, row := range rows {
		grantees = append(grantees, Grantee{
			GrantedTo:   stringColumn(row, "granted_to"),
			GranteeName: stringColumn(row, "grantee_name"),
			GrantedBy:   stringColumn(row, "granted_by"),
		})
	}
	return grantees, nil
}

// WarehouseInfo is one row of SHOW WAREHOUSES.
type WarehouseInfo struct {
	Name  string `json:"name"`
	State string `json:"state"`
	Size  string `json:"size"`
}

func (c *Client) ListWarehouses(ctx context.Context) ([]WarehouseInfo, error) {
	rows, err := c.query(ctx, "SHOW WAREHOUSES")
	if err != nil {
		return nil, err
	}
	warehouses := make([]WarehouseInfo, 0, len(rows))
	for _, row := range rows {
		warehouses = append(warehouses, WarehouseInfo{
			Name:  stringColumn(row, "name"),
			State: stringColumn(row, "state"),
			Size:  stringColumn(row, "size"),
		})
	}
	return warehouses, nil
}

// User is one row of SHOW USERS.
type User struct {
	Name        string `json:"name"`
	LoginName   string `json:"login_name"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Disabled    bool   `json:"disabled"`
	DefaultRole string `json:"default_role,omitempty"`
	HasRSAKey   bool   `json:"has_rsa_public_key"`
}

func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := c.query(ctx, "SHOW USERS")
	if err != nil {
		return nil, err
	}
	users := make([]User, 0, len(rows))
	for _, row := range rows {
		users = append(users, User{
			Name:        stringColumn(row, "name"),
			LoginName:   stringColumn(row, "login_name"),
			DisplayName: stringColumn(row, "display_name"),
			Email:       stringColumn(row, "email"),
			Disabled:    boolColumn(row, "disabled"),
			DefaultRole: stringColumn(row, "default_role"),
			HasRSAKey:   boolColumn(row, "has_rsa_public_key"),
		})
	}
	return users, nil
}

// ListStoredProcedures lists the procedures in a schema. The schema may be
// database qualified; every dotted part is validated as an identifier.
func (c *Client) ListStoredProcedures(ctx context.Context, schema string) ([]string, error) {
	for _, part := range strings.Split(schema, ".") {
		if err := ValidateIdentifier(part, "schema"); err != nil {
			return nil, err
		}
	}
	rows, err := c.query(ctx, fmt.Sprintf("SHOW PROCEDURES IN SCHEMA %s", schema))
	if err != nil {
		return nil, err
	}
	procedures := make([]string, 0, len(rows))
	for _, row := range rows {
		procedures = append(procedures, stringColumn(row, "name"))
	}
	return procedures, nil
}

// CallProcedure invokes a stored procedure with positional bind arguments
// and returns its result rows. The procedure name may be schema qualified;
// every dotted part is validated as an identifier.
func (c *Client) CallProcedure(ctx context.Context, name string, args ...any) ([]map[string]any, error) {
	for _, part := range strings.Split(name, ".") {
		if err := ValidateIdentifier(part, "procedure"); err != nil {
			return nil, err
		}
	}
	placeholders := make([]string, len(args))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	statement := fmt.Sprintf("CALL %s(%s)", name, strings.Join(placeholders, ", "))
	return c.query(ctx, statement, args...)
}

func stringColumn(row map[string]any, column string) string {
	switch value := row[column].(type) {
	case string:
		return value
	case []byte:
		return string(value)
	case nil:
		return ""
	default:
		return fmt.Sprint(value)
	}
}

func intColumn(row map[string]any, column string) int64 {
	switch value := row[column].(type) {
	case int64:
		return value
	case float64:
		return int64(value)
	case string:
		var n int64
		_, _ = fmt.Sscan(value, &n)
		return n
	default:
		return 0
	}
}

// boolColumn coerces the warehouse's assorted boolean spellings ("true",
// "Y", "yes", 1) into a bool.
func boolColumn(row map[string]any, column string) bool {
	switch value := row[column].(type) {
	case bool:
		return value
	case string:
		switch strings.ToLower(value) {
		case "true", "y", "yes", "1":
			return true
		}
		return false
	case int64:
		return value != 0
	case float64:
		return value != 0
	default:
		return false
	}
}
