package warehouse

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// userKeyManagementView aggregates per-user credential state (key slots,
// password, MFA) maintained by the warehouse-side security schema. The view
// exposes flags only, never key material or fingerprints.
const userKeyManagementView = "UPLAND_MAINTENANCE.SECURITY.V_USER_KEY_MANAGEMENT"

var UserNotFoundErr = errors.New("user not found in key management view")

// UserKeyDetails is one row of the key-management view, the unit the key
// rotation UI works with.
type UserKeyDetails struct {
	Name               string `json:"name"`
	LoginName          string `json:"login_name"`
	DisplayName        string `json:"display_name"`
	FirstName          string `json:"first_name,omitempty"`
	LastName           string `json:"last_name,omitempty"`
	Email              string `json:"email,omitempty"`
	Disabled           bool   `json:"disabled"`
	MustChangePassword bool   `json:"must_change_password"`
	SnowflakeLock      bool   `json:"snowflake_lock"`
	DefaultWarehouse   string `json:"default_warehouse,omitempty"`
	DefaultRole        string `json:"default_role,omitempty"`
	CreatedOn          string `json:"created_on,omitempty"`
	LastSuccessLogin   string `json:"last_success_login,omitempty"`
	PasswordLastSet    string `json:"password_last_set_time,omitempty"`
	HasPassword        bool   `json:"has_password"`
	HasMFA             bool   `json:"has_mfa"`
	HasRSAPublicKey    bool   `json:"has_rsa_public_key"`
	Owner              string `json:"owner,omitempty"`
	Type               string `json:"type,omitempty"`
	Comment            string `json:"comment,omitempty"`
}

// ListUserKeyDetails loads every row of the key-management view in one
// query and refreshes the per-user cache, so a listing followed by
// individual lookups costs a single round trip.
func (c *Client) ListUserKeyDetails(ctx context.Context) ([]UserKeyDetails, error) {
	rows, err := c.query(ctx, fmt.Sprintf("SELECT * FROM %s", userKeyManagementView))
	if err != nil {
		return nil, err
	}

	users := make([]UserKeyDetails, 0, len(rows))
	cache := make(map[string]UserKeyDetails, len(rows))
	for _, row := range rows {
		details := userKeyDetailsFromRow(row)
		users = append(users, details)
		cache[details.Name] = details
	}

	c.mu.Lock()
	c.userCache = cache
	c.mu.Unlock()

	return users, nil
}

// UserKeyDetails returns the view row for one user, served from the cache
// when a prior listing populated it.
func (c *Client) UserKeyDetails(ctx context.Context, username string) (*UserKeyDetails, error) {
	if err := ValidateIdentifier(username, "user"); err != nil {
		return nil, err
	}

	c.mu.Lock()
	cached, ok := c.userCache[username]
	c.mu.Unlock()
	if ok {
		return &cached, nil
	}

	rows, err := c.query(ctx, fmt.Sprintf("SELECT * FROM %s WHERE USERNAME = ?", userKeyManagementView), username)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.Wrap(UserNotFoundErr, username)
	}

	details := userKeyDetailsFromRow(rows[0])

	c.mu.Lock()
	if c.userCache == nil {
		c.userCache = make(map[string]UserKeyDetails)
	}
	c.userCache[details.Name] = details
	c.mu.Unlock()

	return &details, nil
}

// ClearUserCache drops the cached view rows so the next lookup reloads
// them, used after key rotations.
func (c *Client) ClearUserCache() {
	c.mu.Lock()
	c.userCache = nil
	c.mu.Unlock()
	log.Debug().Msg("user key cache cleared")
}

func userKeyDetailsFromRow(row map[string]any) UserKeyDetails {
	return UserKeyDetails{
		Name:               stringColumn(row, "username"),
		LoginName:          stringColumn(row, "login_name"),
		DisplayName:        stringColumn(row, "display_name"),
		FirstName:          stringColumn(row, "first_name"),
		LastName:           stringColumn(row, "last_name"),
		Email:              stringColumn(row, "email"),
		Disabled:           boolColumn(row, "disabled"),
		MustChangePassword: boolColumn(row, "must_change_password"),
		SnowflakeLock:      boolColumn(row, "snowflake_lock"),
		DefaultWarehouse:   stringColumn(row, "default_warehouse"),
		DefaultRole:        stringColumn(row, "default_role"),
		CreatedOn:          stringColumn(row, "created_on"),
		LastSuccessLogin:   stringColumn(row, "last_success_login"),
		PasswordLastSet:    stringColumn(row, "password_last_set_time"),
		HasPassword:        boolColumn(row, "has_password"),
		HasMFA:             boolColumn(row, "has_mfa") || boolColumn(row, "ext_authn_duo"),
		HasRSAPublicKey:    boolColumn(row, "has_rsa_public_key"),
		Owner:              stringColumn(row, "owner"),
		Type:               stringColumn(row, "type"),
		Comment:            stringColumn(row, "comment"),
	}
}
