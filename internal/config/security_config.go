package config

import (
	"strconv"
	"strings"
	"time"
)

type SecurityConfig interface {
	GetInactivityTimeout() time.Duration
	GetAllowGrantRoles() []string
	GetIdentityFallbackEnabled() bool
	GetFallbackUser() string
	GetFallbackRole() string
}

type Security struct{}

var _ SecurityConfig = Security{}

// GetInactivityTimeout is the maximum idle duration before a session is
// forcibly invalidated. Override with SESSION_INACTIVITY_TIMEOUT (seconds).
func (Security) GetInactivityTimeout() time.Duration {
	if raw := GetEnv("SESSION_INACTIVITY_TIMEOUT", ""); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 15 * time.Minute
}

// GetAllowGrantRoles lists the warehouse roles permitted to grant
// permissions through the console (comma-separated env var).
func (Security) GetAllowGrantRoles() []string {
	raw := GetEnv("ALLOW_GRANT_ROLES", "SYSADMIN,SECURITYADMIN")
	var roles []string
	for _, role := range strings.Split(raw, ",") {
		role = strings.ToUpper(strings.TrimSpace(role))
		if role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}

// GetIdentityFallbackEnabled opts in to the legacy degraded-identity
// behaviour: when token claims cannot be decoded, resolve to the configured
// fallback user/role instead of failing closed.
func (Security) GetIdentityFallbackEnabled() bool {
	return GetEnv("OAUTH_IDENTITY_FALLBACK", "") == "legacy"
}

func (Security) GetFallbackUser() string {
	return GetEnv("SNOWFLAKE_USER", "UNKNOWN_USER")
}

func (Security) GetFallbackRole() string {
	return GetEnv("SNOWFLAKE_ROLE", "PUBLIC")
}
