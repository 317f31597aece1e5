package config

import "strings"

// OAuthConfig carries the identity-provider settings for the
// authorization-code flow. Every value is read from the environment on
// access; missing required values surface at first use, not at startup.
type OAuthConfig interface {
	GetClientID() string
	GetClientSecret() string
	GetAuthorizeURL() string
	GetTokenURL() string
	GetIssuerURL() string
	GetRedirectURI() string
	GetScope() string
}

type OAuth struct{}

var _ OAuthConfig = OAuth{}

func (OAuth) GetClientID() string {
	return unquote(GetEnv("OAUTH_CLIENT_ID", ""))
}

func (OAuth) GetClientSecret() string {
	return unquote(GetEnv("OAUTH_CLIENT_SECRET", ""))
}

func (OAuth) GetAuthorizeURL() string {
	return GetEnv("OAUTH_AUTH_URL", "")
}

func (OAuth) GetTokenURL() string {
	return GetEnv("OAUTH_TOKEN_URL", "")
}

// GetIssuerURL is the OIDC issuer used to discover the authorize/token
// endpoints when they are not configured explicitly.
func (OAuth) GetIssuerURL() string {
	return GetEnv("OAUTH_ISSUER_URL", "")
}

func (OAuth) GetRedirectURI() string {
	return GetEnv("OAUTH_REDIRECT_URI", "http://localhost:5001/oauth/callback")
}

func (OAuth) GetScope() string {
	return GetEnv("OAUTH_SCOPE", "session:role:SYSADMIN")
}

// unquote strips surrounding double quotes that leak in from .env files.
func unquote(value string) string {
	return strings.Trim(value, `"`)
}
