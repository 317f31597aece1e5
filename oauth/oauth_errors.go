package oauth

import "errors"

var (
	ConfigErr         = errors.New("oauth configuration incomplete")
	MissingCodeErr    = errors.New("missing authorization code")
	MissingStateErr   = errors.New("missing state parameter")
	InvalidStateErr   = errors.New("invalid or expired state")
	ExchangeFailedErr = errors.New("token exchange failed")
	RefreshFailedErr  = errors.New("token refresh failed")
)
