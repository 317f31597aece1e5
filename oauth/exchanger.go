package oauth

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/snowflake-admin-console/internal/config"
)

const (
	// exchangeTimeout bounds every HTTP call to the token endpoint; the
	// exchange surfaces a failure rather than hang.
	exchangeTimeout = 10 * time.Second

	// expirySafetyMargin is subtracted from the provider expiry so the lazy
	// refresh fires before the token actually dies mid-request.
	expirySafetyMargin = 60 * time.Second
)

// Exchanger performs the authorization-code and refresh-token exchanges
// against the identity provider's token endpoint. Configuration is read
// lazily, so a misconfigured deployment fails on the first login attempt
// with ConfigErr rather than at startup.
type Exchanger struct {
	config  config.OAuthConfig
	states  *StateStore
	client  *http.Client
	nowTime func() time.Time

	mu       sync.Mutex
	endpoint *oauth2.Endpoint // cached OIDC discovery result
}

// ExchangerOption defines a function type to modify the Exchanger instance.
type ExchangerOption func(*Exchanger)

// WithHTTPClient replaces the HTTP client used for provider calls
// (primarily for testing; the default carries the 10s timeout).
func WithHTTPClient(client *http.Client) ExchangerOption {
	return func(e *Exchanger) {
		e.client = client
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ExchangerOption {
	return func(e *Exchanger) {
		e.nowTime = nowFunc
	}
}

// NewExchanger creates an Exchanger backed by the given state store.
func NewExchanger(cfg config.OAuthConfig, states *StateStore, options ...ExchangerOption) *Exchanger {
	e := &Exchanger{
		config:  cfg,
		states:  states,
		client:  &http.Client{Timeout: exchangeTimeout},
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// BeginLogin issues a CSRF state and returns the provider authorize URL the
// browser should be redirected to.
func (e *Exchanger) BeginLogin(ctx context.Context) (string, error) {
	oc, err := e.oauthConfig(ctx)
	if err != nil {
		return "", err
	}
	state, err := e.states.Issue()
	if err != nil {
		return "", errors.Wrap(err, "[Exchanger.BeginLogin] issue state")
	}
	return oc.AuthCodeURL(state), nil
}

// CompleteLogin validates the callback parameters, consumes the CSRF state
// and exchanges the authorization code for tokens. The state is single use:
// a replayed callback fails with InvalidStateErr.
func (e *Exchanger) CompleteLogin(ctx context.Context, code, state string) (*Tokens, error) {
	if code == "" {
		return nil, MissingCodeErr
	}
	if state == "" {
		return nil, MissingStateErr
	}
	if !e.states.Consume(state) {
		return nil, InvalidStateErr
	}

	oc, err := e.oauthConfig(ctx)
	if err != nil {
		return nil, err
	}

	token, err := oc.Exchange(e.httpContext(ctx), code)
	if err != nil {
		log.Warn().Err(err).Msg("authorization code exchange rejected by provider")
		return nil, errors.Wrap(ExchangeFailedErr, err.Error())
	}
	return e.tokens(token, ""), nil
}

// Refresh exchanges a refresh token for a new token pair. The caller owns
// invalidating its session when this fails; the exchanger never retries.
func (e *Exchanger) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	if refreshToken == "" {
		return nil, errors.Wrap(RefreshFailedErr, "no refresh token")
	}

	oc, err := e.oauthConfig(ctx)
	if err != nil {
		return nil, err
	}

	source := oc.TokenSource(e.httpContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		log.Warn().Str("refresh_token", Redact(refreshToken)).Err(err).Msg("token refresh rejected by provider")
		return nil, errors.Wrap(RefreshFailedErr, err.Error())
	}
	// Providers may omit the refresh token on the refresh grant; keep the
	// one we already hold.
	return e.tokens(token, refreshToken), nil
}

func (e *Exchanger) tokens(token *oauth2.Token, previousRefresh string) *Tokens {
	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		// No expires_in in the response; assume the provider default hour.
		expiresAt = e.nowTime().Add(time.Hour)
	}
	refresh := token.RefreshToken
	if refresh == "" {
		refresh = previousRefresh
	}
	return &Tokens{
		AccessToken:  token.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt.Add(-expirySafetyMargin),
	}
}

func (e *Exchanger) oauthConfig(ctx context.Context) (*oauth2.Config, error) {
	clientID := e.config.GetClientID()
	if clientID == "" {
		return nil, errors.Wrap(ConfigErr, "client id not set")
	}
	redirectURI := e.config.GetRedirectURI()
	if redirectURI == "" {
		return nil, errors.Wrap(ConfigErr, "redirect URI not set")
	}
	scope := e.config.GetScope()
	if scope == "" {
		return nil, errors.Wrap(ConfigErr, "scope not set")
	}
	endpoint, err := e.resolveEndpoint(ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: e.config.GetClientSecret(),
		Endpoint:     endpoint,
		RedirectURL:  redirectURI,
		Scopes:       []string{scope},
	}, nil
}

// resolveEndpoint prefers explicitly configured authorize/token URLs and
// falls back to OIDC discovery when only an issuer is configured. The
// discovered endpoint is cached for the process lifetime.
func (e *Exchanger) resolveEndpoint(ctx context.Context) (oauth2.Endpoint, error) {
	authorizeURL := e.config.GetAuthorizeURL()
	tokenURL := e.config.GetTokenURL()
	if authorizeURL != "" && tokenURL != "" {
		return oauth2.Endpoint{
			AuthURL:   authorizeURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		}, nil
	}

	issuerURL := e.config.GetIssuerURL()
	if issuerURL == "" {
		return oauth2.Endpoint{}, errors.Wrap(ConfigErr, "authorize/token URLs not set and no issuer URL to discover them from")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.endpoint != nil {
		return *e.endpoint, nil
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, e.client), issuerURL)
	if err != nil {
		return oauth2.Endpoint{}, errors.Wrapf(ConfigErr, "oidc discovery against %s: %v", issuerURL, err)
	}
	endpoint := provider.Endpoint()
	endpoint.AuthStyle = oauth2.AuthStyleInHeader
	e.endpoint = &endpoint
	return endpoint, nil
}

func (e *Exchanger) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, e.client)
}
