// Package qauth acquires, caches, refreshes and revokes platform OAuth2
// tokens: 2-legged client credentials and 3-legged authorization code with
// PKCE.
package qauth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/quatton/apsflow/pkg/qlog"
	"github.com/quatton/apsflow/pkg/qsdk/qerr"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

const (
	DefaultAuthBaseURL = "https://developer.api.autodesk.com/authentication/v2"
	DefaultUserInfoURL = "https://api.userprofile.autodesk.com/userinfo"
)

// Config identifies the registered application.
type Config struct {
	ClientID     string
	ClientSecret string
	// RedirectURL is required for 3-legged flows only.
	RedirectURL string
	// AuthBaseURL hosts /authorize, /token, /revoke and /logout.
	AuthBaseURL string
	UserInfoURL string
}

// Client issues token sources for the platform APIs.
type Client struct {
	cfg    Config
	http   *http.Client
	cache  *TokenCache
	logger *qlog.Logger
	now    func() time.Time
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the client used for token endpoint calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTokenCache shares tokens through cache. Without one, tokens live only in
// the token source that fetched them.
func WithTokenCache(cache *TokenCache) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithLogger sets the logger.
func WithLogger(l *qlog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, qerr.Newf(qerr.CodeConfiguration, "client id is required")
	}
	if cfg.AuthBaseURL == "" {
		cfg.AuthBaseURL = DefaultAuthBaseURL
	}
	cfg.AuthBaseURL = strings.TrimRight(cfg.AuthBaseURL, "/")
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = DefaultUserInfoURL
	}

	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = qlog.OrDefault(c.logger)
	return c, nil
}

func (c *Client) ctx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

func (c *Client) endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:   c.cfg.AuthBaseURL + "/authorize",
		TokenURL:  c.cfg.AuthBaseURL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

func (c *Client) userConfig(scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		RedirectURL:  c.cfg.RedirectURL,
		Endpoint:     c.endpoint(),
		Scopes:       normalizeScopes(scopes),
	}
}

// TwoLegged returns an app-only token source for scopes. Tokens are cached
// under TwoLeggedKey and fetched again shortly before they expire.
func (c *Client) TwoLegged(scopes []string) oauth2.TokenSource {
	cc := &clientcredentials.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		TokenURL:     c.endpoint().TokenURL,
		Scopes:       normalizeScopes(scopes),
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	return &cachingSource{
		ctx:    c.ctx(context.Background()),
		key:    TwoLeggedKey(c.cfg.ClientID, scopes),
		cache:  c.cache,
		logger: c.logger,
		now:    c.now,
		fetch: func(ctx context.Context, _ *oauth2.Token) (*oauth2.Token, error) {
			tok, err := cc.Token(ctx)
			if err != nil {
				return nil, qerr.New(qerr.CodeUnauthorized, fmt.Errorf("client credentials grant: %w", err))
			}
			return tok, nil
		},
	}
}

// AuthorizeOptions tune the authorize URL.
type AuthorizeOptions struct {
	State string
	// Verifier enables PKCE (S256) when set. See oauth2.GenerateVerifier.
	Verifier string
	// Prompt, e.g. "login", forces re-authentication.
	Prompt string
}

// AuthorizeURL builds the browser URL for the 3-legged flow.
func (c *Client) AuthorizeURL(scopes []string, opts AuthorizeOptions) (string, error) {
	if c.cfg.RedirectURL == "" {
		return "", qerr.Newf(qerr.CodeConfiguration, "redirect url is required for 3-legged auth")
	}
	var params []oauth2.AuthCodeOption
	if opts.Verifier != "" {
		params = append(params, oauth2.S256ChallengeOption(opts.Verifier))
	}
	if opts.Prompt != "" {
		params = append(params, oauth2.SetAuthURLParam("prompt", opts.Prompt))
	}
	return c.userConfig(scopes).AuthCodeURL(opts.State, params...), nil
}

// Exchange trades an authorization code for a user token and caches it.
func (c *Client) Exchange(ctx context.Context, code, verifier string, scopes []string) (*oauth2.Token, error) {
	var params []oauth2.AuthCodeOption
	if verifier != "" {
		params = append(params, oauth2.VerifierOption(verifier))
	}
	tok, err := c.userConfig(scopes).Exchange(c.ctx(ctx), code, params...)
	if err != nil {
		return nil, qerr.New(qerr.CodeUnauthorized, fmt.Errorf("exchanging authorization code: %w", err))
	}
	tok = fillExpiry(tok)
	if c.cache != nil {
		if err := c.cache.Save(ctx, ThreeLeggedKey(c.cfg.ClientID, c.cfg.RedirectURL, scopes), tok); err != nil {
			c.logger.Warn("token cache write failed", "error", err)
		}
	}
	return tok, nil
}

// Refresh obtains a new user token from a refresh token. The old refresh
// token is kept when the server does not rotate it.
func (c *Client) Refresh(ctx context.Context, refreshToken string, scopes []string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, qerr.Newf(qerr.CodeUnauthorized, "missing refresh token")
	}
	stale := &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)}
	tok, err := c.userConfig(scopes).TokenSource(c.ctx(ctx), stale).Token()
	if err != nil {
		return nil, qerr.New(qerr.CodeRefreshFailed, err)
	}
	return fillExpiry(tok), nil
}

// ThreeLegged returns a user token source starting from initial, or from the
// cached token when initial is nil. Expired tokens are refreshed and written
// back to the cache.
func (c *Client) ThreeLegged(scopes []string, initial *oauth2.Token) oauth2.TokenSource {
	return &cachingSource{
		ctx:     c.ctx(context.Background()),
		key:     ThreeLeggedKey(c.cfg.ClientID, c.cfg.RedirectURL, scopes),
		cache:   c.cache,
		logger:  c.logger,
		now:     c.now,
		current: initial,
		fetch: func(ctx context.Context, prev *oauth2.Token) (*oauth2.Token, error) {
			if prev == nil || prev.RefreshToken == "" {
				return nil, qerr.Newf(qerr.CodeUnauthorized, "no user token available: log in first")
			}
			return c.Refresh(ctx, prev.RefreshToken, scopes)
		},
	}
}

// Token type hints accepted by the revoke endpoint.
const (
	HintAccessToken  = "access_token"
	HintRefreshToken = "refresh_token"
)

// Revoke invalidates a single token.
func (c *Client) Revoke(ctx context.Context, token, hint string) error {
	form := url.Values{
		"token":           {token},
		"token_type_hint": {hint},
		"client_id":       {c.cfg.ClientID},
	}
	endpoint := c.cfg.AuthBaseURL + "/revoke"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return qerr.New(qerr.CodeConfiguration, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.cfg.ClientSecret != "" {
		req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return qerr.New(qerr.CodeTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return qerr.New(qerr.CodeTransport, &qerr.HTTPError{
			Method: http.MethodPost, URL: endpoint, StatusCode: resp.StatusCode, Body: string(body),
		})
	}
	return nil
}

// RevokeAll revokes both halves of tok and forgets the cached user token for
// scopes. Every step runs; failures are returned together.
func (c *Client) RevokeAll(ctx context.Context, tok *oauth2.Token, scopes []string) error {
	var errs []error
	if tok != nil && tok.AccessToken != "" {
		if err := c.Revoke(ctx, tok.AccessToken, HintAccessToken); err != nil {
			errs = append(errs, fmt.Errorf("revoking access token: %w", err))
		}
	}
	if tok != nil && tok.RefreshToken != "" {
		if err := c.Revoke(ctx, tok.RefreshToken, HintRefreshToken); err != nil {
			errs = append(errs, fmt.Errorf("revoking refresh token: %w", err))
		}
	}
	if c.cache != nil {
		if err := c.cache.Delete(ctx, ThreeLeggedKey(c.cfg.ClientID, c.cfg.RedirectURL, scopes)); err != nil {
			errs = append(errs, fmt.Errorf("clearing token cache: %w", err))
		}
	}
	return utilerrors.NewAggregate(errs)
}

// LogoutURL ends the browser session and optionally redirects afterwards.
func (c *Client) LogoutURL(postLogoutRedirect string) string {
	u := c.cfg.AuthBaseURL + "/logout"
	if postLogoutRedirect == "" {
		return u
	}
	return u + "?" + url.Values{"post_logout_redirect_uri": {postLogoutRedirect}}.Encode()
}

// UserInfo is the OIDC profile of the signed-in user.
type UserInfo struct {
	Subject           string `json:"sub"`
	Name              string `json:"name"`
	GivenName         string `json:"given_name"`
	FamilyName        string `json:"family_name"`
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	Picture           string `json:"picture"`
}

// UserInfo fetches the profile for a 3-legged token.
func (c *Client) UserInfo(ctx context.Context, tok *oauth2.Token) (*UserInfo, error) {
	ctx = c.ctx(ctx)
	pc := &oidc.ProviderConfig{
		AuthURL:     c.endpoint().AuthURL,
		TokenURL:    c.endpoint().TokenURL,
		UserInfoURL: c.cfg.UserInfoURL,
	}
	info, err := pc.NewProvider(ctx).UserInfo(ctx, oauth2.StaticTokenSource(tok))
	if err != nil {
		return nil, qerr.New(qerr.CodeTransport, fmt.Errorf("fetching user info: %w", err))
	}
	var out UserInfo
	if err := info.Claims(&out); err != nil {
		return nil, qerr.New(qerr.CodeTransport, err)
	}
	out.Subject = info.Subject
	return &out, nil
}
