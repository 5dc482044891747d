package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"gisauth/internal/autherr"
	"gisauth/pkg/logging"
	"gisauth/pkg/oauth"
	gstrings "gisauth/pkg/strings"
)

const (
	// DefaultHTTPTimeout bounds every portal round trip.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultReferer is sent with username/password sign-in when none is configured.
	DefaultReferer = "gisauth"

	maxResponseBytes = 1 << 20
)

// Client talks to a portal's sharing REST API and to the token endpoints of
// federated servers.
type Client struct {
	portal     string
	httpClient *http.Client
	referer    string
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithReferer sets the referer used for username/password sign-in.
func WithReferer(referer string) Option {
	return func(c *Client) {
		c.referer = referer
	}
}

// WithClock overrides the time source used to resolve relative expiries.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a Client for portal, e.g. https://www.arcgis.com/sharing/rest.
func NewClient(portal string, opts ...Option) *Client {
	c := &Client{
		portal:     oauth.NormalizePortalURL(portal),
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		referer:    DefaultReferer,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Portal returns the portal root this client targets.
func (c *Client) Portal() string {
	return c.portal
}

// TokenEndpoint returns the OAuth token endpoint of the portal.
func (c *Client) TokenEndpoint() string {
	return c.portal + "/oauth2/token"
}

func (c *Client) oauthConfig(clientID, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    clientID,
		RedirectURL: redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.portal + "/oauth2/authorize",
			TokenURL:  c.TokenEndpoint(),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// oauthContext injects an HTTP client whose transport surfaces ArcGIS error
// envelopes sent with status 200 as HTTP errors, so x/oauth2 reports them.
func (c *Client) oauthContext(ctx context.Context) context.Context {
	base := c.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc := &http.Client{
		Transport: &errorEnvelopeTransport{base: base},
		Timeout:   c.httpClient.Timeout,
	}
	return context.WithValue(ctx, oauth2.HTTPClient, hc)
}

// ExchangeCode trades an authorization code (and PKCE verifier, if any) for tokens.
func (c *Client) ExchangeCode(ctx context.Context, clientID, redirectURI, code, verifier string) (*oauth.Token, error) {
	if clientID == "" {
		return nil, autherr.Missing("clientId", "code exchange")
	}

	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("f", "json")}
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	tok, err := c.oauthConfig(clientID, redirectURI).Exchange(c.oauthContext(ctx), code, opts...)
	if err != nil {
		return nil, c.tokenError(autherr.CodeCodeExchangeFailed, "failed to exchange authorization code", err)
	}
	result := oauth.FromOAuth2Token(tok, c.now())
	logging.Debug("Portal", "Exchanged authorization code for %v", result)
	return result, nil
}

// RefreshToken redeems a refresh token with grant_type=refresh_token. The
// refresh token itself is not rotated, so the result carries none.
func (c *Client) RefreshToken(ctx context.Context, clientID, refreshToken string) (*oauth.Token, error) {
	src := c.oauthConfig(clientID, "").TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, c.tokenError(autherr.CodeTokenRefreshFailed, "failed to refresh token", err)
	}

	result := oauth.FromOAuth2Token(tok, c.now())
	if result.RefreshToken == refreshToken {
		result.RefreshToken = ""
		result.RefreshTokenExpires = time.Time{}
	}
	return result, nil
}

// ExchangeRefreshToken trades a refresh token that is about to expire for a
// new access token and a new refresh token (grant_type=exchange_refresh_token).
func (c *Client) ExchangeRefreshToken(ctx context.Context, clientID, redirectURI, refreshToken string) (*oauth.Token, error) {
	values, err := query.Values(exchangeRefreshTokenParams{
		ClientID:     clientID,
		RefreshToken: refreshToken,
		RedirectURI:  redirectURI,
		GrantType:    "exchange_refresh_token",
		F:            "json",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode refresh token exchange: %w", err)
	}

	var resp oauth.TokenResponse
	if err := c.postForm(ctx, c.TokenEndpoint(), values, &resp); err != nil {
		return nil, c.tokenError(autherr.CodeRefreshTokenExchangeFailed, "failed to exchange refresh token", err)
	}
	if resp.AccessToken == "" {
		return nil, autherr.NewAuthError(autherr.CodeRefreshTokenExchangeFailed, "token response missing access_token")
	}
	result := resp.Resolve(c.now())
	logging.Debug("Portal", "Exchanged refresh token for %v", result)
	return result, nil
}

// ClientCredentials obtains an app token for a registered application with
// grant_type=client_credentials. expirationMinutes is sent when positive.
// App tokens carry no user and no refresh token.
func (c *Client) ClientCredentials(ctx context.Context, clientID, clientSecret string, expirationMinutes int) (*oauth.Token, error) {
	if clientID == "" {
		return nil, autherr.Missing("clientId", "app sign-in")
	}
	if clientSecret == "" {
		return nil, autherr.Missing("clientSecret", "app sign-in")
	}

	params := url.Values{"f": {"json"}}
	if expirationMinutes > 0 {
		params.Set("expiration", fmt.Sprint(expirationMinutes))
	}
	cfg := &clientcredentials.Config{
		ClientID:       clientID,
		ClientSecret:   clientSecret,
		TokenURL:       c.TokenEndpoint(),
		EndpointParams: params,
		AuthStyle:      oauth2.AuthStyleInParams,
	}
	tok, err := cfg.Token(c.oauthContext(ctx))
	if err != nil {
		return nil, c.tokenError(autherr.CodeTokenRefreshFailed, "failed to obtain app token", err)
	}
	result := oauth.FromOAuth2Token(tok, c.now())
	logging.Debug("Portal", "Obtained app token for %s: %v", clientID, result)
	return result, nil
}

// ExchangeToken trades token for one issued to clientID (oauth2/exchangeToken).
// Portals only honor it for first-party applications.
func (c *Client) ExchangeToken(ctx context.Context, token, clientID string) (string, error) {
	values, err := query.Values(exchangeTokenParams{ClientID: clientID, Token: token, F: "json"})
	if err != nil {
		return "", fmt.Errorf("failed to encode token exchange: %w", err)
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := c.postForm(ctx, c.portal+"/oauth2/exchangeToken", values, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", autherr.NewAuthError(autherr.CodeUnknown, "exchangeToken response missing token")
	}
	return resp.Token, nil
}

// PlatformSelf trades the platform's esri_aopc cookie for a token issued to
// clientID. The cookie must be in the HTTP client's cookie jar.
func (c *Client) PlatformSelf(ctx context.Context, clientID, redirectURI string) (*PlatformSelf, error) {
	values := url.Values{"f": {"json"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.portal+"/oauth2/platformSelf?f=json", strings.NewReader(values.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Esri-Auth-Client-Id", clientID)
	req.Header.Set("X-Esri-Auth-Redirect-Uri", redirectURI)

	var resp platformSelfResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, autherr.NewAuthError(autherr.CodeUnknown, "platformSelf response missing token")
	}
	return &PlatformSelf{
		Username: resp.Username,
		Token:    resp.Token,
		Expires:  c.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, nil
}

// GenerateToken calls a generateToken endpoint, either a portal's or a
// federated server's tokenServicesUrl.
func (c *Client) GenerateToken(ctx context.Context, tokenURL string, params GenerateTokenParams) (*GeneratedToken, error) {
	params.F = "json"
	values, err := query.Values(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode generateToken request: %w", err)
	}

	var resp generateTokenResponse
	if err := c.postForm(ctx, tokenURL, values, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, autherr.NewAuthError(autherr.CodeUnknown, "generateToken response missing token")
	}
	return &GeneratedToken{
		Token:   resp.Token,
		Expires: time.UnixMilli(resp.Expires),
		SSL:     resp.SSL,
	}, nil
}

// SignIn generates a portal token from a username and password.
func (c *Client) SignIn(ctx context.Context, username, password string, expirationMinutes int) (*GeneratedToken, error) {
	return c.GenerateToken(ctx, c.portal+"/generateToken", GenerateTokenParams{
		Username:   username,
		Password:   password,
		Expiration: expirationMinutes,
		Client:     "referer",
		Referer:    c.referer,
	})
}

// ServerInfo fetches <root>/rest/info.
func (c *Client) ServerInfo(ctx context.Context, root string) (*ServerInfo, error) {
	var info ServerInfo
	if err := c.getJSON(ctx, strings.TrimSuffix(root, "/")+"/rest/info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// OwningSystemInfo fetches <owningSystemURL>/sharing/rest/info.
func (c *Client) OwningSystemInfo(ctx context.Context, owningSystemURL string) (*PortalInfo, error) {
	var info PortalInfo
	if err := c.getJSON(ctx, strings.TrimSuffix(owningSystemURL, "/")+"/sharing/rest/info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Self fetches portals/self with token.
func (c *Client) Self(ctx context.Context, token string) (*Self, error) {
	var self Self
	if err := c.getJSON(ctx, c.portal+"/portals/self", url.Values{"token": {token}}, &self); err != nil {
		return nil, err
	}
	return &self, nil
}

// CommunitySelf fetches the signed-in user.
func (c *Client) CommunitySelf(ctx context.Context, token string) (*User, error) {
	var user User
	if err := c.getJSON(ctx, c.portal+"/community/self", url.Values{"token": {token}}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// RevokeToken revokes a refresh token or access token issued to clientID.
func (c *Client) RevokeToken(ctx context.Context, clientID, token string) error {
	values, err := query.Values(revokeTokenParams{ClientID: clientID, AuthToken: token, F: "json"})
	if err != nil {
		return fmt.Errorf("failed to encode revoke request: %w", err)
	}

	var resp struct {
		Success bool `json:"success"`
	}
	if err := c.postForm(ctx, c.portal+"/oauth2/revokeToken", values, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return autherr.NewAuthError(autherr.CodeUnknown, "unable to revoke token")
	}
	return nil
}

func (c *Client) postForm(ctx context.Context, endpoint string, values url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, endpoint string, values url.Values, out interface{}) error {
	if values == nil {
		values = url.Values{}
	}
	values.Set("f", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+values.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	req.Header.Set("Accept", "application/json")

	endpoint := req.URL.Scheme + "://" + req.URL.Host + req.URL.Path
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &autherr.NetworkError{URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &autherr.NetworkError{URL: endpoint, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if apiErr := ParseError(body); apiErr != nil {
		logging.Debug("Portal", "Request to %s returned error: %v", endpoint, apiErr)
		return apiErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logging.Debug("Portal", "Request to %s failed with status %d", endpoint, resp.StatusCode)
		return autherr.NewAuthError(autherr.CodeUnknown, statusMessage("request failed", resp.StatusCode, body))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response from %s (%q): %w", endpoint, gstrings.Excerpt(string(body), gstrings.DefaultExcerptLen), err)
	}
	return nil
}

// tokenError classifies a token endpoint failure: transport failures become
// NetworkError, everything else an AuthError with code wrapping the portal's error.
func (c *Client) tokenError(code, message string, err error) error {
	var netErr *autherr.NetworkError
	if errors.As(err, &netErr) {
		return netErr
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &autherr.NetworkError{URL: c.TokenEndpoint(), Err: err}
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if parsed := ParseError(retrieveErr.Body); parsed != nil {
			return autherr.WrapAuthError(code, message, parsed)
		}
		if retrieveErr.ErrorCode != "" {
			return autherr.WrapAuthError(code, message, autherr.NewAuthError(retrieveErr.ErrorCode, retrieveErr.ErrorDescription))
		}
	}
	return autherr.WrapAuthError(code, message, err)
}

type errorEnvelopeTransport struct {
	base http.RoundTripper
}

func (t *errorEnvelopeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		return resp, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	if ParseError(body) != nil {
		resp.StatusCode = http.StatusBadRequest
		resp.Status = "400 Bad Request"
	}
	return resp, nil
}

// statusMessage describes a non-2xx response, quoting the start of its body.
func statusMessage(prefix string, status int, body []byte) string {
	excerpt := gstrings.Excerpt(string(body), gstrings.DefaultExcerptLen)
	if excerpt == "" {
		return fmt.Sprintf("%s with status %d", prefix, status)
	}
	return fmt.Sprintf("%s with status %d: %s", prefix, status, excerpt)
}
