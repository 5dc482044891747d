package request

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gisauth/internal/autherr"
	"gisauth/internal/portal"
	"gisauth/pkg/logging"
	gstrings "gisauth/pkg/strings"
)

const (
	// DefaultTimeout applies when no HTTP client is given.
	DefaultTimeout = 60 * time.Second

	maxResponseBytes = 10 << 20
)

// Credentials resolves and refreshes the tokens presented by Send.
// *identity.Manager implements it.
type Credentials interface {
	GetToken(ctx context.Context, target string) (string, error)
	RefreshCredentials(ctx context.Context) error
}

// invalidator is implemented by credentials that cache per-server tokens.
// InvalidateToken reports whether target used such a token, which it evicts.
type invalidator interface {
	InvalidateToken(target string) bool
}

type config struct {
	method     string
	httpClient *http.Client
}

// Option configures Send.
type Option func(*config)

// WithMethod selects the HTTP method, GET or POST. The default is POST.
func WithMethod(method string) Option {
	return func(c *config) { c.method = strings.ToUpper(method) }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// Send requests target with params, adding f=json and the token creds
// resolve for target. A nil creds sends the request anonymously. The body of
// a successful response is returned; ArcGIS error envelopes become errors.
func Send(ctx context.Context, target string, params url.Values, creds Credentials, opts ...Option) (json.RawMessage, error) {
	cfg := config{method: http.MethodPost}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.httpClient == nil {
		cfg.httpClient = &http.Client{Timeout: DefaultTimeout}
	}

	body, err := attempt(ctx, cfg, target, params, creds)
	if err == nil || creds == nil || !autherr.IsInvalidToken(err) {
		return body, err
	}

	// A rejected server token is regenerated on the retry. Only a rejected
	// primary token needs a refresh.
	if inv, ok := creds.(invalidator); ok && inv.InvalidateToken(target) {
		logging.Debug("Request", "Server token rejected by %s (%v), retrying once", target, err)
		return attempt(ctx, cfg, target, params, creds)
	}
	logging.Debug("Request", "Token rejected by %s (%v), refreshing and retrying once", target, err)
	if refreshErr := creds.RefreshCredentials(ctx); refreshErr != nil {
		return nil, refreshErr
	}
	return attempt(ctx, cfg, target, params, creds)
}

func attempt(ctx context.Context, cfg config, target string, params url.Values, creds Credentials) (json.RawMessage, error) {
	values := url.Values{}
	for k, v := range params {
		values[k] = append([]string(nil), v...)
	}
	values.Set("f", "json")

	if creds != nil {
		token, err := creds.GetToken(ctx, target)
		if err != nil {
			return nil, err
		}
		if token != "" {
			values.Set("token", token)
		}
	}

	req, err := newRequest(ctx, cfg.method, target, values)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := cfg.httpClient.Do(req)
	if err != nil {
		return nil, &autherr.NetworkError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &autherr.NetworkError{URL: target, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	if apiErr := portal.ParseError(body); apiErr != nil {
		return nil, apiErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, autherr.NewAuthError(autherr.CodeUnknown, fmt.Sprintf("%s returned status %d: %s",
			target, resp.StatusCode, gstrings.Excerpt(string(body), gstrings.DefaultExcerptLen)))
	}
	return json.RawMessage(body), nil
}

func newRequest(ctx context.Context, method, target string, values url.Values) (*http.Request, error) {
	switch method {
	case http.MethodGet:
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		return http.NewRequestWithContext(ctx, http.MethodGet, target+sep+values.Encode(), nil)
	case http.MethodPost:
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(values.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	default:
		return nil, &autherr.ConfigurationError{Field: "method", Message: "unsupported HTTP method " + method}
	}
}
