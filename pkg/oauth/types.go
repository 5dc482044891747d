package oauth

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultExpiryMargin is the default margin when checking token expiry.
// This accounts for clock skew and network latency.
const DefaultExpiryMargin = 30 * time.Second

// DefaultPortal is the ArcGIS Online sharing API root used when no portal is configured.
const DefaultPortal = "https://www.arcgis.com/sharing/rest"

// DefaultTokenDuration is the default requested token lifetime (two weeks).
const DefaultTokenDuration = 20160 * time.Minute

// DefaultRefreshTokenTTL is the assumed lifetime of a refresh token when the
// token endpoint does not report one.
const DefaultRefreshTokenTTL = 20160 * time.Minute

// NormalizePortalURL strips a trailing slash so portal URLs compare and join consistently.
func NormalizePortalURL(portal string) string {
	if portal == "" {
		return DefaultPortal
	}
	return strings.TrimSuffix(portal, "/")
}

// TokenResponse is the body returned by the portal oauth2/token endpoint.
type TokenResponse struct {
	// AccessToken is the bearer token used for authorization.
	AccessToken string `json:"access_token"`

	// ExpiresIn is the token lifetime in seconds.
	ExpiresIn int64 `json:"expires_in,omitempty"`

	// Username is the portal user the token was issued to.
	Username string `json:"username,omitempty"`

	// SSL reports whether the organization requires HTTPS.
	SSL bool `json:"ssl,omitempty"`

	// RefreshToken is returned for the code grant and exchange_refresh_token.
	RefreshToken string `json:"refresh_token,omitempty"`

	// RefreshTokenExpiresIn is the refresh token lifetime in seconds, if reported.
	RefreshTokenExpiresIn int64 `json:"refresh_token_expires_in,omitempty"`
}

// Token is a token response resolved against a point in time.
type Token struct {
	AccessToken         string
	Expires             time.Time
	Username            string
	SSL                 bool
	RefreshToken        string
	RefreshTokenExpires time.Time
}

// String describes the token with both secrets redacted, so a Token can be
// passed to a log call as is.
func (t Token) String() string {
	return fmt.Sprintf("{access=%s expires=%s user=%q refresh=%s}",
		NewRedactedToken(t.AccessToken), t.Expires.Format(time.RFC3339), t.Username, NewRedactedToken(t.RefreshToken))
}

// GoString keeps %#v from printing the secrets.
func (t Token) GoString() string {
	return "oauth.Token" + t.String()
}

// ExpiresWithin reports whether the token has expired at now or will within
// margin. A token without an expiry never expires.
func (t *Token) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if t == nil || t.AccessToken == "" {
		return true
	}
	if t.Expires.IsZero() {
		return false
	}
	return !now.Add(margin).Before(t.Expires)
}

// Resolve converts the response into a Token with absolute expiries computed from now.
// A refresh token without a reported lifetime is assumed to live DefaultRefreshTokenTTL.
func (r *TokenResponse) Resolve(now time.Time) *Token {
	tok := &Token{
		AccessToken:  r.AccessToken,
		Username:     r.Username,
		SSL:          r.SSL,
		RefreshToken: r.RefreshToken,
	}
	if r.ExpiresIn > 0 {
		tok.Expires = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	if r.RefreshToken != "" {
		if r.RefreshTokenExpiresIn > 0 {
			tok.RefreshTokenExpires = now.Add(time.Duration(r.RefreshTokenExpiresIn) * time.Second)
		} else {
			tok.RefreshTokenExpires = now.Add(DefaultRefreshTokenTTL)
		}
	}
	return tok
}

// FromOAuth2Token converts a golang.org/x/oauth2 token, reading the ArcGIS
// specific fields from its raw extras.
func FromOAuth2Token(t *oauth2.Token, now time.Time) *Token {
	tok := &Token{
		AccessToken:  t.AccessToken,
		Expires:      t.Expiry,
		RefreshToken: t.RefreshToken,
	}
	if username, ok := t.Extra("username").(string); ok {
		tok.Username = username
	}
	switch ssl := t.Extra("ssl").(type) {
	case bool:
		tok.SSL = ssl
	case string:
		tok.SSL = ssl == "true"
	}
	if tok.RefreshToken != "" {
		if seconds, ok := t.Extra("refresh_token_expires_in").(float64); ok && seconds > 0 {
			tok.RefreshTokenExpires = now.Add(time.Duration(seconds) * time.Second)
		} else {
			tok.RefreshTokenExpires = now.Add(DefaultRefreshTokenTTL)
		}
	}
	return tok
}

// PKCEChallenge holds a PKCE verifier and its derived challenge.
type PKCEChallenge struct {
	CodeVerifier        string
	CodeChallenge       string
	CodeChallengeMethod string
}
