package oauth

import (
	"fmt"
	"net/url"
	"strconv"
)

const (
	// ResponseTypeCode selects the authorization code (PKCE) flow.
	ResponseTypeCode = "code"
	// ResponseTypeToken selects the implicit flow.
	ResponseTypeToken = "token"

	// ProviderArcGIS is the built-in identity provider.
	ProviderArcGIS = "arcgis"
)

// AuthorizeRequest describes a request to the portal authorize endpoint.
type AuthorizeRequest struct {
	Portal       string
	ClientID     string
	RedirectURI  string
	ResponseType string
	// Provider is a social login provider name; empty or "arcgis" uses the portal login.
	Provider string
	// Expiration is the requested token lifetime in minutes.
	Expiration int
	State      string
	Locale     string
	Style      string
	PKCE       *PKCEChallenge
}

// BuildAuthorizeURL constructs the authorize URL for req.
func BuildAuthorizeURL(req AuthorizeRequest) (string, error) {
	endpoint := NormalizePortalURL(req.Portal) + "/oauth2/authorize"
	social := req.Provider != "" && req.Provider != ProviderArcGIS
	if social {
		endpoint = NormalizePortalURL(req.Portal) + "/oauth2/social/authorize"
	}

	authURL, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid authorization endpoint: %w", err)
	}

	responseType := req.ResponseType
	if responseType == "" {
		responseType = ResponseTypeCode
	}

	query := authURL.Query()
	query.Set("client_id", req.ClientID)
	query.Set("response_type", responseType)
	query.Set("redirect_uri", req.RedirectURI)
	query.Set("state", req.State)
	if req.Expiration > 0 {
		query.Set("expiration", strconv.Itoa(req.Expiration))
	}
	if req.Locale != "" {
		query.Set("locale", req.Locale)
	}
	if req.Style != "" {
		query.Set("style", req.Style)
	}
	if social {
		query.Set("socialLoginProviderName", req.Provider)
		query.Set("autoAccountCreateForSocial", "true")
	}
	if req.PKCE != nil {
		query.Set("code_challenge", req.PKCE.CodeChallenge)
		query.Set("code_challenge_method", req.PKCE.CodeChallengeMethod)
	}

	authURL.RawQuery = query.Encode()
	return authURL.String(), nil
}
