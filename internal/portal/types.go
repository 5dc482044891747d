package portal

import "time"

// GenerateTokenParams is the form body of a generateToken request. Either
// Username/Password (sign-in) or Token/ServerURL (federation) is set.
type GenerateTokenParams struct {
	Username   string `url:"username,omitempty"`
	Password   string `url:"password,omitempty"`
	Token      string `url:"token,omitempty"`
	ServerURL  string `url:"serverUrl,omitempty"`
	Expiration int    `url:"expiration,omitempty"`
	Client     string `url:"client,omitempty"`
	Referer    string `url:"referer,omitempty"`
	F          string `url:"f"`
}

// GeneratedToken is the response of a generateToken request.
type GeneratedToken struct {
	Token string
	// Expires is the absolute expiry reported by the server.
	Expires time.Time
	SSL     bool
}

type generateTokenResponse struct {
	Token   string `json:"token"`
	Expires int64  `json:"expires"`
	SSL     bool   `json:"ssl"`
}

type exchangeRefreshTokenParams struct {
	ClientID     string `url:"client_id"`
	RefreshToken string `url:"refresh_token"`
	RedirectURI  string `url:"redirect_uri"`
	GrantType    string `url:"grant_type"`
	F            string `url:"f"`
}

type exchangeTokenParams struct {
	ClientID string `url:"client_id"`
	Token    string `url:"token"`
	F        string `url:"f"`
}

// PlatformSelf is the token oauth2/platformSelf issued for the platform user.
type PlatformSelf struct {
	Username string
	Token    string
	Expires  time.Time
}

type platformSelfResponse struct {
	Username  string `json:"username"`
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

type revokeTokenParams struct {
	ClientID  string `url:"client_id"`
	AuthToken string `url:"auth_token"`
	F         string `url:"f"`
}

// AuthInfo is the authInfo block of a server or portal info response.
type AuthInfo struct {
	IsTokenBasedSecurity bool   `json:"isTokenBasedSecurity"`
	TokenServicesURL     string `json:"tokenServicesUrl"`
}

// ServerInfo is the response of <serverRoot>/rest/info.
type ServerInfo struct {
	OwningSystemURL string    `json:"owningSystemUrl,omitempty"`
	AuthInfo        *AuthInfo `json:"authInfo,omitempty"`
}

// PortalInfo is the response of <portal>/info.
type PortalInfo struct {
	AuthInfo *AuthInfo `json:"authInfo,omitempty"`
}

// Self is the subset of portals/self used for trusted domains.
type Self struct {
	ID                           string   `json:"id,omitempty"`
	Name                         string   `json:"name,omitempty"`
	AuthorizedCrossOriginDomains []string `json:"authorizedCrossOriginDomains,omitempty"`
}

// User is the subset of community/self describing the signed-in user.
type User struct {
	Username string `json:"username"`
	FullName string `json:"fullName,omitempty"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
	OrgID    string `json:"orgId,omitempty"`
}
