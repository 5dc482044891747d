package identity

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gisauth/internal/autherr"
	"gisauth/pkg/oauth"
)

// DefaultCredentialLifetime is assumed for credentials that carry no expiry.
const DefaultCredentialLifetime = 2 * time.Hour

// Document is the persisted form of a Manager. Expiries are Unix
// milliseconds; an omitted field means "not configured".
type Document struct {
	ClientID            string `json:"clientId,omitempty"`
	RefreshToken        string `json:"refreshToken,omitempty"`
	RefreshTokenExpires int64  `json:"refreshTokenExpires,omitempty"`
	Username            string `json:"username,omitempty"`
	Password            string `json:"password,omitempty"`
	Token               string `json:"token,omitempty"`
	TokenExpires        int64  `json:"tokenExpires,omitempty"`
	Portal              string `json:"portal,omitempty"`
	Server              string `json:"server,omitempty"`
	SSL                 bool   `json:"ssl"`
	TokenDuration       int    `json:"tokenDuration,omitempty"`
	RedirectURI         string `json:"redirectUri,omitempty"`
	Provider            string `json:"provider,omitempty"`
}

func unixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// ToJSON returns the constructor-relevant fields of the manager. Caches and
// in-flight requests are process-local and not included.
func (m *Manager) ToJSON() Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Document{
		ClientID:            m.clientID,
		RefreshToken:        m.rec.refreshToken,
		RefreshTokenExpires: unixMillis(m.rec.refreshTokenExpires),
		Username:            m.rec.username,
		Password:            m.password,
		Token:               m.rec.token,
		TokenExpires:        unixMillis(m.rec.tokenExpires),
		Portal:              m.portal,
		Server:              m.server,
		SSL:                 m.rec.ssl,
		TokenDuration:       m.tokenDuration,
		RedirectURI:         m.redirectURI,
		Provider:            m.provider,
	}
}

// Serialize encodes the manager as JSON.
func (m *Manager) Serialize() ([]byte, error) {
	return json.Marshal(m.ToJSON())
}

// Options converts the document back into constructor options.
func (d Document) Options() Options {
	return Options{
		ClientID:            d.ClientID,
		Token:               d.Token,
		TokenExpires:        fromMillis(d.TokenExpires),
		RefreshToken:        d.RefreshToken,
		RefreshTokenExpires: fromMillis(d.RefreshTokenExpires),
		Username:            d.Username,
		Password:            d.Password,
		RedirectURI:         d.RedirectURI,
		Portal:              d.Portal,
		SSL:                 d.SSL,
		Provider:            d.Provider,
		TokenDuration:       d.TokenDuration,
		Server:              d.Server,
	}
}

// Deserialize builds a new manager, with empty caches, from Serialize output.
func Deserialize(data []byte, opts ...Option) (*Manager, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse serialized identity: %w", err)
	}
	o := doc.Options()
	for _, opt := range opts {
		opt(&o)
	}
	return New(o)
}

// Credential is the token shape exchanged with map SDKs' identity managers.
type Credential struct {
	Expires int64  `json:"expires,omitempty"`
	Server  string `json:"server"`
	SSL     *bool  `json:"ssl,omitempty"`
	Token   string `json:"token"`
	UserID  string `json:"userId,omitempty"`
}

// ServerInfo describes what Credential.Server points at.
type ServerInfo struct {
	Server    string `json:"server"`
	HasPortal bool   `json:"hasPortal"`
	HasServer bool   `json:"hasServer"`
}

// ToCredential returns the manager's primary token as a Credential.
func (m *Manager) ToCredential() Credential {
	m.mu.RLock()
	defer m.mu.RUnlock()
	server := m.server
	if server == "" {
		server = m.portal
	}
	ssl := m.rec.ssl
	return Credential{
		Expires: unixMillis(m.rec.tokenExpires),
		Server:  server,
		SSL:     &ssl,
		Token:   m.rec.token,
		UserID:  m.rec.username,
	}
}

// FromCredential builds a manager from a Credential. A missing ssl flag
// defaults to true and a missing expiry to two hours from now. When info
// reports a standalone server the manager is scoped to it; otherwise
// Credential.Server is taken as the portal.
func FromCredential(cred Credential, info ServerInfo, opts ...Option) (*Manager, error) {
	if cred.Token == "" {
		return nil, autherr.Missing("token", "credential")
	}
	if cred.Server == "" {
		return nil, autherr.Missing("server", "credential")
	}

	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}
	now := o.Clock
	if now == nil {
		now = time.Now
	}

	o.Token = cred.Token
	o.Username = cred.UserID
	o.SSL = true
	if cred.SSL != nil {
		o.SSL = *cred.SSL
	}
	o.TokenExpires = fromMillis(cred.Expires)
	if o.TokenExpires.IsZero() {
		o.TokenExpires = now().Add(DefaultCredentialLifetime)
	}

	if info.HasServer {
		o.Server = cred.Server
	} else {
		portalURL := strings.TrimSuffix(cred.Server, "/")
		if !strings.Contains(portalURL, "sharing/rest") {
			portalURL += "/sharing/rest"
		}
		o.Portal = oauth.NormalizePortalURL(portalURL)
	}
	return New(o)
}
