package mock

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// PortalServerConfig configures the mock portal behavior.
type PortalServerConfig struct {
	// ClientID is the registered OAuth client id (default "test-client").
	ClientID string

	// ClientSecret is accepted by the client_credentials grant (default "test-secret").
	ClientSecret string

	// PlatformCookie is the esri_aopc cookie value accepted by oauth2/platformSelf.
	// platformSelf always fails when it is empty.
	PlatformCookie string

	// Username and Password are accepted by generateToken sign-in.
	Username string
	Password string

	// TokenLifetime is how long issued access tokens remain valid (default 1h).
	TokenLifetime time.Duration

	// RefreshTokenLifetime is reported as refresh_token_expires_in (default 14 days).
	RefreshTokenLifetime time.Duration

	// SSL is returned in token responses.
	SSL bool

	// TrustedDomains is returned as portals/self authorizedCrossOriginDomains.
	TrustedDomains []string

	// Deny makes the authorize endpoint redirect with error=access_denied.
	Deny bool

	// SimulateErrors can be set to simulate various error conditions.
	SimulateErrors *PortalErrorSimulation

	// Clock is the clock used for expiry (defaults to RealClock).
	Clock Clock
}

// PortalErrorSimulation allows simulating error conditions.
type PortalErrorSimulation struct {
	// TokenEndpointCode makes /oauth2/token return an ArcGIS error envelope with this code.
	TokenEndpointCode int

	// TokenDelay delays /oauth2/token responses.
	TokenDelay time.Duration

	// GenerateTokenCode makes federation generateToken calls fail with this code.
	GenerateTokenCode int

	// SelfCode makes portals/self fail with this code.
	SelfCode int

	// FederationDelay delays server rest/info responses.
	FederationDelay time.Duration
}

// PortalServer is an in-process ArcGIS portal exposing the sharing REST
// endpoints the identity manager uses, plus federated and unfederated
// ArcGIS Server instances on the same host.
type PortalServer struct {
	config PortalServerConfig
	server *httptest.Server
	clock  Clock

	mu            sync.Mutex
	authCodes     map[string]*authCodeEntry
	refreshTokens map[string]string    // refresh token -> client id
	accessTokens  map[string]time.Time // access token -> expiry
	serverTokens  map[string]string    // server token -> server root
	servers       map[string]string    // root path -> owningSystemUrl ("" for standalone)
	hits          map[string]int
	revoked       []string
}

type authCodeEntry struct {
	ClientID        string
	RedirectURI     string
	CodeChallenge   string
	ChallengeMethod string
}

// Endpoint names reported by Hits.
const (
	HitAuthorize     = "authorize"
	HitToken         = "token"
	HitGenerateToken = "generateToken"
	HitServerInfo    = "serverInfo"
	HitPortalInfo    = "portalInfo"
	HitSelf          = "self"
	HitCommunitySelf = "communitySelf"
	HitRevoke        = "revoke"
	HitExchangeToken = "exchangeToken"
	HitPlatformSelf  = "platformSelf"
	HitResource      = "resource"
)

// NewPortalServer creates and starts a mock portal. Call Close when done.
func NewPortalServer(config PortalServerConfig) *PortalServer {
	if config.ClientID == "" {
		config.ClientID = "test-client"
	}
	if config.ClientSecret == "" {
		config.ClientSecret = "test-secret"
	}
	if config.Username == "" {
		config.Username = "casey"
	}
	if config.TokenLifetime == 0 {
		config.TokenLifetime = time.Hour
	}
	if config.RefreshTokenLifetime == 0 {
		config.RefreshTokenLifetime = 14 * 24 * time.Hour
	}
	clock := config.Clock
	if clock == nil {
		clock = RealClock{}
	}

	s := &PortalServer{
		config:        config,
		clock:         clock,
		authCodes:     make(map[string]*authCodeEntry),
		refreshTokens: make(map[string]string),
		accessTokens:  make(map[string]time.Time),
		serverTokens:  make(map[string]string),
		servers:       make(map[string]string),
		hits:          make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/sharing/rest/oauth2/authorize", s.handleAuthorize)
	mux.HandleFunc("/sharing/rest/oauth2/token", s.handleToken)
	mux.HandleFunc("/sharing/rest/oauth2/revokeToken", s.handleRevoke)
	mux.HandleFunc("/sharing/rest/oauth2/exchangeToken", s.handleExchangeToken)
	mux.HandleFunc("/sharing/rest/oauth2/platformSelf", s.handlePlatformSelf)
	mux.HandleFunc("/sharing/rest/generateToken", s.handleGenerateToken)
	mux.HandleFunc("/sharing/rest/info", s.handlePortalInfo)
	mux.HandleFunc("/sharing/rest/portals/self", s.handleSelf)
	mux.HandleFunc("/sharing/rest/community/self", s.handleCommunitySelf)
	mux.HandleFunc("/", s.handleServer)

	s.server = httptest.NewServer(mux)
	return s
}

// Close shuts the server down.
func (s *PortalServer) Close() {
	s.server.Close()
}

// URL returns the base URL of the host, e.g. http://127.0.0.1:1234.
func (s *PortalServer) URL() string {
	return s.server.URL
}

// PortalURL returns the sharing REST root of the portal.
func (s *PortalServer) PortalURL() string {
	return s.server.URL + "/sharing/rest"
}

// ClientSecret returns the secret accepted by the client_credentials grant.
func (s *PortalServer) ClientSecret() string {
	return s.config.ClientSecret
}

// ClientID returns the registered client id.
func (s *PortalServer) ClientID() string {
	return s.config.ClientID
}

// AddFederatedServer registers an ArcGIS Server at rootPath (e.g. "/fed/arcgis")
// federated with this portal, and returns its root URL.
func (s *PortalServer) AddFederatedServer(rootPath string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[rootPath] = s.server.URL
	return s.server.URL + rootPath
}

// AddUnfederatedServer registers a server owned by a different portal.
func (s *PortalServer) AddUnfederatedServer(rootPath, owningSystemURL string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[rootPath] = owningSystemURL
	return s.server.URL + rootPath
}

// Hits returns how many times endpoint was called.
func (s *PortalServer) Hits(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[endpoint]
}

// Revoked returns the tokens passed to revokeToken.
func (s *PortalServer) Revoked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.revoked...)
}

// IssueToken registers an access token valid for the configured lifetime and returns it.
func (s *PortalServer) IssueToken() string {
	tok := generateOpaqueToken()
	s.mu.Lock()
	s.accessTokens[tok] = s.clock.Now().Add(s.config.TokenLifetime)
	s.mu.Unlock()
	return tok
}

// IssueRefreshToken registers a refresh token for the configured client.
func (s *PortalServer) IssueRefreshToken() string {
	tok := generateOpaqueToken()
	s.mu.Lock()
	s.refreshTokens[tok] = s.config.ClientID
	s.mu.Unlock()
	return tok
}

// InvalidateToken makes a previously issued access or server token invalid.
func (s *PortalServer) InvalidateToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accessTokens, token)
	delete(s.serverTokens, token)
}

// SetSimulateErrors replaces the error simulation settings.
func (s *PortalServer) SetSimulateErrors(sim *PortalErrorSimulation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.SimulateErrors = sim
}

func (s *PortalServer) hit(endpoint string) {
	s.mu.Lock()
	s.hits[endpoint]++
	s.mu.Unlock()
}

func (s *PortalServer) simulation() PortalErrorSimulation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config.SimulateErrors == nil {
		return PortalErrorSimulation{}
	}
	return *s.config.SimulateErrors
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeArcGISError writes the ArcGIS error envelope with HTTP 200, as real portals do.
func writeArcGISError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
			"details": []string{},
		},
	})
}

func (s *PortalServer) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	s.hit(HitAuthorize)
	q := r.URL.Query()
	redirectURI := q.Get("redirect_uri")
	state := q.Get("state")

	target, err := url.Parse(redirectURI)
	if err != nil || redirectURI == "" {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}
	if q.Get("client_id") != s.config.ClientID {
		http.Error(w, "invalid client_id", http.StatusBadRequest)
		return
	}

	params := url.Values{}
	params.Set("state", state)

	switch {
	case s.config.Deny:
		params.Set("error", "access_denied")
		params.Set("error_description", "The user denied your request.")
		if q.Get("response_type") == "token" {
			target.Fragment = params.Encode()
		} else {
			target.RawQuery = params.Encode()
		}
	case q.Get("response_type") == "token":
		tok := s.IssueToken()
		params.Set("access_token", tok)
		params.Set("expires_in", strconv.Itoa(int(s.config.TokenLifetime.Seconds())))
		params.Set("username", s.config.Username)
		params.Set("ssl", strconv.FormatBool(s.config.SSL))
		target.Fragment = params.Encode()
	default:
		code := generateOpaqueToken()
		s.mu.Lock()
		s.authCodes[code] = &authCodeEntry{
			ClientID:        q.Get("client_id"),
			RedirectURI:     redirectURI,
			CodeChallenge:   q.Get("code_challenge"),
			ChallengeMethod: q.Get("code_challenge_method"),
		}
		s.mu.Unlock()
		params.Set("code", code)
		target.RawQuery = params.Encode()
	}

	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (s *PortalServer) handleToken(w http.ResponseWriter, r *http.Request) {
	s.hit(HitToken)
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	sim := s.simulation()
	if sim.TokenDelay > 0 {
		time.Sleep(sim.TokenDelay)
	}
	if sim.TokenEndpointCode != 0 {
		writeArcGISError(w, sim.TokenEndpointCode, "Simulated token endpoint failure")
		return
	}

	if r.FormValue("client_id") != s.config.ClientID {
		writeArcGISError(w, 400, "Invalid client_id")
		return
	}

	switch r.FormValue("grant_type") {
	case "authorization_code":
		s.handleAuthCodeExchange(w, r)
	case "refresh_token":
		s.handleRefreshToken(w, r, false)
	case "exchange_refresh_token":
		s.handleRefreshToken(w, r, true)
	case "client_credentials":
		s.handleClientCredentials(w, r)
	default:
		writeArcGISError(w, 400, "Unsupported grant_type")
	}
}

func (s *PortalServer) handleAuthCodeExchange(w http.ResponseWriter, r *http.Request) {
	code := r.FormValue("code")

	s.mu.Lock()
	entry, exists := s.authCodes[code]
	if exists {
		delete(s.authCodes, code)
	}
	s.mu.Unlock()

	if !exists {
		writeArcGISError(w, 400, "Invalid authorization code")
		return
	}
	if entry.RedirectURI != r.FormValue("redirect_uri") {
		writeArcGISError(w, 400, "Invalid redirect_uri")
		return
	}

	if entry.CodeChallenge != "" {
		verifier := r.FormValue("code_verifier")
		if verifier == "" {
			writeArcGISError(w, 400, "code_verifier required")
			return
		}
		expected := verifier
		if entry.ChallengeMethod == "S256" {
			sum := sha256.Sum256([]byte(verifier))
			expected = base64.RawURLEncoding.EncodeToString(sum[:])
		}
		if expected != entry.CodeChallenge {
			writeArcGISError(w, 400, "Invalid code_verifier")
			return
		}
	}

	s.writeTokenResponse(w, true)
}

func (s *PortalServer) handleRefreshToken(w http.ResponseWriter, r *http.Request, rotate bool) {
	refreshToken := r.FormValue("refresh_token")

	s.mu.Lock()
	_, ok := s.refreshTokens[refreshToken]
	if ok && rotate {
		delete(s.refreshTokens, refreshToken)
	}
	s.mu.Unlock()

	if !ok {
		writeArcGISError(w, 498, "Invalid refresh_token")
		return
	}
	s.writeTokenResponse(w, rotate)
}

// handleClientCredentials issues an app token. App tokens carry no user and
// no refresh token.
func (s *PortalServer) handleClientCredentials(w http.ResponseWriter, r *http.Request) {
	if r.FormValue("client_secret") != s.config.ClientSecret {
		writeArcGISError(w, 400, "Invalid client_secret")
		return
	}
	lifetime := s.config.TokenLifetime
	if minutes, err := strconv.Atoi(r.FormValue("expiration")); err == nil && minutes > 0 {
		lifetime = time.Duration(minutes) * time.Minute
	}
	tok := generateOpaqueToken()
	s.mu.Lock()
	s.accessTokens[tok] = s.clock.Now().Add(lifetime)
	s.mu.Unlock()
	writeJSON(w, map[string]interface{}{
		"access_token": tok,
		"expires_in":   int(lifetime.Seconds()),
	})
}

// handleExchangeToken trades a valid token for one issued to client_id.
func (s *PortalServer) handleExchangeToken(w http.ResponseWriter, r *http.Request) {
	s.hit(HitExchangeToken)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if r.FormValue("client_id") != s.config.ClientID {
		writeArcGISError(w, 400, "Invalid client_id")
		return
	}
	if !s.validAccessToken(r.FormValue("token")) {
		writeArcGISError(w, 498, "Invalid token.")
		return
	}
	writeJSON(w, map[string]string{"token": s.IssueToken()})
}

// handlePlatformSelf turns the esri_aopc cookie into a token for the client
// named in the X-Esri-Auth-Client-Id header.
func (s *PortalServer) handlePlatformSelf(w http.ResponseWriter, r *http.Request) {
	s.hit(HitPlatformSelf)
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.Header.Get("X-Esri-Auth-Client-Id") != s.config.ClientID || r.Header.Get("X-Esri-Auth-Redirect-Uri") == "" {
		writeArcGISError(w, 400, "Invalid client")
		return
	}
	cookie, err := r.Cookie("esri_aopc")
	if err != nil || s.config.PlatformCookie == "" || cookie.Value != s.config.PlatformCookie {
		writeArcGISError(w, 401, "Not signed in to the platform")
		return
	}
	writeJSON(w, map[string]interface{}{
		"username":   s.config.Username,
		"token":      s.IssueToken(),
		"expires_in": int(s.config.TokenLifetime.Seconds()),
	})
}

func (s *PortalServer) writeTokenResponse(w http.ResponseWriter, withRefresh bool) {
	resp := map[string]interface{}{
		"access_token": s.IssueToken(),
		"expires_in":   int(s.config.TokenLifetime.Seconds()),
		"username":     s.config.Username,
		"ssl":          s.config.SSL,
	}
	if withRefresh {
		resp["refresh_token"] = s.IssueRefreshToken()
		resp["refresh_token_expires_in"] = int(s.config.RefreshTokenLifetime.Seconds())
	}
	writeJSON(w, resp)
}

func (s *PortalServer) handleGenerateToken(w http.ResponseWriter, r *http.Request) {
	s.hit(HitGenerateToken)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	// Username/password sign-in.
	if username := r.FormValue("username"); username != "" {
		if username != s.config.Username || r.FormValue("password") != s.config.Password {
			writeArcGISError(w, 400, "Unable to generate token.")
			return
		}
		tok := s.IssueToken()
		writeJSON(w, map[string]interface{}{
			"token":   tok,
			"expires": s.clock.Now().Add(s.config.TokenLifetime).UnixMilli(),
			"ssl":     s.config.SSL,
		})
		return
	}

	// Federation: present the portal token for a server.
	if sim := s.simulation(); sim.GenerateTokenCode != 0 {
		writeArcGISError(w, sim.GenerateTokenCode, "Simulated generateToken failure")
		return
	}
	if !s.validAccessToken(r.FormValue("token")) {
		writeArcGISError(w, 498, "Invalid token.")
		return
	}
	serverURL := r.FormValue("serverUrl")
	if serverURL == "" {
		writeArcGISError(w, 400, "serverUrl required")
		return
	}

	tok := generateOpaqueToken()
	s.mu.Lock()
	s.serverTokens[tok] = serverURL
	s.mu.Unlock()

	writeJSON(w, map[string]interface{}{
		"token":   tok,
		"expires": s.clock.Now().Add(s.config.TokenLifetime).UnixMilli(),
		"ssl":     s.config.SSL,
	})
}

func (s *PortalServer) validAccessToken(tok string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.accessTokens[tok]
	return ok && s.clock.Now().Before(exp)
}

func (s *PortalServer) handlePortalInfo(w http.ResponseWriter, r *http.Request) {
	s.hit(HitPortalInfo)
	writeJSON(w, map[string]interface{}{
		"authInfo": map[string]interface{}{
			"isTokenBasedSecurity": true,
			"tokenServicesUrl":     s.PortalURL() + "/generateToken",
		},
	})
}

func (s *PortalServer) handleSelf(w http.ResponseWriter, r *http.Request) {
	s.hit(HitSelf)
	if code := s.simulation().SelfCode; code != 0 {
		writeArcGISError(w, code, "Unable to load portal.")
		return
	}
	if !s.validAccessToken(r.URL.Query().Get("token")) {
		writeArcGISError(w, 498, "Invalid token.")
		return
	}
	writeJSON(w, map[string]interface{}{
		"id":                           "org-id",
		"name":                         "Mock Org",
		"authorizedCrossOriginDomains": s.config.TrustedDomains,
	})
}

func (s *PortalServer) handleCommunitySelf(w http.ResponseWriter, r *http.Request) {
	s.hit(HitCommunitySelf)
	if !s.validAccessToken(r.URL.Query().Get("token")) {
		writeArcGISError(w, 498, "Invalid token.")
		return
	}
	writeJSON(w, map[string]interface{}{
		"username": s.config.Username,
		"fullName": "Casey Jones",
		"role":     "org_user",
		"orgId":    "org-id",
	})
}

func (s *PortalServer) handleRevoke(w http.ResponseWriter, r *http.Request) {
	s.hit(HitRevoke)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	tok := r.FormValue("auth_token")

	s.mu.Lock()
	s.revoked = append(s.revoked, tok)
	delete(s.refreshTokens, tok)
	delete(s.accessTokens, tok)
	s.mu.Unlock()

	writeJSON(w, map[string]bool{"success": true})
}

// handleServer serves rest/info and resource requests for registered servers.
func (s *PortalServer) handleServer(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	var root, owner string
	found := false
	for path, owning := range s.servers {
		if strings.HasPrefix(r.URL.Path, path+"/rest/") {
			root, owner, found = path, owning, true
			break
		}
	}
	s.mu.Unlock()

	if !found {
		http.NotFound(w, r)
		return
	}

	if r.URL.Path == root+"/rest/info" {
		s.hit(HitServerInfo)
		if delay := s.simulation().FederationDelay; delay > 0 {
			time.Sleep(delay)
		}
		info := map[string]interface{}{
			"currentVersion": 11.1,
			"authInfo": map[string]interface{}{
				"isTokenBasedSecurity": true,
				"tokenServicesUrl":     s.server.URL + root + "/tokens/generateToken",
			},
		}
		if owner != "" {
			info["owningSystemUrl"] = owner
		}
		writeJSON(w, info)
		return
	}

	// Any other path under rest/ is a protected resource.
	s.hit(HitResource)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	tok := r.FormValue("token")
	s.mu.Lock()
	serverURL, isServerToken := s.serverTokens[tok]
	s.mu.Unlock()

	if tok == "" {
		writeArcGISError(w, 499, "Token Required")
		return
	}
	if !(isServerToken && serverURL == s.server.URL+root) && !s.validAccessToken(tok) {
		writeArcGISError(w, 498, "Invalid token.")
		return
	}
	writeJSON(w, map[string]interface{}{"features": []interface{}{}, "path": r.URL.Path})
}

func generateOpaqueToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Errorf("crypto/rand failed: %w", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
