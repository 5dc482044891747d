package identity

import (
	"context"
	"errors"
	"time"

	"gisauth/internal/autherr"
	"gisauth/internal/federation"
	"gisauth/internal/metrics"
	"gisauth/internal/pending"
	"gisauth/internal/portal"
	"gisauth/pkg/logging"
	"gisauth/pkg/oauth"
)

// refreshTokenExchangeWindow is how close to expiry a refresh token must be
// before it is exchanged for a new one instead of merely redeemed.
const refreshTokenExchangeWindow = 24 * time.Hour

const (
	refreshPathExchange = "exchange_refresh_token"
	refreshPathRedeem   = "refresh_token"
	refreshPathPassword = "password"
	refreshPathNone     = "none"
)

const primaryKey = "primary"

// RefreshCredentials obtains a new primary token. Concurrent callers share a
// single refresh. Federated server tokens are left alone; they expire on
// their own schedule.
func (m *Manager) RefreshCredentials(ctx context.Context) error {
	if err := m.checkAlive(); err != nil {
		return err
	}
	_, err := pending.Acquire(ctx, m.pending, pending.PurposeRefresh, primaryKey, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.refresh(ctx)
	})
	return err
}

func (m *Manager) refresh(ctx context.Context) error {
	m.mu.RLock()
	snapshot := m.rec
	useRefreshToken := m.refreshTokenUsableLocked()
	m.mu.RUnlock()

	var (
		path string
		tok  *oauth.Token
		err  error
	)
	switch {
	case useRefreshToken:
		path, tok, err = m.redeemRefreshToken(ctx, snapshot)
	case snapshot.username != "" && m.password != "":
		path = refreshPathPassword
		tok, err = m.signIn(ctx, snapshot.username)
	default:
		path = refreshPathNone
		err = autherr.NewAuthError(autherr.CodeTokenRefreshFailed,
			"Unable to refresh token. No refresh token or password present.")
	}
	metrics.ObserveRefresh(path, err)
	if err != nil {
		logging.Debug("Identity", "Refresh via %s failed: %v", path, err)
		return err
	}

	applied := m.commit(snapshot.generation, func(r *record) {
		r.token = tok.AccessToken
		r.tokenExpires = tok.Expires
		if tok.RefreshToken != "" {
			r.refreshToken = tok.RefreshToken
			r.refreshTokenExpires = tok.RefreshTokenExpires
		}
		if tok.Username != "" {
			r.username = tok.Username
		}
		if tok.SSL {
			r.ssl = true
		}
	})
	if !applied {
		logging.Debug("Identity", "Discarded refresh result; token was updated while refreshing")
		return nil
	}

	m.mu.Lock()
	m.user = nil
	m.mu.Unlock()
	m.reseedServer()
	logging.Debug("Identity", "Refreshed primary token via %s", path)
	return nil
}

func (m *Manager) redeemRefreshToken(ctx context.Context, snapshot record) (string, *oauth.Token, error) {
	nearExpiry := !snapshot.refreshTokenExpires.IsZero() &&
		snapshot.refreshTokenExpires.Add(-refreshTokenExchangeWindow).Before(m.now())

	if nearExpiry && m.redirectURI != "" {
		tok, err := m.client.ExchangeRefreshToken(ctx, m.clientID, m.redirectURI, snapshot.refreshToken)
		return refreshPathExchange, tok, err
	}
	if nearExpiry {
		logging.Debug("Identity", "Refresh token nears expiry but no redirect URI is configured; redeeming instead")
	}
	tok, err := m.client.RefreshToken(ctx, m.clientID, snapshot.refreshToken)
	return refreshPathRedeem, tok, err
}

// signIn generates a token from username and password, either at the portal
// or, for a server-scoped manager, at the server's own token service.
func (m *Manager) signIn(ctx context.Context, username string) (*oauth.Token, error) {
	var (
		generated *portal.GeneratedToken
		err       error
	)
	if m.server != "" {
		generated, err = m.signInToServer(ctx, username)
	} else {
		generated, err = m.client.SignIn(ctx, username, m.password, m.tokenDuration)
	}
	if err != nil {
		var netErr *autherr.NetworkError
		if errors.As(err, &netErr) {
			return nil, netErr
		}
		return nil, autherr.WrapAuthError(autherr.CodeTokenRefreshFailed, "unable to sign in with username and password", err)
	}
	return &oauth.Token{AccessToken: generated.Token, Expires: generated.Expires, SSL: generated.SSL}, nil
}

func (m *Manager) signInToServer(ctx context.Context, username string) (*portal.GeneratedToken, error) {
	info, err := m.client.ServerInfo(ctx, federation.ServerRootURL(m.server))
	if err != nil {
		return nil, err
	}
	if info.AuthInfo == nil || info.AuthInfo.TokenServicesURL == "" {
		return nil, autherr.NewAuthError(autherr.CodeTokenRefreshFailed, m.server+" does not advertise a token service")
	}
	referer := m.referer
	if referer == "" {
		referer = portal.DefaultReferer
	}
	return m.client.GenerateToken(ctx, info.AuthInfo.TokenServicesURL, portal.GenerateTokenParams{
		Username:   username,
		Password:   m.password,
		Expiration: m.tokenDuration,
		Client:     "referer",
		Referer:    referer,
	})
}

// reseedServer keeps the trust cache entry of a server-scoped manager in
// step with its primary token.
func (m *Manager) reseedServer() {
	if m.server == "" {
		return
	}
	m.mu.RLock()
	entry := federation.Entry{Token: m.rec.token, Expires: m.rec.tokenExpires}
	m.mu.RUnlock()
	m.cache.Put(federation.ServerRootURL(m.server), entry)
}

// UpdateToken replaces the primary token with one obtained out of band. A
// refresh already in flight will not overwrite it.
func (m *Manager) UpdateToken(token string, expires time.Time) error {
	if err := m.checkAlive(); err != nil {
		return err
	}
	m.mu.Lock()
	m.rec.token = token
	m.rec.tokenExpires = expires
	m.rec.generation++
	m.mu.Unlock()

	m.reseedServer()
	return nil
}

// commit applies a token write made from a snapshot taken at generation. The
// write is dropped when another write landed in the meantime.
func (m *Manager) commit(generation uint64, apply func(*record)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed || m.rec.generation != generation {
		return false
	}
	apply(&m.rec)
	m.rec.generation++
	return true
}
