package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gisauth/internal/autherr"
	"gisauth/internal/federation"
	"gisauth/internal/metrics"
	"gisauth/internal/pending"
	"gisauth/internal/portal"
	"gisauth/pkg/logging"
)

// GetToken returns the token to present to target:
//
//   - the primary token when target belongs to the portal (or to the server
//     this manager is scoped to), refreshed first when expired
//   - "" when target is a trusted domain; the request carries cookies instead
//   - a federated server token otherwise, from the trust cache or freshly
//     generated by the portal
//
// "" with a nil error is also returned for servers not federated with the
// portal; the request then proceeds unauthenticated.
func (m *Manager) GetToken(ctx context.Context, target string) (string, error) {
	if err := m.checkAlive(); err != nil {
		return "", err
	}

	started := time.Now()
	kind := metrics.KindPrimary
	token, err := func() (string, error) {
		if m.usesPrimaryToken(target) {
			return m.freshToken(ctx)
		}
		if m.TrustedForCookies(ctx, target) {
			kind = metrics.KindTrusted
			return "", nil
		}
		kind = metrics.KindFederated
		return m.tokenForServer(ctx, target)
	}()
	if err == nil && token == "" && kind == metrics.KindFederated {
		kind = metrics.KindNone
	}
	metrics.ObserveResolution(kind, started, err)
	return token, err
}

// trustedRetryDelay is how long a failed portals/self lookup is remembered.
const trustedRetryDelay = time.Minute

func (m *Manager) usesPrimaryToken(target string) bool {
	if federation.CanUseOnlineToken(m.portal, target) {
		return true
	}
	if federation.IsSameServer(m.portal, target) {
		return true
	}
	return m.server != "" && federation.ServerRootURL(target) == federation.ServerRootURL(m.server)
}

// freshToken returns an unexpired primary token, refreshing when needed.
func (m *Manager) freshToken(ctx context.Context) (string, error) {
	m.mu.RLock()
	token, expired := m.rec.token, m.tokenExpiredLocked()
	m.mu.RUnlock()
	if !expired {
		return token, nil
	}

	if err := m.RefreshCredentials(ctx); err != nil {
		return "", err
	}
	return m.Token(), nil
}

// TrustedForCookies reports whether target is one of the portal's trusted
// domains, which authenticate with cookies rather than tokens. The portal's
// authorizedCrossOriginDomains are loaded once on first use.
func (m *Manager) TrustedForCookies(ctx context.Context, target string) bool {
	m.loadTrustedDomains(ctx)

	m.mu.RLock()
	defer m.mu.RUnlock()
	return federation.MatchesTrustedDomain(m.trusted, target)
}

// TrustedDomains returns the normalized trusted-domain prefixes known so far.
func (m *Manager) TrustedDomains() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.trusted...)
}

func (m *Manager) loadTrustedDomains(ctx context.Context) {
	// A server-scoped credential has no portal to ask.
	if m.server != "" {
		return
	}
	m.mu.RLock()
	skip := m.trustedLoaded || m.now().Before(m.trustedRetryAt)
	m.mu.RUnlock()
	if skip {
		return
	}

	_, err := pending.Acquire(ctx, m.pending, pending.PurposeTrusted, m.portal, func(ctx context.Context) (struct{}, error) {
		token, err := m.freshToken(ctx)
		if err != nil {
			return struct{}{}, err
		}
		self, err := m.client.Self(ctx, token)
		if err != nil {
			return struct{}{}, err
		}

		domains := append(append([]string(nil), m.configuredTrust...),
			federation.NormalizeTrustedDomains(self.AuthorizedCrossOriginDomains)...)
		m.mu.Lock()
		m.trusted = domains
		m.trustedLoaded = true
		m.mu.Unlock()
		logging.Debug("Identity", "Loaded %d trusted domains for %s", len(domains), m.portal)
		return struct{}{}, nil
	})
	if err != nil && ctx.Err() == nil {
		// Configured domains still apply until the retry.
		m.mu.Lock()
		m.trustedRetryAt = m.now().Add(trustedRetryDelay)
		m.mu.Unlock()
		logging.Warn("Identity", "Unable to load trusted domains for %s, retrying in %s: %v", m.portal, trustedRetryDelay, err)
	}
}

// tokenForServer returns a token for the federated server that target
// belongs to.
func (m *Manager) tokenForServer(ctx context.Context, target string) (string, error) {
	root := federation.ServerRootURL(target)
	if entry, ok := m.cache.Get(root); ok {
		metrics.CacheHit()
		return entry.Token, nil
	}
	metrics.CacheMiss()

	return pending.Acquire(ctx, m.pending, pending.PurposeFederate, root, func(ctx context.Context) (string, error) {
		// A previous holder of the ticket may have just filled the cache.
		if entry, ok := m.cache.Get(root); ok {
			return entry.Token, nil
		}
		return m.federate(ctx, root)
	})
}

func (m *Manager) federate(ctx context.Context, root string) (string, error) {
	info, err := m.client.ServerInfo(ctx, root)
	if err != nil {
		return "", serverTokenError(root, err)
	}
	if !federation.IsFederated(info.OwningSystemURL, m.portal) {
		logging.Debug("Identity", "%s is not federated with %s (owner %q), sending without token", root, m.portal, info.OwningSystemURL)
		return "", nil
	}

	owner, err := m.client.OwningSystemInfo(ctx, info.OwningSystemURL)
	if err != nil {
		return "", serverTokenError(root, err)
	}
	if owner.AuthInfo == nil || owner.AuthInfo.TokenServicesURL == "" {
		return "", autherr.NewAuthError(autherr.CodeGenerateTokenForServer,
			fmt.Sprintf("%s does not advertise a token service", info.OwningSystemURL))
	}

	// An expired primary token cannot be exchanged.
	primary, err := m.freshToken(ctx)
	if err != nil {
		return "", err
	}

	generated, err := m.client.GenerateToken(ctx, owner.AuthInfo.TokenServicesURL, portal.GenerateTokenParams{
		Token:      primary,
		ServerURL:  root,
		Expiration: m.tokenDuration,
	})
	if err != nil {
		return "", serverTokenError(root, err)
	}

	m.cache.Put(root, federation.Entry{
		Token:   generated.Token,
		Expires: generated.Expires.Add(-federation.ExpiryMargin),
	})
	logging.Debug("Identity", "Generated token for federated server %s", root)
	return generated.Token, nil
}

func serverTokenError(root string, err error) error {
	var netErr *autherr.NetworkError
	if errors.As(err, &netErr) {
		return netErr
	}
	return autherr.WrapAuthError(autherr.CodeGenerateTokenForServer,
		fmt.Sprintf("unable to generate token for %s", root), err)
}

// InvalidateToken forgets the cached federated token for target's server so
// that the next GetToken generates a new one. It returns false when target
// uses the primary token, which is left alone; RefreshCredentials replaces it.
func (m *Manager) InvalidateToken(target string) bool {
	if m.usesPrimaryToken(target) {
		return false
	}
	m.cache.Remove(federation.ServerRootURL(target))
	return true
}
