package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gisauth/internal/autherr"
	"gisauth/internal/testing/mock"
)

const testRedirect = "https://app.example/callback"

func newAppSession(t *testing.T, srv *mock.PortalServer, clock *mock.MockClock) *AppSession {
	t.Helper()
	s, err := NewAppSession(AppOptions{
		ClientID:     srv.ClientID(),
		ClientSecret: srv.ClientSecret(),
		Portal:       srv.PortalURL(),
		Clock:        clock.Now,
	})
	require.NoError(t, err)
	return s
}

func TestNewAppSession_RequiresClientCredentials(t *testing.T) {
	_, err := NewAppSession(AppOptions{ClientSecret: "s"})
	var cfgErr *autherr.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "clientId", cfgErr.Field)

	_, err = NewAppSession(AppOptions{ClientID: "c"})
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "clientSecret", cfgErr.Field)
}

func TestAppSession_GetTokenCachesUntilExpiry(t *testing.T) {
	srv, clock := newPortal(t, mock.PortalServerConfig{})
	s := newAppSession(t, srv, clock)
	assert.Empty(t, s.Token())

	first, err := s.GetToken(context.Background(), "https://services.example.com/rest/services/X/MapServer")
	require.NoError(t, err)
	assert.NotEmpty(t, first)
	assert.Equal(t, first, s.Token())

	again, err := s.GetToken(context.Background(), srv.PortalURL()+"/content/items/1")
	require.NoError(t, err)
	assert.Equal(t, first, again, "the same app token serves every target")
	assert.Equal(t, 1, srv.Hits(mock.HitToken))

	clock.AdvancePast(s.TokenExpires())
	renewed, err := s.GetToken(context.Background(), "https://services.example.com/x")
	require.NoError(t, err)
	assert.NotEqual(t, first, renewed)
	assert.Equal(t, 2, srv.Hits(mock.HitToken))
}

func TestAppSession_ConcurrentGetTokenSharesOneRequest(t *testing.T) {
	srv, clock := newPortal(t, mock.PortalServerConfig{})
	s := newAppSession(t, srv, clock)
	srv.SetSimulateErrors(&mock.PortalErrorSimulation{TokenDelay: 50 * time.Millisecond})

	var wg sync.WaitGroup
	tokens := make([]string, 8)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := s.GetToken(context.Background(), "")
			assert.NoError(t, err)
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	for _, tok := range tokens {
		assert.Equal(t, tokens[0], tok)
	}
	assert.Equal(t, 1, srv.Hits(mock.HitToken))
}

func TestAppSession_ResumedTokenWithoutExpiryIsReplaced(t *testing.T) {
	srv, clock := newPortal(t, mock.PortalServerConfig{})
	s, err := NewAppSession(AppOptions{
		ClientID:     srv.ClientID(),
		ClientSecret: srv.ClientSecret(),
		Token:        "resumed",
		Portal:       srv.PortalURL(),
		Clock:        clock.Now,
	})
	require.NoError(t, err)

	tok, err := s.GetToken(context.Background(), "")
	require.NoError(t, err)
	assert.NotEqual(t, "resumed", tok)
}

func TestAppSession_RefreshSession(t *testing.T) {
	srv, clock := newPortal(t, mock.PortalServerConfig{})
	s, err := NewAppSession(AppOptions{
		ClientID:      srv.ClientID(),
		ClientSecret:  srv.ClientSecret(),
		Token:         "resumed",
		TokenExpires:  clock.Now().Add(time.Hour),
		Portal:        srv.PortalURL(),
		TokenDuration: 30,
		Clock:         clock.Now,
	})
	require.NoError(t, err)

	tok, err := s.GetToken(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "resumed", tok)

	same, err := s.RefreshSession(context.Background())
	require.NoError(t, err)
	assert.Same(t, s, same)
	assert.NotEqual(t, "resumed", s.Token())
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), s.TokenExpires(), 5*time.Second)
}

func TestAppSession_BadSecret(t *testing.T) {
	srv, clock := newPortal(t, mock.PortalServerConfig{})
	s, err := NewAppSession(AppOptions{
		ClientID:     srv.ClientID(),
		ClientSecret: "wrong",
		Portal:       srv.PortalURL(),
		Clock:        clock.Now,
	})
	require.NoError(t, err)

	_, err = s.GetToken(context.Background(), "")
	assert.Equal(t, autherr.CodeTokenRefreshFailed, autherr.CodeOf(err))
	assert.Empty(t, s.Token())
}

func TestManager_ExchangeToken(t *testing.T) {
	srv, clock := newPortal(t, mock.PortalServerConfig{})
	m := newTokenManager(t, srv, clock)

	tok, err := m.ExchangeToken(context.Background(), srv.ClientID())
	require.NoError(t, err)
	assert.NotEmpty(t, tok)
	assert.NotEqual(t, m.Token(), tok, "the manager keeps its own token")
	assert.Equal(t, 1, srv.Hits(mock.HitExchangeToken))

	_, err = m.ExchangeToken(context.Background(), "")
	var cfgErr *autherr.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestFromPlatformSelf(t *testing.T) {
	srv, clock := newPortal(t, mock.PortalServerConfig{PlatformCookie: "aopc"})
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	base, err := url.Parse(srv.URL())
	require.NoError(t, err)
	jar.SetCookies(base, []*http.Cookie{{Name: "esri_aopc", Value: "aopc", Path: "/"}})

	m, err := FromPlatformSelf(context.Background(), srv.ClientID(), testRedirect,
		WithPortal(srv.PortalURL()), WithHTTPClient(&http.Client{Jar: jar}), WithClock(clock.Now))
	require.NoError(t, err)
	assert.Equal(t, "casey", m.Username())
	assert.Equal(t, srv.ClientID(), m.ClientID())
	assert.Equal(t, ModeToken, m.Mode())
	assert.True(t, m.SSL())
	assert.Equal(t, clock.Now().Add(time.Hour), m.TokenExpires())
	assert.False(t, m.IsTokenExpired())

	_, err = FromPlatformSelf(context.Background(), srv.ClientID(), testRedirect, WithPortal(srv.PortalURL()))
	assert.True(t, autherr.HasCode(err, "401"), "no platform cookie")
}
