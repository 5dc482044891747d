package identity

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gisauth/internal/autherr"
	"gisauth/internal/testing/mock"
)

func TestRefreshCredentials_RedeemsRefreshToken(t *testing.T) {
	srv, clock := newPortal(t, mock.PortalServerConfig{})
	rt := srv.IssueRefreshToken()
	m, err := New(Options{
		ClientID:            srv.ClientID(),
		RefreshToken:        rt,
		RefreshTokenExpires: clock.Now().Add(7 * 24 * time.Hour),
		RedirectURI:         "http://127.0.0.1:3000/callback",
		Portal:              srv.PortalURL(),
		Clock:               clock.Now,
	})
	require.NoError(t, err)

	require.NoError(t, m.RefreshCredentials(context.Background()))
	assert.NotEmpty(t, m.Token())
	assert.Equal(t, rt, m.RefreshToken(), "refresh_token grant keeps the refresh token")
	assert.Equal(t, uint64(1), m.Generation())
}

func TestRefreshCredentials_ExchangesNearlyExpiredRefreshToken(t *testing.T) {
	srv, clock := newPortal(t, mock.PortalServerConfig{})
	rt := srv.IssueRefreshToken()
	m, err := New(Options{
		ClientID:            srv.ClientID(),
		RefreshToken:        rt,
		RefreshTokenExpires: clock.Now().Add(2 * time.Hour),
		RedirectURI:         "http://127.0.0.1:3000/callback",
		Portal:              srv.PortalURL(),
		Clock:               clock.Now,
	})
	require.NoError(t, err)

	require.NoError(t, m.RefreshCredentials(context.Background()))
	assert.NotEmpty(t, m.Token())
	assert.NotEqual(t, rt, m.RefreshToken(), "exchange rotates the refresh token")
	assert.True(t, m.RefreshTokenExpires().After(clock.Now().Add(13*24*time.Hour)))
}

func TestRefreshCredentials_ExchangeFailure(t *testing.T) {
	srv, clock := newPortal(t, mock.PortalServerConfig{})
	m, err := New(Options{
		ClientID:            srv.ClientID(),
		Token:               "t",
		RefreshToken:        "revoked",
		RefreshTokenExpires: clock.Now().Add(time.Hour),
		RedirectURI:         "http://127.0.0.1:3000/callback",
		Portal:              srv.PortalURL(),
		Clock:               clock.Now,
	})
	require.NoError(t, err)

	err = m.RefreshCredentials(context.Background())
	assert.Equal(t, autherr.CodeRefreshTokenExchangeFailed, autherr.CodeOf(err))
	assert.Equal(t, "t", m.Token())
}

func TestRefreshCredentials_PrefersRefreshTokenOverPassword(t *testing.T) {
	srv, clock := newPortal(t, mock.PortalServerConfig{Password: "hunter2"})
	m, err := New(Options{
		ClientID:            srv.ClientID(),
		RefreshToken:        srv.IssueRefreshToken(),
		RefreshTokenExpires: clock.Now().Add(7 * 24 * time.Hour),
		Username:            "casey",
		Password:            "hunter2",
		Portal:              srv.PortalURL(),
		Clock:               clock.Now,
	})
	require.NoError(t, err)

	require.NoError(t, m.RefreshCredentials(context.Background()))
	assert.Equal(t, 1, srv.Hits(mock.HitToken))
	assert.Zero(t, srv.Hits(mock.HitGenerateToken))
}

func TestRefreshCredentials_Password(t *testing.T) {
	srv, clock := newPortal(t, mock.PortalServerConfig{Password: "hunter2"})
	m, err := New(Options{Username: "casey", Password: "hunter2", Portal: srv.PortalURL(), Clock: clock.Now})
	require.NoError(t, err)

	require.NoError(t, m.RefreshCredentials(context.Background()))
	assert.NotEmpty(t, m.Token())
	assert.False(t, m.IsTokenExpired())
}

func TestRefreshCredentials_NoPath(t *testing.T) {
	m, err := FromToken("t", time.Now().Add(time.Hour))
	require.NoError(t, err)

	err = m.RefreshCredentials(context.Background())
	require.Error(t, err)
	assert.Equal(t, autherr.CodeTokenRefreshFailed, autherr.CodeOf(err))
	assert.Contains(t, err.Error(), "No refresh token or password present")
}

func TestRefreshCredentials_ConcurrentCallersShareOneRefresh(t *testing.T) {
	srv, clock := newPortal(t, mock.PortalServerConfig{})
	gate := newGatedTransport("/oauth2/token")
	m, err := New(Options{
		ClientID:            srv.ClientID(),
		RefreshToken:        srv.IssueRefreshToken(),
		RefreshTokenExpires: clock.Now().Add(7 * 24 * time.Hour),
		Portal:              srv.PortalURL(),
		Clock:               clock.Now,
		HTTPClient:          &http.Client{Transport: gate},
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.RefreshCredentials(context.Background()))
		}()
	}
	<-gate.entered
	time.Sleep(20 * time.Millisecond)
	close(gate.release)
	wg.Wait()

	assert.Equal(t, 1, srv.Hits(mock.HitToken))
}

func TestUpdateToken_WinsOverInFlightRefresh(t *testing.T) {
	srv, clock := newPortal(t, mock.PortalServerConfig{})
	gate := newGatedTransport("/oauth2/token")
	m, err := New(Options{
		ClientID:            srv.ClientID(),
		Token:               "old",
		TokenExpires:        clock.Now().Add(-time.Minute),
		RefreshToken:        srv.IssueRefreshToken(),
		RefreshTokenExpires: clock.Now().Add(7 * 24 * time.Hour),
		Portal:              srv.PortalURL(),
		Clock:               clock.Now,
		HTTPClient:          &http.Client{Transport: gate},
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- m.RefreshCredentials(context.Background()) }()

	<-gate.entered
	manualExpiry := clock.Now().Add(3 * time.Hour)
	require.NoError(t, m.UpdateToken("manual", manualExpiry))
	close(gate.release)

	require.NoError(t, <-done)
	assert.Equal(t, "manual", m.Token(), "late refresh response must not overwrite the manual update")
	assert.True(t, m.TokenExpires().Equal(manualExpiry))
	assert.Equal(t, uint64(1), m.Generation())
}

func TestUpdateToken_ReseedsServerEntry(t *testing.T) {
	m, err := New(Options{Token: "a", TokenExpires: time.Now().Add(time.Hour), Server: "https://gis.example.com/arcgis"})
	require.NoError(t, err)

	require.NoError(t, m.UpdateToken("b", time.Now().Add(time.Hour)))
	entry, ok := m.cache.Get("https://gis.example.com/arcgis")
	require.True(t, ok)
	assert.Equal(t, "b", entry.Token)
}

// gatedTransport blocks requests whose path ends with suffix until release
// is closed, signalling entered when the first one arrives.
type gatedTransport struct {
	suffix  string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedTransport(suffix string) *gatedTransport {
	return &gatedTransport{
		suffix:  suffix,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if strings.HasSuffix(req.URL.Path, g.suffix) {
		g.once.Do(func() { close(g.entered) })
		<-g.release
	}
	return http.DefaultTransport.RoundTrip(req)
}
