package identity

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gisauth/internal/autherr"
	"gisauth/internal/testing/mock"
)

// newPortal starts a mock portal sharing clock with the managers under test.
func newPortal(t *testing.T, cfg mock.PortalServerConfig) (*mock.PortalServer, *mock.MockClock) {
	t.Helper()
	clock := mock.NewMockClock(time.Now())
	cfg.Clock = clock
	srv := mock.NewPortalServer(cfg)
	t.Cleanup(srv.Close)
	return srv, clock
}

func TestNew_ResolvesMode(t *testing.T) {
	tests := []struct {
		name     string
		opts     Options
		expected Mode
	}{
		{name: "token", opts: Options{Token: "t"}, expected: ModeToken},
		{name: "password", opts: Options{Username: "u", Password: "p"}, expected: ModePassword},
		{name: "refresh token", opts: Options{ClientID: "c", RefreshToken: "r"}, expected: ModeRefreshToken},
		{name: "server", opts: Options{Token: "t", Server: "https://gis.example.com/arcgis"}, expected: ModeServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, m.Mode())
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	m, err := New(Options{Token: "t", Portal: "https://org.example.com/portal/sharing/rest/"})
	require.NoError(t, err)

	assert.Equal(t, "https://org.example.com/portal/sharing/rest", m.Portal())
	assert.Equal(t, DefaultProvider, m.Provider())
	assert.Equal(t, 20160, m.TokenDuration())

	m, err = New(Options{Token: "t"})
	require.NoError(t, err)
	assert.Equal(t, "https://www.arcgis.com/sharing/rest", m.Portal())
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(Options{Portal: "https://www.arcgis.com/sharing/rest"})
	var cfgErr *autherr.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))

	_, err = New(Options{RefreshToken: "r"})
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "clientId", cfgErr.Field)
}

func TestNew_ReadsJWTExpiry(t *testing.T) {
	exp := time.Now().Add(90 * time.Minute).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "casey",
		"exp": exp.Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	m, err := FromToken(signed, time.Time{})
	require.NoError(t, err)
	assert.True(t, m.TokenExpires().Equal(exp), "expected %v, got %v", exp, m.TokenExpires())

	opaque, err := FromToken("opaque-token", time.Time{})
	require.NoError(t, err)
	assert.True(t, opaque.TokenExpires().IsZero())
	assert.False(t, opaque.IsTokenExpired(), "token without expiry is treated as live")
}

func TestCanRefresh(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		opts     Options
		expected bool
	}{
		{name: "token only", opts: Options{Token: "t"}, expected: false},
		{name: "password", opts: Options{Username: "u", Password: "p"}, expected: true},
		{name: "refresh token", opts: Options{ClientID: "c", RefreshToken: "r", RefreshTokenExpires: now.Add(time.Hour)}, expected: true},
		{name: "expired refresh token", opts: Options{Token: "t", ClientID: "c", RefreshToken: "r", RefreshTokenExpires: now.Add(-time.Hour)}, expected: false},
		{name: "refresh token without client", opts: Options{Token: "t", RefreshToken: "r"}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, m.CanRefresh())
		})
	}
}

func TestSignIn(t *testing.T) {
	srv, clock := newPortal(t, mock.PortalServerConfig{Password: "hunter2"})

	m, err := SignIn(context.Background(), "casey", "hunter2", WithPortal(srv.PortalURL()), WithClock(clock.Now))
	require.NoError(t, err)
	assert.Equal(t, ModePassword, m.Mode())
	assert.NotEmpty(t, m.Token())
	assert.Equal(t, 1, srv.Hits(mock.HitCommunitySelf))

	// Cached after the first call.
	user, err := m.User(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "casey", user.Username)
	assert.Equal(t, 1, srv.Hits(mock.HitCommunitySelf))

	_, err = SignIn(context.Background(), "casey", "wrong", WithPortal(srv.PortalURL()))
	require.Error(t, err)
	assert.True(t, autherr.HasCode(err, autherr.CodeTokenRefreshFailed))
}

func TestDestroy(t *testing.T) {
	srv, clock := newPortal(t, mock.PortalServerConfig{})
	rt := srv.IssueRefreshToken()

	m, err := New(Options{
		ClientID:            srv.ClientID(),
		Token:               srv.IssueToken(),
		TokenExpires:        clock.Now().Add(time.Hour),
		RefreshToken:        rt,
		RefreshTokenExpires: clock.Now().Add(14 * 24 * time.Hour),
		Portal:              srv.PortalURL(),
		Clock:               clock.Now,
	})
	require.NoError(t, err)

	require.NoError(t, m.Destroy(context.Background()))
	assert.Equal(t, []string{rt}, srv.Revoked(), "refresh token is revoked in preference to the token")
	assert.True(t, m.Destroyed())
	assert.Empty(t, m.Token())

	_, err = m.GetToken(context.Background(), srv.PortalURL()+"/portals/self")
	assert.Equal(t, autherr.CodeManagerDestroyed, autherr.CodeOf(err))
	assert.Equal(t, autherr.CodeManagerDestroyed, autherr.CodeOf(m.RefreshCredentials(context.Background())))
	assert.Equal(t, autherr.CodeManagerDestroyed, autherr.CodeOf(m.UpdateToken("x", time.Now())))

	// A second destroy is a no-op.
	require.NoError(t, m.SignOut(context.Background()))
	assert.Len(t, srv.Revoked(), 1)
}

func TestDestroy_RevokesTokenWithoutRefreshToken(t *testing.T) {
	srv, _ := newPortal(t, mock.PortalServerConfig{})
	tok := srv.IssueToken()

	m, err := FromToken(tok, time.Now().Add(time.Hour), WithPortal(srv.PortalURL()))
	require.NoError(t, err)
	require.NoError(t, m.Destroy(context.Background()))
	assert.Equal(t, []string{tok}, srv.Revoked())
}

func TestDestroy_ClearsStateWhenRevokeFails(t *testing.T) {
	m, err := FromToken("tok", time.Now().Add(time.Hour),
		WithPortal("http://127.0.0.1:1/sharing/rest"),
		WithHTTPClient(&http.Client{Timeout: time.Second}))
	require.NoError(t, err)

	err = m.Destroy(context.Background())
	var netErr *autherr.NetworkError
	assert.True(t, errors.As(err, &netErr))
	assert.True(t, m.Destroyed())
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "token", ModeToken.String())
	assert.Equal(t, "password", ModePassword.String())
	assert.Equal(t, "refresh-token", ModeRefreshToken.String())
	assert.Equal(t, "server", ModeServer.String())
	assert.Equal(t, "unknown", Mode(42).String())
}
