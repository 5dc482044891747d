package identity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gisauth/internal/autherr"
	"gisauth/internal/federation"
)

func TestSerialize_RoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond)
	m, err := New(Options{
		ClientID:            "abc",
		Token:               "tok",
		TokenExpires:        now.Add(time.Hour),
		RefreshToken:        "rt",
		RefreshTokenExpires: now.Add(14 * 24 * time.Hour),
		Username:            "casey",
		RedirectURI:         "http://127.0.0.1:3000/callback",
		Portal:              "https://org.example.com/portal/sharing/rest",
		SSL:                 true,
		TokenDuration:       60,
	})
	require.NoError(t, err)

	data, err := m.Serialize()
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, float64(now.Add(time.Hour).UnixMilli()), raw["tokenExpires"])
	assert.NotContains(t, raw, "password")
	assert.NotContains(t, raw, "server")

	restored, err := Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, m.ToJSON(), restored.ToJSON())
	assert.Equal(t, ModeRefreshToken, restored.Mode())
	assert.True(t, restored.TokenExpires().Equal(now.Add(time.Hour)))
	assert.Zero(t, restored.Generation())
}

func TestDeserialize_StartsWithEmptyCaches(t *testing.T) {
	m, err := New(Options{Token: "tok", TokenExpires: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	m.cache.Put("https://gis.example.com/arcgis", federation.Entry{Token: "fed", Expires: time.Now().Add(time.Hour)})

	data, err := m.Serialize()
	require.NoError(t, err)
	restored, err := Deserialize(data)
	require.NoError(t, err)
	assert.Zero(t, restored.cache.Len())
	assert.Empty(t, restored.TrustedDomains())
}

func TestDeserialize_Invalid(t *testing.T) {
	_, err := Deserialize([]byte("{not json"))
	assert.Error(t, err)

	_, err = Deserialize([]byte(`{"portal":"https://www.arcgis.com/sharing/rest"}`))
	assert.Error(t, err)
}

func TestFromCredential_PortalDefaults(t *testing.T) {
	now := time.Now()
	m, err := FromCredential(Credential{
		Server: "https://org.example.com/portal",
		Token:  "tok",
		UserID: "joe",
	}, ServerInfo{Server: "https://org.example.com/portal", HasPortal: true}, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	assert.Equal(t, "https://org.example.com/portal/sharing/rest", m.Portal())
	assert.Empty(t, m.Server())
	assert.True(t, m.SSL())
	assert.Equal(t, "joe", m.Username())
	assert.True(t, m.TokenExpires().Equal(now.Add(DefaultCredentialLifetime)))
}

func TestFromCredential_Errors(t *testing.T) {
	_, err := FromCredential(Credential{Server: "https://gis.example.com/arcgis"}, ServerInfo{})
	require.Error(t, err)
	var cfgErr *autherr.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)

	_, err = FromCredential(Credential{Token: "tok"}, ServerInfo{})
	assert.ErrorAs(t, err, &cfgErr)
}

func TestToCredential(t *testing.T) {
	expires := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	ssl := false
	m, err := FromCredential(Credential{
		Server:  "https://gis.example.com/arcgis",
		Token:   "tok",
		Expires: expires.UnixMilli(),
		SSL:     &ssl,
	}, ServerInfo{Server: "https://gis.example.com/arcgis", HasServer: true})
	require.NoError(t, err)

	cred := m.ToCredential()
	assert.Equal(t, "https://gis.example.com/arcgis", cred.Server)
	assert.Equal(t, "tok", cred.Token)
	assert.Equal(t, expires.UnixMilli(), cred.Expires)
	require.NotNil(t, cred.SSL)
	assert.False(t, *cred.SSL)

	portalScoped, err := FromToken("tok", expires)
	require.NoError(t, err)
	assert.Equal(t, "https://www.arcgis.com/sharing/rest", portalScoped.ToCredential().Server)
}
