package federation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsOnline(t *testing.T) {
	online := []string{
		"https://devext.arcgis.com/sharing/rest",
		"https://qaext.arcgis.com/sharing/rest",
		"https://www.arcgis.com/sharing/rest",
		"https://someorg.mapsdev.arcgis.com/sharing/rest",
		"http://someorg.maps.arcgis.com/sharing/rest",
		"https://services1.arcgis.com/Hp6G80Pky0om7QvQ/arcgis/rest/services/PowerPlants/FeatureServer/",
	}
	for _, u := range online {
		assert.True(t, IsOnline(u), u)
	}

	assert.False(t, IsOnline("https://mapservices.nps.gov/arcgis/rest/services/Tracts/MapServer"))
	assert.False(t, IsOnline("https://notarcgis.com/sharing/rest"))
	assert.False(t, IsOnline("not a url"))
}

func TestOnlineEnvironment(t *testing.T) {
	tests := map[string]Environment{
		"https://devext.arcgis.com/sharing/rest":                                                  EnvDev,
		"https://qaext.arcgis.com/sharing/rest":                                                   EnvQA,
		"https://www.arcgis.com/sharing/rest":                                                     EnvProduction,
		"https://someorg.mapsdev.arcgis.com/sharing/rest":                                         EnvDev,
		"http://someorg.mapsqa.arcgis.com/sharing/rest":                                           EnvQA,
		"https://someorg.maps.arcgis.com/sharing/rest":                                            EnvProduction,
		"https://services8.arcgis.com/Q1W9j3Lr1BaxMiWi/arcgis/rest/info":                          EnvProduction,
		"https://basemaps.arcgis.com/arcgis/rest/services/World_Basemap_v2/VectorTileServer":      EnvProduction,
		"https://servicesdev.arcgis.com/kRtcltUX8zQf4sFu/arcgis/rest/services/test/FeatureServer": EnvDev,
		"https://mapservices.nps.gov/arcgis/rest/services/Tracts/MapServer":                       EnvNone,
	}
	for input, expected := range tests {
		assert.Equal(t, expected, OnlineEnvironment(input), input)
	}
}

func TestNormalizeOnlinePortalURL(t *testing.T) {
	tests := map[string]string{
		"https://devext.arcgis.com/sharing/rest":          "https://devext.arcgis.com/sharing/rest",
		"https://www.arcgis.com/sharing/rest":             "https://www.arcgis.com/sharing/rest",
		"https://someorg.mapsdev.arcgis.com/sharing/rest": "https://devext.arcgis.com/sharing/rest",
		"https://someorg.mapsqa.arcgis.com/sharing/rest":  "https://qaext.arcgis.com/sharing/rest",
		"https://someorg.maps.arcgis.com/sharing/rest":    "https://www.arcgis.com/sharing/rest",
		"https://mygis.city.gov/sharing/rest":             "https://mygis.city.gov/sharing/rest",
	}
	for input, expected := range tests {
		assert.Equal(t, expected, NormalizeOnlinePortalURL(input), input)
	}
}

func TestCanUseOnlineToken(t *testing.T) {
	t.Run("same environment", func(t *testing.T) {
		assert.True(t, CanUseOnlineToken("https://devext.arcgis.com/sharing/rest", "https://servicesdev.arcgis.com/f8b/arcgis/rest/services/Custom/FeatureServer/0"))
		assert.True(t, CanUseOnlineToken("https://myorg.mapsqa.arcgis.com/sharing/rest", "https://servicesqa.arcgis.com/f8b/arcgis/rest/services/Custom/FeatureServer/0"))
		assert.True(t, CanUseOnlineToken("https://myorg.maps.arcgis.com/sharing/rest", "https://services.arcgis.com/f8b/arcgis/rest/services/Custom/FeatureServer/0"))
	})

	t.Run("cross environment", func(t *testing.T) {
		assert.False(t, CanUseOnlineToken("https://myorg.mapsdev.arcgis.com/sharing/rest", "https://services.arcgis.com/f8b/arcgis/rest/services/Custom/FeatureServer/0"))
		assert.False(t, CanUseOnlineToken("https://myorg.maps.arcgis.com/sharing/rest", "https://servicesqa.arcgis.com/f8b/arcgis/rest/services/Custom/FeatureServer/0"))
	})

	t.Run("outside online", func(t *testing.T) {
		assert.False(t, CanUseOnlineToken("https://myorg.maps.arcgis.com/sharing/rest", "https://random.city.gov/arcgis/rest/services/parcels/FeatureServer"))
		assert.False(t, CanUseOnlineToken("https://gis.city.gov/portal/sharing/rest", "https://services.arcgis.com/x"))
	})
}

func TestIsFederated(t *testing.T) {
	assert.True(t, IsFederated("https://devext.arcgis.com", "https://myorg.mapsdev.arcgis.com/sharing/rest"))
	assert.True(t, IsFederated("https://www.arcgis.com", "https://myorg.maps.arcgis.com/sharing/rest"))
	assert.True(t, IsFederated("http://devext.arcgis.com", "https://devext.arcgis.com/sharing/rest"))
	assert.True(t, IsFederated("https://gis.city.gov/portal", "https://gis.city.gov/portal/sharing/rest"))
	assert.False(t, IsFederated("https://mygig.city.gov", "https://myorg.maps.arcgis.com/sharing/rest"))
	assert.False(t, IsFederated("https://qaext.arcgis.com", "http://www.arcgis.com/sharing/rest"))
	assert.False(t, IsFederated("", "https://www.arcgis.com/sharing/rest"))
}

func TestServerRootURL(t *testing.T) {
	tests := map[string]string{
		"https://Services1.ArcGIS.com/OrgID/arcgis/rest/services/Parcels/FeatureServer/0": "https://services1.arcgis.com/OrgID/arcgis",
		"https://gis.city.gov/server/rest/admin/services/foo":                             "https://gis.city.gov/server",
		"https://gis.city.gov/server/rest/services":                                       "https://gis.city.gov/server",
		"https://gis.city.gov/server/rest/services?f=json":                                "https://gis.city.gov/server",
		"https://GIS.city.gov/":                                                           "https://gis.city.gov",
		"  https://gis.city.gov/arcgis/rest/services/x/MapServer/  ":                      "https://gis.city.gov/arcgis",
	}
	for input, expected := range tests {
		assert.Equal(t, expected, ServerRootURL(input), input)
	}
}

func TestIsSameServer(t *testing.T) {
	portal := "https://gis.city.gov/portal/sharing/rest"
	assert.True(t, IsSameServer(portal, "https://GIS.city.gov/portal/sharing/rest/content/items/123"))
	assert.False(t, IsSameServer(portal, "https://gis.city.gov/server/rest/services/x"))
	assert.False(t, IsSameServer("", "https://gis.city.gov"))
}

func TestIsSameServer_RejectsLookalikes(t *testing.T) {
	portal := "https://gis.city.gov/portal/sharing/rest"
	tests := map[string]string{
		"portal url in query": "https://evil.example/proxy?u=https://gis.city.gov/portal/sharing/rest",
		"portal url in path":  "https://evil.example/https://gis.city.gov/portal/sharing/rest/x",
		"host suffix":         "https://gis.city.gov.evil.example/portal/sharing/rest/x",
		"scheme downgrade":    "http://gis.city.gov/portal/sharing/rest/x",
		"sibling path":        "https://gis.city.gov/portal/sharing/restricted",
		"different port":      "https://gis.city.gov:8443/portal/sharing/rest/x",
		"unparseable target":  "://gis.city.gov/portal/sharing/rest",
	}
	for name, target := range tests {
		assert.False(t, IsSameServer(portal, target), name)
	}
	assert.True(t, IsSameServer(portal, "https://gis.city.gov/portal/sharing/rest"))
	assert.True(t, IsSameServer(portal+"/", "https://gis.city.gov/portal/sharing/rest/self?f=json"))
}

func TestTrustedDomains(t *testing.T) {
	trusted := NormalizeTrustedDomains([]string{"gis.city.gov", "http://insecure.example", "https://secure.example", " "})
	assert.Equal(t, []string{"https://gis.city.gov", "https://secure.example"}, trusted)

	assert.True(t, MatchesTrustedDomain(trusted, "https://gis.city.gov/server/rest/services/x"))
	assert.False(t, MatchesTrustedDomain(trusted, "https://insecure.example/x"))
	assert.False(t, MatchesTrustedDomain(nil, "https://gis.city.gov"))
}

func TestMatchesTrustedDomain_Boundary(t *testing.T) {
	trusted := []string{"https://trusted.com"}
	assert.True(t, MatchesTrustedDomain(trusted, "https://trusted.com"))
	assert.True(t, MatchesTrustedDomain(trusted, "https://trusted.com/x"))
	assert.True(t, MatchesTrustedDomain(trusted, "https://trusted.com:8443/x"))
	assert.True(t, MatchesTrustedDomain(trusted, "https://trusted.com?f=json"))
	assert.False(t, MatchesTrustedDomain(trusted, "https://trusted.com.evil.net/x"))
	assert.False(t, MatchesTrustedDomain(trusted, "https://trusted.company/x"))
}
