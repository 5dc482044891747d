package config

import "time"

const (
	// DefaultPortal is ArcGIS Online.
	DefaultPortal = "https://www.arcgis.com/sharing/rest"

	// DefaultProvider is the portal's own login.
	DefaultProvider = "arcgis"

	// DefaultTokenDuration is two weeks, in minutes.
	DefaultTokenDuration = 20160

	// DefaultCallbackPath is the path of the loopback OAuth callback.
	DefaultCallbackPath = "/callback"

	// DefaultBridgeListen is the address `bridge serve` binds to.
	DefaultBridgeListen = "127.0.0.1:7891"

	// DefaultBridgePath serves the WebSocket bridge.
	DefaultBridgePath = "/bridge"

	// DefaultMetricsPath serves Prometheus metrics next to the bridge.
	DefaultMetricsPath = "/metrics"
)

// GetDefaultConfig returns the default configuration.
func GetDefaultConfig() GisauthConfig {
	return GisauthConfig{
		Portal:        DefaultPortal,
		Provider:      DefaultProvider,
		TokenDuration: DefaultTokenDuration,
		LogLevel:      "info",
		Storage: StorageConfig{
			Backend: "file",
		},
		Callback: CallbackConfig{
			Path: DefaultCallbackPath,
		},
		Bridge: BridgeConfig{
			Listen:      DefaultBridgeListen,
			Path:        DefaultBridgePath,
			MetricsPath: DefaultMetricsPath,
		},
		Timeouts: TimeoutConfig{
			HTTP:   60 * time.Second,
			Popup:  10 * time.Minute,
			Bridge: 30 * time.Second,
		},
	}
}
