package config

import "time"

// GisauthConfig is the top-level configuration structure for gisauth.
type GisauthConfig struct {
	Portal      string `yaml:"portal,omitempty"`
	ClientID    string `yaml:"clientId,omitempty"`
	RedirectURI string `yaml:"redirectUri,omitempty"`
	Provider    string `yaml:"provider,omitempty"`
	// TokenDuration is the lifetime in minutes requested for tokens.
	TokenDuration int `yaml:"tokenDuration,omitempty"`
	// PKCE selects the authorization code flow; false uses the implicit flow.
	PKCE *bool `yaml:"pkce,omitempty"`
	// Popup waits for the callback in-process; false prints the URL and
	// expects `login --complete`.
	Popup          *bool    `yaml:"popup,omitempty"`
	Locale         string   `yaml:"locale,omitempty"`
	TrustedDomains []string `yaml:"trustedDomains,omitempty"`
	LogLevel       string   `yaml:"logLevel,omitempty"`

	Storage  StorageConfig  `yaml:"storage,omitempty"`
	Callback CallbackConfig `yaml:"callback,omitempty"`
	Bridge   BridgeConfig   `yaml:"bridge,omitempty"`
	Timeouts TimeoutConfig  `yaml:"timeouts,omitempty"`
}

// StorageConfig selects where sessions and flow state are persisted.
type StorageConfig struct {
	Backend string `yaml:"backend,omitempty"` // file, keyring or memory
	Dir     string `yaml:"dir,omitempty"`     // defaults to the config directory
}

// CallbackConfig configures the loopback server receiving OAuth redirects.
type CallbackConfig struct {
	Port int    `yaml:"port,omitempty"` // 0 picks a free port
	Path string `yaml:"path,omitempty"`
}

// BridgeConfig configures `gisauth bridge serve`.
type BridgeConfig struct {
	Listen      string   `yaml:"listen,omitempty"`
	Path        string   `yaml:"path,omitempty"`
	MetricsPath string   `yaml:"metricsPath,omitempty"`
	Origins     []string `yaml:"origins,omitempty"`
}

// TimeoutConfig bounds network and user waits.
type TimeoutConfig struct {
	HTTP   time.Duration `yaml:"http,omitempty"`
	Popup  time.Duration `yaml:"popup,omitempty"`
	Bridge time.Duration `yaml:"bridge,omitempty"`
}

// PKCEEnabled reports the effective pkce setting.
func (c GisauthConfig) PKCEEnabled() bool { return c.PKCE == nil || *c.PKCE }

// PopupEnabled reports the effective popup setting.
func (c GisauthConfig) PopupEnabled() bool { return c.Popup == nil || *c.Popup }
