// Package config loads the gisauth configuration.
//
// Configuration lives in a single directory, ~/.config/gisauth by default or
// the directory given with --config-path. The directory holds config.yaml;
// the file-backed credential store defaults to the same directory. A missing
// config.yaml is not an error: the defaults from GetDefaultConfig apply.
//
// Example config.yaml:
//
//	portal: https://org.example.com/portal/sharing/rest
//	clientId: abc123
//	redirectUri: http://127.0.0.1:7890/callback
//	pkce: true
//	trustedDomains:
//	  - https://maps.example.com
//	storage:
//	  backend: keyring
//	callback:
//	  port: 7890
//	bridge:
//	  listen: 127.0.0.1:7891
//	  origins:
//	    - https://app.example.com
//	timeouts:
//	  http: 30s
//	  popup: 5m
package config
