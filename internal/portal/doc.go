// Package portal is the HTTP client for a portal's sharing REST API.
//
// It covers the OAuth token endpoint (authorization_code and refresh_token
// grants through golang.org/x/oauth2, plus the exchange_refresh_token grant),
// generateToken for username/password sign-in and server federation, the
// rest/info documents used to validate federation, portals/self for trusted
// domains, community/self, and revokeToken.
//
// ArcGIS reports most failures as a JSON error envelope, often with HTTP 200.
// These are returned as *autherr.AuthError whose Code is the envelope's code
// (498 and 499 for invalid or missing tokens). Transport failures are
// returned as *autherr.NetworkError.
package portal
