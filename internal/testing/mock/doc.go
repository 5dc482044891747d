// Package mock provides an in-process ArcGIS portal and a controllable clock
// for tests.
//
// PortalServer serves the sharing REST endpoints used by the identity
// manager: OAuth2 authorize and token (authorization_code with PKCE,
// refresh_token, exchange_refresh_token), revokeToken, generateToken,
// info, portals/self and community/self. Federated and unfederated ArcGIS
// Server instances can be registered on the same host; their rest/services
// paths reject missing or invalid tokens with the 498/499 error envelope.
package mock
