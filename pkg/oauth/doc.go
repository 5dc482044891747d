// Package oauth provides the OAuth 2.0 building blocks shared by the flow
// controller, the identity manager and the CLI.
//
// # Core Components
//
//   - PKCE: verifier and challenge generation (RFC 7636), with a "plain"
//     fallback when no secure hash is available
//   - StateToken: the JSON value carried through the redirect in the state
//     parameter
//   - BuildAuthorizeURL: the portal authorize (and social authorize) URL
//   - TokenResponse and Token: token endpoint responses and their resolved form
//   - RedactedToken: a string wrapper that never prints its value
//
// # Usage
//
//	pkce, err := oauth.GeneratePKCEWith(oauth.SHA256)
//	state, err := oauth.NewStateToken(originalURL, nil)
//	encoded, err := state.Encode()
//	authURL, err := oauth.BuildAuthorizeURL(oauth.AuthorizeRequest{
//	    Portal:       portal,
//	    ClientID:     clientID,
//	    RedirectURI:  redirectURI,
//	    ResponseType: oauth.ResponseTypeCode,
//	    State:        encoded,
//	    PKCE:         pkce,
//	})
package oauth
