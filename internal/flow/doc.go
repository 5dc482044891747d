// Package flow runs the browser-based OAuth 2.0 sign-in against a portal.
//
// A Controller begins a flow by persisting a state token (and, for the
// authorization code flow, a PKCE verifier) in a storage.Store, building the
// authorize URL and handing it to a browser.Window. In popup mode
// BeginOAuth2 blocks until the callback is completed through CompleteOAuth2
// with Popup set, correlated by the state id, or until the popup timeout
// elapses. In redirect mode BeginOAuth2 returns immediately and the resuming
// process calls CompleteOAuth2 itself.
//
// Each flow moves through idle, flow-started and awaiting-callback to one of
// the terminal states succeeded, denied or error. Nothing is retried; a new
// flow must be started after a failure.
package flow
