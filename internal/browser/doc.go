// Package browser provides the window capability used by OAuth2 flows and a
// loopback server that receives the portal's redirect.
//
// Window abstracts the two ways a flow can show the authorize page: Open for
// popup mode, where the caller keeps waiting for the callback, and Navigate
// for redirect mode, where the flow is completed later from the callback URL.
// System drives the user's default browser; Recorder is an in-memory fake.
//
// CallbackServer listens on 127.0.0.1 and hands every callback URL, with its
// query or fragment, to a CallbackHandler. For the implicit flow the fragment
// is invisible to the server, so the served page posts it back to
// <path>/fragment.
package browser
