// Package identity implements the credential manager: one authenticated
// identity against an ArcGIS portal, and the rules for which token to present
// to which server.
//
// A Manager is built by New from Options, or by FromToken, SignIn,
// FromCredential and Deserialize. Its construction Mode is fixed at that
// point. GetToken resolves a token for any request URL: the portal's own
// token, nothing for trusted cookie domains, or a federated server token
// generated by the portal and kept in a per-manager trust cache. Network
// work is deduplicated per (purpose, key) so concurrent callers share one
// round trip.
//
// RefreshCredentials and UpdateToken both write the primary token. Each write
// bumps a generation counter; a refresh whose starting generation is stale by
// the time it completes is discarded, so a late refresh response never
// overwrites a newer manual update.
//
// Destroy revokes the refresh token (or the token) at the portal and is
// terminal: afterwards every operation fails with MANAGER_DESTROYED.
package identity
