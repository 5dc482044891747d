// Package federation decides which servers may receive which token.
//
// It holds the ArcGIS Online environment rules (IsOnline, OnlineEnvironment,
// CanUseOnlineToken), server root derivation (ServerRootURL), the federation
// check against a portal (IsFederated), trusted-domain matching, and the
// TrustCache of tokens generated for federated server roots.
package federation
