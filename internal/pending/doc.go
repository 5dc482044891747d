// Package pending deduplicates concurrent network-triggering operations.
//
// Every operation is identified by a purpose ("federate", "refresh",
// "trusted") and a key (a server root, "primary", a portal URL). Callers that
// arrive while an operation for the same pair is in flight share its result
// instead of starting a second round trip.
package pending
