// Package metrics holds the Prometheus collectors for token resolution,
// federation cache use, refreshes, request deduplication, OAuth2 flows and
// bridge traffic.
package metrics
