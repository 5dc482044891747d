// Package request sends authenticated requests to ArcGIS REST endpoints.
//
// Send is the one place that retries: when a server answers with an invalid
// or missing token (codes 498 and 499) the credentials are refreshed once and
// the request is sent once more.
package request
