// Package autherr defines the error taxonomy shared by the identity manager,
// the OAuth2 flow controller and the cross-frame bridge.
//
// Four kinds of failure exist:
//
//   - AccessDeniedError: the user declined the authorization request.
//   - AuthError: any other authentication failure, identified by a stable Code.
//   - NetworkError: transport failure talking to a portal or server endpoint.
//   - ConfigurationError: an operation was invoked without a field it needs.
//
// Callers inspect errors with errors.As, or with the CodeOf, HasCode,
// IsAccessDenied and IsInvalidToken helpers.
package autherr
