package autherr

import (
	"errors"
	"fmt"
	"strings"
)

// Stable machine-readable codes carried by AuthError.
const (
	CodeTokenRefreshFailed          = "TOKEN_REFRESH_FAILED"
	CodeGenerateTokenForServer      = "GENERATE_TOKEN_FOR_SERVER_FAILED"
	CodeRefreshTokenExchangeFailed  = "REFRESH_TOKEN_EXCHANGE_FAILED"
	CodeNotFederated                = "NOT_FEDERATED"
	CodeUnknown                     = "UNKNOWN_ERROR_CODE"
	CodeNoAuthState                 = "no-auth-state"
	CodeMismatchedAuthState         = "mismatched-auth-state"
	CodeOAuthError                  = "oauth-error"
	CodePopupTimeout                = "POPUP_TIMEOUT"
	CodeBridgeTimeout               = "BRIDGE_TIMEOUT"
	CodeBridgeMalformed             = "BRIDGE_MALFORMED"
	CodeBridgeError                 = "BRIDGE_ERROR"
	CodeManagerDestroyed            = "MANAGER_DESTROYED"
	CodeCodeExchangeFailed          = "CODE_EXCHANGE_FAILED"
	CodeAccessDenied                = "access_denied"
	CodeInvalidToken                = "498"
	CodeTokenRequired               = "499"
	errorCodeSeparator              = ": "
	defaultAccessDeniedErrorMessage = "The user has denied your authorization request."
)

// AccessDeniedError is returned when the user declines the authorization
// request. A fresh flow is required to recover.
type AccessDeniedError struct {
	Message string
}

// Error implements the error interface.
func (e *AccessDeniedError) Error() string {
	if e.Message == "" {
		return defaultAccessDeniedErrorMessage
	}
	return e.Message
}

// NewAccessDeniedError creates an AccessDeniedError with the default message.
func NewAccessDeniedError() *AccessDeniedError {
	return &AccessDeniedError{Message: defaultAccessDeniedErrorMessage}
}

// AuthError covers every authentication failure that is not a user denial:
// state mismatches, provider errors, failed token requests and the
// cannot-refresh condition.
type AuthError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	code := e.Code
	if code == "" {
		code = CodeUnknown
	}
	msg := code + errorCodeSeparator + e.Message
	if e.Err != nil {
		msg += errorCodeSeparator + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause for error chain inspection.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError creates an AuthError without an underlying cause.
func NewAuthError(code, message string) *AuthError {
	return &AuthError{Code: code, Message: message}
}

// WrapAuthError creates an AuthError around err.
func WrapAuthError(code, message string, err error) *AuthError {
	return &AuthError{Code: code, Message: message, Err: err}
}

// NetworkError is a transport-level failure talking to an auth endpoint.
type NetworkError struct {
	URL string
	Err error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error calling %s: %v", e.URL, e.Err)
}

// Unwrap returns the transport error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports an operation invoked without a field it requires.
type ConfigurationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

// Missing creates a ConfigurationError for a required field that was not set.
func Missing(field, operation string) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: "required for " + operation}
}

// CodeOf returns the AuthError code in err's chain, or "" when there is none.
func CodeOf(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Code
	}
	return ""
}

// HasCode reports whether err's chain contains an AuthError with code.
func HasCode(err error, code string) bool {
	var authErr *AuthError
	for err != nil {
		if !errors.As(err, &authErr) {
			return false
		}
		if authErr.Code == code {
			return true
		}
		err = authErr.Err
	}
	return false
}

// IsAccessDenied reports whether err's chain contains an AccessDeniedError.
func IsAccessDenied(err error) bool {
	var denied *AccessDeniedError
	return errors.As(err, &denied)
}

// IsInvalidToken reports whether err indicates the presented token was
// invalid or expired, which is the only condition that triggers the
// refresh-and-retry policy.
func IsInvalidToken(err error) bool {
	if err == nil {
		return false
	}
	if HasCode(err, CodeInvalidToken) || HasCode(err, CodeTokenRequired) {
		return true
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		msg := strings.ToLower(authErr.Message)
		return strings.Contains(msg, "invalid token") || strings.Contains(msg, "token expired")
	}
	return false
}
