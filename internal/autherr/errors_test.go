package autherr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AuthError
		expected string
	}{
		{
			name:     "code and message",
			err:      NewAuthError(CodeNoAuthState, "no stored state"),
			expected: "no-auth-state: no stored state",
		},
		{
			name:     "empty code falls back to unknown",
			err:      &AuthError{Message: "boom"},
			expected: "UNKNOWN_ERROR_CODE: boom",
		},
		{
			name:     "wrapped cause",
			err:      WrapAuthError(CodeTokenRefreshFailed, "refresh failed", errors.New("status 500")),
			expected: "TOKEN_REFRESH_FAILED: refresh failed: status 500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("resolving token: %w", NewAuthError(CodeGenerateTokenForServer, "x"))
	assert.Equal(t, CodeGenerateTokenForServer, CodeOf(wrapped))
	assert.Equal(t, "", CodeOf(errors.New("plain")))
	assert.Equal(t, "", CodeOf(nil))
}

func TestHasCode_WalksNestedAuthErrors(t *testing.T) {
	inner := NewAuthError(CodeInvalidToken, "Invalid token.")
	outer := WrapAuthError(CodeTokenRefreshFailed, "refresh failed", inner)

	assert.True(t, HasCode(outer, CodeTokenRefreshFailed))
	assert.True(t, HasCode(outer, CodeInvalidToken))
	assert.False(t, HasCode(outer, CodeNoAuthState))
}

func TestIsAccessDenied(t *testing.T) {
	assert.True(t, IsAccessDenied(NewAccessDeniedError()))
	assert.True(t, IsAccessDenied(fmt.Errorf("flow: %w", NewAccessDeniedError())))
	assert.False(t, IsAccessDenied(NewAuthError(CodeOAuthError, "access_denied")))
}

func TestIsInvalidToken(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil", err: nil, expected: false},
		{name: "code 498", err: NewAuthError(CodeInvalidToken, "Invalid token."), expected: true},
		{name: "code 499", err: NewAuthError(CodeTokenRequired, "Token Required"), expected: true},
		{name: "message only", err: NewAuthError(CodeUnknown, "Invalid token."), expected: true},
		{name: "other auth error", err: NewAuthError(CodeNoAuthState, "missing"), expected: false},
		{name: "network error", err: &NetworkError{URL: "https://x", Err: errors.New("refused")}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsInvalidToken(tt.err))
		})
	}
}

func TestNetworkError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &NetworkError{URL: "https://portal/sharing/rest/oauth2/token", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestConfigurationError(t *testing.T) {
	err := Missing("clientId", "code exchange")
	assert.Equal(t, "configuration error: clientId: required for code exchange", err.Error())

	var cfgErr *ConfigurationError
	assert.True(t, errors.As(fmt.Errorf("wrap: %w", err), &cfgErr))
	assert.Equal(t, "clientId", cfgErr.Field)
}

func TestAccessDeniedError_DefaultMessage(t *testing.T) {
	assert.Equal(t, "The user has denied your authorization request.", (&AccessDeniedError{}).Error())
}
