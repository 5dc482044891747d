package portal

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gisauth/internal/autherr"
)

func TestParseError(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		code    string
		message string
	}{
		{
			name:    "numeric code",
			body:    `{"error":{"code":498,"message":"Invalid token.","details":[]}}`,
			code:    "498",
			message: "Invalid token.",
		},
		{
			name:    "string code",
			body:    `{"error":{"code":"invalid_request","message":"bad"}}`,
			code:    "invalid_request",
			message: "bad",
		},
		{
			name:    "description fallback",
			body:    `{"error":{"code":400,"error_description":"Invalid redirect_uri"}}`,
			code:    "400",
			message: "Invalid redirect_uri",
		},
		{
			name:    "missing code",
			body:    `{"error":{"message":"odd"}}`,
			code:    autherr.CodeUnknown,
			message: "odd",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ParseError([]byte(tt.body))
			var authErr *autherr.AuthError
			if assert.ErrorAs(t, err, &authErr) {
				assert.Equal(t, tt.code, authErr.Code)
				assert.Equal(t, tt.message, authErr.Message)
			}
		})
	}
}

func TestParseError_NotAnEnvelope(t *testing.T) {
	assert.Nil(t, ParseError([]byte(`{"token":"abc"}`)))
	assert.Nil(t, ParseError([]byte(`not json`)))
	assert.Nil(t, ParseError(nil))
}
