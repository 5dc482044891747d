package portal

import (
	"encoding/json"
	"strconv"

	"gisauth/internal/autherr"
)

// errorBody is the ArcGIS REST error envelope. It may arrive with HTTP 200.
type errorBody struct {
	Error *struct {
		Code             json.RawMessage `json:"code"`
		Message          string          `json:"message"`
		MessageCode      string          `json:"messageCode,omitempty"`
		Details          []string        `json:"details,omitempty"`
		ErrorDescription string          `json:"error_description,omitempty"`
	} `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// ParseError returns an AuthError when body is an ArcGIS error envelope and
// nil otherwise. The numeric or string code becomes the AuthError code.
func ParseError(body []byte) error {
	var env errorBody
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil {
		return nil
	}

	code := autherr.CodeUnknown
	if len(env.Error.Code) > 0 {
		var n int
		var s string
		if err := json.Unmarshal(env.Error.Code, &n); err == nil {
			code = strconv.Itoa(n)
		} else if err := json.Unmarshal(env.Error.Code, &s); err == nil && s != "" {
			code = s
		}
	}

	msg := env.Error.Message
	if msg == "" {
		msg = env.Error.ErrorDescription
	}
	if msg == "" {
		msg = env.ErrorDescription
	}
	return autherr.NewAuthError(code, msg)
}
