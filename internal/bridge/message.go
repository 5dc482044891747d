package bridge

// Message types on the wire.
const (
	TypeRequest    = "credential-request"
	TypeCredential = "credential"
	TypeError      = "error"
)

// ErrorNameTokenExpired is sent when the host's own token has expired.
const ErrorNameTokenExpired = "tokenExpiredError"

// Message is the JSON document exchanged over a port. ID correlates a reply
// with its request.
type Message struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	Token        string `json:"token,omitempty"`
	TokenExpires int64  `json:"tokenExpires,omitempty"`
	Username     string `json:"username,omitempty"`
	SSL          bool   `json:"ssl,omitempty"`
	// Server is the portal, or the standalone server when HasServer is set.
	Server    string `json:"server,omitempty"`
	HasServer bool   `json:"hasServer,omitempty"`

	Error *ErrorBody `json:"error,omitempty"`
}

// ErrorBody describes why a credential was not sent.
type ErrorBody struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}
