package oauth

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StateToken is the value carried through the OAuth redirect in the state
// parameter. ID is the CSRF check; OriginalURL and Payload carry caller context.
type StateToken struct {
	ID          string          `json:"id"`
	OriginalURL string          `json:"originalUrl,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// NewStateToken creates a state token with a fresh random ID.
func NewStateToken(originalURL string, payload json.RawMessage) (*StateToken, error) {
	id, err := GenerateState()
	if err != nil {
		return nil, err
	}
	return &StateToken{ID: id, OriginalURL: originalURL, Payload: payload}, nil
}

// Encode returns the JSON form placed in the authorize request.
func (s *StateToken) Encode() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode state: %w", err)
	}
	return string(data), nil
}

// DecodeStateToken parses a state parameter. A value that is not a JSON
// object is treated as a bare ID.
func DecodeStateToken(raw string) (*StateToken, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty state")
	}
	if !strings.HasPrefix(strings.TrimSpace(raw), "{") {
		return &StateToken{ID: raw}, nil
	}
	var s StateToken
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	return &s, nil
}
