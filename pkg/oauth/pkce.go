package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// pkceVerifierBytes is the number of random bytes for the PKCE code verifier.
	// 32 bytes provides 256 bits of entropy, which is recommended for security.
	pkceVerifierBytes = 32

	// stateBytes is the number of random bytes for the OAuth state identifier.
	stateBytes = 32

	// MethodS256 is the PKCE challenge method using a SHA-256 digest.
	MethodS256 = "S256"

	// MethodPlain is the PKCE fallback where the challenge equals the verifier.
	MethodPlain = "plain"
)

// Hasher computes a one-way digest of the PKCE verifier.
// A nil Hasher means no secure hash is available in the current context.
type Hasher func(data []byte) []byte

// SHA256 is the Hasher used for the S256 challenge method.
func SHA256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// GeneratePKCEWith generates a new PKCE pair using hasher for the challenge.
// The code verifier is 32 random bytes (256 bits), base64url-encoded. When
// hasher is nil the pair falls back to the "plain" method.
func GeneratePKCEWith(hasher Hasher) (*PKCEChallenge, error) {
	verifier, err := GenerateVerifier()
	if err != nil {
		return nil, err
	}
	return NewPKCEChallenge(verifier, hasher), nil
}

// GenerateVerifier returns a fresh base64url-encoded PKCE code verifier.
func GenerateVerifier() (string, error) {
	verifierBytes := make([]byte, pkceVerifierBytes)
	if _, err := rand.Read(verifierBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes for PKCE: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(verifierBytes), nil
}

// NewPKCEChallenge derives the challenge for verifier. The result is a pure
// function of verifier and hasher.
func NewPKCEChallenge(verifier string, hasher Hasher) *PKCEChallenge {
	if hasher == nil {
		return &PKCEChallenge{
			CodeVerifier:        verifier,
			CodeChallenge:       verifier,
			CodeChallengeMethod: MethodPlain,
		}
	}
	return &PKCEChallenge{
		CodeVerifier:        verifier,
		CodeChallenge:       base64.RawURLEncoding.EncodeToString(hasher([]byte(verifier))),
		CodeChallengeMethod: MethodS256,
	}
}

// GenerateState generates a random state identifier for OAuth.
// The state is used to prevent CSRF attacks and link the authorization
// response back to the original request.
//
// Returns a base64url-encoded random string.
func GenerateState() (string, error) {
	stateBytes := make([]byte, stateBytes)
	if _, err := rand.Read(stateBytes); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(stateBytes), nil
}
