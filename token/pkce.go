package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// entropyBytes is the amount of randomness behind state values and PKCE
// verifiers: 256 bits, base64url-encoded to 43 characters.
const entropyBytes = 32

// PKCEPair holds a PKCE code verifier and its S256 challenge.
type PKCEPair struct {
	// Verifier is the locally-held secret sent with the code exchange
	Verifier string

	// Challenge is base64url(SHA-256(verifier)), sent with the
	// authorization request
	Challenge string
}

// GenerateState returns a cryptographically random anti-forgery state value.
func GenerateState() (string, error) {
	return randomURLSafe()
}

// GeneratePKCE returns a fresh PKCE verifier/challenge pair using the S256
// challenge method.
func GeneratePKCE() (PKCEPair, error) {
	verifier, err := randomURLSafe()
	if err != nil {
		return PKCEPair{}, err
	}

	sum := sha256.Sum256([]byte(verifier))
	return PKCEPair{
		Verifier:  verifier,
		Challenge: base64.RawURLEncoding.EncodeToString(sum[:]),
	}, nil
}

func randomURLSafe() (string, error) {
	buf := make([]byte, entropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
