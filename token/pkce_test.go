package token

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"
)

func TestGeneratePKCE(t *testing.T) {
	pair, err := GeneratePKCE()
	if err != nil {
		t.Fatalf("GeneratePKCE returned error: %v", err)
	}

	if len(pair.Verifier) != 43 {
		t.Errorf("verifier length = %d, want 43 (256 bits base64url)", len(pair.Verifier))
	}

	sum := sha256.Sum256([]byte(pair.Verifier))
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	if pair.Challenge != want {
		t.Errorf("challenge = %q, want S256 of the verifier", pair.Challenge)
	}

	if _, err := base64.RawURLEncoding.DecodeString(pair.Verifier); err != nil {
		t.Errorf("verifier is not base64url: %v", err)
	}
}

func TestGeneratePKCEUnique(t *testing.T) {
	a, err := GeneratePKCE()
	if err != nil {
		t.Fatalf("GeneratePKCE returned error: %v", err)
	}
	b, err := GeneratePKCE()
	if err != nil {
		t.Fatalf("GeneratePKCE returned error: %v", err)
	}
	if a.Verifier == b.Verifier {
		t.Error("two PKCE pairs share a verifier")
	}
}

func TestGenerateState(t *testing.T) {
	a, err := GenerateState()
	if err != nil {
		t.Fatalf("GenerateState returned error: %v", err)
	}
	b, err := GenerateState()
	if err != nil {
		t.Fatalf("GenerateState returned error: %v", err)
	}
	if a == "" || a == b {
		t.Errorf("states %q and %q are not unique random values", a, b)
	}
}
