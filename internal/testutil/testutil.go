// Package testutil provides shared helpers for the authsession test
// suites: a controllable clock, unsigned test JWTs, and a scripted OIDC
// provider backed by httptest.
package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// MockTime is a controllable time source for deterministic expiry tests.
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a mock time source starting at t.
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time.
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by d.
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set pins the mock time to t.
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// BuildJWT assembles an unsigned JWT from the given claims. The session
// manager decodes identity tokens without signature verification, so a
// fixed fake signature segment is enough for tests.
func BuildJWT(t *testing.T, claims map[string]any) string {
	t.Helper()

	header, err := json.Marshal(map[string]any{"alg": "RS256", "typ": "JWT"})
	if err != nil {
		t.Fatalf("failed to encode JWT header: %v", err)
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("failed to encode JWT claims: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(header) +
		"." + base64.RawURLEncoding.EncodeToString(payload) +
		"." + base64.RawURLEncoding.EncodeToString([]byte("sig"))
}

// GenerateRandomString generates a random URL-safe string of the given
// length.
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// TokenResponse is the JSON shape the fake provider's token endpoint
// returns.
type TokenResponse struct {
	AccessToken  string `json:"access_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// TokenRequest records one request the fake provider's token endpoint
// received.
type TokenRequest struct {
	GrantType    string
	Code         string
	Verifier     string
	RefreshToken string
	Scope        string
}

// FakeProvider is a scripted OIDC provider: it serves the discovery
// document and a token endpoint whose per-request behavior is driven by
// the Respond callback. It records every token request for inspection.
type FakeProvider struct {
	Server *httptest.Server

	// Respond maps a token request to its response. Returning a non-nil
	// error produces an OAuth error response with HTTP 400.
	Respond func(req TokenRequest) (TokenResponse, error)

	// EndSession optionally advertises an end_session_endpoint.
	EndSession string

	mu            sync.Mutex
	tokenRequests []TokenRequest
	discoveryHits int
}

// NewFakeProvider starts a fake provider. The caller owns shutdown via
// Close.
func NewFakeProvider(t *testing.T) *FakeProvider {
	t.Helper()

	p := &FakeProvider{}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", p.handleDiscovery)
	mux.HandleFunc("/oauth/authorize", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "authorization endpoint is browser territory", http.StatusNotImplemented)
	})
	mux.HandleFunc("/oauth/token", p.handleToken)
	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Server.Close)
	return p
}

// URL returns the provider's base URL, usable as an authority.
func (p *FakeProvider) URL() string {
	return p.Server.URL
}

// Close shuts the provider down.
func (p *FakeProvider) Close() {
	p.Server.Close()
}

// TokenRequests returns a copy of the recorded token-endpoint requests.
func (p *FakeProvider) TokenRequests() []TokenRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TokenRequest(nil), p.tokenRequests...)
}

// DiscoveryHits returns how many times the discovery document was fetched.
func (p *FakeProvider) DiscoveryHits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.discoveryHits
}

func (p *FakeProvider) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.discoveryHits++
	endSession := p.EndSession
	p.mu.Unlock()

	doc := map[string]string{
		"issuer":                 p.Server.URL,
		"authorization_endpoint": p.Server.URL + "/oauth/authorize",
		"token_endpoint":         p.Server.URL + "/oauth/token",
	}
	if endSession != "" {
		doc["end_session_endpoint"] = endSession
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

func (p *FakeProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	req := TokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		Code:         r.PostFormValue("code"),
		Verifier:     r.PostFormValue("code_verifier"),
		RefreshToken: r.PostFormValue("refresh_token"),
		Scope:        r.PostFormValue("scope"),
	}

	p.mu.Lock()
	p.tokenRequests = append(p.tokenRequests, req)
	respond := p.Respond
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if respond == nil {
		http.Error(w, `{"error":"server_error"}`, http.StatusInternalServerError)
		return
	}
	resp, err := respond(req)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_grant",
			"error_description": err.Error(),
		})
		return
	}
	_ = json.NewEncoder(w).Encode(resp)
}
