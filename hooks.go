package authsession

// Hooks are the provider-specialization extension points. Every field is
// optional; a nil hook leaves stock behavior in place. Provider variants
// (see the providers subpackages) install hooks instead of wrapping the
// whole manager, so the session lifecycle stays in one implementation.
type Hooks struct {
	// ComposeScopeSets rewrites the effective scope-set list after the
	// default set is seeded from Config.Scope. The Microsoft variant
	// uses this to split API scopes from identity scopes.
	ComposeScopeSets func(sets []ScopeSet) []ScopeSet

	// ResolveTokenEndpoint overrides the token endpoint discovered from
	// the provider's openid-configuration. The Google variant routes all
	// token traffic through a backend proxy this way.
	ResolveTokenEndpoint func(discovered string) string

	// AuthRequestParams returns extra query parameters for the
	// authorization request (e.g. access_type=offline).
	AuthRequestParams func() map[string]string

	// TransformTokenResponse mutates every token-endpoint response before
	// the manager consumes it, covering providers whose proxied responses
	// carry the useful token in a nonstandard field.
	TransformTokenResponse func(resp *TokenResponse)
}

// TokenResponse is the wire shape of a token-endpoint response, shared by
// the authorization-code exchange and the refresh grant.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}
