// Package google adapts the session manager to Google sign-in through a
// backend token proxy.
//
// Google's token endpoint requires the client secret even for
// authorization-code-with-PKCE clients, and the secret must not ship to
// the client. The variant therefore routes every token-endpoint request
// (code exchange and refresh alike) to a backend proxy that injects the
// secret and forwards the request to Google. The authorization request
// still goes straight to Google, with access_type=offline so a refresh
// token is issued.
//
// The proxy answers with Google's token response, where the identity
// token is the credential downstream APIs verify; the response transform
// promotes it into the access-token slot.
package google

import (
	"strings"

	"github.com/oidckit/authsession"
)

// identityScopes are always requested alongside the configured scopes.
var identityScopes = []string{"openid", "email", "profile"}

// Manager is the Google session manager.
type Manager struct {
	*authsession.Manager
}

var _ authsession.SessionManager = (*Manager)(nil)

// New creates a Google session manager. cfg.ProxyURL is required and
// names the backend that holds the client secret. The token-endpoint,
// authorization-parameter, and response-transform hooks are owned by
// this variant and must be left unset in cfg.
func New(cfg authsession.Config) (*Manager, error) {
	if cfg.ProxyURL == "" {
		return nil, authsession.NewConfigError("google variant requires a proxy URL for token-endpoint requests")
	}
	if cfg.Hooks.ResolveTokenEndpoint != nil || cfg.Hooks.AuthRequestParams != nil || cfg.Hooks.TransformTokenResponse != nil {
		return nil, authsession.NewConfigError("the google variant owns the token-endpoint, auth-parameter, and response-transform hooks")
	}

	proxy := strings.TrimRight(cfg.ProxyURL, "/")
	cfg.Hooks.ResolveTokenEndpoint = func(string) string { return proxy }
	cfg.Hooks.AuthRequestParams = func() map[string]string {
		return map[string]string{"access_type": "offline"}
	}
	cfg.Hooks.TransformTokenResponse = transformTokenResponse
	if cfg.Hooks.ComposeScopeSets == nil {
		cfg.Hooks.ComposeScopeSets = composeScopeSets
	}

	mgr, err := authsession.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Manager{Manager: mgr}, nil
}

// transformTokenResponse promotes the identity token into the
// access-token slot: Google deployments behind the proxy authenticate
// downstream calls with the ID token.
func transformTokenResponse(resp *authsession.TokenResponse) {
	if resp.IDToken != "" {
		resp.AccessToken = resp.IDToken
	}
}

// composeScopeSets makes sure the default set carries the standard
// identity scopes in addition to whatever was configured.
func composeScopeSets(sets []authsession.ScopeSet) []authsession.ScopeSet {
	out := make([]authsession.ScopeSet, 0, len(sets))
	for _, set := range sets {
		if set.Name == authsession.ScopeSetDefault {
			set.Scopes = mergeScopes(set.Scopes, identityScopes)
		}
		out = append(out, set)
	}
	return out
}

// mergeScopes appends the wanted scopes to a space-delimited scope
// string, skipping ones already present.
func mergeScopes(scope string, wanted []string) string {
	have := strings.Fields(scope)
	seen := make(map[string]bool, len(have))
	for _, s := range have {
		seen[s] = true
	}
	for _, s := range wanted {
		if !seen[s] {
			have = append(have, s)
			seen[s] = true
		}
	}
	return strings.Join(have, " ")
}
