// Package microsoft adapts the session manager to Microsoft Entra ID.
//
// Entra issues access tokens per resource: a token request may carry
// either api:// resource scopes or Microsoft Graph identity scopes, not
// both. The variant therefore splits the configured primary scope string
// into two scope sets: "default" keeps the api:// scopes, "ms" collects
// the identity scopes (always including openid, profile, and
// offline_access). Each set refreshes independently within one cycle.
//
// When the configuration names no api:// scope at all there is no
// resource API to call and the "default" set stays empty; token requests
// against it answer with the identity token instead.
package microsoft

import (
	"context"
	"strings"

	"github.com/oidckit/authsession"
)

// baseIdentityScopes are always requested on the identity scope set.
var baseIdentityScopes = []string{"openid", "profile", "offline_access"}

// Manager is the Microsoft Entra ID session manager.
type Manager struct {
	*authsession.Manager

	// identityOnly is set when no api:// scope is configured; the
	// default set then proxies to the identity token.
	identityOnly bool
}

var _ authsession.SessionManager = (*Manager)(nil)

// New creates a Microsoft Entra ID session manager. The ComposeScopeSets
// hook is owned by this variant and must be left unset in cfg.
func New(cfg authsession.Config) (*Manager, error) {
	if cfg.Hooks.ComposeScopeSets != nil {
		return nil, authsession.NewConfigError("the microsoft variant owns the scope-set composition hook")
	}
	cfg.Hooks.ComposeScopeSets = composeScopeSets

	api, _ := splitScopes(cfg.Scope)

	mgr, err := authsession.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Manager{
		Manager:      mgr,
		identityOnly: len(api) == 0,
	}, nil
}

// GetAccessToken behaves like the core manager, except that with no
// api:// resource configured the default set answers with the identity
// token.
func (m *Manager) GetAccessToken(ctx context.Context, scopeSet string) (string, error) {
	if m.identityOnly && (scopeSet == "" || scopeSet == authsession.ScopeSetDefault) {
		return m.Manager.GetIdentityToken(ctx)
	}
	return m.Manager.GetAccessToken(ctx, scopeSet)
}

// AutoLogin re-implements the core probe so it runs through this
// variant's GetAccessToken and works in identity-only configurations.
func (m *Manager) AutoLogin(ctx context.Context) bool {
	if !m.IsAuthenticated() {
		return false
	}
	if _, err := m.GetAccessToken(ctx, authsession.ScopeSetDefault); err != nil {
		_ = m.LocalLogout()
		return false
	}
	return true
}

// composeScopeSets rewrites the default set into the api://-only default
// set plus the "ms" identity set. Extra configured sets pass through.
func composeScopeSets(sets []authsession.ScopeSet) []authsession.ScopeSet {
	out := make([]authsession.ScopeSet, 0, len(sets)+1)
	for _, set := range sets {
		if set.Name != authsession.ScopeSetDefault {
			out = append(out, set)
			continue
		}

		api, identity := splitScopes(set.Scopes)
		out = append(out, authsession.ScopeSet{
			Name:   authsession.ScopeSetDefault,
			Scopes: strings.Join(api, " "),
		})

		msScopes := append([]string(nil), baseIdentityScopes...)
		for _, s := range identity {
			if !contains(msScopes, s) {
				msScopes = append(msScopes, s)
			}
		}
		out = append(out, authsession.ScopeSet{
			Name:   authsession.ScopeSetMS,
			Scopes: strings.Join(msScopes, " "),
		})
	}
	return out
}

// splitScopes partitions a space-delimited scope string into api://
// resource scopes and everything else.
func splitScopes(scope string) (api, identity []string) {
	for _, s := range strings.Fields(scope) {
		if strings.HasPrefix(s, "api://") {
			api = append(api, s)
		} else {
			identity = append(identity, s)
		}
	}
	return api, identity
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
