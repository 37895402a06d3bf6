package authsession

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/oidckit/authsession/instrumentation"
	"github.com/oidckit/authsession/security"
	"github.com/oidckit/authsession/storage"
	"github.com/oidckit/authsession/token"
)

const (
	// ScopeSetDefault is the reserved name of the primary scope set.
	ScopeSetDefault = token.ScopeSetDefault

	// ScopeSetMS is the conventional name of the Microsoft identity
	// scope set.
	ScopeSetMS = token.ScopeSetMS

	// DefaultExpiryBuffer is how long before actual expiry a token is
	// treated as stale and refreshed.
	DefaultExpiryBuffer = 5 * time.Minute
)

// Policy evaluates role-based access for a named policy.
// It receives the roles from the current identity claims.
type Policy func(roles []string) bool

// Navigator is the navigation collaborator: it reports the current
// location and performs browser-style navigation. Navigate receives
// either an absolute URL (authorization and logout redirects) or a
// root-relative path (post-login/logout restore).
type Navigator interface {
	CurrentURL() *url.URL
	Navigate(target string)
}

// ScopeSet is a named, independently-refreshable collection of OAuth
// scopes. Scopes is a space-delimited string; a set with no scopes is
// skipped by the refresh cycle.
type ScopeSet struct {
	Name   string
	Scopes string
}

// Config holds the session manager configuration.
// Validation errors are fatal and surface synchronously from New.
type Config struct {
	// ClientID is the OAuth client identifier (required)
	ClientID string

	// Authority is the provider base URL hosting the discovery document
	// (required). Trailing slashes are stripped.
	Authority string

	// Scope is the primary space-delimited scope string. It seeds the
	// reserved "default" scope set.
	Scope string

	// ScopeSets lists additional named scope sets. Names must be unique
	// and must not reuse the reserved "default" name.
	ScopeSets []ScopeSet

	// RedirectURI is the post-login redirect path (required). It must be
	// root-relative; the absolute redirect URL is resolved against the
	// current location's origin.
	RedirectURI string

	// LogoutRedirectURI is the optional post-logout redirect path.
	// Must be root-relative when set.
	LogoutRedirectURI string

	// ProviderID optionally namespaces this manager's storage keys.
	// Required when multiple managers share one Store.
	ProviderID string

	// ProxyURL routes token-endpoint interactions through a backend
	// proxy. Only the secret-bearing provider variant uses this.
	ProxyURL string

	// Policies maps policy names to evaluator functions for Can.
	Policies map[string]Policy

	// Navigator is the navigation collaborator (required)
	Navigator Navigator

	// Store persists the session record and transient flow state (required)
	Store storage.Store

	// HTTPClient overrides the HTTP client for discovery and token
	// requests. Nil uses a default with a 10s timeout.
	HTTPClient *http.Client

	// Logger for structured logging. Nil uses slog.Default().
	Logger *slog.Logger

	// Auditor enables security-event audit logging. Nil disables.
	Auditor *security.Auditor

	// Instrumentation enables OpenTelemetry metrics and tracing. Nil disables.
	Instrumentation *instrumentation.Instrumentation

	// RefreshLimiter optionally bounds token-endpoint request rate to
	// protect the provider from refresh storms. Nil disables limiting.
	RefreshLimiter *rate.Limiter

	// ExpiryBuffer is how long before expiry tokens are considered stale.
	// Zero uses DefaultExpiryBuffer.
	ExpiryBuffer time.Duration

	// Hooks inject provider-specific behavior. Zero value means stock
	// behavior; see the providers subpackages.
	Hooks Hooks
}

// Validate checks the configuration. It is called by New; exported so
// provider specializations can pre-validate before composing hooks.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return NewConfigError("client id is required")
	}
	if c.Authority == "" {
		return NewConfigError("authority is required")
	}
	if c.Navigator == nil {
		return NewConfigError("navigator is required")
	}
	if c.Store == nil {
		return NewConfigError("store is required")
	}
	if !isRootRelative(c.RedirectURI) {
		return NewConfigError("redirect URI must be root-relative (begin with a single '/')")
	}
	if c.LogoutRedirectURI != "" && !isRootRelative(c.LogoutRedirectURI) {
		return NewConfigError("logout redirect URI must be root-relative (begin with a single '/')")
	}

	seen := map[string]bool{ScopeSetDefault: true}
	for _, set := range c.ScopeSets {
		if set.Name == "" {
			return NewConfigError("scope set name must not be empty")
		}
		if seen[set.Name] {
			return NewConfigError("scope set name " + set.Name + " is already in use")
		}
		seen[set.Name] = true
	}

	return nil
}

// isRootRelative reports whether p is a root-relative path: it begins
// with exactly one '/' (a "//host" prefix would be scheme-relative and
// open redirect territory).
func isRootRelative(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//")
}

// composedScopeSets returns the effective scope sets: the "default" set
// seeded from the primary scope string, then the configured extras, run
// through the ComposeScopeSets hook when one is installed. The default
// set always comes first.
func (c *Config) composedScopeSets() []ScopeSet {
	sets := make([]ScopeSet, 0, len(c.ScopeSets)+1)
	sets = append(sets, ScopeSet{Name: ScopeSetDefault, Scopes: c.Scope})
	sets = append(sets, c.ScopeSets...)

	if c.Hooks.ComposeScopeSets != nil {
		sets = c.Hooks.ComposeScopeSets(sets)
	}
	return sets
}
