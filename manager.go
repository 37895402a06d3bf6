package authsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/oidckit/authsession/instrumentation"
	"github.com/oidckit/authsession/oidc"
	"github.com/oidckit/authsession/security"
	"github.com/oidckit/authsession/storage"
	"github.com/oidckit/authsession/token"
)

// SessionManager is the per-provider session surface. *Manager implements
// it; the Selector dispatches through it, and provider variants embed a
// *Manager and override individual methods.
type SessionManager interface {
	IsAuthenticated() bool
	Login(ctx context.Context, returnPath string) error
	HandleRedirect(ctx context.Context) error
	Logout(ctx context.Context, returnPath string) error
	LocalLogout() error
	HandleLogoutRedirect() error
	GetAccessToken(ctx context.Context, scopeSet string) (string, error)
	GetIdentityToken(ctx context.Context) (string, error)
	Can(policy string) bool
	AutoLogin(ctx context.Context) bool
	AddEventListener(event Event, fn func()) string
	RemoveEventListener(event Event, id string)
}

// storageKeys are the per-manager storage keys, namespaced by provider id
// so several managers can share one Store.
type storageKeys struct {
	session    string
	verifier   string
	state      string
	returnPath string
	logoutPath string
}

func newStorageKeys(providerID string) storageKeys {
	suffix := ""
	if providerID != "" {
		suffix = "." + providerID
	}
	return storageKeys{
		session:    "authsession.record" + suffix,
		verifier:   "authsession.pkce_verifier" + suffix,
		state:      "authsession.state" + suffix,
		returnPath: "authsession.return_path" + suffix,
		logoutPath: "authsession.logout_path" + suffix,
	}
}

// Manager drives the authorization-code + PKCE session lifecycle for one
// provider.
type Manager struct {
	cfg          Config
	sets         []ScopeSet
	setNames     map[string]bool
	keys         storageKeys
	discovery    *oidc.Client
	store        storage.Store
	nav          Navigator
	httpClient   *http.Client
	logger       *slog.Logger
	auditor      *security.Auditor
	metrics      *instrumentation.Metrics
	tracer       trace.Tracer
	limiter      *rate.Limiter
	expiryBuffer time.Duration
	hooks        Hooks
	emitter      *emitter

	refreshGroup singleflight.Group

	// now is replaced in tests
	now func() time.Time

	mu     sync.RWMutex
	record *token.Record
	claims *token.UserClaims
}

var _ SessionManager = (*Manager)(nil)

// New creates a Manager and restores any session record the Store still
// holds from an earlier run, migrating legacy record schemas in place.
func New(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ProviderID != "" {
		logger = logger.With("provider_id", cfg.ProviderID)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	expiryBuffer := cfg.ExpiryBuffer
	if expiryBuffer <= 0 {
		expiryBuffer = DefaultExpiryBuffer
	}

	sets := cfg.composedScopeSets()
	setNames := make(map[string]bool, len(sets))
	for _, set := range sets {
		if set.Name == "" {
			return nil, NewConfigError("composed scope set name must not be empty")
		}
		if setNames[set.Name] {
			return nil, NewConfigError("composed scope set name " + set.Name + " is already in use")
		}
		setNames[set.Name] = true
	}
	if !setNames[ScopeSetDefault] {
		return nil, NewConfigError("composed scope sets must keep the " + ScopeSetDefault + " set")
	}

	m := &Manager{
		cfg:          cfg,
		sets:         sets,
		setNames:     setNames,
		keys:         newStorageKeys(cfg.ProviderID),
		discovery:    oidc.NewClient(cfg.Authority, httpClient, logger),
		store:        cfg.Store,
		nav:          cfg.Navigator,
		httpClient:   httpClient,
		logger:       logger,
		auditor:      cfg.Auditor,
		metrics:      cfg.Instrumentation.Metrics(),
		tracer:       cfg.Instrumentation.Tracer("session"),
		limiter:      cfg.RefreshLimiter,
		expiryBuffer: expiryBuffer,
		hooks:        cfg.Hooks,
		emitter:      newEmitter(),
		now:          time.Now,
	}
	m.restore()
	return m, nil
}

// restore loads a persisted session record, migrating legacy schemas.
// Unreadable records are discarded rather than blocking construction.
func (m *Manager) restore() {
	raw, err := m.store.Get(m.keys.session)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.logger.Warn("failed to read persisted session record", "error", err)
		}
		return
	}

	rec, err := token.Migrate([]byte(raw))
	if err != nil {
		m.logger.Warn("discarding unreadable session record", "error", err)
		_ = m.store.Delete(m.keys.session)
		return
	}
	if !rec.Authenticated() {
		_ = m.store.Delete(m.keys.session)
		return
	}

	var claims *token.UserClaims
	if rec.IdentityToken != "" {
		claims, err = token.ExtractUserInfo(rec.IdentityToken)
		if err != nil {
			m.logger.Warn("persisted identity token is unreadable", "error", err)
			claims = nil
		}
	}

	m.mu.Lock()
	m.record = rec
	m.claims = claims
	m.mu.Unlock()

	// Re-persist so a migrated record is upgraded on disk once, not on
	// every start.
	if err := m.persistRecord(rec); err != nil {
		m.logger.Warn("failed to persist migrated session record", "error", err)
	}
	m.logger.Debug("restored persisted session", "scope_sets", len(rec.AccessTokens))
}

// IsAuthenticated reports whether a session with a refresh token is held.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.record.Authenticated()
}

// Login begins the authorization-code flow: it persists the caller's
// return path, generates state and a PKCE pair, and navigates to the
// provider's authorization endpoint. returnPath "" means the current
// location.
func (m *Manager) Login(ctx context.Context, returnPath string) error {
	if returnPath == "" {
		returnPath = m.currentPath()
	}
	if err := m.store.Set(m.keys.returnPath, returnPath); err != nil {
		return fmt.Errorf("failed to persist return path: %w", err)
	}

	state, err := token.GenerateState()
	if err != nil {
		return fmt.Errorf("failed to generate state: %w", err)
	}
	pkce, err := token.GeneratePKCE()
	if err != nil {
		return fmt.Errorf("failed to generate PKCE pair: %w", err)
	}
	if err := m.store.Set(m.keys.state, state); err != nil {
		return fmt.Errorf("failed to persist state: %w", err)
	}
	if err := m.store.Set(m.keys.verifier, pkce.Verifier); err != nil {
		return fmt.Errorf("failed to persist PKCE verifier: %w", err)
	}

	doc, err := m.configuration(ctx)
	if err != nil {
		return err
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", pkce.Challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}
	if m.hooks.AuthRequestParams != nil {
		for k, v := range m.hooks.AuthRequestParams() {
			opts = append(opts, oauth2.SetAuthURLParam(k, v))
		}
	}

	authURL := m.oauthConfig(doc).AuthCodeURL(state, opts...)
	m.logger.Debug("redirecting to authorization endpoint", "return_path", returnPath)
	m.nav.Navigate(authURL)
	return nil
}

// HandleRedirect completes the authorization-code flow on the redirect
// URI: it validates state, exchanges the code with the PKCE verifier,
// commits the session record, and navigates back to the stored return
// path. The transient verifier, state, and return-path entries are
// single-use and removed no matter how the redirect turns out.
func (m *Manager) HandleRedirect(ctx context.Context) error {
	query := url.Values{}
	if u := m.nav.CurrentURL(); u != nil {
		query = u.Query()
	}
	code := query.Get("code")
	gotState := query.Get("state")

	verifier, _ := m.store.Get(m.keys.verifier)
	wantState, _ := m.store.Get(m.keys.state)
	returnPath, _ := m.store.Get(m.keys.returnPath)
	_ = m.store.Delete(m.keys.verifier)
	_ = m.store.Delete(m.keys.state)
	_ = m.store.Delete(m.keys.returnPath)

	if code == "" {
		return ErrMissingCode
	}
	if verifier == "" {
		return ErrMissingVerifier
	}
	if wantState == "" || gotState != wantState {
		m.auditor.LogStateMismatch(m.cfg.ProviderID)
		return ErrStateMismatch
	}

	doc, err := m.configuration(ctx)
	if err != nil {
		return err
	}

	// The oauth2 package takes its HTTP client from the context.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	tok, err := m.oauthConfig(doc).Exchange(ctx, code, oauth2.VerifierOption(verifier))
	m.metrics.RecordTokenRequest(ctx, "authorization_code", err)
	if err != nil {
		return fmt.Errorf("authorization code exchange failed: %w", err)
	}

	resp := responseFromOAuth2Token(tok, m.now())
	if m.hooks.TransformTokenResponse != nil {
		m.hooks.TransformTokenResponse(resp)
	}
	if resp.RefreshToken == "" {
		return NewMissingTokenError("refresh token")
	}

	if err := m.establishSession(ctx, resp); err != nil {
		return err
	}

	m.auditor.LogLogin(m.subject(), m.cfg.ProviderID, len(m.sets))
	m.metrics.RecordLogin(ctx, m.cfg.ProviderID)
	m.emitter.emit(EventLogin)

	if returnPath == "" {
		returnPath = "/"
	}
	m.nav.Navigate(returnPath)
	return nil
}

// establishSession turns the code-exchange response into a committed
// session record. With a single scope set the exchange response already
// holds the whole session; with several sets the record is seeded with
// the refresh token and a full refresh cycle fetches the per-set tokens.
func (m *Manager) establishSession(ctx context.Context, resp *TokenResponse) error {
	rec := &token.Record{
		SchemaVersion: token.SchemaVersion,
		RefreshToken:  resp.RefreshToken,
		AccessTokens:  make(map[string]token.AccessToken),
	}

	var claims *token.UserClaims
	if resp.IDToken != "" {
		expiry, err := token.ExtractExpiry(resp.IDToken)
		if err != nil {
			return fmt.Errorf("identity token from code exchange is unreadable: %w", err)
		}
		claims, err = token.ExtractUserInfo(resp.IDToken)
		if err != nil {
			return fmt.Errorf("identity token from code exchange is unreadable: %w", err)
		}
		rec.IdentityToken = resp.IDToken
		rec.IdentityTokenExpiry = expiry
	}

	if len(m.sets) == 1 {
		if resp.AccessToken != "" {
			rec.AccessTokens[ScopeSetDefault] = token.AccessToken{
				Token:     resp.AccessToken,
				ExpiresAt: m.expiryFromSeconds(resp.ExpiresIn),
			}
		}
		if err := m.commit(rec, claims); err != nil {
			return err
		}
		m.emitter.emit(EventTokensChanged)
		return nil
	}

	if err := m.commit(rec, claims); err != nil {
		return err
	}
	return m.refresh(ctx)
}

// GetAccessToken returns the access token for the named scope set,
// running a refresh cycle first if any configured set's token is missing
// or within the expiry buffer. scopeSet "" means the default set.
func (m *Manager) GetAccessToken(ctx context.Context, scopeSet string) (string, error) {
	if scopeSet == "" {
		scopeSet = ScopeSetDefault
	}
	if !m.IsAuthenticated() {
		return "", ErrNotAuthenticated
	}
	if !m.setNames[scopeSet] {
		return "", NewUnknownScopeSetError(scopeSet)
	}

	if m.accessTokensStale() {
		if err := m.refresh(ctx); err != nil {
			return "", err
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.record.Authenticated() {
		return "", ErrNotAuthenticated
	}
	at, ok := m.record.AccessTokens[scopeSet]
	if !ok || at.Token == "" {
		return "", NewMissingTokenError(fmt.Sprintf("access token for scope set %q", scopeSet))
	}
	return at.Token, nil
}

// GetIdentityToken returns the identity (ID) token, refreshing first if
// it is missing or within the expiry buffer.
func (m *Manager) GetIdentityToken(ctx context.Context) (string, error) {
	if !m.IsAuthenticated() {
		return "", ErrNotAuthenticated
	}

	if m.identityTokenStale() {
		if err := m.refresh(ctx); err != nil {
			return "", err
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.record.Authenticated() {
		return "", ErrNotAuthenticated
	}
	if m.record.IdentityToken == "" {
		return "", NewMissingTokenError("identity token")
	}
	return m.record.IdentityToken, nil
}

// accessTokensStale reports whether any configured scope set with scopes
// is missing its access token or holds one inside the expiry buffer.
func (m *Manager) accessTokensStale() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.record == nil {
		return false
	}

	deadline := m.now().Add(m.expiryBuffer).UnixMilli()
	for _, set := range m.sets {
		if strings.TrimSpace(set.Scopes) == "" {
			continue
		}
		at, ok := m.record.AccessTokens[set.Name]
		if !ok || at.Token == "" || at.ExpiresAt <= deadline {
			return true
		}
	}
	return false
}

func (m *Manager) identityTokenStale() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.record == nil {
		return false
	}
	if m.record.IdentityToken == "" {
		return true
	}
	return m.record.IdentityTokenExpiry <= m.now().Add(m.expiryBuffer).UnixMilli()
}

// Can evaluates the named policy against the current identity's roles.
// It returns false when unauthenticated, when no claims are held, or
// when the policy name is unknown.
func (m *Manager) Can(policy string) bool {
	m.mu.RLock()
	authenticated := m.record.Authenticated() && m.claims != nil
	var roles []string
	if authenticated {
		roles = append([]string(nil), m.claims.Roles...)
	}
	m.mu.RUnlock()

	if !authenticated {
		return false
	}
	p, ok := m.cfg.Policies[policy]
	if !ok {
		return false
	}
	return p(roles)
}

// AutoLogin silently resumes a persisted session: if one exists it
// proves the session is still live by obtaining a default-set token,
// clearing the session locally when that fails. Returns whether an
// authenticated session is in place afterwards.
func (m *Manager) AutoLogin(ctx context.Context) bool {
	if !m.IsAuthenticated() {
		return false
	}
	if _, err := m.GetAccessToken(ctx, ScopeSetDefault); err != nil {
		m.logger.Info("persisted session is no longer usable, clearing it", "error", err)
		_ = m.LocalLogout()
		return false
	}
	return true
}

// Logout clears the session locally and then navigates to the provider's
// end-session endpoint so the provider-side session ends too. When the
// provider advertises no end-session endpoint the logout stays local.
func (m *Manager) Logout(ctx context.Context, returnPath string) error {
	if returnPath == "" {
		returnPath = m.currentPath()
	}
	if err := m.store.Set(m.keys.logoutPath, returnPath); err != nil {
		return fmt.Errorf("failed to persist logout return path: %w", err)
	}

	// Resolve endpoints first: the local logout below clears the
	// discovery cache.
	doc, derr := m.discovery.Configuration(ctx)

	if err := m.LocalLogout(); err != nil {
		return err
	}

	if derr != nil {
		m.logger.Warn("skipping provider logout redirect, discovery failed", "error", derr)
		return nil
	}
	if doc.EndSessionEndpoint == "" {
		m.logger.Debug("provider advertises no end_session_endpoint, logout stays local")
		return nil
	}

	endSession, err := url.Parse(doc.EndSessionEndpoint)
	if err != nil {
		return fmt.Errorf("invalid end_session_endpoint: %w", err)
	}
	q := endSession.Query()
	q.Set("client_id", m.cfg.ClientID)
	if m.cfg.LogoutRedirectURI != "" {
		q.Set("post_logout_redirect_uri", m.absoluteURL(m.cfg.LogoutRedirectURI))
	}
	endSession.RawQuery = q.Encode()

	m.nav.Navigate(endSession.String())
	return nil
}

// LocalLogout clears the session record, claims, transient flow state,
// and the cached discovery document, without contacting the provider.
// Idempotent: a second call on a logged-out manager does nothing and
// emits no events.
func (m *Manager) LocalLogout() error {
	m.mu.Lock()
	if m.record == nil {
		m.mu.Unlock()
		return nil
	}
	subject := ""
	if m.claims != nil {
		subject = m.claims.Subject
	}
	m.record = nil
	m.claims = nil
	m.mu.Unlock()

	if err := m.store.Delete(m.keys.session); err != nil {
		return fmt.Errorf("failed to delete session record: %w", err)
	}
	_ = m.store.Delete(m.keys.verifier)
	_ = m.store.Delete(m.keys.state)
	_ = m.store.Delete(m.keys.returnPath)
	m.discovery.ClearCache()

	m.auditor.LogLogout(subject, m.cfg.ProviderID)
	m.metrics.RecordLogout(context.Background(), m.cfg.ProviderID)
	m.emitter.emit(EventLogout)
	m.emitter.emit(EventTokensChanged)
	return nil
}

// HandleLogoutRedirect finishes the provider logout round-trip by
// navigating to the stored logout return path, falling back to the root.
func (m *Manager) HandleLogoutRedirect() error {
	path, err := m.store.Get(m.keys.logoutPath)
	_ = m.store.Delete(m.keys.logoutPath)
	if err != nil || path == "" {
		path = "/"
	}
	m.nav.Navigate(path)
	return nil
}

// AddEventListener registers fn for a lifecycle event and returns a
// handle for RemoveEventListener. Listeners run synchronously in
// registration order.
func (m *Manager) AddEventListener(event Event, fn func()) string {
	return m.emitter.subscribe(event, fn)
}

// RemoveEventListener removes a listener by its handle.
func (m *Manager) RemoveEventListener(event Event, id string) {
	m.emitter.unsubscribe(event, id)
}

// UserInfo returns a copy of the current identity claims, or false when
// no identity is held.
func (m *Manager) UserInfo() (token.UserClaims, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.claims == nil {
		return token.UserClaims{}, false
	}
	claims := *m.claims
	claims.Roles = append([]string(nil), m.claims.Roles...)
	return claims, true
}

// ScopeSets returns the effective scope sets after hook composition.
func (m *Manager) ScopeSets() []ScopeSet {
	return append([]ScopeSet(nil), m.sets...)
}

// commit atomically installs a new session record: persist first, then
// swap the in-memory record and claims. A persistence failure leaves the
// previous record in place.
func (m *Manager) commit(rec *token.Record, claims *token.UserClaims) error {
	if err := m.persistRecord(rec); err != nil {
		return err
	}
	m.mu.Lock()
	m.record = rec
	m.claims = claims
	m.mu.Unlock()
	return nil
}

func (m *Manager) persistRecord(rec *token.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode session record: %w", err)
	}
	if err := m.store.Set(m.keys.session, string(raw)); err != nil {
		return fmt.Errorf("failed to persist session record: %w", err)
	}
	return nil
}

func (m *Manager) subject() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.claims == nil {
		return ""
	}
	return m.claims.Subject
}

// configuration resolves the provider's openid-configuration through the
// caching discovery client.
func (m *Manager) configuration(ctx context.Context) (*oidc.Document, error) {
	doc, err := m.discovery.Configuration(ctx)
	m.metrics.RecordDiscoveryFetch(ctx, err)
	return doc, err
}

// oauthConfig builds the oauth2 configuration for the discovered
// endpoints. This is a public client: no secret, parameters in the body.
func (m *Manager) oauthConfig(doc *oidc.Document) *oauth2.Config {
	return &oauth2.Config{
		ClientID: m.cfg.ClientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:   doc.AuthorizationEndpoint,
			TokenURL:  m.tokenEndpoint(doc),
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: m.absoluteURL(m.cfg.RedirectURI),
		Scopes:      m.allScopes(),
	}
}

func (m *Manager) tokenEndpoint(doc *oidc.Document) string {
	if m.hooks.ResolveTokenEndpoint != nil {
		return m.hooks.ResolveTokenEndpoint(doc.TokenEndpoint)
	}
	return doc.TokenEndpoint
}

// allScopes is the ordered, de-duplicated union of every scope set's
// scopes, used for the authorization request.
func (m *Manager) allScopes() []string {
	seen := make(map[string]bool)
	var scopes []string
	for _, set := range m.sets {
		for _, s := range strings.Fields(set.Scopes) {
			if !seen[s] {
				seen[s] = true
				scopes = append(scopes, s)
			}
		}
	}
	return scopes
}

// absoluteURL resolves a root-relative path against the current
// location's origin. Without a usable current URL the path is returned
// as-is.
func (m *Manager) absoluteURL(path string) string {
	u := m.nav.CurrentURL()
	if u == nil || u.Scheme == "" || u.Host == "" {
		return path
	}
	return u.Scheme + "://" + u.Host + path
}

// currentPath is the current location's path plus query, for use as a
// return path.
func (m *Manager) currentPath() string {
	u := m.nav.CurrentURL()
	if u == nil || u.Path == "" {
		return "/"
	}
	path := u.Path
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return path
}

func (m *Manager) expiryFromSeconds(expiresIn int64) int64 {
	if expiresIn <= 0 {
		return 0
	}
	return m.now().Add(time.Duration(expiresIn) * time.Second).UnixMilli()
}

// responseFromOAuth2Token maps an oauth2 exchange result onto the shared
// token-response shape.
func responseFromOAuth2Token(tok *oauth2.Token, now time.Time) *TokenResponse {
	resp := &TokenResponse{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		resp.IDToken = idToken
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		resp.Scope = scope
	}
	if !tok.Expiry.IsZero() {
		resp.ExpiresIn = int64(tok.Expiry.Sub(now) / time.Second)
	}
	return resp
}
