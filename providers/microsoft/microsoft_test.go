package microsoft

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oidckit/authsession"
	"github.com/oidckit/authsession/internal/testutil"
	"github.com/oidckit/authsession/storage/memory"
)

type fakeNavigator struct {
	mu      sync.Mutex
	current *url.URL
	visits  []string
}

func (n *fakeNavigator) CurrentURL() *url.URL {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

func (n *fakeNavigator) Navigate(target string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.visits = append(n.visits, target)
}

func (n *fakeNavigator) setCurrent(t *testing.T, raw string) {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse URL %q: %v", raw, err)
	}
	n.mu.Lock()
	n.current = u
	n.mu.Unlock()
}

func (n *fakeNavigator) lastVisit(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.visits) == 0 {
		t.Fatal("no navigation recorded")
	}
	return n.visits[len(n.visits)-1]
}

func newEntraManager(t *testing.T, provider *testutil.FakeProvider, scope string) (*Manager, *fakeNavigator) {
	t.Helper()

	u, err := url.Parse("https://app.example.com/home")
	if err != nil {
		t.Fatal(err)
	}
	nav := &fakeNavigator{current: u}

	m, err := New(authsession.Config{
		ClientID:    "entra-client",
		Authority:   provider.URL(),
		Scope:       scope,
		RedirectURI: "/auth/callback",
		Navigator:   nav,
		Store:       memory.New(),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return m, nav
}

func completeLogin(t *testing.T, m *Manager, nav *fakeNavigator) {
	t.Helper()
	ctx := context.Background()

	if err := m.Login(ctx, "/after"); err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	authURL, err := url.Parse(nav.lastVisit(t))
	if err != nil {
		t.Fatalf("failed to parse authorization URL: %v", err)
	}
	state := authURL.Query().Get("state")
	nav.setCurrent(t, "https://app.example.com/auth/callback?code=code-1&state="+url.QueryEscape(state))
	if err := m.HandleRedirect(ctx); err != nil {
		t.Fatalf("HandleRedirect returned error: %v", err)
	}
}

func TestScopeSetCompositionSplitsAPIScopes(t *testing.T) {
	provider := testutil.NewFakeProvider(t)
	m, _ := newEntraManager(t, provider, "api://my-api/read api://my-api/write openid profile user.read")

	sets := m.ScopeSets()
	if len(sets) != 2 {
		t.Fatalf("scope sets = %d, want 2", len(sets))
	}

	byName := map[string]string{}
	for _, set := range sets {
		byName[set.Name] = set.Scopes
	}

	if got := byName[authsession.ScopeSetDefault]; got != "api://my-api/read api://my-api/write" {
		t.Errorf("default set scopes = %q, want only the api:// scopes", got)
	}
	ms := byName[authsession.ScopeSetMS]
	for _, want := range []string{"openid", "profile", "offline_access", "user.read"} {
		if !strings.Contains(ms, want) {
			t.Errorf("ms set scopes %q missing %q", ms, want)
		}
	}
	if strings.Contains(ms, "api://") {
		t.Errorf("ms set scopes %q carries api:// scopes", ms)
	}
}

func TestMultiSetLoginFetchesBothTokens(t *testing.T) {
	provider := testutil.NewFakeProvider(t)
	m, nav := newEntraManager(t, provider, "api://my-api/read openid profile")

	idToken := testutil.BuildJWT(t, map[string]any{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	provider.Respond = func(req testutil.TokenRequest) (testutil.TokenResponse, error) {
		switch {
		case req.GrantType == "authorization_code":
			return testutil.TokenResponse{RefreshToken: "rt-1", IDToken: idToken}, nil
		case strings.HasPrefix(req.Scope, "api://"):
			return testutil.TokenResponse{AccessToken: "at-api", RefreshToken: "rt-2", ExpiresIn: 3600}, nil
		default:
			return testutil.TokenResponse{AccessToken: "at-graph", ExpiresIn: 3600, IDToken: idToken}, nil
		}
	}

	completeLogin(t, m, nav)

	ctx := context.Background()
	at, err := m.GetAccessToken(ctx, "")
	if err != nil || at != "at-api" {
		t.Errorf("default access token = %q, %v; want at-api", at, err)
	}
	at, err = m.GetAccessToken(ctx, authsession.ScopeSetMS)
	if err != nil || at != "at-graph" {
		t.Errorf("ms access token = %q, %v; want at-graph", at, err)
	}
	if got := len(provider.TokenRequests()); got != 3 {
		t.Errorf("token requests = %d, want 3", got)
	}
}

func TestIdentityOnlyConfigurationServesIdentityToken(t *testing.T) {
	provider := testutil.NewFakeProvider(t)
	m, nav := newEntraManager(t, provider, "openid profile user.read")

	idToken := testutil.BuildJWT(t, map[string]any{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	provider.Respond = func(req testutil.TokenRequest) (testutil.TokenResponse, error) {
		if req.GrantType == "authorization_code" {
			return testutil.TokenResponse{RefreshToken: "rt-1", IDToken: idToken}, nil
		}
		if strings.Contains(req.Scope, "api://") {
			return testutil.TokenResponse{}, fmt.Errorf("no api:// scopes were configured, got %q", req.Scope)
		}
		return testutil.TokenResponse{AccessToken: "at-graph", RefreshToken: "rt-2", ExpiresIn: 3600, IDToken: idToken}, nil
	}

	completeLogin(t, m, nav)

	// Without a resource API the default set proxies to the identity token.
	got, err := m.GetAccessToken(context.Background(), "")
	if err != nil {
		t.Fatalf("GetAccessToken returned error: %v", err)
	}
	if got != idToken {
		t.Error("default-set token is not the identity token")
	}

	if !m.AutoLogin(context.Background()) {
		t.Error("AutoLogin = false for a live identity-only session")
	}
}

func TestNewRejectsForeignComposeHook(t *testing.T) {
	provider := testutil.NewFakeProvider(t)
	u, _ := url.Parse("https://app.example.com/")

	_, err := New(authsession.Config{
		ClientID:    "entra-client",
		Authority:   provider.URL(),
		Scope:       "openid",
		RedirectURI: "/cb",
		Navigator:   &fakeNavigator{current: u},
		Store:       memory.New(),
		Hooks: authsession.Hooks{
			ComposeScopeSets: func(s []authsession.ScopeSet) []authsession.ScopeSet { return s },
		},
	})
	if err == nil {
		t.Fatal("New accepted a caller-supplied compose hook")
	}
}

func TestSplitScopes(t *testing.T) {
	api, identity := splitScopes("api://a/x openid api://b/y profile")
	if len(api) != 2 || api[0] != "api://a/x" || api[1] != "api://b/y" {
		t.Errorf("api scopes = %v", api)
	}
	if len(identity) != 2 || identity[0] != "openid" || identity[1] != "profile" {
		t.Errorf("identity scopes = %v", identity)
	}

	api, identity = splitScopes("")
	if len(api) != 0 || len(identity) != 0 {
		t.Errorf("splitScopes(\"\") = %v, %v; want empty", api, identity)
	}
}
