package authsession

import (
	"context"
	"errors"
	"testing"
)

// fakeSession is a scriptable SessionManager for selector tests.
type fakeSession struct {
	authenticated bool
	autoLoginOK   bool

	loginCalls     int
	redirectCalls  int
	autoLoginCalls int
	lastReturnPath string
}

func (f *fakeSession) IsAuthenticated() bool { return f.authenticated }

func (f *fakeSession) Login(_ context.Context, returnPath string) error {
	f.loginCalls++
	f.lastReturnPath = returnPath
	return nil
}

func (f *fakeSession) HandleRedirect(context.Context) error {
	f.redirectCalls++
	return nil
}

func (f *fakeSession) Logout(context.Context, string) error { return nil }
func (f *fakeSession) LocalLogout() error                   { return nil }
func (f *fakeSession) HandleLogoutRedirect() error          { return nil }

func (f *fakeSession) GetAccessToken(context.Context, string) (string, error) {
	return "fake-token", nil
}

func (f *fakeSession) GetIdentityToken(context.Context) (string, error) {
	return "fake-id-token", nil
}

func (f *fakeSession) Can(string) bool { return f.authenticated }

func (f *fakeSession) AutoLogin(context.Context) bool {
	f.autoLoginCalls++
	return f.autoLoginOK
}

func (f *fakeSession) AddEventListener(Event, func()) string { return "" }
func (f *fakeSession) RemoveEventListener(Event, string)     {}

func TestNewSelectorValidation(t *testing.T) {
	tests := []struct {
		name      string
		providers []RegisteredProvider
		defaultID string
		wantCode  string
	}{
		{
			name:     "no providers",
			wantCode: ErrorCodeConfig,
		},
		{
			name: "empty provider id",
			providers: []RegisteredProvider{
				{ID: "", Manager: &fakeSession{}},
			},
			wantCode: ErrorCodeConfig,
		},
		{
			name: "nil manager",
			providers: []RegisteredProvider{
				{ID: "a", Manager: nil},
			},
			wantCode: ErrorCodeConfig,
		},
		{
			name: "duplicate provider id",
			providers: []RegisteredProvider{
				{ID: "a", Manager: &fakeSession{}},
				{ID: "a", Manager: &fakeSession{}},
			},
			wantCode: ErrorCodeDuplicateProvider,
		},
		{
			name: "unknown default",
			providers: []RegisteredProvider{
				{ID: "a", Manager: &fakeSession{}},
			},
			defaultID: "b",
			wantCode:  ErrorCodeUnknownProvider,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSelector(tt.providers, tt.defaultID, testLogger())
			var sErr *Error
			if !errors.As(err, &sErr) {
				t.Fatalf("NewSelector error = %v, want *Error", err)
			}
			if sErr.Code != tt.wantCode {
				t.Errorf("error code = %q, want %q", sErr.Code, tt.wantCode)
			}
		})
	}
}

func TestSelectorDispatch(t *testing.T) {
	ctx := context.Background()
	a := &fakeSession{}
	b := &fakeSession{}
	sel, err := NewSelector([]RegisteredProvider{
		{ID: "a", Manager: a},
		{ID: "b", Manager: b},
	}, "a", testLogger())
	if err != nil {
		t.Fatalf("NewSelector returned error: %v", err)
	}

	if err := sel.Login(ctx, "/home", ""); err != nil {
		t.Fatalf("Login via default returned error: %v", err)
	}
	if a.loginCalls != 1 || a.lastReturnPath != "/home" {
		t.Errorf("default provider login calls = %d, path %q", a.loginCalls, a.lastReturnPath)
	}

	if err := sel.Login(ctx, "/b", "b"); err != nil {
		t.Fatalf("Login via named provider returned error: %v", err)
	}
	if b.loginCalls != 1 {
		t.Errorf("named provider login calls = %d, want 1", b.loginCalls)
	}

	if err := sel.HandleRedirect(ctx, "b"); err != nil {
		t.Fatalf("HandleRedirect returned error: %v", err)
	}
	if b.redirectCalls != 1 {
		t.Errorf("redirect calls = %d, want 1", b.redirectCalls)
	}

	if err := sel.Login(ctx, "/", "missing"); !errors.Is(err, &Error{Code: ErrorCodeUnknownProvider}) {
		t.Errorf("Login for unknown provider = %v, want unknown_provider", err)
	}
}

func TestSelectorWithoutDefaultRejectsEmptyProviderID(t *testing.T) {
	sel, err := NewSelector([]RegisteredProvider{
		{ID: "a", Manager: &fakeSession{}},
	}, "", testLogger())
	if err != nil {
		t.Fatalf("NewSelector returned error: %v", err)
	}

	err = sel.Login(context.Background(), "/", "")
	var sErr *Error
	if !errors.As(err, &sErr) || sErr.Code != ErrorCodeUnknownProvider {
		t.Errorf("Login with no provider and no default = %v, want unknown_provider", err)
	}
}

func TestSelectorAutoLoginStopsAtFirstSuccess(t *testing.T) {
	a := &fakeSession{autoLoginOK: false}
	b := &fakeSession{autoLoginOK: true}
	c := &fakeSession{autoLoginOK: true}
	sel, err := NewSelector([]RegisteredProvider{
		{ID: "a", Manager: a},
		{ID: "b", Manager: b},
		{ID: "c", Manager: c},
	}, "", testLogger())
	if err != nil {
		t.Fatalf("NewSelector returned error: %v", err)
	}

	if !sel.AutoLogin(context.Background()) {
		t.Fatal("AutoLogin = false, want true")
	}
	if a.autoLoginCalls != 1 || b.autoLoginCalls != 1 {
		t.Errorf("auto-login calls: a = %d, b = %d; want 1 and 1", a.autoLoginCalls, b.autoLoginCalls)
	}
	if c.autoLoginCalls != 0 {
		t.Errorf("auto-login continued past the first success: c = %d calls", c.autoLoginCalls)
	}
}

func TestSelectorActive(t *testing.T) {
	a := &fakeSession{}
	b := &fakeSession{authenticated: true}
	sel, err := NewSelector([]RegisteredProvider{
		{ID: "a", Manager: a},
		{ID: "b", Manager: b},
	}, "", testLogger())
	if err != nil {
		t.Fatalf("NewSelector returned error: %v", err)
	}

	id, mgr, ok := sel.Active()
	if !ok || id != "b" || mgr != SessionManager(b) {
		t.Errorf("Active = %q, %v, %v; want b", id, mgr, ok)
	}

	b.authenticated = false
	if _, _, ok := sel.Active(); ok {
		t.Error("Active = true with no authenticated provider")
	}
}

func TestSelectorSessionOperationsNeedActiveProvider(t *testing.T) {
	sel, err := NewSelector([]RegisteredProvider{
		{ID: "a", Manager: &fakeSession{}},
	}, "a", testLogger())
	if err != nil {
		t.Fatalf("NewSelector returned error: %v", err)
	}
	ctx := context.Background()

	if sel.IsAuthenticated() {
		t.Error("selector IsAuthenticated = true")
	}
	if sel.Can("anything") {
		t.Error("selector Can = true")
	}
	if err := sel.Logout(ctx, "/"); !errors.Is(err, ErrNoActiveProvider) {
		t.Errorf("Logout = %v, want ErrNoActiveProvider", err)
	}
	if _, err := sel.GetAccessToken(ctx, ""); !errors.Is(err, ErrNoActiveProvider) {
		t.Errorf("GetAccessToken = %v, want ErrNoActiveProvider", err)
	}
	if _, err := sel.GetIdentityToken(ctx); !errors.Is(err, ErrNoActiveProvider) {
		t.Errorf("GetIdentityToken = %v, want ErrNoActiveProvider", err)
	}
}
