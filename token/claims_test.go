package token

import (
	"errors"
	"testing"
	"time"

	"github.com/oidckit/authsession/internal/testutil"
)

func TestExtractUserInfo(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name      string
		claims    map[string]any
		wantErr   error
		wantSub   string
		wantRoles []string
	}{
		{
			name: "full claim set",
			claims: map[string]any{
				"sub":         "user-1",
				"name":        "Ada Lovelace",
				"email":       "ada@example.com",
				"given_name":  "Ada",
				"family_name": "Lovelace",
				"roles":       []string{"admin", "user"},
				"exp":         exp,
			},
			wantSub:   "user-1",
			wantRoles: []string{"admin", "user"},
		},
		{
			name: "oid fallback",
			claims: map[string]any{
				"oid": "object-9",
				"exp": exp,
			},
			wantSub:   "object-9",
			wantRoles: []string{},
		},
		{
			name: "sub wins over oid",
			claims: map[string]any{
				"sub": "user-1",
				"oid": "object-9",
				"exp": exp,
			},
			wantSub:   "user-1",
			wantRoles: []string{},
		},
		{
			name: "single string role",
			claims: map[string]any{
				"sub":   "user-1",
				"roles": "admin",
				"exp":   exp,
			},
			wantSub:   "user-1",
			wantRoles: []string{"admin"},
		},
		{
			name: "non-string role entries are dropped",
			claims: map[string]any{
				"sub":   "user-1",
				"roles": []any{"admin", 42, "user"},
				"exp":   exp,
			},
			wantSub:   "user-1",
			wantRoles: []string{"admin", "user"},
		},
		{
			name: "no subject",
			claims: map[string]any{
				"name": "Nobody",
				"exp":  exp,
			},
			wantErr: ErrMissingIdentity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := ExtractUserInfo(testutil.BuildJWT(t, tt.claims))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ExtractUserInfo error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractUserInfo returned error: %v", err)
			}
			if info.Subject != tt.wantSub {
				t.Errorf("Subject = %q, want %q", info.Subject, tt.wantSub)
			}
			if info.Roles == nil {
				t.Fatal("Roles is nil, want a slice")
			}
			if len(info.Roles) != len(tt.wantRoles) {
				t.Fatalf("Roles = %v, want %v", info.Roles, tt.wantRoles)
			}
			for i := range tt.wantRoles {
				if info.Roles[i] != tt.wantRoles[i] {
					t.Errorf("Roles[%d] = %q, want %q", i, info.Roles[i], tt.wantRoles[i])
				}
			}
		})
	}
}

func TestExtractUserInfoMalformed(t *testing.T) {
	for _, raw := range []string{"", "not-a-jwt", "a.b", "a.!!!.c"} {
		if _, err := ExtractUserInfo(raw); !errors.Is(err, ErrMalformedToken) {
			t.Errorf("ExtractUserInfo(%q) = %v, want ErrMalformedToken", raw, err)
		}
	}
}

func TestExtractExpiry(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	raw := testutil.BuildJWT(t, map[string]any{"sub": "u", "exp": exp.Unix()})

	got, err := ExtractExpiry(raw)
	if err != nil {
		t.Fatalf("ExtractExpiry returned error: %v", err)
	}
	if got != exp.UnixMilli() {
		t.Errorf("expiry = %d, want %d", got, exp.UnixMilli())
	}
}

func TestExtractExpiryMissingClaim(t *testing.T) {
	raw := testutil.BuildJWT(t, map[string]any{"sub": "u"})
	if _, err := ExtractExpiry(raw); !errors.Is(err, ErrMalformedToken) {
		t.Errorf("ExtractExpiry without exp = %v, want ErrMalformedToken", err)
	}
}
