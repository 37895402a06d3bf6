package token

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/oidckit/authsession/internal/testutil"
)

func TestMigrateCurrentSchema(t *testing.T) {
	rec := &Record{
		SchemaVersion: SchemaVersion,
		RefreshToken:  "rt-1",
		IdentityToken: "id-1",
		AccessTokens: map[string]AccessToken{
			"default": {Token: "at-1", ExpiresAt: 1000},
		},
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := Migrate(raw)
	if err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}
	if got.RefreshToken != "rt-1" || got.AccessTokens["default"].Token != "at-1" {
		t.Errorf("Migrate changed a current-schema record: %+v", got)
	}
}

func TestMigrateV1Record(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	idToken := testutil.BuildJWT(t, map[string]any{"sub": "u", "exp": exp.Unix()})

	raw := []byte(`{
		"apiAccessToken": "api-at",
		"msAccessToken": "ms-at",
		"refreshToken": "rt-legacy",
		"apiExpiresAt": 1111,
		"msExpiresAt": 2222,
		"idToken": "` + idToken + `"
	}`)

	rec, err := Migrate(raw)
	if err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}

	if rec.SchemaVersion != SchemaVersion {
		t.Errorf("schema version = %d, want %d", rec.SchemaVersion, SchemaVersion)
	}
	if rec.RefreshToken != "rt-legacy" {
		t.Errorf("refresh token = %q, want rt-legacy", rec.RefreshToken)
	}
	if at := rec.AccessTokens[ScopeSetDefault]; at.Token != "api-at" || at.ExpiresAt != 1111 {
		t.Errorf("default token = %+v, want the v1 API token", at)
	}
	if at := rec.AccessTokens[ScopeSetMS]; at.Token != "ms-at" || at.ExpiresAt != 2222 {
		t.Errorf("ms token = %+v, want the v1 MS token", at)
	}
	if rec.IdentityToken != idToken {
		t.Error("identity token was not carried over")
	}
	if rec.IdentityTokenExpiry != exp.UnixMilli() {
		t.Errorf("identity expiry = %d, want the back-filled %d", rec.IdentityTokenExpiry, exp.UnixMilli())
	}
}

func TestMigrateV1RecordWithoutTokens(t *testing.T) {
	rec, err := Migrate([]byte(`{"refreshToken": "rt-only"}`))
	if err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}
	if len(rec.AccessTokens) != 0 {
		t.Errorf("access tokens = %v, want none", rec.AccessTokens)
	}
	if !rec.Authenticated() {
		t.Error("record with a refresh token must count as authenticated")
	}
}

func TestMigrateRejectsFutureSchema(t *testing.T) {
	_, err := Migrate([]byte(`{"schemaVersion": 99}`))
	if err == nil || !strings.Contains(err.Error(), "schema version 99") {
		t.Errorf("Migrate = %v, want unsupported-version error", err)
	}
}

func TestMigrateRejectsGarbage(t *testing.T) {
	if _, err := Migrate([]byte("not json")); err == nil {
		t.Error("Migrate accepted garbage input")
	}
}

func TestRecordAuthenticated(t *testing.T) {
	var nilRec *Record
	if nilRec.Authenticated() {
		t.Error("nil record counts as authenticated")
	}
	if (&Record{}).Authenticated() {
		t.Error("record without refresh token counts as authenticated")
	}
	if !(&Record{RefreshToken: "rt"}).Authenticated() {
		t.Error("record with refresh token does not count as authenticated")
	}
}

func TestRecordClone(t *testing.T) {
	orig := &Record{
		RefreshToken: "rt",
		AccessTokens: map[string]AccessToken{"default": {Token: "at"}},
	}
	dup := orig.Clone()
	dup.AccessTokens["default"] = AccessToken{Token: "changed"}

	if orig.AccessTokens["default"].Token != "at" {
		t.Error("mutating the clone leaked into the original")
	}

	var nilRec *Record
	if nilRec.Clone() != nil {
		t.Error("cloning nil did not return nil")
	}
}
