package token

import (
	"encoding/json"
	"fmt"
)

const (
	// SchemaVersion is the current persisted session-record schema version.
	SchemaVersion = 2

	// ScopeSetDefault is the reserved name of the primary scope set,
	// seeded from the configured primary scope string.
	ScopeSetDefault = "default"

	// ScopeSetMS is the scope-set name used for the Microsoft identity
	// token slot, both by the Microsoft provider specialization and by the
	// v1 record migration.
	ScopeSetMS = "ms"
)

// AccessToken is one scope set's access token with its absolute expiry.
type AccessToken struct {
	Token string `json:"token"`

	// ExpiresAt is milliseconds since the epoch
	ExpiresAt int64 `json:"expiresAt"`
}

// Record is the persisted session record for one provider instance.
// A Record with a non-empty RefreshToken is considered authenticated
// regardless of individual access-token expiry.
type Record struct {
	SchemaVersion int `json:"schemaVersion"`

	// RefreshToken empty means "not authenticated"
	RefreshToken string `json:"refreshToken"`

	// IdentityToken may be empty before the first refresh cycle
	IdentityToken string `json:"identityToken,omitempty"`

	// IdentityTokenExpiry is milliseconds since the epoch, zero if unknown
	IdentityTokenExpiry int64 `json:"identityTokenExpiry,omitempty"`

	// AccessTokens maps scope-set name to that set's current access token
	AccessTokens map[string]AccessToken `json:"accessTokensBySet"`
}

// Authenticated reports whether the record represents an authenticated
// session.
func (r *Record) Authenticated() bool {
	return r != nil && r.RefreshToken != ""
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	dup := *r
	dup.AccessTokens = make(map[string]AccessToken, len(r.AccessTokens))
	for name, at := range r.AccessTokens {
		dup.AccessTokens[name] = at
	}
	return &dup
}

// recordV1 is the historical flat record shape: one API token, one Graph
// token, and per-token expiries. It predates the schemaVersion tag.
type recordV1 struct {
	APIAccessToken string `json:"apiAccessToken"`
	MSAccessToken  string `json:"msAccessToken"`
	RefreshToken   string `json:"refreshToken"`
	APIExpiresAt   int64  `json:"apiExpiresAt"`
	MSExpiresAt    int64  `json:"msExpiresAt"`
	IDToken        string `json:"idToken"`
}

// Migrate decodes a persisted session record of any historical schema
// version into the current shape. Applying Migrate to a current-schema
// record is the identity function. Unknown future versions are rejected
// rather than guessed at.
func Migrate(raw []byte) (*Record, error) {
	var probe struct {
		SchemaVersion int `json:"schemaVersion"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("failed to decode session record: %w", err)
	}

	switch probe.SchemaVersion {
	case SchemaVersion:
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode session record: %w", err)
		}
		if rec.AccessTokens == nil {
			rec.AccessTokens = make(map[string]AccessToken)
		}
		return &rec, nil

	case 0, 1:
		// Version-1 records carried no schemaVersion tag, so an absent tag
		// decodes as zero and takes the same path.
		var old recordV1
		if err := json.Unmarshal(raw, &old); err != nil {
			return nil, fmt.Errorf("failed to decode v1 session record: %w", err)
		}
		return migrateV1(&old), nil

	default:
		return nil, fmt.Errorf("unsupported session record schema version %d", probe.SchemaVersion)
	}
}

// migrateV1 maps the flat v1 shape onto the current schema: the API token
// moves under the "default" scope set, the Graph-style token under "ms".
// The v1 schema never stored the identity-token expiry, so it is
// back-filled by decoding the embedded identity token when present.
func migrateV1(old *recordV1) *Record {
	rec := &Record{
		SchemaVersion: SchemaVersion,
		RefreshToken:  old.RefreshToken,
		IdentityToken: old.IDToken,
		AccessTokens:  make(map[string]AccessToken),
	}

	if old.APIAccessToken != "" {
		rec.AccessTokens[ScopeSetDefault] = AccessToken{
			Token:     old.APIAccessToken,
			ExpiresAt: old.APIExpiresAt,
		}
	}
	if old.MSAccessToken != "" {
		rec.AccessTokens[ScopeSetMS] = AccessToken{
			Token:     old.MSAccessToken,
			ExpiresAt: old.MSExpiresAt,
		}
	}

	if old.IDToken != "" {
		if exp, err := ExtractExpiry(old.IDToken); err == nil {
			rec.IdentityTokenExpiry = exp
		}
	}

	return rec
}
