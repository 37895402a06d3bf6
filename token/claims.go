package token

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformedToken indicates an identity token that cannot be decoded
	// as a JWT, or that lacks a required standard claim.
	ErrMalformedToken = errors.New("malformed identity token")

	// ErrMissingIdentity indicates a decoded identity token that carries no
	// usable subject claim.
	ErrMissingIdentity = errors.New("identity token lacks a subject claim")
)

// UserClaims holds the identity claims decoded from an identity token.
// It is derived state: recomputed whenever the identity token changes,
// never persisted on its own.
type UserClaims struct {
	// Subject is the unique user identifier ("sub", or "oid" as fallback)
	Subject string

	// Name is the display name
	Name string

	// Email is the user's email address
	Email string

	// GivenName is the user's first name
	GivenName string

	// FamilyName is the user's last name
	FamilyName string

	// Roles lists the user's roles, normalized to a slice even when the
	// raw claim is a single string. Empty (never nil) when absent.
	Roles []string

	// Raw holds the complete decoded claim set for passthrough access
	Raw map[string]any
}

// DecodeIdentityToken decodes the claims of a JWT-shaped identity token
// without verifying its signature. Returns ErrMalformedToken if the token
// cannot be split or its payload cannot be parsed.
func DecodeIdentityToken(raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return claims, nil
}

// ExtractExpiry returns the identity token's expiry as milliseconds since
// the epoch. Returns ErrMalformedToken if the token cannot be decoded or
// the standard expiry claim is absent.
func ExtractExpiry(raw string) (int64, error) {
	claims, err := DecodeIdentityToken(raw)
	if err != nil {
		return 0, err
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0, fmt.Errorf("%w: missing exp claim", ErrMalformedToken)
	}
	return exp.Time.UnixMilli(), nil
}

// ExtractUserInfo decodes an identity token into UserClaims.
// The subject is accepted from either the "sub" or the "oid" claim
// (Azure AD emits both; some proxied tokens only carry "oid").
// Returns ErrMissingIdentity if neither is present.
func ExtractUserInfo(raw string) (*UserClaims, error) {
	claims, err := DecodeIdentityToken(raw)
	if err != nil {
		return nil, err
	}

	subject := stringClaim(claims, "sub")
	if subject == "" {
		subject = stringClaim(claims, "oid")
	}
	if subject == "" {
		return nil, ErrMissingIdentity
	}

	return &UserClaims{
		Subject:    subject,
		Name:       stringClaim(claims, "name"),
		Email:      stringClaim(claims, "email"),
		GivenName:  stringClaim(claims, "given_name"),
		FamilyName: stringClaim(claims, "family_name"),
		Roles:      normalizeRoles(claims["roles"]),
		Raw:        map[string]any(claims),
	}, nil
}

// stringClaim returns the named claim if it is a non-empty string.
func stringClaim(claims jwt.MapClaims, name string) string {
	if v, ok := claims[name].(string); ok {
		return v
	}
	return ""
}

// normalizeRoles converts a roles claim into an ordered slice.
// Providers emit either a bare string or an array of strings; absent or
// unrecognized values normalize to an empty slice.
func normalizeRoles(claim any) []string {
	switch v := claim.(type) {
	case string:
		return []string{v}
	case []any:
		roles := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				roles = append(roles, s)
			}
		}
		return roles
	case []string:
		return v
	default:
		return []string{}
	}
}
