// Package token implements the token codec for the session manager:
// identity-token claim decoding, user-claim extraction, persisted
// session-record schema migration, and PKCE material generation.
//
// Identity tokens are decoded WITHOUT signature verification. The claims are
// used client-side for display and role-based policy checks only; they are
// never accepted as proof of identity by a resource server. Verifying the
// signature of a token that the authorization server just handed us over TLS
// adds nothing at this layer.
package token
