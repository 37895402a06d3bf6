// Package authsession implements a client-side OAuth 2.0 authorization-code
// session manager with PKCE for applications that authenticate against one
// or more OpenID Connect providers.
//
// A Manager owns one provider's authentication lifecycle: login initiation,
// redirect handling, multi-scope-set token refresh with refresh-token
// rotation, role-based policy evaluation, and lifecycle event notification.
// A Selector composes several Managers behind a single facade and dispatches
// to the right one.
//
// Tokens are grouped into named scope sets, each independently refreshable
// so one authenticated session can hold distinct access tokens per
// downstream API. Concurrent token requests coalesce into a single refresh
// cycle, and the persisted session record is only ever replaced wholesale —
// a failing cycle never leaves the record half-updated.
package authsession
