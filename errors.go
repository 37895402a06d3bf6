package authsession

import "fmt"

// Error codes for the session-manager API surface.
const (
	ErrorCodeConfig            = "invalid_configuration"
	ErrorCodeMissingCode       = "missing_code"
	ErrorCodeMissingVerifier   = "missing_verifier"
	ErrorCodeStateMismatch     = "state_mismatch"
	ErrorCodeNotAuthenticated  = "not_authenticated"
	ErrorCodeUnknownScopeSet   = "unknown_scope_set"
	ErrorCodeRefreshFailed     = "refresh_failed"
	ErrorCodeMissingToken      = "missing_token"
	ErrorCodeDuplicateProvider = "duplicate_provider"
	ErrorCodeUnknownProvider   = "unknown_provider"
	ErrorCodeNoActiveProvider  = "no_active_provider"
)

// Error represents a session-manager error with a stable machine-readable code.
// Two Errors compare equal under errors.Is when their codes match, so callers
// can test against the predefined instances regardless of description detail.
type Error struct {
	// Code is the stable error code (e.g., "state_mismatch", "refresh_failed")
	Code string

	// Description is a human-readable description of the error
	Description string

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Predefined errors for the fixed (non-parameterized) failure modes.
// Use these directly or as targets for errors.Is.
var (
	// ErrMissingCode is returned by HandleRedirect when the current URL
	// carries no authorization code.
	ErrMissingCode = &Error{
		Code:        ErrorCodeMissingCode,
		Description: "redirect URL does not contain an authorization code",
	}

	// ErrMissingVerifier is returned by HandleRedirect when no PKCE verifier
	// was persisted by a prior Login call.
	ErrMissingVerifier = &Error{
		Code:        ErrorCodeMissingVerifier,
		Description: "no PKCE code verifier found in storage",
	}

	// ErrStateMismatch is returned by HandleRedirect when the state query
	// parameter does not match the persisted anti-forgery value.
	ErrStateMismatch = &Error{
		Code:        ErrorCodeStateMismatch,
		Description: "state parameter does not match the stored value",
	}

	// ErrNotAuthenticated is returned by token accessors when no session
	// (no refresh token) exists.
	ErrNotAuthenticated = &Error{
		Code:        ErrorCodeNotAuthenticated,
		Description: "no authenticated session",
	}

	// ErrNoActiveProvider is returned by Selector operations that require a
	// concretely selected provider.
	ErrNoActiveProvider = &Error{
		Code:        ErrorCodeNoActiveProvider,
		Description: "operation requires an active provider; call it on the authenticated manager instead",
	}

	// ErrRefreshFailed is the errors.Is target for refresh-cycle failures.
	ErrRefreshFailed = &Error{
		Code:        ErrorCodeRefreshFailed,
		Description: "token refresh cycle failed",
	}

	// ErrUnknownScopeSet is the errors.Is target for unconfigured scope-set names.
	ErrUnknownScopeSet = &Error{
		Code:        ErrorCodeUnknownScopeSet,
		Description: "scope set is not configured",
	}

	// ErrMissingToken is the errors.Is target for tokens absent after a
	// successful refresh.
	ErrMissingToken = &Error{
		Code:        ErrorCodeMissingToken,
		Description: "token not present after refresh",
	}
)

// NewConfigError creates a configuration validation error.
// Configuration errors are fatal and surface synchronously at construction.
func NewConfigError(description string) *Error {
	return &Error{Code: ErrorCodeConfig, Description: description}
}

// NewRefreshFailedError creates a refresh-cycle error naming the scope set
// whose token-endpoint request was rejected.
func NewRefreshFailedError(scopeSet string, cause error) *Error {
	return &Error{
		Code:        ErrorCodeRefreshFailed,
		Description: fmt.Sprintf("refresh request for scope set %q rejected", scopeSet),
		cause:       cause,
	}
}

// NewUnknownScopeSetError creates an error for a token request naming a
// scope set that was never configured.
func NewUnknownScopeSetError(name string) *Error {
	return &Error{
		Code:        ErrorCodeUnknownScopeSet,
		Description: fmt.Sprintf("scope set %q is not configured", name),
	}
}

// NewMissingTokenError creates an error for a token that is still absent
// after a successful refresh cycle.
func NewMissingTokenError(what string) *Error {
	return &Error{
		Code:        ErrorCodeMissingToken,
		Description: fmt.Sprintf("provider never returned a %s", what),
	}
}

// NewDuplicateProviderError creates a selector construction error for a
// colliding provider id.
func NewDuplicateProviderError(id string) *Error {
	return &Error{
		Code:        ErrorCodeDuplicateProvider,
		Description: fmt.Sprintf("provider id %q registered twice", id),
	}
}

// NewUnknownProviderError creates a selector delegation error for an
// unregistered provider id.
func NewUnknownProviderError(id string) *Error {
	return &Error{
		Code:        ErrorCodeUnknownProvider,
		Description: fmt.Sprintf("no provider registered under id %q", id),
	}
}
