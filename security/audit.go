// Package security provides security-event audit logging for the session
// manager, with PII protection: subject identifiers are hashed before they
// reach the log stream.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor logs security-relevant session lifecycle events.
// A nil *Auditor is valid and logs nothing.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new auditor. A nil logger uses slog.Default().
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event.
type Event struct {
	Type       string
	Subject    string
	ProviderID string
	Details    map[string]any
	Timestamp  time.Time
}

// LogEvent logs a security event with hashed PII.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"subject_hash", hashForLogging(event.Subject),
		"provider_id", event.ProviderID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogLogin logs a completed login.
func (a *Auditor) LogLogin(subject, providerID string, scopeSets int) {
	a.LogEvent(Event{
		Type:       "login",
		Subject:    subject,
		ProviderID: providerID,
		Details: map[string]any{
			"scope_sets": scopeSets,
		},
	})
}

// LogLogout logs a local logout.
func (a *Auditor) LogLogout(subject, providerID string) {
	a.LogEvent(Event{
		Type:       "logout",
		Subject:    subject,
		ProviderID: providerID,
	})
}

// LogRefresh logs a completed refresh cycle.
func (a *Auditor) LogRefresh(subject, providerID string, rotated bool) {
	a.LogEvent(Event{
		Type:       "token_refreshed",
		Subject:    subject,
		ProviderID: providerID,
		Details: map[string]any{
			"rotated": rotated,
		},
	})
}

// LogRefreshFailure logs a rejected refresh cycle.
func (a *Auditor) LogRefreshFailure(subject, providerID, scopeSet, reason string) {
	a.LogEvent(Event{
		Type:       "token_refresh_failed",
		Subject:    subject,
		ProviderID: providerID,
		Details: map[string]any{
			"scope_set": scopeSet,
			"reason":    reason,
		},
	})
}

// LogStateMismatch logs a redirect carrying a state value that does not
// match the stored anti-forgery value. This is the CSRF signal.
func (a *Auditor) LogStateMismatch(providerID string) {
	a.LogEvent(Event{
		Type:       "state_mismatch",
		ProviderID: providerID,
		Details: map[string]any{
			"severity": "high",
		},
	})
}

// hashForLogging returns a truncated SHA-256 of the value, or "anonymous"
// for an empty value. Truncation keeps log lines readable while still
// allowing correlation across events.
func hashForLogging(value string) string {
	if value == "" {
		return "anonymous"
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])[:16]
}
