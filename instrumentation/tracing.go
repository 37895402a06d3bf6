package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
//
// Never put actual credential values (access tokens, refresh tokens,
// authorization codes, PKCE verifiers) on spans. Only metadata: scope-set
// names, grant types, rotation flags, outcomes.
const (
	AttrProviderID   = "auth.provider_id"
	AttrScopeSet     = "auth.scope_set"
	AttrScopeSets    = "auth.scope_sets"
	AttrGrantType    = "auth.grant_type"
	AttrTokenRotated = "auth.token_rotated" //nolint:gosec // flag, not a credential
	AttrOutcome      = "auth.outcome"
)

// SetSpanAttributes sets attributes on a span if it is recording.
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.SetAttributes(attrs...)
}

// SetSpanError marks a span as failed with the given message.
func SetSpanError(span trace.Span, message string) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.SetStatus(codes.Error, message)
}

// RecordSpanError records err on the span and marks it failed.
func RecordSpanError(span trace.Span, err error) {
	if span == nil || !span.IsRecording() || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
