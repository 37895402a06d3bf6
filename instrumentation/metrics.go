package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the session manager.
type Metrics struct {
	// Session lifecycle
	LoginsCompleted  metric.Int64Counter
	LogoutsCompleted metric.Int64Counter

	// Refresh protocol
	RefreshCycles   metric.Int64Counter
	RefreshDuration metric.Float64Histogram

	// Network round-trips
	TokenRequests    metric.Int64Counter
	DiscoveryFetches metric.Int64Counter
}

// newMetrics creates and registers all metric instruments.
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	meter := inst.Meter("session")
	m := &Metrics{}

	var err error
	m.LoginsCompleted, err = meter.Int64Counter(
		"authsession.logins",
		metric.WithDescription("Number of completed logins"),
		metric.WithUnit("{login}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create logins counter: %w", err)
	}

	m.LogoutsCompleted, err = meter.Int64Counter(
		"authsession.logouts",
		metric.WithDescription("Number of local logouts"),
		metric.WithUnit("{logout}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create logouts counter: %w", err)
	}

	m.RefreshCycles, err = meter.Int64Counter(
		"authsession.refresh.cycles",
		metric.WithDescription("Number of multi-scope-set refresh cycles, by outcome"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh.cycles counter: %w", err)
	}

	m.RefreshDuration, err = meter.Float64Histogram(
		"authsession.refresh.duration",
		metric.WithDescription("Refresh cycle duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh.duration histogram: %w", err)
	}

	m.TokenRequests, err = meter.Int64Counter(
		"authsession.token.requests",
		metric.WithDescription("Number of token-endpoint requests, by grant type"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.requests counter: %w", err)
	}

	m.DiscoveryFetches, err = meter.Int64Counter(
		"authsession.discovery.fetches",
		metric.WithDescription("Number of openid-configuration fetches"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery.fetches counter: %w", err)
	}

	return m, nil
}

// RecordLogin increments the login counter. Nil-safe.
func (m *Metrics) RecordLogin(ctx context.Context, providerID string) {
	if m == nil {
		return
	}
	m.LoginsCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider_id", providerID),
	))
}

// RecordLogout increments the logout counter. Nil-safe.
func (m *Metrics) RecordLogout(ctx context.Context, providerID string) {
	if m == nil {
		return
	}
	m.LogoutsCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider_id", providerID),
	))
}

// RecordRefreshCycle records one refresh cycle with its duration and outcome.
// Nil-safe.
func (m *Metrics) RecordRefreshCycle(ctx context.Context, providerID string, started time.Time, err error) {
	if m == nil {
		return
	}

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	attrs := metric.WithAttributes(
		attribute.String("provider_id", providerID),
		attribute.String("outcome", outcome),
	)
	m.RefreshCycles.Add(ctx, 1, attrs)
	m.RefreshDuration.Record(ctx, float64(time.Since(started).Milliseconds()), attrs)
}

// RecordTokenRequest counts one token-endpoint request by grant type. Nil-safe.
func (m *Metrics) RecordTokenRequest(ctx context.Context, grantType string, err error) {
	if m == nil {
		return
	}

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.TokenRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.String("outcome", outcome),
	))
}

// RecordDiscoveryFetch counts one openid-configuration fetch. Nil-safe.
func (m *Metrics) RecordDiscoveryFetch(ctx context.Context, err error) {
	if m == nil {
		return
	}

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.DiscoveryFetches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}
