package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName identifies the licensing meter.
const MeterName = "qacli-license"

// Metrics holds the license-specific OpenTelemetry instruments. Exporters
// are configured by the host application; the subsystem only records.
type Metrics struct {
	ActivationAttempts metric.Int64Counter
	ActivationSuccess  metric.Int64Counter
	ActivationFailures metric.Int64Counter

	RegistryFetches   metric.Int64Counter
	RegistryFallbacks metric.Int64Counter
	RegistryDuration  metric.Float64Histogram

	ResolutionCacheHits   metric.Int64Counter
	ResolutionCacheMisses metric.Int64Counter

	QuotaDenials metric.Int64Counter
}

// NewMetrics creates the instruments on the globally registered meter
// provider.
func NewMetrics() (*Metrics, error) {
	return InitializeMetrics(otel.GetMeterProvider().Meter(MeterName))
}

// InitializeMetrics creates all license-specific instruments on the given
// meter.
func InitializeMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ActivationAttempts, err = meter.Int64Counter(
		"license_activation_attempts_total",
		metric.WithDescription("Total number of license activation attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation attempts counter: %w", err)
	}

	m.ActivationSuccess, err = meter.Int64Counter(
		"license_activation_success_total",
		metric.WithDescription("Total number of successful license activations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation success counter: %w", err)
	}

	m.ActivationFailures, err = meter.Int64Counter(
		"license_activation_failures_total",
		metric.WithDescription("Total number of failed license activations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation failures counter: %w", err)
	}

	m.RegistryFetches, err = meter.Int64Counter(
		"license_registry_fetches_total",
		metric.WithDescription("Total number of verified registry fetches"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry fetch counter: %w", err)
	}

	m.RegistryFallbacks, err = meter.Int64Counter(
		"license_registry_fallbacks_total",
		metric.WithDescription("Total number of registry fetches served from the verified cache"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry fallback counter: %w", err)
	}

	m.RegistryDuration, err = meter.Float64Histogram(
		"license_registry_fetch_duration_seconds",
		metric.WithDescription("Registry fetch duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry duration histogram: %w", err)
	}

	m.ResolutionCacheHits, err = meter.Int64Counter(
		"license_resolution_cache_hits_total",
		metric.WithDescription("Entitlement resolutions served from the in-process cache"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hit counter: %w", err)
	}

	m.ResolutionCacheMisses, err = meter.Int64Counter(
		"license_resolution_cache_misses_total",
		metric.WithDescription("Entitlement resolutions that bypassed the in-process cache"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache miss counter: %w", err)
	}

	m.QuotaDenials, err = meter.Int64Counter(
		"license_quota_denials_total",
		metric.WithDescription("Guarded operations denied by FREE-tier quota"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create quota denial counter: %w", err)
	}

	return m, nil
}

// RecordRegistryFetch records a successful, verified registry fetch.
func (m *Metrics) RecordRegistryFetch(ctx context.Context, duration time.Duration) {
	if m == nil {
		return
	}
	m.RegistryFetches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("component", "registry_client"),
	))
	m.RegistryDuration.Record(ctx, duration.Seconds())
}

// RecordRegistryFallback records a fetch served from the verified cache.
func (m *Metrics) RecordRegistryFallback(ctx context.Context) {
	if m == nil {
		return
	}
	m.RegistryFallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("component", "registry_client"),
	))
}

// RecordActivation records an activation attempt and its outcome.
func (m *Metrics) RecordActivation(ctx context.Context, success bool, errorCode string) {
	if m == nil {
		return
	}
	m.ActivationAttempts.Add(ctx, 1)
	if success {
		m.ActivationSuccess.Add(ctx, 1)
		return
	}
	m.ActivationFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("error_code", errorCode),
	))
}

// RecordQuotaDenial records a guarded operation denied by quota.
func (m *Metrics) RecordQuotaDenial(ctx context.Context, op Operation) {
	if m == nil {
		return
	}
	m.QuotaDenials.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", string(op)),
	))
}
