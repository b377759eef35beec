package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tradeprohub/account-service/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/exemplar"
	"go.opentelemetry.io/otel/sdk/resource"
)

type AppMetrics struct {
	loginAttempts     metric.Int64Counter
	lockoutsArmed     metric.Int64Counter
	tokenEvents       metric.Int64Counter
	auditWriteFailure metric.Int64Counter
	sessionEvents     metric.Int64Counter
	authReqDuration   metric.Float64Histogram
	healthCheckResult metric.Int64Counter
	healthCheckDur    metric.Float64Histogram
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
		sdkmetric.WithExemplarFilter(exemplar.TraceBasedFilter),
		sdkmetric.WithView(sdkmetric.NewView(
			sdkmetric.Instrument{Name: "auth.request.duration"},
			sdkmetric.Stream{
				Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
					Boundaries: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
				},
			},
		)),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter("tradeprohub-account-service")
	loginAttempts, err := meter.Int64Counter("auth.login.attempts")
	if err != nil {
		return nil, err
	}
	lockoutsArmed, err := meter.Int64Counter("auth.lockouts.armed")
	if err != nil {
		return nil, err
	}
	tokenEvents, err := meter.Int64Counter("auth.token_store.events")
	if err != nil {
		return nil, err
	}
	auditWriteFailure, err := meter.Int64Counter("audit.write.failures")
	if err != nil {
		return nil, err
	}
	sessionEvents, err := meter.Int64Counter("session.events")
	if err != nil {
		return nil, err
	}
	authReqDuration, err := meter.Float64Histogram("auth.request.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of auth endpoint requests in seconds"))
	if err != nil {
		return nil, err
	}
	healthCheckResult, err := meter.Int64Counter("health.check.results")
	if err != nil {
		return nil, err
	}
	healthCheckDur, err := meter.Float64Histogram("health.check.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of health dependency checks in seconds"))
	if err != nil {
		return nil, err
	}

	metricsMu.Lock()
	appMetrics = &AppMetrics{
		loginAttempts:     loginAttempts,
		lockoutsArmed:     lockoutsArmed,
		tokenEvents:       tokenEvents,
		auditWriteFailure: auditWriteFailure,
		sessionEvents:     sessionEvents,
		authReqDuration:   authReqDuration,
		healthCheckResult: healthCheckResult,
		healthCheckDur:    healthCheckDur,
	}
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordLoginAttempt(ctx context.Context, status string) {
	m := current()
	if m == nil {
		return
	}
	m.loginAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordLockoutArmed(ctx context.Context) {
	m := current()
	if m == nil {
		return
	}
	m.lockoutsArmed.Add(ctx, 1)
}

func RecordTokenIssued(ctx context.Context, kind string) {
	recordTokenEvent(ctx, kind, "issued")
}

func RecordTokenConsumed(ctx context.Context, kind string) {
	recordTokenEvent(ctx, kind, "consumed")
}

func RecordTokenRejected(ctx context.Context, kind string) {
	recordTokenEvent(ctx, kind, "rejected")
}

func recordTokenEvent(ctx context.Context, kind, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.tokenEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

func RecordAuditWriteFailure(ctx context.Context, action string) {
	m := current()
	if m == nil {
		return
	}
	m.auditWriteFailure.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

func RecordSessionEvent(ctx context.Context, action, status string) {
	m := current()
	if m == nil {
		return
	}
	m.sessionEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("status", status),
	))
}

func RecordAuthRequestDuration(ctx context.Context, endpoint, status string, duration time.Duration) {
	m := current()
	if m == nil {
		return
	}
	m.authReqDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("status", status),
	))
}

func RecordHealthCheckResult(ctx context.Context, check, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.healthCheckResult.Add(ctx, 1, metric.WithAttributes(
		attribute.String("check", check),
		attribute.String("outcome", outcome),
	))
}

func RecordHealthCheckDuration(ctx context.Context, check string, duration time.Duration) {
	m := current()
	if m == nil {
		return
	}
	m.healthCheckDur.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("check", check),
	))
}
