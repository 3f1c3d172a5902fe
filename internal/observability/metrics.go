package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/sandeepkv93/labflags/internal/config"
)

// counter resolves against the current global meter provider; the sdk dedupes identical instruments.
func counter(name, description string) metric.Int64Counter {
	c, err := otel.Meter(instrumentationName).Int64Counter(name, metric.WithDescription(description))
	if err != nil || c == nil {
		otel.Handle(err)
		return noop.Int64Counter{}
	}
	return c
}

// InitMetrics installs a meter provider backed by a private prometheus registry.
func InitMetrics(cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, *prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Debug("metrics disabled")
		return mp, reg, nil
	}
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(serviceResource(cfg)),
	)
	otel.SetMeterProvider(mp)
	return mp, reg, nil
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	if reg == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func RecordBackendCall(ctx context.Context, operation, outcome string) {
	counter("featureflag_backend_calls_total", "Calls made to the feature backend").Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func RecordStoreOperation(ctx context.Context, store, operation, outcome string) {
	counter("featureflag_store_operations_total", "Local override store operations").Add(ctx, 1, metric.WithAttributes(
		attribute.String("store", store),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func RecordEvaluation(ctx context.Context, key string, result bool) {
	counter("featureflag_evaluations_total", "Feature flag evaluations").Add(ctx, 1, metric.WithAttributes(
		attribute.String("flag", key),
		attribute.Bool("result", result),
	))
}

// ClassifyStoreError buckets a storage error into a low-cardinality outcome label.
func ClassifyStoreError(err error) string {
	if err == nil {
		return "success"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "connection"), strings.Contains(msg, "refused"), strings.Contains(msg, "broken pipe"):
		return "connection"
	default:
		return "other"
	}
}
