// Package telemetry wires OpenTelemetry metrics with a Prometheus exporter.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the instruments recorded by the API middleware and the
// lifecycle services.
type Metrics struct {
	Requests        metric.Int64Counter
	ErrorCount      metric.Int64Counter
	RequestDuration metric.Float64Histogram

	ValidationRuns metric.Int64Counter
	Deployments    metric.Int64Counter

	registry *prometheus.Registry
}

// InitMetrics sets up the meter provider and instruments. The returned
// shutdown func flushes the provider.
func InitMetrics(serviceName string) (func(context.Context) error, *Metrics, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(serviceName)

	m := &Metrics{registry: registry}

	m.Requests, err = meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total HTTP requests"))
	if err != nil {
		return nil, nil, err
	}
	m.ErrorCount, err = meter.Int64Counter("http_request_errors_total",
		metric.WithDescription("HTTP requests answered with status >= 400"))
	if err != nil {
		return nil, nil, err
	}
	m.RequestDuration, err = meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"))
	if err != nil {
		return nil, nil, err
	}
	m.ValidationRuns, err = meter.Int64Counter("validation_runs_total",
		metric.WithDescription("Validation runs by outcome"))
	if err != nil {
		return nil, nil, err
	}
	m.Deployments, err = meter.Int64Counter("deployment_operations_total",
		metric.WithDescription("Deployment lifecycle operations by kind"))
	if err != nil {
		return nil, nil, err
	}

	return provider.Shutdown, m, nil
}

// PrometheusHandler serves the /metrics scrape endpoint.
func (m *Metrics) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
