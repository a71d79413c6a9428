// Package observability sets up the OpenTelemetry meter provider and its
// Prometheus scrape endpoint.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	otelmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Metrics is a running meter provider.
type Metrics struct {
	provider *otelmetric.MeterProvider
	handler  http.Handler
}

// Setup creates a meter provider exporting to a private Prometheus registry
// and installs it as the global provider.
func Setup(service string) (*Metrics, error) {
	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := otelmetric.NewMeterProvider(
		otelmetric.WithReader(exporter),
		otelmetric.WithResource(resource.NewSchemaless(attribute.String("service.name", service))),
	)
	otel.SetMeterProvider(provider)
	return &Metrics{
		provider: provider,
		handler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, nil
}

// Meter returns a meter of this provider.
func (m *Metrics) Meter(name string) metric.Meter {
	return m.provider.Meter(name)
}

// Handler serves the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return m.handler
}

// Shutdown flushes and stops the provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}
