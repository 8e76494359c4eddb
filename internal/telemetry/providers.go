package telemetry

import (
	"context"
	"net/http"

	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// DefaultServiceVersion is reported when the build does not stamp a version.
const DefaultServiceVersion = "unknown"

// Providers is an SDK meter provider whose metrics are scraped in Prometheus format.
type Providers struct {
	meterProvider *sdkmetric.MeterProvider
	registry      *prometheus.Registry
}

// NewProviders builds the meter provider for serviceName. Each call gets its own
// registry, so several servers can live in one process.
func NewProviders(ctx context.Context, serviceName, serviceVersion string) (*Providers, error) {
	if serviceVersion == "" {
		serviceVersion = DefaultServiceVersion
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[telemetry.NewProviders] resource")
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[telemetry.NewProviders] prometheus exporter")
	}

	return &Providers{
		meterProvider: sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		),
		registry: registry,
	}, nil
}

func (p *Providers) MeterProvider() metric.MeterProvider {
	return p.meterProvider
}

// MetricsHandler serves the collected metrics for a Prometheus scrape.
func (p *Providers) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (p *Providers) Shutdown(ctx context.Context) error {
	return pkgerrors.Wrap(p.meterProvider.Shutdown(ctx), "[Providers.Shutdown]")
}
