package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

const meterName = "github.com/eppraise/eppraise"

// Telemetry owns the OpenTelemetry meter provider. Instruments created from
// Meter are exported through Registry, which the router serves on /metrics.
type Telemetry struct {
	Meter    metric.Meter
	Registry *prometheus.Registry
	Provider *sdkmetric.MeterProvider
}

// NewTelemetry wires an OTel meter provider to a fresh prometheus registry
// and installs it as the global provider.
func NewTelemetry(logger *zap.Logger) (*Telemetry, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	logger.Named("telemetry").Info("telemetry initialized")
	return &Telemetry{
		Meter:    provider.Meter(meterName),
		Registry: registry,
		Provider: provider,
	}, nil
}

// MeterOf returns the telemetry meter, or nil when telemetry is disabled.
func MeterOf(tel *Telemetry) metric.Meter {
	if tel == nil {
		return nil
	}
	return tel.Meter
}
