package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Telemetry owns the meter provider and the Prometheus scrape listener.
type Telemetry struct {
	provider *sdkmetric.MeterProvider
	server   *http.Server
	ln       net.Listener
	logger   *slog.Logger
}

// StartTelemetry exports metrics on addr under /metrics and installs the
// provider globally. An empty addr disables export.
func StartTelemetry(addr string, logger *slog.Logger) (*Telemetry, error) {
	t := &Telemetry{logger: logger}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return t, nil
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("telemetry: start prometheus exporter: %w", err)
	}
	t.provider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(resource.NewSchemaless(attribute.String("service.name", "grantd"))),
		sdkmetric.WithReader(exporter),
	)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		_ = t.provider.Shutdown(context.Background())
		return nil, fmt.Errorf("telemetry: metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	t.ln = ln
	t.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server error", "error", err)
		}
	}()

	otel.SetMeterProvider(t.provider)
	logger.Info("metrics enabled", "listen", ln.Addr().String())
	return t, nil
}

// MeterProvider returns the exporting provider, or a no-op one when export
// is disabled.
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	if t.provider == nil {
		return noop.NewMeterProvider()
	}
	return t.provider
}

// Addr is the bound scrape address, empty when export is disabled.
func (t *Telemetry) Addr() string {
	if t.ln == nil {
		return ""
	}
	return t.ln.Addr().String()
}

// Shutdown stops the scrape listener and flushes the provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.server != nil {
		errs = append(errs, t.server.Shutdown(ctx))
	}
	if t.provider != nil {
		errs = append(errs, t.provider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
