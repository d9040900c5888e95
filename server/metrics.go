package server

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "grantd/server"

// Metrics holds the instruments recorded by the token core. Metric
// attributes never carry secrets, codes or tokens.
type Metrics struct {
	TokensIssued      metric.Int64Counter
	GrantFailures     metric.Int64Counter
	CodesIssued       metric.Int64Counter
	CodesRedeemed     metric.Int64Counter
	ClientsRegistered metric.Int64Counter
	RateLimited       metric.Int64Counter
}

// NewMetrics registers instruments with mp. A nil provider records nothing.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter(meterName)
	m := &Metrics{}

	var err error
	if m.TokensIssued, err = meter.Int64Counter("grantd.tokens.issued",
		metric.WithDescription("Access tokens issued"), metric.WithUnit("{token}")); err != nil {
		return nil, fmt.Errorf("create tokens.issued counter: %w", err)
	}
	if m.GrantFailures, err = meter.Int64Counter("grantd.grants.failed",
		metric.WithDescription("Token requests rejected"), metric.WithUnit("{request}")); err != nil {
		return nil, fmt.Errorf("create grants.failed counter: %w", err)
	}
	if m.CodesIssued, err = meter.Int64Counter("grantd.codes.issued",
		metric.WithDescription("Authorization codes issued"), metric.WithUnit("{code}")); err != nil {
		return nil, fmt.Errorf("create codes.issued counter: %w", err)
	}
	if m.CodesRedeemed, err = meter.Int64Counter("grantd.codes.redeemed",
		metric.WithDescription("Authorization codes redeemed"), metric.WithUnit("{code}")); err != nil {
		return nil, fmt.Errorf("create codes.redeemed counter: %w", err)
	}
	if m.ClientsRegistered, err = meter.Int64Counter("grantd.clients.registered",
		metric.WithDescription("Clients registered"), metric.WithUnit("{client}")); err != nil {
		return nil, fmt.Errorf("create clients.registered counter: %w", err)
	}
	if m.RateLimited, err = meter.Int64Counter("grantd.rate_limited",
		metric.WithDescription("Requests rejected by rate limiting"), metric.WithUnit("{request}")); err != nil {
		return nil, fmt.Errorf("create rate_limited counter: %w", err)
	}
	return m, nil
}

func (m *Metrics) recordIssued(ctx context.Context, grant GrantType) {
	if m == nil {
		return
	}
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("grant_type", grant.String())))
}

func (m *Metrics) recordFailure(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.GrantFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("error", CodeOf(err))))
}

func (m *Metrics) recordRedeemed(ctx context.Context) {
	if m == nil {
		return
	}
	m.CodesRedeemed.Add(ctx, 1)
}

func (m *Metrics) recordCodeIssued(ctx context.Context) {
	if m == nil {
		return
	}
	m.CodesIssued.Add(ctx, 1)
}

func (m *Metrics) recordRegistered(ctx context.Context) {
	if m == nil {
		return
	}
	m.ClientsRegistered.Add(ctx, 1)
}

func (m *Metrics) recordRateLimited(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.RateLimited.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
