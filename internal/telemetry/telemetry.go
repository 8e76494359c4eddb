// Package telemetry wraps the OpenTelemetry instruments the engines record into.
//
// Never put credential values (codes, tokens, secrets) into attributes; record client ids,
// grant types and outcomes only.
package telemetry

import (
	"context"
	"errors"

	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	oautherrors "github.com/jrsteele09/go-oauth-engine/internal/errors"
)

const instrumentationName = "github.com/jrsteele09/go-oauth-engine"

const (
	AttrClientID     = "oauth.client_id"
	AttrGrantType    = "oauth.grant_type"
	AttrResponseType = "oauth.response_type"
	AttrOutcome      = "oauth.outcome"
	AttrActive       = "oauth.introspection.active"
	AttrTokenType    = "oauth.token_type" //nolint:gosec // token kind, never the token
)

// Outcome classifies how an engine operation ended.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeRejected    Outcome = "rejected"
	OutcomeConfigError Outcome = "config_error"
	OutcomeError       Outcome = "error"
)

// OutcomeFor maps an engine error onto an Outcome.
func OutcomeFor(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, oautherrors.ErrClientScopesNotConfigured):
		return OutcomeConfigError
	case oautherrors.Code(err) != "server_error":
		return OutcomeRejected
	default:
		return OutcomeError
	}
}

type Telemetry struct {
	tracer         trace.Tracer
	grantsIssued   metric.Int64Counter
	exchanges      metric.Int64Counter
	introspections metric.Int64Counter
	revocations    metric.Int64Counter
}

// New creates the instruments on the given providers.
func New(mp metric.MeterProvider, tp trace.TracerProvider) (*Telemetry, error) {
	meter := mp.Meter(instrumentationName)
	t := &Telemetry{tracer: tp.Tracer(instrumentationName)}

	var err error
	t.grantsIssued, err = meter.Int64Counter(
		"oauth.grants.issued",
		metric.WithDescription("Number of authorization codes and implicit tokens issued"),
		metric.WithUnit("{grant}"),
	)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to create grants.issued counter")
	}

	t.exchanges, err = meter.Int64Counter(
		"oauth.exchanges",
		metric.WithDescription("Number of token exchanges by grant type and outcome"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to create exchanges counter")
	}

	t.introspections, err = meter.Int64Counter(
		"oauth.introspections",
		metric.WithDescription("Number of token introspections by result"),
		metric.WithUnit("{introspection}"),
	)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to create introspections counter")
	}

	t.revocations, err = meter.Int64Counter(
		"oauth.revocations",
		metric.WithDescription("Number of token revocation requests"),
		metric.WithUnit("{revocation}"),
	)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to create revocations counter")
	}
	return t, nil
}

// Noop returns telemetry backed by no-op providers.
func Noop() *Telemetry {
	t, err := New(noop.NewMeterProvider(), tracenoop.NewTracerProvider())
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Telemetry) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, oautherrors.Code(err))
	}
	span.End()
}

func (t *Telemetry) RecordGrant(ctx context.Context, responseType, clientID string) {
	t.grantsIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrResponseType, responseType),
		attribute.String(AttrClientID, clientID),
	))
}

func (t *Telemetry) RecordExchange(ctx context.Context, grantType string, err error) {
	t.exchanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrGrantType, grantType),
		attribute.String(AttrOutcome, string(OutcomeFor(err))),
	))
}

func (t *Telemetry) RecordIntrospection(ctx context.Context, active bool) {
	t.introspections.Add(ctx, 1, metric.WithAttributes(attribute.Bool(AttrActive, active)))
}

func (t *Telemetry) RecordRevocation(ctx context.Context, tokenType string) {
	t.revocations.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrTokenType, tokenType)))
}
