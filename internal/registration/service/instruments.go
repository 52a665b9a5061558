package service

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "manifold/backend/internal/registration"

type instruments struct {
	tracer        trace.Tracer
	registrations metric.Int64Counter
	verifications metric.Int64Counter
}

// newInstruments binds to the global providers installed by telemetry/otel.SetGlobal.
func newInstruments() *instruments {
	meter := otel.Meter(instrumentationName)
	reg, err := meter.Int64Counter("registration.attempts",
		metric.WithDescription("Registration attempts by terminal outcome."))
	if err != nil {
		reg = metricnoop.Int64Counter{}
	}
	ver, err := meter.Int64Counter("verification.attempts",
		metric.WithDescription("Verification attempts by outcome."))
	if err != nil {
		ver = metricnoop.Int64Counter{}
	}
	return &instruments{
		tracer:        otel.Tracer(instrumentationName),
		registrations: reg,
		verifications: ver,
	}
}
