// Package metrics defines the observability handle handed to the isolation
// wrapper and the accounts manager at construction time.  Nothing in this
// package keeps process-wide state; callers decide which meter backs it.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome classifies how an isolated call finished.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeFailure        Outcome = "failure"
	OutcomeTimeout        Outcome = "timeout"
	OutcomeRejected       Outcome = "rejected"
	OutcomeShortCircuited Outcome = "short_circuited"
	OutcomeFallback       Outcome = "fallback"
	OutcomeCanceled       Outcome = "canceled" // the caller gave up first
)

// Sink receives timings and counts.  Implementations must be safe for
// concurrent use.
type Sink interface {
	// RecordCall is invoked once per isolated dependency call.
	RecordCall(group, command string, outcome Outcome, elapsed time.Duration)
	// RecordOperation times a whole orchestrator operation (create, update, get).
	RecordOperation(operation string, elapsed time.Duration)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordCall(string, string, Outcome, time.Duration) {}
func (Nop) RecordOperation(string, time.Duration)             {}

// OtelSink records into OpenTelemetry instruments created from a meter.
type OtelSink struct {
	calls      metric.Int64Counter
	callTime   metric.Float64Histogram
	operations metric.Float64Histogram
}

// NewOtelSink creates the instruments on m.
func NewOtelSink(m metric.Meter) (*OtelSink, error) {
	calls, err := m.Int64Counter("accounts.dependency.calls",
		metric.WithDescription("Isolated dependency calls by group, command and outcome."))
	if err != nil {
		return nil, err
	}
	callTime, err := m.Float64Histogram("accounts.dependency.duration",
		metric.WithDescription("Latency of isolated dependency calls."),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	operations, err := m.Float64Histogram("accounts.operation.duration",
		metric.WithDescription("Latency of accounts manager operations."),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &OtelSink{calls: calls, callTime: callTime, operations: operations}, nil
}

func (s *OtelSink) RecordCall(group, command string, outcome Outcome, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("group", group),
		attribute.String("command", command),
		attribute.String("outcome", string(outcome)),
	)
	ctx := context.Background()
	s.calls.Add(ctx, 1, attrs)
	s.callTime.Record(ctx, millis(elapsed), attrs)
}

func (s *OtelSink) RecordOperation(operation string, elapsed time.Duration) {
	s.operations.Record(context.Background(), millis(elapsed),
		metric.WithAttributes(attribute.String("operation", operation)))
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
