// Package isolation runs calls to external dependencies inside per-group
// bulkheads.  Each group (store, cache, index) owns its own concurrency
// limit, timeout and circuit breaker, so one saturated dependency cannot
// starve calls that go to another.
package isolation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/iliyamo/account-service/internal/metrics"
)

// Group identifies a dependency for isolation purposes.
type Group string

const (
	Store Group = "store"
	Cache Group = "cache"
	Index Group = "index"
)

// Groups lists every group an Executor manages.
var Groups = []Group{Store, Cache, Index}

// Limits configures one group's bulkhead.
type Limits struct {
	MaxConcurrent    int
	Timeout          time.Duration
	FailureThreshold uint32        // consecutive failures that open the circuit
	OpenTimeout      time.Duration // how long the circuit stays open before probing
	HalfOpenRequests uint32        // probes allowed while half-open
}

// DefaultLimits returns the limits used for g when none are configured.
func DefaultLimits(g Group) Limits {
	l := Limits{
		MaxConcurrent:    32,
		Timeout:          time.Second,
		FailureThreshold: 20,
		OpenTimeout:      5 * time.Second,
		HalfOpenRequests: 1,
	}
	switch g {
	case Cache:
		l.MaxConcurrent = 64
		l.Timeout = 250 * time.Millisecond
	case Index:
		l.MaxConcurrent = 16
	}
	return l
}

func (l Limits) withDefaults(g Group) Limits {
	d := DefaultLimits(g)
	if l.MaxConcurrent <= 0 {
		l.MaxConcurrent = d.MaxConcurrent
	}
	if l.Timeout <= 0 {
		l.Timeout = d.Timeout
	}
	if l.FailureThreshold == 0 {
		l.FailureThreshold = d.FailureThreshold
	}
	if l.OpenTimeout <= 0 {
		l.OpenTimeout = d.OpenTimeout
	}
	if l.HalfOpenRequests == 0 {
		l.HalfOpenRequests = d.HalfOpenRequests
	}
	return l
}

type bulkhead struct {
	group   Group
	limits  Limits
	sem     *semaphore.Weighted
	breaker *gobreaker.CircuitBreaker[any]
}

// Executor owns one bulkhead per group.  It is safe for concurrent use.
type Executor struct {
	groups map[Group]*bulkhead
	sink   metrics.Sink
	log    *zap.Logger
	tracer trace.Tracer
}

// Option customizes an Executor.
type Option func(*Executor)

// WithSink sets the metrics sink.
func WithSink(s metrics.Sink) Option { return func(e *Executor) { e.sink = s } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(e *Executor) { e.log = l } }

// WithTracer sets the tracer used for per-call spans.
func WithTracer(t trace.Tracer) Option { return func(e *Executor) { e.tracer = t } }

// NewExecutor builds an Executor.  Groups missing from limits get
// DefaultLimits; zero fields are filled from the defaults too.
func NewExecutor(limits map[Group]Limits, opts ...Option) *Executor {
	e := &Executor{
		groups: make(map[Group]*bulkhead, len(Groups)),
		sink:   metrics.Nop{},
		log:    zap.NewNop(),
		tracer: noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, g := range Groups {
		e.groups[g] = e.newBulkhead(g, limits[g].withDefaults(g))
	}
	return e
}

func (e *Executor) newBulkhead(g Group, l Limits) *bulkhead {
	threshold := l.FailureThreshold
	st := gobreaker.Settings{
		Name:        string(g),
		MaxRequests: l.HalfOpenRequests,
		Timeout:     l.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		// Input errors and callers that gave up say nothing about the
		// dependency's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrBadRequest) || errors.Is(err, ErrCanceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.log.Warn("circuit state changed",
				zap.String("group", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &bulkhead{
		group:   g,
		limits:  l,
		sem:     semaphore.NewWeighted(int64(l.MaxConcurrent)),
		breaker: gobreaker.NewCircuitBreaker[any](st),
	}
}

// State reports the circuit state of g.
func (e *Executor) State(g Group) gobreaker.State {
	return e.groups[g].breaker.State()
}

// run executes fn inside the bulkhead.  The semaphore slot is held until
// fn actually returns, even when the caller has already given up on it,
// so MaxConcurrent bounds real in-flight work against the dependency.
// Only the group's own deadline is reported as ErrTimeout; when ctx ends
// first the call fails with ErrCanceled.
func (b *bulkhead) run(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, canceled{err: err}
	}
	return b.breaker.Execute(func() (any, error) {
		if !b.sem.TryAcquire(1) {
			return nil, ErrRejected
		}
		callCtx, cancel := context.WithTimeout(ctx, b.limits.Timeout)
		defer cancel()

		type result struct {
			v   any
			err error
		}
		done := make(chan result, 1)
		go func() {
			var r result
			defer func() {
				if p := recover(); p != nil {
					r = result{err: fmt.Errorf("%w: %v", ErrPanic, p)}
				}
				b.sem.Release(1)
				done <- r
			}()
			r.v, r.err = fn(callCtx)
		}()

		select {
		case r := <-done:
			if r.err == nil {
				return r.v, nil
			}
			if err := ctx.Err(); err != nil {
				return nil, canceled{err: err}
			}
			if callCtx.Err() != nil {
				return nil, ErrTimeout
			}
			return nil, r.err
		case <-callCtx.Done():
			if err := ctx.Err(); err != nil {
				return nil, canceled{err: err}
			}
			return nil, ErrTimeout
		}
	})
}

func outcomeOf(err error) metrics.Outcome {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrCircuitOpen):
		return metrics.OutcomeShortCircuited
	case errors.Is(err, ErrRejected):
		return metrics.OutcomeRejected
	case errors.Is(err, ErrTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, ErrCanceled):
		return metrics.OutcomeCanceled
	default:
		return metrics.OutcomeFailure
	}
}

// Policy decides what a failed call returns.
type Policy[T any] struct {
	swallow  bool
	fallback T
}

// Propagating returns failures to the caller.
func Propagating[T any]() Policy[T] { return Policy[T]{} }

// Swallowing replaces any failure with fallback and a nil error.
func Swallowing[T any](fallback T) Policy[T] {
	return Policy[T]{swallow: true, fallback: fallback}
}

// Execute runs fn under group g with policy p.  command names the call
// site for metrics, logs and spans.
func Execute[T any](ctx context.Context, e *Executor, g Group, command string, p Policy[T], fn func(context.Context) (T, error)) (T, error) {
	b, ok := e.groups[g]
	if !ok {
		panic("isolation: unknown group " + string(g))
	}

	ctx, span := e.tracer.Start(ctx, string(g)+"."+command,
		trace.WithAttributes(attribute.String("isolation.group", string(g))))
	defer span.End()

	start := time.Now()
	v, err := b.run(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = ErrCircuitOpen
	}
	outcome := outcomeOf(err)
	e.sink.RecordCall(string(g), command, outcome, time.Since(start))

	if err == nil {
		out, _ := v.(T)
		return out, nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if p.swallow {
		e.log.Warn("dependency call failed, using fallback",
			zap.String("group", string(g)),
			zap.String("command", command),
			zap.String("outcome", string(outcome)),
			zap.Error(err))
		e.sink.RecordCall(string(g), command, metrics.OutcomeFallback, 0)
		return p.fallback, nil
	}

	var zero T
	return zero, &DependencyError{Group: g, Command: command, Err: err}
}

// Do is Execute with a propagating policy.
func Do[T any](ctx context.Context, e *Executor, g Group, command string, fn func(context.Context) (T, error)) (T, error) {
	return Execute(ctx, e, g, command, Propagating[T](), fn)
}

// DoOr is Execute with a swallowing policy.
func DoOr[T any](ctx context.Context, e *Executor, g Group, command string, fallback T, fn func(context.Context) (T, error)) T {
	v, _ := Execute(ctx, e, g, command, Swallowing(fallback), fn)
	return v
}
