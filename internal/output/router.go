package output

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/therealutkarshpriyadarshi/authlog/internal/dlq"
	"github.com/therealutkarshpriyadarshi/authlog/internal/logging"
	"github.com/therealutkarshpriyadarshi/authlog/internal/metrics"
	"github.com/therealutkarshpriyadarshi/authlog/internal/reliability"
	"github.com/therealutkarshpriyadarshi/authlog/internal/tracing"
	"github.com/therealutkarshpriyadarshi/authlog/pkg/types"
)

// Failure strategies
const (
	FailureContinue = "continue"
	FailureStop     = "stop"
)

// RouterConfig contains configuration for the multi-sink router
type RouterConfig struct {
	// FailureStrategy defines how to handle sink failures (continue, stop)
	FailureStrategy string

	// Parallel enables parallel delivery to all sinks
	Parallel bool

	// AlertRateLimit caps alerts per second for each remote sink, 0 disables
	// the limit. Alerts over the limit are dropped; reports never are.
	AlertRateLimit float64
	AlertBurst     int

	// Retry applies to remote sinks, nil disables retries
	Retry *reliability.RetryConfig

	// CircuitBreaker applies to remote sinks, nil disables the breaker
	CircuitBreaker *reliability.CircuitBreakerConfig
}

// DefaultRouterConfig returns default router configuration
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		FailureStrategy: FailureContinue,
		Parallel:        false,
	}
}

// route is one sink with its delivery policy
type route struct {
	sink    Sink
	remote  bool
	limiter *rate.Limiter
	breaker *reliability.CircuitBreaker
}

// Router fans alerts and the report out to several sinks. It is itself a
// Sink, so the pipeline only ever talks to one handler.
type Router struct {
	config     RouterConfig
	routes     []*route
	logger     *logging.Logger
	collector  *metrics.Collector
	tracer     trace.Tracer
	deadLetter *dlq.DeadLetterQueue
	run        RunInfo
	mu         sync.RWMutex
	closed     atomic.Bool
}

// NewRouter creates a new router. collector and tracer may be nil.
func NewRouter(config RouterConfig, logger *logging.Logger, collector *metrics.Collector, tracer trace.Tracer) *Router {
	if config.FailureStrategy == "" {
		config.FailureStrategy = FailureContinue
	}
	if logger == nil {
		logger = logging.Global()
	}
	if tracer == nil {
		tracer = otel.Tracer("authlog")
	}

	return &Router{
		config:    config,
		logger:    logger.WithComponent("router"),
		collector: collector,
		tracer:    tracer,
	}
}

// AddSink adds a sink to the router. Remote sinks get retries, the alert
// rate limit and a circuit breaker; local sinks are called directly.
func (r *Router) AddSink(sink Sink, remote bool) {
	rt := &route{sink: sink, remote: remote}

	if remote && r.config.AlertRateLimit > 0 {
		burst := r.config.AlertBurst
		if burst <= 0 {
			burst = 1
		}
		rt.limiter = rate.NewLimiter(rate.Limit(r.config.AlertRateLimit), burst)
	}

	if remote && r.config.CircuitBreaker != nil {
		cbConfig := *r.config.CircuitBreaker
		name := sink.Name()
		cbConfig.OnStateChange = func(from, to reliability.State) {
			r.logger.Warn().
				Str("sink", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Sink circuit breaker changed state")
			if r.collector != nil {
				r.collector.CircuitBreakerOpen.WithLabelValues(name).Set(float64(to))
			}
		}
		rt.breaker = reliability.NewCircuitBreaker(cbConfig)
		if r.collector != nil {
			r.collector.CircuitBreakerOpen.WithLabelValues(name).Set(float64(reliability.StateClosed))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, rt)
}

// SetDeadLetterQueue makes the router keep every alert and report that a
// remote sink finally failed to accept. The router closes the queue.
func (r *Router) SetDeadLetterQueue(q *dlq.DeadLetterQueue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deadLetter = q
}

// Sinks returns all configured sinks
func (r *Router) Sinks() []Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sinks := make([]Sink, len(r.routes))
	for i, rt := range r.routes {
		sinks[i] = rt.sink
	}
	return sinks
}

// Start announces the run to every sink
func (r *Router) Start(ctx context.Context, run RunInfo) error {
	r.mu.Lock()
	r.run = run
	r.mu.Unlock()

	return r.fanOut(ctx, "start", func(ctx context.Context, rt *route) error {
		return rt.sink.Start(ctx, run)
	})
}

// Alert delivers an alert to every sink
func (r *Router) Alert(ctx context.Context, alert types.AlertSignal) error {
	return r.fanOut(ctx, KindAlert, func(ctx context.Context, rt *route) error {
		if rt.limiter != nil && !rt.limiter.Allow() {
			r.logger.Debug().
				Str("sink", rt.sink.Name()).
				Str("source_address", alert.SourceAddress).
				Msg("Alert dropped by rate limit")
			if r.collector != nil {
				r.collector.OutputRateLimited.WithLabelValues(rt.sink.Name()).Inc()
			}
			return nil
		}
		err := r.deliver(ctx, rt, KindAlert, func(ctx context.Context) error {
			return rt.sink.Alert(ctx, alert)
		})
		// a pending alert is still held by the sink
		if err != nil && !errors.Is(err, ErrAlertsPending) {
			r.storeDeadLetter(rt, KindAlert, NewAlertRecord(r.runInfo(), alert, time.Now()), err)
		}
		return err
	})
}

// Report delivers the report to every sink
func (r *Router) Report(ctx context.Context, report *types.Report) error {
	return r.fanOut(ctx, KindReport, func(ctx context.Context, rt *route) error {
		err := r.deliver(ctx, rt, KindReport, func(ctx context.Context) error {
			return rt.sink.Report(ctx, report)
		})
		if err != nil {
			r.storeDeadLetter(rt, KindReport, NewReportRecord(r.runInfo(), report, time.Now()), err)
			r.deadLetterPending(rt, err)
		}
		return err
	})
}

// fanOut calls fn for every route, in parallel or in order, and applies
// the failure strategy
func (r *Router) fanOut(ctx context.Context, kind string, fn func(context.Context, *route) error) error {
	if r.closed.Load() {
		return ErrSinkClosed
	}

	r.mu.RLock()
	routes := r.routes
	r.mu.RUnlock()

	if len(routes) == 0 {
		return fmt.Errorf("no sinks available")
	}

	if r.config.Parallel {
		return r.fanOutParallel(ctx, kind, routes, fn)
	}

	return r.fanOutSequential(ctx, kind, routes, fn)
}

func (r *Router) fanOutParallel(ctx context.Context, kind string, routes []*route, fn func(context.Context, *route) error) error {
	var wg sync.WaitGroup
	errs := make([]error, len(routes))

	for i, rt := range routes {
		wg.Add(1)
		go func(i int, rt *route) {
			defer wg.Done()
			errs[i] = fn(ctx, rt)
		}(i, rt)
	}

	wg.Wait()

	var failed []error
	for i, err := range errs {
		if err != nil {
			r.logFailure(kind, routes[i].sink.Name(), err)
			failed = append(failed, fmt.Errorf("%s: %w", routes[i].sink.Name(), err))
		}
	}

	if len(failed) > 0 && r.config.FailureStrategy == FailureStop {
		return fmt.Errorf("failed to deliver %s to %d sinks: %w", kind, len(failed), errors.Join(failed...))
	}

	return nil
}

func (r *Router) fanOutSequential(ctx context.Context, kind string, routes []*route, fn func(context.Context, *route) error) error {
	for _, rt := range routes {
		if err := fn(ctx, rt); err != nil {
			r.logFailure(kind, rt.sink.Name(), err)

			if r.config.FailureStrategy == FailureStop {
				return fmt.Errorf("failed to deliver %s to sink %s: %w", kind, rt.sink.Name(), err)
			}
		}
	}

	return nil
}

func (r *Router) runInfo() RunInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.run
}

// storeDeadLetter keeps a record a remote sink did not accept
func (r *Router) storeDeadLetter(rt *route, kind string, record any, cause error) {
	r.mu.RLock()
	q := r.deadLetter
	r.mu.RUnlock()

	if q == nil || !rt.remote || errors.Is(cause, ErrSinkClosed) {
		return
	}

	name := rt.sink.Name()
	if err := q.Enqueue(name, kind, record, cause); err != nil {
		r.logger.Error().
			Err(err).
			Str("sink", name).
			Str("kind", kind).
			Msg("Failed to store undeliverable record")
		return
	}

	r.logger.Warn().
		Str("sink", name).
		Str("kind", kind).
		Str("path", q.Path()).
		Msg("Stored undeliverable record in dead letter queue")
	if r.collector != nil {
		r.collector.OutputDeadLettered.WithLabelValues(name, kind).Inc()
	}
}

// deadLetterPending moves the alerts a batching sink still holds into the
// dead letter queue. Without a queue they stay with the sink, which tries
// them once more on Close.
func (r *Router) deadLetterPending(rt *route, cause error) {
	buf, ok := rt.sink.(AlertBuffer)
	if !ok || !rt.remote {
		return
	}

	r.mu.RLock()
	q := r.deadLetter
	r.mu.RUnlock()
	if q == nil {
		return
	}

	for _, record := range buf.DrainAlerts() {
		r.storeDeadLetter(rt, KindAlert, record, cause)
	}
}

func (r *Router) logFailure(kind, sink string, err error) {
	r.logger.Error().
		Err(err).
		Str("sink", sink).
		Str("kind", kind).
		Msg("Sink delivery failed")
}

// deliver runs one send through the route's breaker and retry policy and
// records its metrics and span
func (r *Router) deliver(ctx context.Context, rt *route, kind string, send func(context.Context) error) error {
	name := rt.sink.Name()
	ctx, span := tracing.TraceOutput(ctx, r.tracer, name, kind)
	defer span.End()

	call := func(ctx context.Context) error {
		err := send(ctx)
		// resending a pending alert would queue it twice
		if errors.Is(err, ErrSinkClosed) || errors.Is(err, ErrAlertsPending) {
			return reliability.Permanent(err)
		}
		return err
	}

	if rt.breaker != nil {
		inner := call
		call = func(ctx context.Context) error {
			return rt.breaker.Execute(ctx, inner)
		}
	}

	start := time.Now()
	var err error
	if rt.remote && r.config.Retry != nil {
		err = reliability.Retry(ctx, *r.config.Retry, call)
	} else {
		err = call(ctx)
	}

	if r.collector != nil {
		r.collector.OutputDuration.WithLabelValues(name, kind).Observe(time.Since(start).Seconds())
		if err != nil {
			r.collector.OutputFailures.WithLabelValues(name, kind).Inc()
		} else {
			r.collector.OutputSends.WithLabelValues(name, kind).Inc()
		}
	}

	if err != nil {
		span.RecordError(err)
	}

	return err
}

// Close closes all sinks
func (r *Router) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	r.mu.RLock()
	routes := r.routes
	q := r.deadLetter
	r.mu.RUnlock()

	var errs []error
	for _, rt := range routes {
		if err := rt.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rt.sink.Name(), err))
			r.deadLetterPending(rt, err)
		}
	}

	if q != nil {
		if err := q.Close(); err != nil {
			errs = append(errs, fmt.Errorf("dead letter queue: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to close %d sinks: %w", len(errs), errors.Join(errs...))
	}

	return nil
}

// Name returns the router name
func (r *Router) Name() string {
	return "router"
}

// Metrics returns the aggregate metrics of all sinks
func (r *Router) Metrics() *SinkMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := &SinkMetrics{}
	for _, rt := range r.routes {
		m := rt.sink.Metrics()
		total.AlertsSent += m.AlertsSent
		total.AlertsFailed += m.AlertsFailed
		total.ReportsSent += m.ReportsSent
		total.ReportsFailed += m.ReportsFailed
		total.BytesSent += m.BytesSent

		if m.LastSendTime.After(total.LastSendTime) {
			total.LastSendTime = m.LastSendTime
		}
		if m.LastErrorTime.After(total.LastErrorTime) {
			total.LastErrorTime = m.LastErrorTime
			total.LastError = m.LastError
		}
	}

	return total
}
