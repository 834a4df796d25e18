package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Namespace for all metrics
const namespace = "authlog"

// Collector provides a central place for all application metrics
type Collector struct {
	// Input metrics
	InputLines *prometheus.CounterVec
	InputBytes *prometheus.CounterVec

	// Parser metrics
	ParserEvents   *prometheus.CounterVec
	ParserSkipped  *prometheus.CounterVec
	ParserDuration *prometheus.HistogramVec

	// Aggregation metrics
	AggregateAlerts         prometheus.Counter
	AggregateFlaggedSources prometheus.Gauge
	AggregateTrackedSources prometheus.Gauge

	// Output metrics
	OutputSends        *prometheus.CounterVec
	OutputFailures     *prometheus.CounterVec
	OutputDuration     *prometheus.HistogramVec
	OutputRateLimited  *prometheus.CounterVec
	OutputDeadLettered *prometheus.CounterVec
	CircuitBreakerOpen *prometheus.GaugeVec

	// Run metrics
	RunDuration prometheus.Histogram
	RunPartial  prometheus.Gauge

	registry *prometheus.Registry
}

// NewCollector creates a new metrics collector with its own registry
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
	}

	c.initInputMetrics()
	c.initParserMetrics()
	c.initAggregateMetrics()
	c.initOutputMetrics()
	c.initRunMetrics()

	return c
}

func (c *Collector) initInputMetrics() {
	c.InputLines = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "input",
			Name:      "lines_total",
			Help:      "Total number of lines read from the input source",
		},
		[]string{"input_name", "input_type"},
	)

	c.InputBytes = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "input",
			Name:      "bytes_total",
			Help:      "Total bytes read from the input source",
		},
		[]string{"input_name", "input_type"},
	)
}

func (c *Collector) initParserMetrics() {
	c.ParserEvents = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "parser",
			Name:      "events_total",
			Help:      "Total number of authentication events parsed, by outcome",
		},
		[]string{"parser", "outcome"},
	)

	c.ParserSkipped = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "parser",
			Name:      "skipped_total",
			Help:      "Total number of lines that did not match the grammar",
		},
		[]string{"parser"},
	)

	c.ParserDuration = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "parser",
			Name:      "duration_seconds",
			Help:      "Time taken to parse a line",
			Buckets:   prometheus.ExponentialBuckets(0.000001, 2, 15), // 1µs to ~16ms
		},
		[]string{"parser"},
	)
}

func (c *Collector) initAggregateMetrics() {
	c.AggregateAlerts = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "alerts_total",
			Help:      "Total number of threshold-crossing alerts raised",
		},
	)

	c.AggregateFlaggedSources = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "flagged_sources",
			Help:      "Number of source addresses at or above the failure threshold",
		},
	)

	c.AggregateTrackedSources = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "tracked_sources",
			Help:      "Number of source addresses with at least one failure",
		},
	)
}

func (c *Collector) initOutputMetrics() {
	c.OutputSends = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "sends_total",
			Help:      "Total number of alerts and reports delivered to a sink",
		},
		[]string{"sink", "kind"},
	)

	c.OutputFailures = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "failures_total",
			Help:      "Total number of alerts and reports a sink failed to deliver",
		},
		[]string{"sink", "kind"},
	)

	c.OutputDuration = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "duration_seconds",
			Help:      "Time taken to deliver to a sink",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"sink", "kind"},
	)

	c.OutputRateLimited = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "rate_limited_total",
			Help:      "Total number of alerts dropped by the alert rate limit",
		},
		[]string{"sink"},
	)

	c.OutputDeadLettered = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "dead_lettered_total",
			Help:      "Total number of undeliverable records stored in the dead letter queue",
		},
		[]string{"sink", "kind"},
	)

	c.CircuitBreakerOpen = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "circuit_state",
			Help:      "Circuit breaker state per sink (0=closed, 1=open, 2=half-open)",
		},
		[]string{"sink"},
	)
}

func (c *Collector) initRunMetrics() {
	c.RunDuration = promauto.With(c.registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Wall time of one analysis run",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
	)

	c.RunPartial = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "partial",
			Help:      "1 if the last run stopped before the end of its input",
		},
	)
}

// WriteTextfile writes the registry in the text exposition format for the
// node_exporter textfile collector. The file is replaced atomically.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Push sends the registry to a Prometheus Pushgateway under the given job
func (c *Collector) Push(url, job string) error {
	if err := push.New(url, job).Gatherer(c.registry).Push(); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
