// Package analyzer drives one pass over an authentication log: every line is
// parsed, fed to the aggregator, and any alert it raises is handed to the
// configured handler before the next line is read.
package analyzer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/therealutkarshpriyadarshi/authlog/internal/aggregate"
	"github.com/therealutkarshpriyadarshi/authlog/internal/logging"
	"github.com/therealutkarshpriyadarshi/authlog/internal/metrics"
	"github.com/therealutkarshpriyadarshi/authlog/internal/parser"
	"github.com/therealutkarshpriyadarshi/authlog/internal/tracing"
	"github.com/therealutkarshpriyadarshi/authlog/pkg/types"
)

// DefaultMaxLineBytes is the longest line the scanner accepts
const DefaultMaxLineBytes = 1024 * 1024

// AlertHandler receives alerts in the order they are raised
type AlertHandler interface {
	Alert(ctx context.Context, alert types.AlertSignal) error
}

// Options configures an Analyzer. Every field is optional.
type Options struct {
	Handler      AlertHandler
	Logger       *logging.Logger
	Collector    *metrics.Collector
	Tracer       trace.Tracer
	SourceName   string
	SourceType   string
	MaxLineBytes int
}

// Analyzer reads lines strictly in order on the calling goroutine
type Analyzer struct {
	parser     parser.Parser
	aggregator *aggregate.Aggregator
	handler    AlertHandler
	logger     *logging.Logger
	collector  *metrics.Collector
	tracer     trace.Tracer
	sourceName string
	sourceType string
	maxLine    int
}

// runStats describes what a run has read so far
type runStats struct {
	Lines         int64
	Bytes         int64
	Alerts        int64
	HandlerErrors int64
}

// New creates an analyzer around a parser and an aggregator
func New(p parser.Parser, agg *aggregate.Aggregator, opts Options) *Analyzer {
	if opts.Logger == nil {
		opts.Logger = logging.Global()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("authlog")
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = DefaultMaxLineBytes
	}
	if opts.SourceName == "" {
		opts.SourceName = "stdin"
	}
	if opts.SourceType == "" {
		opts.SourceType = "file"
	}

	return &Analyzer{
		parser:     p,
		aggregator: agg,
		handler:    opts.Handler,
		logger:     opts.Logger.WithComponent("analyzer"),
		collector:  opts.Collector,
		tracer:     opts.Tracer,
		sourceName: opts.SourceName,
		sourceType: opts.SourceType,
		maxLine:    opts.MaxLineBytes,
	}
}

// Run consumes r until EOF, a read error or cancellation of ctx. The report
// is always returned; it is marked partial when the input was not read to
// the end, and the error says why.
func (a *Analyzer) Run(ctx context.Context, r io.Reader) (*types.Report, error) {
	ctx, span := tracing.TraceRun(ctx, a.tracer, a.sourceName, a.aggregator.Threshold())
	defer span.End()

	start := time.Now()
	stats, runErr := a.scan(ctx, r)

	report := a.aggregator.Snapshot()
	report.Partial = runErr != nil

	span.SetAttributes(
		attribute.Int64("analysis.lines", stats.Lines),
		attribute.Int64("analysis.alerts", stats.Alerts),
		attribute.Bool("analysis.partial", report.Partial),
	)
	if runErr != nil {
		span.RecordError(runErr)
	}

	a.observeRun(report, time.Since(start))

	event := a.logger.Info()
	if runErr != nil {
		event = a.logger.Warn().Err(runErr)
	}
	event.
		Str("source", a.sourceName).
		Int64("lines", stats.Lines).
		Int64("bytes", stats.Bytes).
		Int("events", report.TotalEvents()).
		Int("skipped", report.SkippedLines).
		Int64("alerts", stats.Alerts).
		Int64("handler_errors", stats.HandlerErrors).
		Bool("partial", report.Partial).
		Dur("duration", time.Since(start)).
		Msg("Analysis finished")

	return report, runErr
}

func (a *Analyzer) scan(ctx context.Context, r io.Reader) (runStats, error) {
	var stats runStats

	scanner := bufio.NewScanner(r)
	initial := 64 * 1024
	if initial > a.maxLine {
		initial = a.maxLine
	}
	scanner.Buffer(make([]byte, 0, initial), a.maxLine)

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if !scanner.Scan() {
			break
		}

		line := scanner.Text()
		stats.Lines++
		stats.Bytes += int64(len(line)) + 1
		a.observeLine(len(line) + 1)

		alert, raised := a.process(line)
		if !raised {
			continue
		}

		stats.Alerts++
		if a.collector != nil {
			a.collector.AggregateAlerts.Inc()
		}
		tracing.AddEvent(ctx, "alert", attribute.String("source.address", alert.SourceAddress))

		if a.handler == nil {
			continue
		}
		if err := a.handler.Alert(ctx, alert); err != nil {
			stats.HandlerErrors++
			a.logger.Error().
				Err(err).
				Str("source_address", alert.SourceAddress).
				Msg("Failed to deliver alert")
		}
	}

	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("failed to read %s: %w", a.sourceName, err)
	}
	return stats, nil
}

func (a *Analyzer) process(line string) (types.AlertSignal, bool) {
	start := time.Now()
	evt, ok := a.parser.Parse(line)
	if a.collector != nil {
		a.collector.ParserDuration.WithLabelValues(a.parser.Name()).Observe(time.Since(start).Seconds())
	}

	if !ok {
		a.aggregator.RecordSkipped()
		if a.collector != nil {
			a.collector.ParserSkipped.WithLabelValues(a.parser.Name()).Inc()
		}
		return types.AlertSignal{}, false
	}

	if a.collector != nil {
		a.collector.ParserEvents.WithLabelValues(a.parser.Name(), string(evt.Outcome)).Inc()
	}
	return a.aggregator.Ingest(evt)
}

func (a *Analyzer) observeLine(n int) {
	if a.collector == nil {
		return
	}
	a.collector.InputLines.WithLabelValues(a.sourceName, a.sourceType).Inc()
	a.collector.InputBytes.WithLabelValues(a.sourceName, a.sourceType).Add(float64(n))
}

func (a *Analyzer) observeRun(report *types.Report, elapsed time.Duration) {
	if a.collector == nil {
		return
	}
	a.collector.AggregateFlaggedSources.Set(float64(len(report.Flagged())))
	a.collector.AggregateTrackedSources.Set(float64(a.aggregator.TrackedSources()))
	a.collector.RunDuration.Observe(elapsed.Seconds())
	if report.Partial {
		a.collector.RunPartial.Set(1)
	} else {
		a.collector.RunPartial.Set(0)
	}
}
