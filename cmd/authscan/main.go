package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/therealutkarshpriyadarshi/authlog/internal/aggregate"
	"github.com/therealutkarshpriyadarshi/authlog/internal/analyzer"
	"github.com/therealutkarshpriyadarshi/authlog/internal/config"
	"github.com/therealutkarshpriyadarshi/authlog/internal/input"
	"github.com/therealutkarshpriyadarshi/authlog/internal/logging"
	"github.com/therealutkarshpriyadarshi/authlog/internal/metrics"
	"github.com/therealutkarshpriyadarshi/authlog/internal/output"
	"github.com/therealutkarshpriyadarshi/authlog/internal/parser"
	"github.com/therealutkarshpriyadarshi/authlog/internal/profiling"
	"github.com/therealutkarshpriyadarshi/authlog/internal/security"
	"github.com/therealutkarshpriyadarshi/authlog/internal/shutdown"
	"github.com/therealutkarshpriyadarshi/authlog/internal/tracing"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	format     = flag.String("format", "", "Output format (console, json); overrides configured sinks")
	logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	noColor    = flag.Bool("no-color", false, "Disable colored output")
	cpuProfile = flag.String("cpuprofile", "", "Write a CPU profile to file")
	memProfile = flag.String("memprofile", "", "Write a heap profile to file")
	version    = "0.1.0"
)

const (
	exitOK          = 0
	exitError       = 1
	exitInterrupted = 130
)

var errUsage = errors.New("usage")

func main() {
	flag.Usage = usage
	flag.Parse()

	os.Exit(run())
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: authscan [flags] <path_to_log|-> [threshold]\n")
	flag.PrintDefaults()
}

func run() int {
	cfg, err := loadConfig(flag.Args())
	if errors.Is(err, errUsage) {
		flag.Usage()
		return exitError
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}

	logger := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		NoColor: cfg.Logging.NoColor,
	})
	logging.SetGlobal(logger)

	logger.Debug().Str("version", version).Msg("Starting authscan")

	shutdownMgr := shutdown.New(shutdown.Config{
		Timeout: cfg.ShutdownTimeout,
		Logger:  logger.WithComponent("shutdown"),
	})
	ctx, stop := shutdownMgr.NotifyContext(context.Background())
	defer stop()

	if cfg.Profiling != nil {
		profiler := profiling.New(profilingConfig(cfg.Profiling), logger)
		if err := profiler.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitError
		}
		shutdownMgr.RegisterFunc("profiling", profiler.Stop)
	}

	scanErr := scan(ctx, cfg, logger, shutdownMgr)
	cleanupErr := shutdownMgr.Shutdown()

	switch {
	case shutdownMgr.Interrupted():
		return exitInterrupted
	case scanErr != nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", scanErr)
		return exitError
	case cleanupErr != nil:
		return exitError
	}
	return exitOK
}

// loadConfig merges the configuration file with the command line. The
// positional log path and threshold win over the file.
func loadConfig(args []string) (*config.Config, error) {
	if len(args) > 2 {
		return nil, errUsage
	}

	cfg, err := config.LoadOrDefault(*configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if len(args) > 0 {
		cfg.Input.Type = config.DefaultInputType
		cfg.Input.Path = args[0]
	}
	if cfg.Input.Type == config.DefaultInputType && cfg.Input.Path == "" {
		return nil, errUsage
	}

	if len(args) == 2 {
		threshold, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, fmt.Errorf("invalid threshold %q: must be an integer", args[1])
		}
		cfg.Analysis.Threshold = threshold
	}

	switch *format {
	case "":
	case config.SinkConsole, config.SinkJSON:
		cfg.Output.Sinks = []config.SinkConfig{{Name: *format, Type: *format}}
	default:
		return nil, fmt.Errorf("invalid format %q: must be console or json", *format)
	}

	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *noColor {
		cfg.Logging.NoColor = true
	}
	if *cpuProfile != "" || *memProfile != "" {
		if cfg.Profiling == nil {
			cfg.Profiling = &config.ProfilingConfig{}
		}
		if *cpuProfile != "" {
			cfg.Profiling.CPUProfile = *cpuProfile
		}
		if *memProfile != "" {
			cfg.Profiling.MemProfile = *memProfile
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.ResolveSecrets(security.NewSecretManager()); err != nil {
		return nil, fmt.Errorf("failed to resolve secrets: %w", err)
	}

	return cfg, nil
}

// scan performs one analysis run. The report is delivered even when the run
// was interrupted or the input failed part way.
func scan(ctx context.Context, cfg *config.Config, logger *logging.Logger, shutdownMgr *shutdown.Manager) error {
	collector := metrics.NewCollector()

	provider, err := tracing.NewProvider(ctx, tracingConfig(cfg.Tracing))
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	source, err := input.NewSource(cfg.Input, logger)
	if err != nil {
		shutdownMgr.RegisterFunc("tracing", provider.Shutdown)
		return fmt.Errorf("failed to create input: %w", err)
	}

	authParser, err := parser.New()
	if err != nil {
		shutdownMgr.RegisterFunc("tracing", provider.Shutdown)
		return fmt.Errorf("failed to create parser: %w", err)
	}

	router, err := output.NewRouterFromConfig(ctx, cfg, output.Options{
		Stdout:    os.Stdout,
		NoColor:   cfg.Logging.NoColor,
		Logger:    logger,
		Collector: collector,
		Tracer:    provider.Tracer(),
	})
	if err != nil {
		shutdownMgr.RegisterFunc("tracing", provider.Shutdown)
		return fmt.Errorf("failed to create outputs: %w", err)
	}

	// cleanup order: flush sinks, then export metrics, then flush spans
	shutdownMgr.RegisterFunc("output", func(context.Context) error {
		return router.Close()
	})
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		shutdownMgr.RegisterFunc("metrics", func(context.Context) error {
			return exportMetrics(collector, cfg.Metrics)
		})
	}
	shutdownMgr.RegisterFunc("tracing", provider.Shutdown)

	rc, err := source.Open(ctx)
	if err != nil {
		return err
	}
	defer rc.Close()

	runInfo := output.NewRunInfo(source.Name(), cfg.Analysis.Threshold)
	if err := router.Start(ctx, runInfo); err != nil {
		return fmt.Errorf("failed to start outputs: %w", err)
	}

	logger.Info().
		Str("run_id", runInfo.ID).
		Str("source", source.Name()).
		Int("threshold", cfg.Analysis.Threshold).
		Int("sinks", len(router.Sinks())).
		Msg("Analysis started")

	a := analyzer.New(authParser, aggregate.New(cfg.Analysis.Threshold), analyzer.Options{
		Handler:      router,
		Logger:       logger,
		Collector:    collector,
		Tracer:       provider.Tracer(),
		SourceName:   source.Name(),
		SourceType:   source.Type(),
		MaxLineBytes: cfg.Analysis.MaxLineBytes,
	})

	report, runErr := a.Run(ctx, rc)

	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	if err := router.Report(reportCtx, report); err != nil {
		return errors.Join(runErr, fmt.Errorf("failed to deliver report: %w", err))
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func profilingConfig(cfg *config.ProfilingConfig) profiling.Config {
	return profiling.Config{
		CPUProfilePath:   cfg.CPUProfile,
		MemProfilePath:   cfg.MemProfile,
		BlockProfile:     cfg.BlockProfile != "",
		BlockProfilePath: cfg.BlockProfile,
		MutexProfile:     cfg.MutexProfile != "",
		MutexProfilePath: cfg.MutexProfile,
	}
}

func tracingConfig(cfg *config.TracingConfig) tracing.Config {
	if cfg == nil {
		return tracing.Config{}
	}
	return tracing.Config{
		Enabled:    cfg.Enabled,
		Endpoint:   cfg.Endpoint,
		Insecure:   cfg.Insecure,
		SampleRate: cfg.SampleRate,
	}
}

func exportMetrics(collector *metrics.Collector, cfg *config.MetricsConfig) error {
	var errs []error
	if cfg.TextfilePath != "" {
		errs = append(errs, collector.WriteTextfile(cfg.TextfilePath))
	}
	if cfg.PushgatewayURL != "" {
		errs = append(errs, collector.Push(cfg.PushgatewayURL, cfg.Job))
	}
	return errors.Join(errs...)
}
