package profiling

import (
	"context"
	"fmt"
	"os"
	"runtime"
	runtimepprof "runtime/pprof"
	"sync"

	"github.com/therealutkarshpriyadarshi/authlog/internal/logging"
)

// Config holds profiling configuration
type Config struct {
	CPUProfilePath string // Path for CPU profile output
	MemProfilePath string // Path for heap profile output, written on Stop

	// Blocking and mutex contention profiles, written on Stop
	BlockProfile     bool
	BlockProfilePath string
	MutexProfile     bool
	MutexProfilePath string
}

// Enabled reports whether any profile was requested
func (c Config) Enabled() bool {
	return c.CPUProfilePath != "" || c.MemProfilePath != "" || c.BlockProfile || c.MutexProfile
}

// Profiler writes pprof profiles covering one run
type Profiler struct {
	config Config
	logger *logging.Logger

	mu      sync.Mutex
	cpuFile *os.File
	started bool
}

// New creates a new profiler
func New(config Config, logger *logging.Logger) *Profiler {
	if logger == nil {
		logger = logging.Global()
	}

	return &Profiler{
		config: config,
		logger: logger.WithComponent("profiling"),
	}
}

// Start begins profiling. It does nothing when no profile was requested.
func (p *Profiler) Start() error {
	if !p.config.Enabled() {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("profiler already started")
	}

	if p.config.BlockProfile {
		runtime.SetBlockProfileRate(1)
	}
	if p.config.MutexProfile {
		runtime.SetMutexProfileFraction(1)
	}

	if p.config.CPUProfilePath != "" {
		if err := p.startCPUProfile(); err != nil {
			return fmt.Errorf("failed to start CPU profiling: %w", err)
		}
	}

	p.started = true
	return nil
}

// Stop ends CPU profiling and writes the remaining profiles. Its signature
// matches a shutdown function.
func (p *Profiler) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return nil
	}
	p.started = false

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if p.cpuFile != nil {
		runtimepprof.StopCPUProfile()
		record(p.cpuFile.Close())
		p.cpuFile = nil
		p.logger.Info().Str("path", p.config.CPUProfilePath).Msg("CPU profile saved")
	}

	if p.config.MemProfilePath != "" {
		runtime.GC() // Get up-to-date statistics
		record(p.writeProfile("heap", p.config.MemProfilePath))
	}

	if p.config.BlockProfile {
		record(p.writeProfile("block", p.config.BlockProfilePath))
		runtime.SetBlockProfileRate(0)
	}

	if p.config.MutexProfile {
		record(p.writeProfile("mutex", p.config.MutexProfilePath))
		runtime.SetMutexProfileFraction(0)
	}

	return firstErr
}

// startCPUProfile starts CPU profiling
func (p *Profiler) startCPUProfile() error {
	f, err := os.Create(p.config.CPUProfilePath)
	if err != nil {
		return err
	}

	if err := runtimepprof.StartCPUProfile(f); err != nil {
		f.Close()
		return err
	}

	p.cpuFile = f
	p.logger.Debug().Str("path", p.config.CPUProfilePath).Msg("CPU profiling started")
	return nil
}

// writeProfile writes a named runtime profile to path
func (p *Profiler) writeProfile(name, path string) error {
	if path == "" {
		return fmt.Errorf("no output path for %s profile", name)
	}

	profile := runtimepprof.Lookup(name)
	if profile == nil {
		return fmt.Errorf("unknown profile %q", name)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s profile: %w", name, err)
	}
	defer f.Close()

	if err := profile.WriteTo(f, 0); err != nil {
		return fmt.Errorf("failed to write %s profile: %w", name, err)
	}

	p.logger.Info().Str("path", path).Msgf("%s profile saved", name)
	return nil
}
