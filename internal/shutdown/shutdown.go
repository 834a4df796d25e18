package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/authlog/internal/logging"
)

// Manager turns termination signals into run cancellation and runs the
// registered cleanup functions once the run has been reported
type Manager struct {
	logger        *logging.Logger
	timeout       time.Duration
	shutdownFuncs []namedFunc
	mu            sync.Mutex
	shutdownOnce  sync.Once
	shutdownErr   error
	gracefulDone  chan struct{}
	interrupted   atomic.Bool
}

// ShutdownFunc is a function that performs cleanup during shutdown
type ShutdownFunc func(context.Context) error

type namedFunc struct {
	name string
	fn   ShutdownFunc
}

// Config holds shutdown manager configuration
type Config struct {
	Timeout time.Duration
	Logger  *logging.Logger
}

// New creates a new shutdown manager
func New(cfg Config) *Manager {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Global()
	}

	return &Manager{
		logger:       cfg.Logger,
		timeout:      cfg.Timeout,
		gracefulDone: make(chan struct{}),
	}
}

// RegisterFunc registers a cleanup function. Functions run sequentially in
// registration order.
func (m *Manager) RegisterFunc(name string, fn ShutdownFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Debug().Str("component", name).Msg("Registered shutdown function")
	m.shutdownFuncs = append(m.shutdownFuncs, namedFunc{name: name, fn: fn})
}

// NotifyContext returns a context that is cancelled on the first of the
// given signals (SIGINT and SIGTERM by default). The returned stop function
// releases the signal handler.
func (m *Manager) NotifyContext(parent context.Context, signals ...os.Signal) (context.Context, context.CancelFunc) {
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, signals...)

	go func() {
		select {
		case sig := <-sigCh:
			m.logger.Info().
				Str("signal", sig.String()).
				Msg("Signal received, stopping run")
			m.interrupted.Store(true)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

// Interrupted reports whether a signal cancelled the run
func (m *Manager) Interrupted() bool {
	return m.interrupted.Load()
}

// Shutdown runs every registered function once, bounded by the configured
// timeout, and returns their joined errors
func (m *Manager) Shutdown() error {
	m.shutdownOnce.Do(func() {
		m.shutdownErr = m.performShutdown()
		close(m.gracefulDone)
	})
	return m.shutdownErr
}

func (m *Manager) performShutdown() error {
	m.mu.Lock()
	funcs := make([]namedFunc, len(m.shutdownFuncs))
	copy(funcs, m.shutdownFuncs)
	m.mu.Unlock()

	m.logger.Debug().
		Dur("timeout", m.timeout).
		Int("functions", len(funcs)).
		Msg("Starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		var errs []error
		for _, nf := range funcs {
			if ctx.Err() != nil {
				errs = append(errs, fmt.Errorf("%s: %w", nf.name, ctx.Err()))
				continue
			}
			if err := nf.fn(ctx); err != nil {
				m.logger.Error().
					Err(err).
					Str("component", nf.name).
					Msg("Shutdown function failed")
				errs = append(errs, fmt.Errorf("%s: %w", nf.name, err))
			}
		}
		done <- errors.Join(errs...)
	}()

	select {
	case err := <-done:
		if err != nil {
			m.logger.Warn().Err(err).Msg("Graceful shutdown completed with errors")
		} else {
			m.logger.Debug().Msg("Graceful shutdown completed successfully")
		}
		return err
	case <-ctx.Done():
		m.logger.Warn().
			Dur("timeout", m.timeout).
			Msg("Graceful shutdown timed out")
		return fmt.Errorf("shutdown did not complete within %v", m.timeout)
	}
}

// Done returns a channel that is closed when shutdown is complete
func (m *Manager) Done() <-chan struct{} {
	return m.gracefulDone
}
