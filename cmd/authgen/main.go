package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/therealutkarshpriyadarshi/authlog/internal/logging"
	"github.com/therealutkarshpriyadarshi/authlog/internal/sample"
)

var (
	lines    = flag.Int("n", 100, "Number of log lines to generate")
	seed     = flag.Int64("seed", 0, "Random seed (0 picks one from the clock)")
	output   = flag.String("o", "test_auth.log", "Output file, - for stdout")
	logLevel = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	logger := logging.New(logging.Config{
		Level:  *logLevel,
		Format: "console",
	})

	if err := run(logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(logger *logging.Logger) error {
	if *lines < 0 {
		return fmt.Errorf("-n must not be negative")
	}

	s := *seed
	if s == 0 {
		s = time.Now().UnixNano()
	}

	var w io.Writer = os.Stdout
	if *output != "-" {
		f, err := os.Create(*output)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", *output, err)
		}
		defer f.Close()
		w = f
	}

	if err := sample.New(s).Write(w, *lines); err != nil {
		return err
	}

	logger.Info().
		Str("output", *output).
		Int("lines", *lines).
		Int64("seed", s).
		Msg("Sample log written")
	return nil
}
