package input

import (
	"context"
	"fmt"
	"io"

	"github.com/therealutkarshpriyadarshi/authlog/internal/config"
	"github.com/therealutkarshpriyadarshi/authlog/internal/logging"
)

// Source defines the interface that all input sources must implement. Every
// source yields a finite stream of newline-separated log lines.
type Source interface {
	// Name returns a human-readable identifier for the source
	Name() string

	// Type returns the type of the source (file, kubernetes)
	Type() string

	// Open starts reading. The caller must close the returned reader.
	Open(ctx context.Context) (io.ReadCloser, error)
}

// BaseSource provides common functionality for all sources
type BaseSource struct {
	name       string
	sourceType string
}

// NewBaseSource creates a new BaseSource
func NewBaseSource(name, sourceType string) *BaseSource {
	return &BaseSource{
		name:       name,
		sourceType: sourceType,
	}
}

// Name returns the name of the source
func (b *BaseSource) Name() string {
	return b.name
}

// Type returns the type of the source
func (b *BaseSource) Type() string {
	return b.sourceType
}

// NewSource builds the source selected by the input configuration
func NewSource(cfg config.InputConfig, logger *logging.Logger) (Source, error) {
	switch cfg.Type {
	case "", "file":
		if cfg.Path == "" {
			return nil, fmt.Errorf("file input requires a path")
		}
		return NewFileSource(cfg.Path), nil
	case "kubernetes":
		if cfg.Kubernetes == nil {
			return nil, fmt.Errorf("kubernetes input requires a kubernetes section")
		}
		k := cfg.Kubernetes
		return NewKubernetesSource(&KubernetesConfig{
			Kubeconfig:       k.Kubeconfig,
			Namespace:        k.Namespace,
			LabelSelector:    k.LabelSelector,
			FieldSelector:    k.FieldSelector,
			ContainerPattern: k.ContainerPattern,
			IncludePrevious:  k.IncludePrevious,
			TailLines:        k.TailLines,
			SinceSeconds:     k.SinceSeconds,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported input type: %s", cfg.Type)
	}
}
