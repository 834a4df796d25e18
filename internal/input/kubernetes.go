package input

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/therealutkarshpriyadarshi/authlog/internal/logging"
)

// KubernetesConfig holds configuration for Kubernetes input
type KubernetesConfig struct {
	// Kubeconfig path (empty for in-cluster config)
	Kubeconfig string
	// Namespace to read from (empty for all namespaces)
	Namespace string
	// Label selector for pods
	LabelSelector string
	// Field selector for pods
	FieldSelector string
	// Container name pattern (empty for all containers)
	ContainerPattern string
	// Read the logs of the previous container instance
	IncludePrevious bool
	// Number of lines from the end of each log, 0 for all
	TailLines int64
	// Only return logs newer than this many seconds, 0 for all
	SinceSeconds int64
}

// KubernetesSource reads the current logs of selected pods once. Logs are
// never followed, so the stream ends after the last container.
type KubernetesSource struct {
	*BaseSource
	config    *KubernetesConfig
	logger    *logging.Logger
	clientset kubernetes.Interface
}

// logTarget is one container whose logs will be read
type logTarget struct {
	namespace string
	pod       string
	container string
}

// NewKubernetesSource creates a source using a kubeconfig file or the
// in-cluster configuration
func NewKubernetesSource(config *KubernetesConfig, logger *logging.Logger) (*KubernetesSource, error) {
	var kubeConfig *rest.Config
	var err error

	if config.Kubeconfig != "" {
		kubeConfig, err = clientcmd.BuildConfigFromFlags("", config.Kubeconfig)
	} else {
		kubeConfig, err = rest.InClusterConfig()
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(kubeConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes clientset: %w", err)
	}

	return NewKubernetesSourceWithClient(config, clientset, logger), nil
}

// NewKubernetesSourceWithClient creates a source around an existing client
func NewKubernetesSourceWithClient(config *KubernetesConfig, clientset kubernetes.Interface, logger *logging.Logger) *KubernetesSource {
	if logger == nil {
		logger = logging.Global()
	}

	name := "kubernetes"
	if config.Namespace != "" {
		name = "kubernetes/" + config.Namespace
	}
	if config.LabelSelector != "" {
		name += "?" + config.LabelSelector
	}

	return &KubernetesSource{
		BaseSource: NewBaseSource(name, "kubernetes"),
		config:     config,
		logger:     logger.WithComponent("input-kubernetes"),
		clientset:  clientset,
	}
}

// Open lists the selected pods and returns a reader that concatenates their
// container logs, ordered by namespace, pod name and container order
func (k *KubernetesSource) Open(ctx context.Context) (io.ReadCloser, error) {
	targets, err := k.listTargets(ctx)
	if err != nil {
		return nil, err
	}

	k.logger.Info().
		Str("namespace", k.config.Namespace).
		Str("label_selector", k.config.LabelSelector).
		Int("containers", len(targets)).
		Msg("Reading pod logs")

	return &podLogReader{ctx: ctx, source: k, targets: targets}, nil
}

func (k *KubernetesSource) listTargets(ctx context.Context) ([]logTarget, error) {
	namespace := k.config.Namespace
	if namespace == "" {
		namespace = corev1.NamespaceAll
	}

	pods, err := k.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: k.config.LabelSelector,
		FieldSelector: k.config.FieldSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods: %w", err)
	}

	items := pods.Items
	sort.Slice(items, func(i, j int) bool {
		if items[i].Namespace != items[j].Namespace {
			return items[i].Namespace < items[j].Namespace
		}
		return items[i].Name < items[j].Name
	})

	var targets []logTarget
	for _, pod := range items {
		if pod.Status.Phase == corev1.PodPending || pod.Status.Phase == corev1.PodUnknown {
			continue
		}
		for _, container := range pod.Spec.Containers {
			if k.config.ContainerPattern != "" && !strings.Contains(container.Name, k.config.ContainerPattern) {
				continue
			}
			targets = append(targets, logTarget{
				namespace: pod.Namespace,
				pod:       pod.Name,
				container: container.Name,
			})
		}
	}

	return targets, nil
}

func (k *KubernetesSource) stream(ctx context.Context, t logTarget) (io.ReadCloser, error) {
	opts := &corev1.PodLogOptions{
		Container: t.container,
		Follow:    false,
		Previous:  k.config.IncludePrevious,
	}

	if k.config.TailLines > 0 {
		tail := k.config.TailLines
		opts.TailLines = &tail
	}
	if k.config.SinceSeconds > 0 {
		since := k.config.SinceSeconds
		opts.SinceSeconds = &since
	}

	return k.clientset.CoreV1().Pods(t.namespace).GetLogs(t.pod, opts).Stream(ctx)
}

// podLogReader opens one container stream at a time and makes sure every
// stream ends with a newline so lines never run together
type podLogReader struct {
	ctx            context.Context
	source         *KubernetesSource
	targets        []logTarget
	current        io.ReadCloser
	lastByte       byte
	pendingNewline bool
}

func (r *podLogReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for {
		if r.pendingNewline {
			r.pendingNewline = false
			p[0] = '\n'
			return 1, nil
		}

		if r.current == nil {
			if len(r.targets) == 0 {
				return 0, io.EOF
			}
			if err := r.ctx.Err(); err != nil {
				return 0, err
			}

			t := r.targets[0]
			r.targets = r.targets[1:]

			stream, err := r.source.stream(r.ctx, t)
			if err != nil {
				r.source.logger.Warn().
					Err(err).
					Str("namespace", t.namespace).
					Str("pod", t.pod).
					Str("container", t.container).
					Msg("Failed to get log stream, skipping container")
				continue
			}
			r.current = stream
			r.lastByte = '\n'
		}

		n, err := r.current.Read(p)
		if n > 0 {
			r.lastByte = p[n-1]
		}

		if err == io.EOF {
			r.current.Close()
			r.current = nil
			if r.lastByte != '\n' {
				r.pendingNewline = true
			}
			if n > 0 {
				return n, nil
			}
			continue
		}

		if err != nil {
			return n, fmt.Errorf("failed to read pod logs: %w", err)
		}

		if n > 0 {
			return n, nil
		}
	}
}

func (r *podLogReader) Close() error {
	r.targets = nil
	if r.current != nil {
		err := r.current.Close()
		r.current = nil
		return err
	}
	return nil
}
