package remoteenv

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	apiv1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
	"k8s.io/client-go/tools/remotecommand"

	"github.com/shinji-kodama/podnet/internal/model"
)

// KubeOptions selects the cluster to talk to. Empty fields fall back to
// the kubeconfig defaults (KUBECONFIG, current context, context namespace).
type KubeOptions struct {
	Kubeconfig string
	Context    string
	Namespace  string
}

// KubeExecutor runs commands through the pod exec subresource.
type KubeExecutor struct {
	client    kubernetes.Interface
	config    *rest.Config
	namespace string
}

// NewKubeExecutor loads the local kubeconfig and returns an executor.
func NewKubeExecutor(opts KubeOptions) (*KubeExecutor, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if opts.Kubeconfig != "" {
		rules.ExplicitPath = opts.Kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{
		CurrentContext: opts.Context,
		Context:        clientcmdapi.Context{Namespace: opts.Namespace},
	}
	clientConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides)

	namespace, _, err := clientConfig.Namespace()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve Kubernetes namespace: %w", err)
	}

	config, err := clientConfig.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}

	client, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}

	return &KubeExecutor{client: client, config: config, namespace: namespace}, nil
}

// Namespace returns the namespace used for targets without one.
func (e *KubeExecutor) Namespace() string {
	return e.namespace
}

// Exec implements Executor.
func (e *KubeExecutor) Exec(ctx context.Context, target model.RemoteTarget, command []string) ([]byte, error) {
	namespace := target.Namespace
	if namespace == "" {
		namespace = e.namespace
	}

	req := e.client.CoreV1().RESTClient().Post().
		Namespace(namespace).
		Resource("pods").
		Name(target.PodName).
		SubResource("exec").
		VersionedParams(&apiv1.PodExecOptions{
			Container: target.ContainerName,
			Command:   command,
			Stdout:    true,
			Stderr:    true,
		}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(e.config, http.MethodPost, req.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to establish the remote executor: %w", err)
	}

	var stdout, stderr bytes.Buffer
	err = executor.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("exec in %s failed: %w: %s", target, err, msg)
		}
		return nil, fmt.Errorf("exec in %s failed: %w", target, err)
	}
	return stdout.Bytes(), nil
}
