package discovery

import (
	"context"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"interlude/types"
)

// KubeBackend resolves service addresses by reading Services from the
// cluster API.
type KubeBackend struct {
	clientset kubernetes.Interface
}

// NewKubeBackend builds a client from the in-cluster config, falling back
// to the local kubeconfig.
func NewKubeBackend() (*KubeBackend, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		cfg, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{}).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return &KubeBackend{clientset: clientset}, nil
}

// NewKubeBackendWithClient wraps an existing clientset. Used by tests.
func NewKubeBackendWithClient(clientset kubernetes.Interface) *KubeBackend {
	return &KubeBackend{clientset: clientset}
}

// Lookup reads the named Service and returns its cluster address for the
// declared port.
func (k *KubeBackend) Lookup(ctx context.Context, namespace string, svc types.ServiceLink) (string, error) {
	if namespace == "" {
		namespace = "default"
	}

	service, err := k.clientset.CoreV1().Services(namespace).Get(ctx, svc.Service, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return "", types.NewError(types.KindDiscoveryUnavailable, "service %q not found in namespace %q", svc.Service, namespace)
		}
		return "", types.WrapError(types.KindDiscoveryUnavailable, err, "failed to get service %q", svc.Service)
	}

	if service.Spec.ClusterIP == "" || service.Spec.ClusterIP == "None" {
		return "", types.NewError(types.KindDiscoveryUnavailable, "service %q has no cluster address", svc.Service)
	}

	for _, port := range service.Spec.Ports {
		if int(port.Port) == svc.Port {
			return fmt.Sprintf("%s:%d", service.Spec.ClusterIP, port.Port), nil
		}
	}
	if len(service.Spec.Ports) > 0 {
		return fmt.Sprintf("%s:%d", service.Spec.ClusterIP, service.Spec.Ports[0].Port), nil
	}

	return "", types.NewError(types.KindDiscoveryUnavailable, "service %q declares no ports", svc.Service)
}

var _ Backend = (*KubeBackend)(nil)
