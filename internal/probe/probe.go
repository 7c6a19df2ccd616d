// Package probe implements read-only discovery of the target cluster's
// current state. Probes are advisory: each one is independently failable and
// a failure degrades to an absent value plus a recorded warning, never an
// error that aborts the run. The single exception is cluster reachability,
// which later steps treat as fatal.
package probe

import (
	"context"
	"fmt"
	"sort"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
)

const (
	// GPULabelKey is the node label under which NVIDIA GPU capacity is
	// advertised by the device plugin / GPU operator.
	GPULabelKey = "nvidia.com/gpu.present"

	// gpuResourceName is the extended resource name for NVIDIA GPUs.
	gpuResourceName = "nvidia.com/gpu"

	// defaultStorageClassAnnotation marks the cluster default StorageClass.
	defaultStorageClassAnnotation = "storageclass.kubernetes.io/is-default-class"

	// defaultIngressClassAnnotation marks the cluster default IngressClass.
	defaultIngressClassAnnotation = "ingressclass.kubernetes.io/is-default-class"

	// probeTimeout bounds each individual probe query.
	probeTimeout = 5 * time.Second
)

// clusterIssuerGVR identifies cert-manager ClusterIssuer resources.
var clusterIssuerGVR = schema.GroupVersionResource{
	Group:    "cert-manager.io",
	Version:  "v1",
	Resource: "clusterissuers",
}

// ControllerState describes the GitOps controller installation state.
type ControllerState string

const (
	// ControllerAbsent means the controller deployment does not exist.
	ControllerAbsent ControllerState = "absent"
	// ControllerInstalling means the deployment exists but is not available.
	ControllerInstalling ControllerState = "installing"
	// ControllerReady means the deployment reports available.
	ControllerReady ControllerState = "ready"
)

// Options selects the namespaces and secret names the probes look at.
type Options struct {
	// GitOpsNamespace is the namespace the controller is expected in.
	GitOpsNamespace string

	// CredentialSecret is the name of the controller's generated
	// bootstrap credential secret.
	CredentialSecret string

	// CredentialKey is the data key holding the credential value.
	CredentialKey string
}

// Results aggregates probe output for the resolver. Zero values mean absent.
type Results struct {
	Reachable           bool
	GPUNodes            []string
	GPULabelKey         string
	DefaultStorageClass string
	IngressClass        string
	Controller          ControllerState
	BootstrapCredential string
	CertIssuers         []string

	// Warnings records degraded probes. They are surfaced in the check
	// summary but never abort resolution.
	Warnings []string
}

// Warnf records a warning.
func (r *Results) Warnf(format string, v ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, v...))
}

// Prober runs read-only queries against the cluster.
type Prober struct {
	clientset kubernetes.Interface
	dynamic   dynamic.Interface
}

// New creates a Prober from pre-built clients.
func New(clientset kubernetes.Interface, dynamicClient dynamic.Interface) *Prober {
	return &Prober{
		clientset: clientset,
		dynamic:   dynamicClient,
	}
}

// Run executes every probe and aggregates the results. Individual probe
// failures are recorded as warnings; only reachability short-circuits, since
// nothing else can be discovered on an unreachable cluster.
func (p *Prober) Run(ctx context.Context, opts Options) *Results {
	r := &Results{Controller: ControllerAbsent}

	r.Reachable = p.ClusterReachable(ctx)
	if !r.Reachable {
		r.Warnf("cluster is not reachable; all probes skipped")
		return r
	}

	nodes, labelKey, err := p.GPUNodes(ctx)
	if err != nil {
		r.Warnf("GPU node probe failed: %v", err)
	} else {
		r.GPUNodes = nodes
		r.GPULabelKey = labelKey
		if len(nodes) == 0 {
			r.Warnf("no GPU-labeled nodes found; workloads will schedule but accelerator checks will fail")
		}
	}

	if sc, err := p.DefaultStorageClass(ctx); err != nil {
		r.Warnf("storage class probe failed: %v", err)
	} else {
		r.DefaultStorageClass = sc
	}

	if ic, err := p.IngressClass(ctx); err != nil {
		r.Warnf("ingress class probe failed: %v", err)
	} else {
		r.IngressClass = ic
	}

	state, err := p.ControllerInstalled(ctx, opts.GitOpsNamespace)
	if err != nil {
		r.Warnf("controller probe failed: %v", err)
	} else {
		r.Controller = state
	}

	if cred, err := p.BootstrapCredential(ctx, opts.GitOpsNamespace, opts.CredentialSecret, opts.CredentialKey); err == nil {
		r.BootstrapCredential = cred
	}

	if issuers, err := p.CertificateIssuers(ctx); err != nil {
		r.Warnf("certificate issuer probe failed: %v", err)
	} else {
		r.CertIssuers = issuers
	}

	return r
}

// ClusterReachable checks whether the API server answers a bounded query.
// The request carries the probe deadline itself, so a stalled connection is
// torn down at the deadline rather than lingering.
func (p *Prober) ClusterReachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	_, err := p.clientset.CoreV1().Namespaces().List(ctx, metav1.ListOptions{Limit: 1})
	return err == nil
}

// GPUNodes returns the names of nodes advertising NVIDIA GPU capacity,
// together with the label key the capacity is advertised under.
func (p *Prober) GPUNodes(ctx context.Context) ([]string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	nodeList, err := p.clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("failed to list nodes: %w", err)
	}

	var gpuNodes []string
	for _, node := range nodeList.Items {
		if hasGPU(&node) {
			gpuNodes = append(gpuNodes, node.Name)
		}
	}
	sort.Strings(gpuNodes)

	return gpuNodes, GPULabelKey, nil
}

// hasGPU checks the GPU label and the extended resource capacity.
func hasGPU(node *corev1.Node) bool {
	if node.Labels[GPULabelKey] == "true" {
		return true
	}
	if qty, ok := node.Status.Capacity[corev1.ResourceName(gpuResourceName)]; ok && !qty.IsZero() {
		return true
	}
	return false
}

// DefaultStorageClass returns the name of the default StorageClass, or empty
// when none is marked default.
func (p *Prober) DefaultStorageClass(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	classes, err := p.clientset.StorageV1().StorageClasses().List(ctx, metav1.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to list storage classes: %w", err)
	}

	for _, sc := range classes.Items {
		if sc.Annotations[defaultStorageClassAnnotation] == "true" {
			return sc.Name, nil
		}
	}
	return "", nil
}

// IngressClass returns the default IngressClass name if one is marked
// default, else the first class by name, else empty.
func (p *Prober) IngressClass(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	classes, err := p.clientset.NetworkingV1().IngressClasses().List(ctx, metav1.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to list ingress classes: %w", err)
	}
	if len(classes.Items) == 0 {
		return "", nil
	}

	names := make([]string, 0, len(classes.Items))
	for _, ic := range classes.Items {
		if ic.Annotations[defaultIngressClassAnnotation] == "true" {
			return ic.Name, nil
		}
		names = append(names, ic.Name)
	}
	sort.Strings(names)
	return names[0], nil
}

// ControllerInstalled reports the GitOps controller state in namespace.
func (p *Prober) ControllerInstalled(ctx context.Context, namespace string) (ControllerState, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	deployment, err := p.clientset.AppsV1().Deployments(namespace).Get(ctx, "argocd-server", metav1.GetOptions{})
	if err != nil {
		// Missing namespace and missing deployment both mean absent.
		return ControllerAbsent, nil
	}

	if isDeploymentAvailable(deployment) {
		return ControllerReady, nil
	}
	return ControllerInstalling, nil
}

// isDeploymentAvailable checks the Available condition.
func isDeploymentAvailable(deployment *appsv1.Deployment) bool {
	for _, condition := range deployment.Status.Conditions {
		if condition.Type == appsv1.DeploymentAvailable &&
			condition.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}

// BootstrapCredential reads the controller's generated credential secret.
// Returns an error when the secret or key is absent; callers decide whether
// that is "not yet ready" or a hard failure.
func (p *Prober) BootstrapCredential(ctx context.Context, namespace, secretName, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	secret, err := p.clientset.CoreV1().Secrets(namespace).Get(ctx, secretName, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s/%s: %w", namespace, secretName, err)
	}

	data, ok := secret.Data[key]
	if !ok {
		return "", fmt.Errorf("key %s not found in secret %s/%s", key, namespace, secretName)
	}
	return string(data), nil
}

// CertificateIssuers returns the names of installed cert-manager
// ClusterIssuers, sorted. An empty slice means none (or no cert-manager).
func (p *Prober) CertificateIssuers(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	list, err := p.dynamic.Resource(clusterIssuerGVR).List(ctx, metav1.ListOptions{})
	if err != nil {
		// cert-manager not installed is the common case, not an error.
		return nil, nil
	}

	names := make([]string, 0, len(list.Items))
	for _, item := range list.Items {
		names = append(names, item.GetName())
	}
	sort.Strings(names)
	return names, nil
}

// UnreachableError is returned by callers when ClusterReachable is false and
// a subsequent step would require the cluster.
type UnreachableError struct {
	Context string
}

func (e *UnreachableError) Error() string {
	if e.Context == "" {
		return "cluster is not reachable: check kubeconfig and network, then re-run"
	}
	return fmt.Sprintf("cluster is not reachable (%s): check kubeconfig and network, then re-run", e.Context)
}
