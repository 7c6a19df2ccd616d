package k8s

import (
	"context"
	"fmt"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
)

// PollInterval is the fixed interval between readiness checks.
const PollInterval = 5 * time.Second

// WaitTimeoutError is returned when a readiness wait expires. It wraps the
// poll error so callers can classify timeouts distinctly from hard failures.
type WaitTimeoutError struct {
	Resource string
	Timeout  time.Duration
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("%s did not become ready within %s", e.Resource, e.Timeout)
}

// poll runs condition at PollInterval until it is true, the timeout expires
// or ctx is cancelled. Timeout expiry yields a WaitTimeoutError naming the
// resource; it never hangs.
func poll(ctx context.Context, resource string, timeout time.Duration, condition func(context.Context) (bool, error)) error {
	err := wait.PollUntilContextTimeout(ctx, PollInterval, timeout, true, condition)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("wait for %s interrupted: %w", resource, ctx.Err())
		}
		return &WaitTimeoutError{Resource: resource, Timeout: timeout}
	}
	return nil
}

// WaitForDeployment waits for a deployment to report available.
func (c *Client) WaitForDeployment(ctx context.Context, namespace, name string, timeout time.Duration) error {
	resource := fmt.Sprintf("deployment %s/%s", namespace, name)
	return poll(ctx, resource, timeout, func(ctx context.Context) (bool, error) {
		deployment, err := c.Clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return false, nil
		}
		return isDeploymentReady(deployment), nil
	})
}

// WaitForStatefulSet waits for a statefulset to have all replicas ready.
func (c *Client) WaitForStatefulSet(ctx context.Context, namespace, name string, timeout time.Duration) error {
	resource := fmt.Sprintf("statefulset %s/%s", namespace, name)
	return poll(ctx, resource, timeout, func(ctx context.Context) (bool, error) {
		sts, err := c.Clientset.AppsV1().StatefulSets(namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return false, nil
		}
		return isStatefulSetReady(sts), nil
	})
}

// WaitForPodsReady waits for all pods matching a label selector to be ready.
func (c *Client) WaitForPodsReady(ctx context.Context, namespace, labelSelector string, timeout time.Duration) error {
	resource := fmt.Sprintf("pods %s[%s]", namespace, labelSelector)
	return poll(ctx, resource, timeout, func(ctx context.Context) (bool, error) {
		pods, err := c.GetPods(ctx, namespace, labelSelector)
		if err != nil || len(pods) == 0 {
			return false, nil
		}
		for i := range pods {
			if !isPodReady(&pods[i]) {
				return false, nil
			}
		}
		return true, nil
	})
}

// WaitForNamespace waits for a namespace to exist.
func (c *Client) WaitForNamespace(ctx context.Context, name string, timeout time.Duration) error {
	return poll(ctx, fmt.Sprintf("namespace %s", name), timeout, func(ctx context.Context) (bool, error) {
		_, err := c.Clientset.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
		return err == nil, nil
	})
}

// GetPods returns pods matching a label selector in a namespace.
func (c *Client) GetPods(ctx context.Context, namespace, labelSelector string) ([]corev1.Pod, error) {
	podList, err := c.Clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labelSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods: %w", err)
	}
	return podList.Items, nil
}

// isDeploymentReady checks replica counts and the Available condition.
func isDeploymentReady(deployment *appsv1.Deployment) bool {
	if deployment.Spec.Replicas == nil {
		return false
	}
	replicas := *deployment.Spec.Replicas
	if deployment.Status.UpdatedReplicas != replicas ||
		deployment.Status.AvailableReplicas != replicas {
		return false
	}

	for _, condition := range deployment.Status.Conditions {
		if condition.Type == appsv1.DeploymentAvailable &&
			condition.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}

// isStatefulSetReady checks ready replica counts.
func isStatefulSetReady(sts *appsv1.StatefulSet) bool {
	if sts.Spec.Replicas == nil {
		return false
	}
	return sts.Status.ReadyReplicas == *sts.Spec.Replicas &&
		sts.Status.CurrentReplicas == *sts.Spec.Replicas
}

// isPodReady checks the pod phase and Ready condition.
func isPodReady(pod *corev1.Pod) bool {
	if pod.Status.Phase != corev1.PodRunning {
		return false
	}
	for _, condition := range pod.Status.Conditions {
		if condition.Type == corev1.PodReady &&
			condition.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}
