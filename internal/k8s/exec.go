package k8s

import (
	"bytes"
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/remotecommand"
)

// Exec runs a command inside the first ready pod matching labelSelector and
// returns its stdout and stderr. Used by post-deploy smoke checks.
func (c *Client) Exec(ctx context.Context, namespace, labelSelector string, command []string) (string, string, error) {
	if c.RESTConfig == nil {
		return "", "", fmt.Errorf("exec requires a REST config")
	}
	if len(command) == 0 {
		return "", "", fmt.Errorf("command is required")
	}

	pod, err := c.pickReadyPod(ctx, namespace, labelSelector)
	if err != nil {
		return "", "", err
	}

	req := c.Clientset.CoreV1().RESTClient().
		Post().
		Resource("pods").
		Namespace(namespace).
		Name(pod.Name).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: pod.Spec.Containers[0].Name,
			Command:   command,
			Stdout:    true,
			Stderr:    true,
		}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(c.RESTConfig, "POST", req.URL())
	if err != nil {
		return "", "", fmt.Errorf("failed to create executor: %w", err)
	}

	var stdout, stderr bytes.Buffer
	err = executor.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err != nil {
		return stdout.String(), stderr.String(),
			fmt.Errorf("exec in pod %s/%s failed: %w", namespace, pod.Name, err)
	}

	return stdout.String(), stderr.String(), nil
}

// pickReadyPod selects a ready, non-terminating pod matching the selector.
func (c *Client) pickReadyPod(ctx context.Context, namespace, labelSelector string) (*corev1.Pod, error) {
	pods, err := c.GetPods(ctx, namespace, labelSelector)
	if err != nil {
		return nil, err
	}

	var fallback *corev1.Pod
	for i := range pods {
		pod := &pods[i]
		if pod.DeletionTimestamp != nil {
			continue
		}
		if isPodReady(pod) {
			return pod, nil
		}
		if fallback == nil {
			fallback = pod
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, fmt.Errorf("no pod found in %s matching %q", namespace, labelSelector)
}
