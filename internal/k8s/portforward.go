package k8s

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"k8s.io/client-go/tools/portforward"
	"k8s.io/client-go/transport/spdy"
)

// ForwardSession is a transient local access channel to a pod. It must be
// closed on every exit path; callers defer Close immediately after opening.
type ForwardSession struct {
	// LocalPort is the auto-assigned local listen port.
	LocalPort uint16

	stopCh    chan struct{}
	closeOnce sync.Once
	done      chan error
}

// URL returns the local base URL for HTTP requests through the tunnel.
func (s *ForwardSession) URL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", s.LocalPort)
}

// Close tears the tunnel down. Safe to call more than once.
func (s *ForwardSession) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
	})
}

// PortForward opens a tunnel to a ready pod matching labelSelector, binding
// an auto-assigned local port to remotePort. The session is also torn down
// when ctx is cancelled, so an interrupt during a bounded wait still closes
// the channel before process exit.
func (c *Client) PortForward(ctx context.Context, namespace, labelSelector string, remotePort int) (*ForwardSession, error) {
	if c.RESTConfig == nil {
		return nil, fmt.Errorf("port-forward requires a REST config")
	}

	pod, err := c.pickReadyPod(ctx, namespace, labelSelector)
	if err != nil {
		return nil, err
	}

	req := c.Clientset.CoreV1().RESTClient().
		Post().
		Resource("pods").
		Namespace(namespace).
		Name(pod.Name).
		SubResource("portforward")

	transport, upgrader, err := spdy.RoundTripperFor(c.RESTConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create SPDY transport: %w", err)
	}
	dialer := spdy.NewDialer(upgrader, &http.Client{Transport: transport}, "POST", req.URL())

	session := &ForwardSession{
		stopCh: make(chan struct{}),
		done:   make(chan error, 1),
	}
	readyCh := make(chan struct{})

	fw, err := portforward.New(dialer,
		[]string{fmt.Sprintf("0:%d", remotePort)},
		session.stopCh, readyCh, io.Discard, io.Discard)
	if err != nil {
		return nil, fmt.Errorf("failed to create port forwarder: %w", err)
	}

	go func() {
		session.done <- fw.ForwardPorts()
	}()

	// Close the tunnel when the surrounding workflow is cancelled.
	go func() {
		select {
		case <-ctx.Done():
			session.Close()
		case <-session.stopCh:
		}
	}()

	select {
	case <-readyCh:
	case err := <-session.done:
		if err == nil {
			err = fmt.Errorf("forwarder stopped before becoming ready")
		}
		return nil, fmt.Errorf("port-forward to %s/%s failed: %w", namespace, pod.Name, err)
	case <-ctx.Done():
		session.Close()
		return nil, fmt.Errorf("port-forward interrupted: %w", ctx.Err())
	}

	ports, err := fw.GetPorts()
	if err != nil || len(ports) == 0 {
		session.Close()
		return nil, fmt.Errorf("failed to read forwarded ports: %w", err)
	}
	session.LocalPort = ports[0].Local

	return session, nil
}
