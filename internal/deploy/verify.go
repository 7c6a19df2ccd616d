package deploy

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cheminfuse/aniops/internal/config"
	"github.com/cheminfuse/aniops/internal/k8s"
)

const (
	apiContainerPort = 8000
	healthPath       = "/health"
)

// VerificationError aggregates failed post-deploy checks. It is reported,
// never fatal to the already-applied state.
type VerificationError struct {
	Failed []VerifyResult
}

func (e *VerificationError) Error() string {
	names := make([]string, len(e.Failed))
	for i, result := range e.Failed {
		names[i] = result.Name
	}
	return fmt.Sprintf("post-deploy verification failed: %s", strings.Join(names, ", "))
}

// VerificationFailure returns a VerificationError when the report contains
// failed checks, nil otherwise.
func (r *Report) VerificationFailure() *VerificationError {
	var failed []VerifyResult
	for _, result := range r.Verification {
		if !result.Passed {
			failed = append(failed, result)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &VerificationError{Failed: failed}
}

// SmokeVerifier checks accelerator visibility inside a worker pod and the
// API health endpoint through a short-lived tunnel.
type SmokeVerifier struct {
	Client *k8s.Client
}

func (v *SmokeVerifier) Verify(ctx context.Context, cfg *config.Resolved) []VerifyResult {
	return []VerifyResult{
		v.checkAccelerator(ctx, cfg),
		v.checkHealth(ctx, cfg),
	}
}

// checkAccelerator runs nvidia-smi inside a worker pod to confirm the GPU
// is visible to the runtime.
func (v *SmokeVerifier) checkAccelerator(ctx context.Context, cfg *config.Resolved) VerifyResult {
	result := VerifyResult{Name: "gpu-visibility"}

	selector := "app=" + WorkloadWorker
	stdout, stderr, err := v.Client.Exec(ctx, cfg.Namespace, selector, []string{"nvidia-smi", "-L"})
	if err != nil {
		result.Detail = fmt.Sprintf("exec failed: %v", err)
		return result
	}
	if !strings.Contains(stdout, "GPU") {
		result.Detail = fmt.Sprintf("no GPU listed: %s", strings.TrimSpace(stdout+stderr))
		return result
	}

	result.Passed = true
	result.Detail = strings.TrimSpace(stdout)
	return result
}

// checkHealth queries the API health endpoint through a port-forward.
func (v *SmokeVerifier) checkHealth(ctx context.Context, cfg *config.Resolved) VerifyResult {
	result := VerifyResult{Name: "api-health"}

	selector := "app=" + WorkloadAPI
	session, err := v.Client.PortForward(ctx, cfg.Namespace, selector, apiContainerPort)
	if err != nil {
		result.Detail = fmt.Sprintf("port-forward failed: %v", err)
		return result
	}
	defer session.Close()

	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, session.URL()+healthPath, nil)
	if err != nil {
		result.Detail = err.Error()
		return result
	}

	resp, err := client.Do(req)
	if err != nil {
		result.Detail = fmt.Sprintf("health request failed: %v", err)
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		result.Detail = fmt.Sprintf("health endpoint returned status %d", resp.StatusCode)
		return result
	}

	result.Passed = true
	result.Detail = "healthy"
	return result
}
