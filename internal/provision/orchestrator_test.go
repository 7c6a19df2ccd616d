package provision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cheminfuse/aniops/internal/k8s"
)

// stepRecorder builds steps whose invocations are recorded in order.
type stepRecorder struct {
	calls []string
}

func (r *stepRecorder) step(name string, satisfied bool, runErr error) Step {
	return Step{
		Name: name,
		Check: func(context.Context) (bool, error) {
			r.calls = append(r.calls, "check:"+name)
			return satisfied, nil
		},
		Run: func(context.Context) error {
			r.calls = append(r.calls, "run:"+name)
			return runErr
		},
	}
}

func TestOrchestrator_RunsStepsSequentially(t *testing.T) {
	rec := &stepRecorder{}
	o := &Orchestrator{Steps: []Step{
		rec.step("first", false, nil),
		rec.step("second", false, nil),
	}}

	results, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"check:first", "run:first", "check:second", "run:second"}, rec.calls)
	require.Len(t, results, 2)
	assert.Equal(t, OutcomeSatisfied, results[0].Outcome)
	assert.Equal(t, OutcomeSatisfied, results[1].Outcome)
}

func TestOrchestrator_SatisfiedPreconditionSkipsRun(t *testing.T) {
	rec := &stepRecorder{}
	o := &Orchestrator{Steps: []Step{rec.step("install", true, nil)}}

	results, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"check:install"}, rec.calls)
	assert.Equal(t, OutcomeSkipped, results[0].Outcome)
}

func TestOrchestrator_FailureAbortsRemainingSteps(t *testing.T) {
	rec := &stepRecorder{}
	boom := errors.New("boom")
	o := &Orchestrator{Steps: []Step{
		rec.step("first", false, boom),
		rec.step("second", false, nil),
	}}

	results, err := o.Run(context.Background())
	require.ErrorIs(t, err, boom)

	// The second step never started; its terminal state is unknown, not failed.
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeFailed, results[0].Outcome)
	assert.NotContains(t, rec.calls, "check:second")
}

func TestOrchestrator_ReadinessExpiryBecomesTimeoutError(t *testing.T) {
	o := &Orchestrator{Steps: []Step{{
		Name: "wait-controller-ready",
		Run:  func(context.Context) error { return nil },
		Ready: func(context.Context) error {
			return &k8s.WaitTimeoutError{Resource: "deployment argocd/argocd-server", Timeout: 300 * time.Second}
		},
	}}}

	results, err := o.Run(context.Background())

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "wait-controller-ready", timeoutErr.Step)
	assert.Equal(t, 300*time.Second, timeoutErr.Timeout)
	assert.Equal(t, OutcomeFailed, results[0].Outcome)
}

// Fresh cluster scenario: every step runs on the first pass; on the second
// pass steps whose effect is in place are skipped and the rest still run.
func TestOrchestrator_RerunSkipsAlreadySatisfiedSteps(t *testing.T) {
	installed := false
	rec := &stepRecorder{}

	steps := func() []Step {
		return []Step{
			{
				Name: "install-controller",
				Check: func(context.Context) (bool, error) {
					return installed, nil
				},
				Run: func(context.Context) error {
					rec.calls = append(rec.calls, "install")
					installed = true
					return nil
				},
			},
			rec.step("generate-api-token", false, nil),
		}
	}

	_, err := (&Orchestrator{Steps: steps()}).Run(context.Background())
	require.NoError(t, err)

	results, err := (&Orchestrator{Steps: steps()}).Run(context.Background())
	require.NoError(t, err)

	// install ran exactly once across both passes.
	installs := 0
	for _, c := range rec.calls {
		if c == "install" {
			installs++
		}
	}
	assert.Equal(t, 1, installs)
	assert.Equal(t, OutcomeSkipped, results[0].Outcome)
	// The token step has no precondition and runs on every pass.
	assert.Equal(t, OutcomeSatisfied, results[1].Outcome)
}
