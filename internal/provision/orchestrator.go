package provision

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/cheminfuse/aniops/internal/k8s"
)

// StepResult records one step's outcome for operator reporting.
type StepResult struct {
	Name    string
	Outcome Outcome
	Err     error
}

// Orchestrator runs steps strictly sequentially: each step starts only
// after its predecessor's terminal state is known. A failure aborts the
// remaining steps; already-applied effects are never rolled back, a re-run
// converges via the precondition checks.
type Orchestrator struct {
	Steps []Step
}

// Run executes the steps and returns per-step results. The results are
// valid even when err is non-nil and include the failed step.
func (o *Orchestrator) Run(ctx context.Context) ([]StepResult, error) {
	results := make([]StepResult, 0, len(o.Steps))

	for i, step := range o.Steps {
		log.Printf("[provision] Step %d/%d: %s", i+1, len(o.Steps), step.Name)

		result, err := o.runStep(ctx, step)
		results = append(results, result)
		if err != nil {
			return results, fmt.Errorf("step %q failed: %w", step.Name, err)
		}
	}

	return results, nil
}

func (o *Orchestrator) runStep(ctx context.Context, step Step) (StepResult, error) {
	result := StepResult{Name: step.Name}

	if step.Check != nil {
		satisfied, err := step.Check(ctx)
		if err != nil {
			result.Outcome = OutcomeFailed
			result.Err = err
			return result, err
		}
		if satisfied {
			log.Printf("[provision] Step %q already satisfied, skipping", step.Name)
			result.Outcome = OutcomeSkipped
			return result, nil
		}
	}

	if err := step.Run(ctx); err != nil {
		result.Outcome = OutcomeFailed
		result.Err = err
		return result, err
	}

	if step.Ready != nil {
		if err := step.Ready(ctx); err != nil {
			err = asTimeout(step.Name, err)
			result.Outcome = OutcomeFailed
			result.Err = err
			return result, err
		}
	}

	result.Outcome = OutcomeSatisfied
	return result, nil
}

// asTimeout converts a readiness-wait expiry into the step-level timeout
// error; other failures pass through unchanged.
func asTimeout(step string, err error) error {
	var waitErr *k8s.WaitTimeoutError
	if errors.As(err, &waitErr) {
		return &TimeoutError{Step: step, Timeout: waitErr.Timeout}
	}
	return err
}
