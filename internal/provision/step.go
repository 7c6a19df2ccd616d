// Package provision implements the bootstrap orchestrator: an ordered set
// of idempotent steps that take a cluster from bare to a configured GitOps
// controller managing the application.
package provision

import (
	"context"
	"fmt"
	"time"
)

// Outcome is a step's terminal state for one run.
type Outcome int

const (
	// OutcomeSatisfied means the action ran and the postcondition held.
	OutcomeSatisfied Outcome = iota

	// OutcomeSkipped means the precondition already held, no-op.
	OutcomeSkipped

	// OutcomeFailed means the action or postcondition failed.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSatisfied:
		return "satisfied"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Step is one stateless unit of external-system setup. Check reports
// whether the step's effect is already in place; Run performs the action;
// Ready blocks until the postcondition holds or its bound expires.
type Step struct {
	Name string

	// Check returning true skips Run and Ready.
	Check func(ctx context.Context) (bool, error)

	Run func(ctx context.Context) error

	// Ready is nil when the action has no asynchronous postcondition.
	Ready func(ctx context.Context) error
}

// TimeoutError reports a postcondition that did not hold within its bound.
// The step is safe to retry by re-invoking the tool.
type TimeoutError struct {
	Step    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("step %q did not reach readiness within %s; re-run to retry", e.Step, e.Timeout)
}
