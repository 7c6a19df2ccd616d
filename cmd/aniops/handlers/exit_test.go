package handlers

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cheminfuse/aniops/internal/config"
	"github.com/cheminfuse/aniops/internal/k8s"
	"github.com/cheminfuse/aniops/internal/probe"
	"github.com/cheminfuse/aniops/internal/provision"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, ExitOK},
		{"missing config", &config.MissingConfigError{Keys: []string{"github_token"}}, ExitMissingConfig},
		{"unreachable", &probe.UnreachableError{}, ExitMissingConfig},
		{"wrapped missing config", fmt.Errorf("resolve: %w", &config.MissingConfigError{}), ExitMissingConfig},
		{"step timeout", &provision.TimeoutError{Step: "wait-controller-ready", Timeout: 300 * time.Second}, ExitTimeout},
		{"wait timeout", &k8s.WaitTimeoutError{Resource: "deployment", Timeout: time.Minute}, ExitTimeout},
		{"wrapped step timeout", fmt.Errorf("step failed: %w", &provision.TimeoutError{}), ExitTimeout},
		{"generic failure", errors.New("boom"), ExitExecution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}
