// Package handlers implements the business logic for CLI commands.
//
// This package contains handler functions that are called by command
// definitions in the commands package. Handlers are framework-agnostic and
// can be tested independently of the CLI framework.
package handlers

import (
	"errors"

	"github.com/cheminfuse/aniops/internal/config"
	"github.com/cheminfuse/aniops/internal/k8s"
	"github.com/cheminfuse/aniops/internal/probe"
	"github.com/cheminfuse/aniops/internal/provision"
)

// Exit codes distinguish failure classes for scripting around the CLI.
const (
	ExitOK            = 0
	ExitMissingConfig = 2
	ExitExecution     = 3
	ExitTimeout       = 4
)

// ExitCode maps an error to the process exit code. Missing prerequisites
// and unreachable clusters are distinguished from execution failures and
// from timeouts.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var missingErr *config.MissingConfigError
	var unreachableErr *probe.UnreachableError
	if errors.As(err, &missingErr) || errors.As(err, &unreachableErr) {
		return ExitMissingConfig
	}

	var stepTimeoutErr *provision.TimeoutError
	var waitTimeoutErr *k8s.WaitTimeoutError
	if errors.As(err, &stepTimeoutErr) || errors.As(err, &waitTimeoutErr) {
		return ExitTimeout
	}

	return ExitExecution
}
