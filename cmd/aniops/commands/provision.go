package commands

import (
	"github.com/spf13/cobra"

	"github.com/cheminfuse/aniops/cmd/aniops/handlers"
)

// Provision returns the bootstrap orchestrator command.
//
// It installs the GitOps controller, retrieves the bootstrap credential,
// authenticates, registers the deployment repository, creates the
// application and generates a fresh API token. Every step checks its
// precondition first, so re-running after a failure converges instead of
// duplicating work.
func Provision() *cobra.Command {
	var configPath string
	var nonInteractive bool
	var steps []string

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Bootstrap the GitOps controller and application",
		Long: `Bootstrap the GitOps controller and register the application.

Steps run strictly in order and are idempotent: a step whose effect is
already in place is skipped. Re-run after any failure to converge.

Note: the final step always generates a fresh API token, invalidating the
previous one, and pushes it to the deployment repository's secrets.

Examples:
  # Full bootstrap
  aniops provision

  # Re-run only the token generation
  aniops provision --step generate-api-token`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Provision(cmd.Context(), configPath, nonInteractive, steps)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: aniops.yaml)")
	cmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "Never prompt; fail on unresolved keys")
	cmd.Flags().StringArrayVar(&steps, "step", nil, "Run only the named step (repeatable, keeps order)")

	return cmd
}
