package commands

import (
	"github.com/spf13/cobra"

	"github.com/cheminfuse/aniops/cmd/aniops/handlers"
)

// Check returns the read-only probe-and-resolve command.
//
// It probes the cluster, resolves the full configuration (prompting for
// anything missing unless --non-interactive is set) and prints the resolved
// summary with any probe warnings. Nothing on the cluster is mutated.
//
// Exit codes: 0 when every key resolved, 2 when the cluster is unreachable
// or required configuration is missing.
func Check() *cobra.Command {
	var configPath string
	var nonInteractive bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe the cluster and resolve configuration",
		Long: `Probe the cluster and resolve the deployment configuration.

Probes are read-only and best-effort: GPU nodes, storage and ingress
classes, certificate issuers and the GitOps controller state feed the
configuration resolver as editable defaults. Resolved values are written
to the configuration file so later commands never re-ask.

Examples:
  # Interactive resolution using aniops.yaml in the current directory
  aniops check

  # CI-friendly: fail instead of prompting
  aniops check --non-interactive -c deploy/aniops.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Check(cmd.Context(), configPath, nonInteractive)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: aniops.yaml)")
	cmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "Never prompt; fail on unresolved keys")

	return cmd
}
