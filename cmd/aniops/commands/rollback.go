package commands

import (
	"github.com/spf13/cobra"

	"github.com/cheminfuse/aniops/cmd/aniops/handlers"
)

// Rollback returns the application rollback command.
func Rollback() *cobra.Command {
	var configPath string
	var toID int64

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Roll the application back to a previous deployed revision",
		Long: `Roll the application back to a previous deployed revision.

Without --to, the deployment history is printed and the most recent
previous revision is used. The rollback is performed by the GitOps
controller; the manifests in git are left untouched.

Examples:
  # Roll back to the previous revision
  aniops rollback

  # Roll back to a specific history id
  aniops rollback --to 12`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Rollback(cmd.Context(), configPath, toID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: aniops.yaml)")
	cmd.Flags().Int64Var(&toID, "to", 0, "History id to roll back to (default: previous revision)")

	return cmd
}
