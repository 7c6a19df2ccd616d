// Package commands defines the CLI command structure and flag bindings.
//
// This package contains cobra command definitions that handle argument parsing,
// flag binding, and validation. Command execution is delegated to handler
// functions in the handlers package.
package commands

import "github.com/spf13/cobra"

// Root returns the root command for the aniops CLI.
func Root() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aniops",
		Short: "Bootstrap and deploy the TorchANI inference stack on Kubernetes",
	}

	cmd.AddCommand(Check())
	cmd.AddCommand(Provision())
	cmd.AddCommand(Deploy())
	cmd.AddCommand(Rollback())
	cmd.AddCommand(Version())

	return cmd
}
