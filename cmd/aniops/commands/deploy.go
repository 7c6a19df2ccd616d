package commands

import (
	"github.com/spf13/cobra"

	"github.com/cheminfuse/aniops/cmd/aniops/handlers"
)

// Deploy returns the build-and-deploy pipeline command.
func Deploy() *cobra.Command {
	var configPath string
	var opts handlers.DeployOptions

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Build images and apply the application in dependency order",
		Long: `Build the service images, push them and apply the manifests.

Stages run in order, each gated on the previous stage's success: build,
tag and push (skipped for the cluster-local registry), manifest image
rewrite, dependency-ordered apply with readiness waits, and post-deploy
smoke checks. Smoke check failures are reported but never roll back the
applied state.

Ingress and autoscaler units are optional; pass --with-ingress or
--with-autoscaler, or answer the prompt when running interactively.

Examples:
  # Build and deploy the configured version
  aniops deploy

  # Deploy a specific version with ingress, reusing existing images
  aniops deploy --version 0.2.0 --with-ingress --skip-build`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Deploy(cmd.Context(), configPath, opts)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: aniops.yaml)")
	cmd.Flags().StringVar(&opts.Version, "version", "", "Override the artifact version for this run")
	cmd.Flags().BoolVar(&opts.WithIngress, "with-ingress", false, "Apply the ingress unit")
	cmd.Flags().BoolVar(&opts.WithAutoscaler, "with-autoscaler", false, "Apply the autoscaler unit")
	cmd.Flags().BoolVar(&opts.SkipBuild, "skip-build", false, "Reuse already-built images for this version")
	cmd.Flags().BoolVar(&opts.NonInteractive, "non-interactive", false, "Never prompt; fail on unresolved keys")

	return cmd
}
