package handlers

import (
	"context"
	"fmt"
	"log"

	"github.com/cheminfuse/aniops/internal/config"
	"github.com/cheminfuse/aniops/internal/deploy"
	"github.com/cheminfuse/aniops/internal/image"
	"github.com/cheminfuse/aniops/internal/util/prerequisites"
)

// DeployOptions carries the deploy command's flags.
type DeployOptions struct {
	Version        string
	WithIngress    bool
	WithAutoscaler bool
	SkipBuild      bool
	NonInteractive bool
}

// Factory function variables - can be replaced in tests for dependency injection.
var (
	newImageBuilder = func() deploy.ImageBuilder {
		return image.NewBuilder()
	}

	checkBuildPrereqs = func() error {
		return prerequisites.Check(prerequisites.BuildTools()).Error()
	}
)

// Deploy runs the build-and-deploy pipeline.
func Deploy(ctx context.Context, configPath string, opts DeployOptions) error {
	if !opts.SkipBuild {
		if err := checkBuildPrereqs(); err != nil {
			return err
		}
	}

	client, err := newClusterClient()
	if err != nil {
		return err
	}

	store, err := openStore(configPath)
	if err != nil {
		return err
	}

	if opts.Version != "" {
		if err := store.Set(config.KeyVersion, opts.Version); err != nil {
			return fmt.Errorf("failed to persist version override: %w", err)
		}
	}

	_, results, err := runProbes(ctx, client, store)
	if err != nil {
		return err
	}

	resolver := newResolver(store, results, opts.NonInteractive)
	cfg, err := resolver.Resolve(ctx, config.DeployKeys())
	if err != nil {
		return err
	}

	includeIngress, includeAutoscaler, err := optionalUnitOptIns(ctx, resolver, opts)
	if err != nil {
		return err
	}

	pipeline := &deploy.Pipeline{
		Cluster: client,
		Builder: newImageBuilder(),
		Config:  cfg,
		Options: deploy.Options{
			IncludeIngress:    includeIngress,
			IncludeAutoscaler: includeAutoscaler,
			SkipBuild:         opts.SkipBuild,
		},
		Verifier: &deploy.SmokeVerifier{Client: client},
	}

	report, runErr := pipeline.Run(ctx)
	printReport(report)
	return runErr
}

// optionalUnitOptIns resolves the ingress and autoscaler opt-ins: flags win,
// otherwise the operator is asked when running interactively.
func optionalUnitOptIns(ctx context.Context, resolver *config.Resolver, opts DeployOptions) (bool, bool, error) {
	includeIngress := opts.WithIngress
	includeAutoscaler := opts.WithAutoscaler

	if resolver.Prompter == nil {
		return includeIngress, includeAutoscaler, nil
	}

	var err error
	if !includeIngress {
		includeIngress, err = resolver.Prompter.Confirm(ctx,
			"Apply ingress?", "Exposes the API at the configured domain.", false)
		if err != nil {
			return false, false, err
		}
	}
	if !includeAutoscaler {
		includeAutoscaler, err = resolver.Prompter.Confirm(ctx,
			"Apply autoscaler?", "Scales the API deployment on load.", false)
		if err != nil {
			return false, false, err
		}
	}
	return includeIngress, includeAutoscaler, nil
}

func printReport(report *deploy.Report) {
	for _, artifact := range report.Artifacts {
		log.Printf("[deploy] Artifact: %s", artifact)
	}
	for _, name := range report.Applied {
		log.Printf("[deploy] Applied: %s", name)
	}
	for _, name := range report.Skipped {
		log.Printf("[deploy] Skipped: %s", name)
	}
	for _, result := range report.Verification {
		status := "ok"
		if !result.Passed {
			status = "FAILED"
		}
		log.Printf("[deploy] Verify %s: %s (%s)", result.Name, status, result.Detail)
	}
}
