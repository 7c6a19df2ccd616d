package handlers

import (
	"context"
	"fmt"
	"log"

	"github.com/cheminfuse/aniops/internal/config"
	"github.com/cheminfuse/aniops/internal/provision"
	"github.com/cheminfuse/aniops/internal/scm"
)

// newSCMClient builds the source-control host client (injectable for tests).
var newSCMClient = func(token string) provision.SCM {
	return scm.NewClient(token)
}

// Provision runs the bootstrap orchestrator. only optionally restricts the
// run to the named steps, keeping their canonical order.
func Provision(ctx context.Context, configPath string, nonInteractive bool, only []string) error {
	client, err := newClusterClient()
	if err != nil {
		return err
	}

	store, err := openStore(configPath)
	if err != nil {
		return err
	}

	prober, results, err := runProbes(ctx, client, store)
	if err != nil {
		return err
	}

	resolver := newResolver(store, results, nonInteractive)
	cfg, err := resolver.Resolve(ctx, config.ProvisionKeys())
	if err != nil {
		return err
	}

	runtime := &provision.Runtime{
		Cluster: client,
		Prober:  prober,
		Store:   store,
		Config:  cfg,
		SCM:     newSCMClient(cfg.GitHubToken),
	}
	defer runtime.Close()

	steps, err := selectSteps(runtime.Steps(), only)
	if err != nil {
		return err
	}

	orchestrator := &provision.Orchestrator{Steps: steps}
	stepResults, runErr := orchestrator.Run(ctx)
	printStepResults(stepResults)
	return runErr
}

// selectSteps filters steps to the requested names, preserving canonical
// order regardless of the order the names were given in.
func selectSteps(steps []provision.Step, only []string) ([]provision.Step, error) {
	if len(only) == 0 {
		return steps, nil
	}

	requested := make(map[string]bool, len(only))
	for _, name := range only {
		requested[name] = true
	}

	var selected []provision.Step
	for _, step := range steps {
		if requested[step.Name] {
			selected = append(selected, step)
			delete(requested, step.Name)
		}
	}

	for name := range requested {
		return nil, fmt.Errorf("unknown provisioning step %q", name)
	}
	return selected, nil
}

func printStepResults(results []provision.StepResult) {
	for _, result := range results {
		log.Printf("[provision] %-30s %s", result.Name, result.Outcome)
	}
}
