package handlers

import (
	"context"

	"github.com/cheminfuse/aniops/internal/config"
	"github.com/cheminfuse/aniops/internal/config/wizard"
	"github.com/cheminfuse/aniops/internal/gitops"
	"github.com/cheminfuse/aniops/internal/k8s"
	"github.com/cheminfuse/aniops/internal/probe"
)

// Factory function variables - can be replaced in tests for dependency injection.
var (
	// newClusterClient builds the cluster client from the ambient kubeconfig.
	newClusterClient = func() (*k8s.Client, error) {
		return k8s.NewClient("")
	}

	// openStore opens the persistent configuration store.
	openStore = func(path string) (config.Store, error) {
		if path == "" {
			path = config.DefaultStorePath
		}
		return config.OpenFileStore(path)
	}

	// newPrompter builds the interactive input provider.
	newPrompter = func() config.Prompter {
		return wizard.New()
	}
)

// probeOptions derives prober options from already-stored values, falling
// back to the key defaults before any resolution has happened.
func probeOptions(store config.Store) probe.Options {
	namespace, ok := store.Get(config.KeyGitOpsNamespace)
	if !ok || namespace == "" {
		if keys := config.KeysByName(config.KeyGitOpsNamespace); len(keys) == 1 {
			namespace = keys[0].Fallback
		}
	}
	return probe.Options{
		GitOpsNamespace:  namespace,
		CredentialSecret: gitops.AdminSecretName,
		CredentialKey:    gitops.AdminSecretKey,
	}
}

// runProbes probes the cluster and fails closed when it is unreachable;
// no downstream step can succeed without the control plane.
func runProbes(ctx context.Context, client *k8s.Client, store config.Store) (*probe.Prober, *probe.Results, error) {
	prober := probe.New(client.Clientset, client.Dynamic)
	results := prober.Run(ctx, probeOptions(store))
	if !results.Reachable {
		return nil, nil, &probe.UnreachableError{}
	}
	return prober, results, nil
}

// newResolver wires the resolver for one run. nonInteractive disables
// prompting entirely; unresolvable keys then fail resolution.
func newResolver(store config.Store, results *probe.Results, nonInteractive bool) *config.Resolver {
	resolver := &config.Resolver{
		Store:  store,
		Probes: results,
	}
	if !nonInteractive {
		resolver.Prompter = newPrompter()
	}
	return resolver
}
