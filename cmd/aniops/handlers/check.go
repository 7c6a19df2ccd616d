package handlers

import (
	"context"
	"fmt"

	"github.com/cheminfuse/aniops/internal/config"
)

// Check probes the cluster, resolves the full configuration and prints the
// resolved summary with probe warnings. It never mutates the cluster; the
// only side effect is writing resolved values to the configuration store.
func Check(ctx context.Context, configPath string, nonInteractive bool) error {
	client, err := newClusterClient()
	if err != nil {
		return err
	}

	store, err := openStore(configPath)
	if err != nil {
		return err
	}

	_, results, err := runProbes(ctx, client, store)
	if err != nil {
		return err
	}

	resolver := newResolver(store, results, nonInteractive)
	values, err := resolver.ResolveValues(ctx, config.Keys())
	if err != nil {
		return err
	}

	fmt.Println(config.Summary(values, results.Warnings))
	return nil
}
