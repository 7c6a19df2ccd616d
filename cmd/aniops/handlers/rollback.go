package handlers

import (
	"context"
	"fmt"
	"log"

	"github.com/cheminfuse/aniops/internal/config"
	"github.com/cheminfuse/aniops/internal/gitops"
	"github.com/cheminfuse/aniops/internal/k8s"
)

// controllerAPI is the controller surface rollback needs.
type controllerAPI interface {
	History(ctx context.Context, name string) ([]gitops.Revision, error)
	Rollback(ctx context.Context, name string, id int64) error
}

// connectController opens a tunnel to the controller API using the stored
// long-lived token (injectable for tests).
var connectController = func(ctx context.Context, client *k8s.Client, namespace, token string) (controllerAPI, func(), error) {
	session, err := client.PortForward(ctx, namespace, gitops.ServerSelector, gitops.ServerPort)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to reach controller API: %w", err)
	}
	return gitops.NewClientWithToken(session.URL(), token), session.Close, nil
}

// Rollback rolls the application back to a previous deployed revision.
// toID zero means the most recent previous revision from the history.
func Rollback(ctx context.Context, configPath string, toID int64) error {
	client, err := newClusterClient()
	if err != nil {
		return err
	}

	store, err := openStore(configPath)
	if err != nil {
		return err
	}

	// Rollback reads only stored values; it never prompts or probes.
	resolver := &config.Resolver{Store: store}
	cfg, err := resolver.Resolve(ctx, config.KeysByName(
		config.KeyGitOpsNamespace, config.KeyAppName))
	if err != nil {
		return err
	}

	token, ok := store.Get(config.KeyArgoCDToken)
	if !ok || token == "" {
		return fmt.Errorf("%w; run 'aniops provision --step generate-api-token' first",
			&config.MissingConfigError{Keys: []string{config.KeyArgoCDToken}})
	}

	controller, teardown, err := connectController(ctx, client, cfg.GitOpsNamespace, token)
	if err != nil {
		return err
	}
	defer teardown()

	history, err := controller.History(ctx, cfg.AppName)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return fmt.Errorf("application %q has no deployment history to roll back to", cfg.AppName)
	}

	for _, entry := range history {
		log.Printf("[rollback] History %d: %s", entry.ID, entry.Revision)
	}

	target := history[len(history)-1]
	if toID != 0 {
		found := false
		for _, entry := range history {
			if entry.ID == toID {
				target = entry
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("history id %d not found for application %q", toID, cfg.AppName)
		}
	}

	log.Printf("[rollback] Rolling %s back to history %d (%s)", cfg.AppName, target.ID, target.Revision)
	return controller.Rollback(ctx, cfg.AppName, target.ID)
}
