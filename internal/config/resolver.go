package config

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/cheminfuse/aniops/internal/probe"
)

// Prompter obtains values from the operator. It is injected so resolution
// logic stays a pure function over store and probe state in tests.
type Prompter interface {
	// Input asks for a value. suggestion pre-fills the prompt and is
	// returned unchanged when the operator accepts it.
	Input(ctx context.Context, key Key, suggestion string) (string, error)

	// Confirm asks a yes/no question.
	Confirm(ctx context.Context, title, description string, def bool) (bool, error)
}

// MissingConfigError reports keys that could not be resolved from the store,
// the probes, a fallback default or the operator.
type MissingConfigError struct {
	Keys []string
}

func (e *MissingConfigError) Error() string {
	keys := append([]string(nil), e.Keys...)
	sort.Strings(keys)
	return fmt.Sprintf(
		"missing required configuration: %s (set the keys in the store file or re-run interactively)",
		strings.Join(keys, ", "))
}

// Resolver merges the store, probe results and operator input into a
// complete configuration. Every resolved value is written back to the store
// immediately, so a failure in a later step never re-prompts for earlier
// answers on retry.
type Resolver struct {
	Store  Store
	Probes *probe.Results

	// Prompter is nil in non-interactive mode; unresolvable keys then
	// collect into a MissingConfigError instead of blocking on input.
	Prompter Prompter

	// ConfirmExisting re-offers stored values for override when
	// interactive. Default false: the store value wins silently.
	ConfirmExisting bool
}

// ResolveValues resolves the given keys and returns the full store content
// after resolution. Precedence per key: store value, probe-derived default,
// hardcoded fallback, bare prompt.
func (r *Resolver) ResolveValues(ctx context.Context, keys []Key) (map[string]string, error) {
	var missing []string

	for _, key := range keys {
		value, err := r.resolveKey(ctx, key)
		if err != nil {
			return nil, err
		}
		if value == "" {
			missing = append(missing, key.Name)
			continue
		}

		if stored, ok := r.Store.Get(key.Name); !ok || stored != value {
			if err := r.Store.Set(key.Name, value); err != nil {
				return nil, fmt.Errorf("failed to persist %s: %w", key.Name, err)
			}
		}
	}

	if len(missing) > 0 {
		return nil, &MissingConfigError{Keys: missing}
	}

	return r.Store.All(), nil
}

// resolveKey resolves a single key. Empty return means unresolvable.
func (r *Resolver) resolveKey(ctx context.Context, key Key) (string, error) {
	if stored, ok := r.Store.Get(key.Name); ok && stored != "" {
		if r.Prompter == nil || !r.ConfirmExisting {
			return stored, nil
		}
		return r.Prompter.Input(ctx, key, stored)
	}

	suggestion := key.Fallback
	if key.ProbeDefault != nil && r.Probes != nil {
		if v, ok := key.ProbeDefault(r.Probes); ok {
			suggestion = v
		}
	}

	if r.Prompter == nil {
		// Non-interactive: accept the derived default as-is.
		return suggestion, nil
	}

	return r.Prompter.Input(ctx, key, suggestion)
}

// Resolve resolves keys and decodes the store into a typed
// ResolvedConfiguration snapshot.
func (r *Resolver) Resolve(ctx context.Context, keys []Key) (*Resolved, error) {
	values, err := r.ResolveValues(ctx, keys)
	if err != nil {
		return nil, err
	}
	return decodeResolved(values)
}

// Resolved is the immutable, fully-determined parameter set for one run.
// Orchestrator and pipeline steps read it but never mutate it; a value
// changed mid-run requires a fresh resolution pass.
type Resolved struct {
	Namespace       string `mapstructure:"namespace"`
	Registry        string `mapstructure:"registry"`
	ImageRepoAPI    string `mapstructure:"image_repo_api"`
	ImageRepoWorker string `mapstructure:"image_repo_worker"`
	Version         string `mapstructure:"version"`

	GitRepoURL  string `mapstructure:"git_repo_url"`
	GitOwner    string `mapstructure:"git_owner"`
	GitRepo     string `mapstructure:"git_repo"`
	GitHubToken string `mapstructure:"github_token"`

	Domain       string `mapstructure:"domain"`
	IngressClass string `mapstructure:"ingress_class"`
	StorageClass string `mapstructure:"storage_class"`
	CertIssuer   string `mapstructure:"cert_issuer"`

	GitOpsNamespace string `mapstructure:"gitops_namespace"`
	AppName         string `mapstructure:"app_name"`
	ArgoCDToken     string `mapstructure:"argocd_token"`

	RedisModelTTL      int     `mapstructure:"redis_model_ttl"`
	RedisResultTTL     int     `mapstructure:"redis_result_ttl"`
	GPUMemoryThreshold float64 `mapstructure:"gpu_memory_threshold"`

	ManifestDir string `mapstructure:"manifest_dir"`
}

// LocalRegistry reports whether the resolved registry is the cluster-local
// sentinel, meaning pushes are skipped.
func (c *Resolved) LocalRegistry() bool {
	return c.Registry == LocalRegistry
}

// decodeResolved decodes the flat string store into the typed snapshot.
// Weak typing converts the stored strings into ints and floats.
func decodeResolved(values map[string]string) (*Resolved, error) {
	var cfg Resolved
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build decoder: %w", err)
	}
	if err := decoder.Decode(values); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return &cfg, nil
}
