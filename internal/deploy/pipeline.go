package deploy

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/cheminfuse/aniops/internal/config"
	"github.com/cheminfuse/aniops/internal/image"
)

const (
	// DefaultWaitTimeout bounds each post-apply readiness wait.
	DefaultWaitTimeout = 300 * time.Second

	fieldManager = "aniops"

	buildTargetAPI    = "service"
	buildTargetWorker = "worker"
)

// Cluster is the subset of cluster operations the pipeline needs.
type Cluster interface {
	ApplyManifests(ctx context.Context, manifests []byte, fieldManager string) error
	WaitForNamespace(ctx context.Context, name string, timeout time.Duration) error
	WaitForStatefulSet(ctx context.Context, namespace, name string, timeout time.Duration) error
	WaitForDeployment(ctx context.Context, namespace, name string, timeout time.Duration) error
}

// ImageBuilder is the subset of image operations the pipeline needs.
type ImageBuilder interface {
	Build(ctx context.Context, contextDir, target, ref string) error
	Tag(ctx context.Context, sourceRef, targetRef string) error
	Push(ctx context.Context, ref string) error
}

// Verifier runs post-deploy smoke checks.
type Verifier interface {
	Verify(ctx context.Context, cfg *config.Resolved) []VerifyResult
}

// VerifyResult is the outcome of one post-deploy check.
type VerifyResult struct {
	Name   string
	Passed bool
	Detail string
}

// Report summarizes a pipeline run for the operator. Applied and Skipped
// name the units in plan order so a partial failure shows exactly where
// convergence stopped.
type Report struct {
	Artifacts    []string
	Applied      []string
	Skipped      []string
	Verification []VerifyResult
}

// Options tune one pipeline run. Optional units are applied only when
// their flag is set, the operator opted in.
type Options struct {
	ContextDir        string
	IncludeIngress    bool
	IncludeAutoscaler bool
	WaitTimeout       time.Duration

	// SkipBuild reuses images already built and pushed for this version.
	// The rewrite and tag-match checks still run against the expected
	// references.
	SkipBuild bool
}

// Pipeline runs the ordered build-and-deploy stages. Each stage is gated
// on the previous stage's full success; a failure aborts the remaining
// stages but never rolls back already-applied units.
type Pipeline struct {
	Cluster  Cluster
	Builder  ImageBuilder
	Config   *config.Resolved
	Options  Options
	Verifier Verifier

	// Units overrides the default unit set, used by tests.
	Units []Unit
}

// Run executes build, tag-and-push, manifest rewrite, ordered apply and
// verification. The returned Report is valid even when err is non-nil and
// lists what was applied before the failure.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	cfg := p.Config
	units := p.Units
	if units == nil {
		units = DefaultUnits(cfg)
	}

	refs, err := p.buildArtifacts(ctx, report)
	if err != nil {
		return report, err
	}

	if err := p.rewriteManifests(units, refs); err != nil {
		return report, err
	}

	if err := p.applyUnits(ctx, units, report); err != nil {
		return report, err
	}

	if p.Verifier != nil {
		report.Verification = p.Verifier.Verify(ctx, cfg)
		for _, result := range report.Verification {
			if !result.Passed {
				log.Printf("[deploy] Verification check %q failed: %s", result.Name, result.Detail)
			}
		}
	}

	return report, nil
}

// buildArtifacts builds both images, tags them with the registry prefix
// and pushes unless the registry is the cluster-local sentinel. It returns
// the final reference per repository.
func (p *Pipeline) buildArtifacts(ctx context.Context, report *Report) (map[string]string, error) {
	cfg := p.Config
	contextDir := p.Options.ContextDir
	if contextDir == "" {
		contextDir = "."
	}

	refs := make(map[string]string, 2)
	targets := []struct {
		repo   string
		target string
	}{
		{cfg.ImageRepoAPI, buildTargetAPI},
		{cfg.ImageRepoWorker, buildTargetWorker},
	}

	if p.Options.SkipBuild {
		log.Printf("[deploy] Skipping image build, reusing version %s", cfg.Version)
		for _, t := range targets {
			registry := cfg.Registry
			if cfg.LocalRegistry() {
				registry = ""
			}
			refs[t.repo] = image.Ref(registry, t.repo, cfg.Version)
			report.Artifacts = append(report.Artifacts, refs[t.repo])
		}
		return refs, nil
	}

	for _, t := range targets {
		localRef := image.Ref("", t.repo, cfg.Version)
		if err := p.Builder.Build(ctx, contextDir, t.target, localRef); err != nil {
			return nil, err
		}
		refs[t.repo] = localRef
	}

	if cfg.LocalRegistry() {
		log.Printf("[deploy] Registry is cluster-local, skipping push")
	} else {
		for _, t := range targets {
			pushedRef := image.Ref(cfg.Registry, t.repo, cfg.Version)
			if err := p.Builder.Tag(ctx, refs[t.repo], pushedRef); err != nil {
				return nil, err
			}
			if err := p.Builder.Push(ctx, pushedRef); err != nil {
				return nil, err
			}
			refs[t.repo] = pushedRef
		}
	}

	for _, t := range targets {
		report.Artifacts = append(report.Artifacts, refs[t.repo])
	}
	return refs, nil
}

// rewriteManifests substitutes the built artifact references and the
// resolved settings into the unit manifests on disk, then verifies every
// managed image carries the run's version tag before anything is applied.
func (p *Pipeline) rewriteManifests(units []Unit, refs map[string]string) error {
	cfg := p.Config
	settings := SettingsFrom(cfg)

	for _, unit := range units {
		for _, file := range unit.Files {
			manifestPath := filepath.Join(cfg.ManifestDir, file)
			manifest, err := os.ReadFile(manifestPath)
			if err != nil {
				return fmt.Errorf("failed to read manifest %s: %w", manifestPath, err)
			}

			rewritten, imagesChanged, err := RewriteImages(manifest, refs)
			if err != nil {
				return fmt.Errorf("failed to rewrite %s: %w", manifestPath, err)
			}
			rewritten, settingsChanged, err := RewriteSettings(rewritten, settings)
			if err != nil {
				return fmt.Errorf("failed to rewrite %s: %w", manifestPath, err)
			}
			if imagesChanged || settingsChanged {
				if err := os.WriteFile(manifestPath, rewritten, 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", manifestPath, err)
				}
				log.Printf("[deploy] Updated %s from resolved configuration", file)
			}

			if unit.Category == CategoryWorkload {
				repos := []string{cfg.ImageRepoAPI, cfg.ImageRepoWorker}
				if err := CheckTags(rewritten, repos, cfg.Version); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// applyUnits applies units in plan order, waiting for readiness after each
// unit that declares a wait, and enforcing the dependency invariant.
func (p *Pipeline) applyUnits(ctx context.Context, units []Unit, report *Report) error {
	cfg := p.Config
	timeout := p.Options.WaitTimeout
	if timeout == 0 {
		timeout = DefaultWaitTimeout
	}

	planned := Plan(units)
	track := newTracker(planned)

	for _, unit := range planned {
		if unit.Optional && !p.optedIn(unit) {
			track.markSkipped(unit)
			report.Skipped = append(report.Skipped, unit.Name)
			log.Printf("[deploy] Skipping optional unit %q", unit.Name)
			continue
		}

		if err := track.check(unit); err != nil {
			return err
		}

		log.Printf("[deploy] Applying unit %q", unit.Name)
		for _, file := range unit.Files {
			manifest, err := os.ReadFile(filepath.Join(cfg.ManifestDir, file))
			if err != nil {
				return fmt.Errorf("failed to read manifest %s: %w", file, err)
			}
			if err := p.Cluster.ApplyManifests(ctx, manifest, fieldManager); err != nil {
				return fmt.Errorf("failed to apply unit %q: %w", unit.Name, err)
			}
		}

		if err := p.waitForUnit(ctx, unit, timeout); err != nil {
			return err
		}

		track.markReady(unit)
		report.Applied = append(report.Applied, unit.Name)
	}

	return nil
}

func (p *Pipeline) waitForUnit(ctx context.Context, unit Unit, timeout time.Duration) error {
	cfg := p.Config
	switch unit.WaitKind {
	case WaitNamespace:
		return p.Cluster.WaitForNamespace(ctx, cfg.Namespace, timeout)
	case WaitStatefulSet:
		return p.Cluster.WaitForStatefulSet(ctx, cfg.Namespace, unit.WaitName, timeout)
	case WaitDeployment:
		return p.Cluster.WaitForDeployment(ctx, cfg.Namespace, unit.WaitName, timeout)
	default:
		return nil
	}
}

func (p *Pipeline) optedIn(unit Unit) bool {
	switch unit.Category {
	case CategoryIngress:
		return p.Options.IncludeIngress
	case CategoryAutoscaler:
		return p.Options.IncludeAutoscaler
	default:
		return true
	}
}
