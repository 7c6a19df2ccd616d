// Package image builds, tags and pushes the service container images by
// shelling out to the local docker CLI.
package image

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"strings"

	"github.com/distribution/reference"

	"github.com/cheminfuse/aniops/internal/util/retry"
)

// Runner executes a CLI command and returns its combined output. The
// default implementation shells out; tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands via the local shell environment.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// BuildError carries the failing command output for diagnosis.
type BuildError struct {
	Op     string
	Ref    string
	Output string
	Err    error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("image %s failed for %s: %v", e.Op, e.Ref, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// Builder drives single-context multi-target image builds.
type Builder struct {
	runner Runner
}

// NewBuilder returns a Builder using the local docker CLI.
func NewBuilder() *Builder {
	return &Builder{runner: ExecRunner{}}
}

// NewBuilderWithRunner is NewBuilder with an injected Runner, for tests.
func NewBuilderWithRunner(r Runner) *Builder {
	return &Builder{runner: r}
}

// Build builds the given target stage from contextDir and tags it ref.
// The target may be empty for a single-stage build.
func (b *Builder) Build(ctx context.Context, contextDir, target, ref string) error {
	if err := validateRef(ref); err != nil {
		return err
	}

	args := []string{"build", "-t", ref}
	if target != "" {
		args = append(args, "--target", target)
	}
	args = append(args, contextDir)

	log.Printf("[image] Building %s (target %q)", ref, target)
	output, err := b.runner.Run(ctx, "docker", args...)
	if err != nil {
		return &BuildError{Op: "build", Ref: ref, Output: string(output), Err: err}
	}
	return nil
}

// Tag applies an additional tag to an already-built image.
func (b *Builder) Tag(ctx context.Context, sourceRef, targetRef string) error {
	if err := validateRef(targetRef); err != nil {
		return err
	}

	output, err := b.runner.Run(ctx, "docker", "tag", sourceRef, targetRef)
	if err != nil {
		return &BuildError{Op: "tag", Ref: targetRef, Output: string(output), Err: err}
	}
	return nil
}

// Push pushes ref to its registry, retrying transient registry failures.
func (b *Builder) Push(ctx context.Context, ref string) error {
	if err := validateRef(ref); err != nil {
		return err
	}

	log.Printf("[image] Pushing %s", ref)
	return retry.WithBackoff(ctx, func() error {
		output, err := b.runner.Run(ctx, "docker", "push", ref)
		if err != nil {
			return &BuildError{Op: "push", Ref: ref, Output: string(output), Err: err}
		}
		return nil
	}, retry.WithMaxRetries(3))
}

// Ref assembles a full image reference from registry, repository and tag.
// An empty registry yields a bare repository:tag reference for local use.
func Ref(registry, repository, tag string) string {
	if registry == "" {
		return fmt.Sprintf("%s:%s", repository, tag)
	}
	return fmt.Sprintf("%s/%s:%s", strings.TrimRight(registry, "/"), repository, tag)
}

// validateRef rejects references the registry would refuse before spending
// time on a build or push.
func validateRef(ref string) error {
	if _, err := reference.ParseNormalizedNamed(ref); err != nil {
		return fmt.Errorf("invalid image reference %q: %w", ref, err)
	}
	return nil
}
