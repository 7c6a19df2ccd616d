// Package main is the entry point for the aniops CLI.
//
// aniops bootstraps a GPU-backed Kubernetes cluster for the TorchANI
// inference stack: it probes the environment, resolves configuration,
// provisions a GitOps controller and runs the build-and-deploy pipeline.
//
// Commands: check, provision, deploy, rollback, version.
//
// For detailed usage information, run:
//
//	aniops --help
package main

import (
	"fmt"
	"os"

	"github.com/cheminfuse/aniops/cmd/aniops/commands"
	"github.com/cheminfuse/aniops/cmd/aniops/handlers"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(handlers.ExitCode(err))
	}
}
