// Package main is the entry point for the podnet CLI.
//
// This binary runs local Docker containers inside the network and
// environment of a remote Kubernetes pod. It delegates all functionality
// to the internal/cli package, which defines cobra commands.
//
// Build-time variables (version, commit, date) are injected via ldflags
// during the release process. During development, they default to "dev",
// "none", and "unknown" respectively.
package main

import (
	"github.com/shinji-kodama/podnet/internal/cli"
)

// version, commit, and date are set at build time via ldflags
// (-X main.version=...). They back the --version flag output.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.Version = version
	cli.Commit = commit
	cli.Date = date

	rootCmd := cli.NewRootCommand()
	cli.Execute(rootCmd)
}
