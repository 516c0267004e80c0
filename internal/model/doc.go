// Package model defines the domain types and value objects for the
// podnet CLI.
//
// This package contains pure data structures with no external dependencies.
// The sidecar configuration payload, the remote target, the captured
// environment and container handles are all defined here, together with
// the session metadata that is persisted on containers as Docker labels.
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling.
package model
