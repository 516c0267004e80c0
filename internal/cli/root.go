// Package cli implements the cobra-based CLI commands for podnet.
//
// Each subcommand (run, list, stop) is defined in its own file within this
// package. This file defines the root command that serves as the parent
// for all subcommands and handles global flags, logging setup and the
// mapping of errors to process exit codes.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/shinji-kodama/podnet/internal/model"
)

// Global flag variables shared across all subcommands.
// These are bound to cobra persistent flags on the root command,
// which makes them available to every subcommand automatically.
var (
	// jsonOutput controls whether command output is formatted as JSON.
	jsonOutput bool

	// verbose switches logging to debug level, which includes every
	// docker command line that is executed.
	verbose bool

	// configPath is the configuration file given with --config. Empty
	// means the default location, where a missing file is not an error.
	configPath string
)

// version, commit, and date are set at build time via ldflags.
// They are injected from the main package to display version information.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// NewRootCommand creates and configures the root cobra command.
// This is the entry point for the entire CLI application.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "podnet",
		Short: "Run a local container inside a remote pod's network",
		Long: `podnet runs a local Docker container as if it were running inside a
Kubernetes pod: the container sees the pod's environment variables and
reaches cluster services through a network sidecar tunnelled to the pod.

Ports published with -p/--publish are moved to the network sidecar, so
they keep working even though the container shares the sidecar's network.`,

		// SilenceUsage prevents cobra from printing usage on every error.
		// We handle error output ourselves for cleaner UX.
		SilenceUsage: true,

		// SilenceErrors prevents cobra from printing errors automatically.
		// We format errors ourselves (text or JSON based on --json flag).
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(verbose)
		},
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $XDG_CONFIG_HOME/podnet/config.jsonc)")

	rootCmd.AddCommand(NewRunCommand())
	rootCmd.AddCommand(NewListCommand())
	rootCmd.AddCommand(NewStopCommand())

	return rootCmd
}

// setupLogging configures the standard logrus logger, which every
// package logs through unless a test injects its own.
func setupLogging(verbose bool) {
	f := new(prefixed.TextFormatter)
	f.DisableColors = true
	f.ForceFormatting = true
	f.FullTimestamp = true
	f.TimestampFormat = "15:04:05"
	logrus.SetFormatter(f)
	logrus.SetOutput(os.Stderr)

	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// ExitStatusError makes the CLI exit with a given code without printing
// anything. It forwards the exit code of the workload, which has already
// reported its own failure on the terminal.
type ExitStatusError struct {
	Code int
}

func (e *ExitStatusError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Execute runs the root command and exits the process with the code
// derived from the returned error. It is the main entry point called
// from main.go. Cleanup has already run by the time an error gets here.
func Execute(rootCmd *cobra.Command) {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	os.Exit(handleError(err))
}

// handleError prints err and returns the exit code for it.
func handleError(err error) int {
	var status *ExitStatusError
	if errors.As(err, &status) {
		return status.Code
	}

	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		printError(cliErr.Message, cliErr.Err)
		return int(cliErr.Code)
	}

	// Flag parsing and other cobra errors.
	printError(err.Error(), nil)
	return int(model.ExitGeneralError)
}

// printError outputs an error message in the appropriate format
// (JSON or text) based on the --json global flag.
func printError(message string, underlying error) {
	if jsonOutput {
		errObj := map[string]any{
			"error": map[string]any{
				"message": message,
			},
		}
		if underlying != nil {
			if errMap, ok := errObj["error"].(map[string]any); ok {
				errMap["detail"] = underlying.Error()
			}
		}
		// Errors go to stderr even in JSON mode, because stdout is
		// reserved for successful command output.
		data, _ := json.MarshalIndent(errObj, "", "  ")
		fmt.Fprintln(os.Stderr, string(data))
		return
	}

	red := color.New(color.FgRed, color.Bold)
	if underlying != nil {
		red.Fprintf(os.Stderr, "Error: %s: %v\n", message, underlying)
	} else {
		red.Fprintf(os.Stderr, "Error: %s\n", message)
	}
}

// IsJSONOutput returns whether the --json flag is set.
// Subcommands use this to decide their output format.
func IsJSONOutput() bool {
	return jsonOutput
}
