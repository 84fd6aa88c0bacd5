// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the command tree for app.
func NewRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "criu-coordinator",
		Short: "Coordinate checkpoint and restore of interdependent processes",
		Long: TitleStyle.Render("criu-coordinator") + SubtitleStyle.Render(" - synchronize CRIU action hooks across dependent entities") + `

The coordinator holds every entity at a checkpoint or restore phase until
all entities it depends on reached the same phase, then releases the whole
group at once.

` + SubtitleStyle.Render("Modes:") + `
  criu-coordinator server        Run the coordinator
  criu-coordinator client ...    Report one entity at one phase
  CRTOOLS_SCRIPT_ACTION=...      Run as a CRIU action script (argv is ignored)

` + SubtitleStyle.Render("Examples:") + `
  criu-coordinator server --port 8080 --wait-timeout 1m
  criu-coordinator client --id web --deps db:cache --action pre-dump
  criu-coordinator deps check --config /etc/criu/criu-coordinator.cue`,
		SilenceUsage: true,
	}

	rootCmd.SetOut(app.stdout)
	rootCmd.SetErr(app.stderr)
	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newServerCommand(app))
	rootCmd.AddCommand(newClientCommand(app))
	rootCmd.AddCommand(newDepsCommand(app))
	rootCmd.AddCommand(newConfigCommand(app))
	rootCmd.AddCommand(newCompletionCommand())
	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI, or the action hook when CRIU invoked the binary.
// This is called by main.main().
func Execute() {
	app := NewApp(Dependencies{})
	ctx := context.Background()

	if action := app.getenv(EnvScriptAction); action != "" {
		os.Exit(int(app.runHook(ctx, action)))
	}

	if err := fang.Execute(
		ctx,
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt, syscall.SIGTERM),
	); err != nil {
		app.renderIssue(err)
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(int(exitErr.Code))
		}
		os.Exit(1)
	}
}
