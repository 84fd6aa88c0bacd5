// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/checkpoint-restore/criu-coordinator/internal/config"
	"github.com/checkpoint-restore/criu-coordinator/internal/issue"
)

type (
	// App wires CLI services and shared dependencies. Every command handler
	// receives an App and writes through its streams.
	App struct {
		Config config.Provider
		stdout io.Writer
		stderr io.Writer
		getenv func(string) string
		// issueStyle is the glamour style used for catalog entries.
		issueStyle string
		verbose    bool
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config     config.Provider
		Stdout     io.Writer
		Stderr     io.Writer
		Getenv     func(string) string
		IssueStyle string
	}
)

// NewApp creates an App from deps.
func NewApp(deps Dependencies) *App {
	app := &App{
		Config:     deps.Config,
		stdout:     deps.Stdout,
		stderr:     deps.Stderr,
		getenv:     deps.Getenv,
		issueStyle: deps.IssueStyle,
	}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	if app.getenv == nil {
		app.getenv = os.Getenv
	}
	if app.issueStyle == "" {
		app.issueStyle = "dark"
	}
	return app
}

// reportError prints err for an operator. Actionable errors get their
// suggestions and, when linked, the rendered catalog entry.
func (a *App) reportError(err error) {
	fmt.Fprintln(a.stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, a.verbose))
	a.renderIssue(err)
}

// renderIssue prints the catalog entry linked to err, if any.
func (a *App) renderIssue(err error) {
	var ae *issue.ActionableError
	if !errors.As(err, &ae) {
		return
	}
	if entry := ae.CatalogIssue(); entry != nil {
		if rendered, renderErr := entry.Render(a.issueStyle); renderErr == nil {
			fmt.Fprint(a.stderr, rendered)
		}
	}
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}
