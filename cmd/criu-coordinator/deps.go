// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/checkpoint-restore/criu-coordinator/internal/config"
	"github.com/checkpoint-restore/criu-coordinator/internal/depgraph"
	"github.com/checkpoint-restore/criu-coordinator/internal/issue"
	"github.com/checkpoint-restore/criu-coordinator/pkg/types"
)

func newDepsCommand(app *App) *cobra.Command {
	depsCmd := &cobra.Command{
		Use:   "deps",
		Short: "Inspect dependency maps",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	var configPath, filePath string
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Show dependency groups and one-sided declarations",
		Long: `Show the groups a dependency map forms and every one-sided declaration.

An entity A that lists B while B does not list A waits for B, but B may pass
the phase without A. The command exits non-zero when such edges exist.

` + SubtitleStyle.Render("Sources:") + `
  --config FILE   the server.dependencies map of a coordinator config
  --file FILE     a bare {"id": ["dep", ...]} map (CUE or JSON)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, source, err := app.loadDependencies(cmd.Context(), configPath, filePath)
			if err != nil {
				return err
			}
			return app.checkDependencies(deps, source)
		},
	}
	checkCmd.Flags().StringVar(&configPath, "config", "", "coordinator config file")
	checkCmd.Flags().StringVar(&filePath, "file", "", "dependency map file")
	checkCmd.MarkFlagsOneRequired("config", "file")
	checkCmd.MarkFlagsMutuallyExclusive("config", "file")

	depsCmd.AddCommand(checkCmd)
	return depsCmd
}

func (a *App) loadDependencies(ctx context.Context, configPath, filePath string) (map[string][]string, string, error) {
	if filePath != "" {
		deps, err := config.LoadDependencyMap(filePath)
		return deps, filePath, err
	}
	cfg, err := a.Config.LoadServer(ctx, config.LoadOptions{ConfigFilePath: configPath})
	if err != nil {
		return nil, "", err
	}
	return cfg.Dependencies, configPath, nil
}

func (a *App) checkDependencies(deps map[string][]string, source string) error {
	g := depgraph.FromMap(deps)
	w := a.stdout

	fmt.Fprintln(w, TitleStyle.Render("Dependency groups")+" "+SubtitleStyle.Render(source))
	groups := g.Groups()
	if len(groups) == 0 {
		fmt.Fprintf(w, "  %s\n", SubtitleStyle.Render("(no dependencies declared)"))
		return nil
	}
	for i, group := range groups {
		members := make([]string, len(group))
		for j, m := range group {
			members[j] = CmdStyle.Render(m)
		}
		fmt.Fprintln(w, groupStyle.Render(fmt.Sprintf("%d: %s", i+1, strings.Join(members, ", "))))
	}

	if undeclared := g.Undeclared(); len(undeclared) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, SubtitleStyle.Render("Dependencies without their own entry (they are waited for when they connect):"))
		printEdges(w, undeclared, SubtitleStyle.Render("•"))
	}

	asymmetric := g.Asymmetric()
	if len(asymmetric) == 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, SuccessStyle.Render("✓")+" every declared dependency is mutual")
		return nil
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, WarningStyle.Render(fmt.Sprintf("%d one-sided dependencies:", len(asymmetric))))
	printEdges(w, asymmetric, WarningStyle.Render("!"))

	return &ExitError{
		Code: types.ExitFailure,
		Err: issue.NewErrorContext().
			WithOperation("verify dependency symmetry").
			WithResource(source).
			WithSuggestion("Declare each dependency on both entities").
			WithIssue(issue.AsymmetricDependenciesId).
			Wrap(fmt.Errorf("%d one-sided dependencies, first %s", len(asymmetric), asymmetric[0])).
			BuildError(),
	}
}

func printEdges(w io.Writer, edges []depgraph.Edge, icon string) {
	for _, e := range edges {
		fmt.Fprintf(w, "  %s %s\n", icon, e.String())
	}
}
