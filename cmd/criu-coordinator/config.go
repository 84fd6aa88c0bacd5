// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/exp/maps"

	"github.com/checkpoint-restore/criu-coordinator/internal/config"
)

// newConfigCommand creates the `criu-coordinator config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	var configPath string
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect coordinator configuration",
		Long: `Inspect coordinator configuration.

The coordinator reads the "server" section of:
  - the file given with --config
  - else ` + config.GlobalConfigDir + `/` + config.ConfigFileName + `.cue
  - else ` + config.GlobalConfigDir + `/` + config.ConfigFileName + `.json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cfgCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file")

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.showConfig(cmd.Context(), configPath)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.Config.LoadServer(cmd.Context(), config.LoadOptions{ConfigFilePath: configPath})
			if err != nil {
				return err
			}
			out, err := config.Dump(*cfg)
			if err != nil {
				return err
			}
			_, err = app.stdout.Write(out)
			return err
		},
	})

	return cfgCmd
}

func (a *App) showConfig(ctx context.Context, configPath string) error {
	opts := config.LoadOptions{ConfigFilePath: configPath}
	cfg, err := a.Config.LoadServer(ctx, opts)
	if err != nil {
		return err
	}

	w := a.stdout
	keyStyle, valueStyle := CmdStyle, SuccessStyle
	row := func(key string, value any) {
		fmt.Fprintf(w, "  %s: %s\n", keyStyle.Render(key), valueStyle.Render(fmt.Sprint(value)))
	}

	fmt.Fprintln(w, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(w)
	if path := config.ServerConfigPath(opts); path != "" {
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("Config file"), path)
	} else {
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%s:\n", keyStyle.Render("server"))
	row("address", cfg.Address)
	row("port", cfg.Port)
	row("log_file", cfg.LogFile)
	row("wait_timeout", cfg.WaitTimeout)
	row("idle_timeout", cfg.IdleTimeout)
	row("prune_interval", cfg.PruneInterval)
	row("max_sessions", cfg.MaxSessions)
	row("departure_policy", cfg.DeparturePolicy)
	if cfg.AdminAddress != "" {
		row("admin_address", cfg.AdminAddress)
	} else {
		fmt.Fprintf(w, "  %s: %s\n", keyStyle.Render("admin_address"), SubtitleStyle.Render("(disabled)"))
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", keyStyle.Render("dependencies"))
	if len(cfg.Dependencies) == 0 {
		fmt.Fprintf(w, "  %s\n", SubtitleStyle.Render("(none configured)"))
		return nil
	}
	ids := maps.Keys(cfg.Dependencies)
	slices.Sort(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "  %s -> %s\n", valueStyle.Render(id), strings.Join(cfg.Dependencies[id], ", "))
	}
	return nil
}
