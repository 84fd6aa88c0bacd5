// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/checkpoint-restore/criu-coordinator/internal/admin"
	"github.com/checkpoint-restore/criu-coordinator/internal/config"
	"github.com/checkpoint-restore/criu-coordinator/internal/issue"
	"github.com/checkpoint-restore/criu-coordinator/internal/logging"
	"github.com/checkpoint-restore/criu-coordinator/internal/rendezvous"
	"github.com/checkpoint-restore/criu-coordinator/internal/server"
	"github.com/checkpoint-restore/criu-coordinator/internal/watch"
	"github.com/checkpoint-restore/criu-coordinator/pkg/types"
)

// serverFlags holds `server` flags that are not config keys.
type serverFlags struct {
	configPath string
	logFormat  string
	watch      bool
}

// coordinator is a running server plus the admin listener, if enabled.
type coordinator struct {
	srv    *server.Server
	admin  *admin.Server
	logger *log.Logger
}

func newServerCommand(app *App) *cobra.Command {
	var flags serverFlags
	serverCmd := &cobra.Command{
		Use:     "server",
		Aliases: []string{"s"},
		Short:   "Run the coordinator",
		Long: `Run the coordinator.

Settings come from built-in defaults, then the "server" section of the config
file (--config, else ` + config.GlobalConfigDir + `/` + config.ConfigFileName + `.{cue,json}), then flags.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runServer(cmd, flags)
		},
	}

	d := config.DefaultServerConfig()
	f := serverCmd.Flags()
	f.StringVarP(&flags.configPath, "config", "c", "", "config file (default: first of "+config.GlobalConfigDir+"/"+config.ConfigFileName+".{cue,json})")
	f.BoolVar(&flags.watch, "watch", false, "re-seed server.dependencies when the config file changes")
	f.StringVar(&flags.logFormat, "log-format", logging.FormatText, "log format: text, json or logfmt")
	f.StringP("address", "a", d.Address, "address to bind")
	f.IntP("port", "p", int(d.Port), "port to listen on (0 picks a free port)")
	f.StringP("log-file", "o", d.LogFile, "log file, or - for stderr")
	f.Duration("wait-timeout", d.WaitTimeout, "how long a caller waits for its group")
	f.Duration("idle-timeout", d.IdleTimeout, "how long an unpinned entity is remembered without activity")
	f.Duration("prune-interval", d.PruneInterval, "how often idle entities are swept")
	f.Int("max-sessions", d.MaxSessions, "concurrent connections served before answering \"server busy\"")
	f.String("departure-policy", d.DeparturePolicy.String(), "what a departure does to its group: shrink or retain")
	f.String("admin-address", d.AdminAddress, "host:port for the HTTP admin listener (empty disables it)")
	return serverCmd
}

func (a *App) runServer(cmd *cobra.Command, flags serverFlags) error {
	ctx := cmd.Context()
	cfg, err := a.Config.LoadServer(ctx, config.LoadOptions{ConfigFilePath: flags.configPath, Flags: cmd.Flags()})
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(logging.Options{
		Prefix:  "server",
		File:    cfg.LogFile,
		Verbose: a.verbose,
		Format:  flags.logFormat,
	})
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	c, err := startCoordinator(ctx, *cfg, logger)
	if err != nil {
		return err
	}

	watchErr := make(chan error, 1)
	if flags.watch {
		watchCtx, stopWatch := context.WithCancel(ctx)
		defer stopWatch()
		w, err := a.dependencyWatcher(cmd, flags, c, logger)
		if err != nil {
			_ = c.stop()
			return &ExitError{Code: types.ExitFailure, Err: err}
		}
		go func() {
			if err := w.Run(watchCtx); err != nil {
				watchErr <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-c.srv.Err():
		logger.Error("coordinator failed", "error", err)
	case err = <-c.adminErr():
		logger.Error("admin listener failed", "error", err)
	case err = <-watchErr:
		logger.Error("config watcher failed", "error", err)
	}
	if stopErr := c.stop(); stopErr != nil {
		logger.Warn("shutdown incomplete", "error", stopErr)
	}
	if err != nil {
		return &ExitError{Code: types.ExitFailure, Err: err}
	}
	return nil
}

// dependencyWatcher re-reads the config file on change and merges its
// dependency map into the running coordinator. Without --config the global
// directory is watched, so a file created after startup is picked up too.
func (a *App) dependencyWatcher(cmd *cobra.Command, flags serverFlags, c *coordinator, logger *log.Logger) (*watch.Watcher, error) {
	dir := config.GlobalDir()
	pattern := config.ConfigFileName + ".{" + strings.Join(config.ConfigFileExts, ",") + "}"
	if flags.configPath != "" {
		dir, pattern = filepath.Split(flags.configPath)
		if dir == "" {
			dir = "."
		}
	}
	logger = logger.WithPrefix("watch")

	return watch.New(watch.Config{
		Dir:      dir,
		Patterns: []string{pattern},
		Logger:   logger,
		OnChange: func(ctx context.Context, changed []string) error {
			cfg, err := a.Config.LoadServer(ctx, config.LoadOptions{ConfigFilePath: flags.configPath, Flags: cmd.Flags()})
			if err != nil {
				return err
			}
			logger.Info("config changed", "files", changed)
			if len(cfg.Dependencies) == 0 {
				return nil
			}
			return c.srv.Reseed(cfg.Dependencies)
		},
	})
}

// startCoordinator wires the engine, its metrics and event hub, the TCP
// listener and the optional admin listener.
func startCoordinator(ctx context.Context, cfg config.ServerConfig, logger *log.Logger) (*coordinator, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := rendezvous.NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	hub := admin.NewHub(admin.DefaultSubscriberBuffer)

	engine, err := rendezvous.New(
		rendezvous.WithLogger(logger),
		rendezvous.WithPolicy(cfg.DeparturePolicy),
		rendezvous.WithIdleTimeout(cfg.IdleTimeout),
		rendezvous.WithObserver(metrics),
		rendezvous.WithEventSink(hub),
	)
	if err != nil {
		return nil, err
	}

	srv, err := server.New(server.Config{
		Address:       cfg.Address,
		Port:          cfg.Port,
		WaitTimeout:   cfg.WaitTimeout,
		PruneInterval: cfg.PruneInterval,
		MaxSessions:   cfg.MaxSessions,
		Seed:          cfg.Dependencies,
	}, engine, server.WithLogger(logger), server.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}
	if err := srv.Start(ctx); err != nil {
		return nil, listenFailed(cfg.Listen(), err)
	}
	c := &coordinator{srv: srv, logger: logger}

	if cfg.AdminAddress == "" {
		return c, nil
	}
	adm, err := admin.New(admin.Config{Address: cfg.AdminAddress}, engine,
		admin.WithLogger(logger.WithPrefix("admin")),
		admin.WithRegistry(reg),
		admin.WithHub(hub),
		admin.WithCoordinator(srv),
	)
	if err == nil {
		err = adm.Start(ctx)
	}
	if err != nil {
		_ = srv.Stop()
		return nil, listenFailed(cfg.AdminAddress, err)
	}
	c.admin = adm
	return c, nil
}

// adminErr is nil when the admin listener is disabled; receiving from it
// blocks forever.
func (c *coordinator) adminErr() <-chan error {
	if c.admin == nil {
		return nil
	}
	return c.admin.Err()
}

func (c *coordinator) stop() error {
	var errs []error
	if c.admin != nil {
		if err := c.admin.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.srv.Stop(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func listenFailed(addr string, err error) error {
	return issue.NewErrorContext().
		WithOperation("start listening").
		WithResource(addr).
		WithSuggestion(fmt.Sprintf("Check that nothing else is bound to %s", addr)).
		WithSuggestion("Pick another port with --port, or 0 for a free one").
		WithIssue(issue.ListenFailedId).
		Wrap(err).
		BuildError()
}
