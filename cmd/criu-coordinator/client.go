// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/checkpoint-restore/criu-coordinator/internal/client"
	"github.com/checkpoint-restore/criu-coordinator/internal/config"
	"github.com/checkpoint-restore/criu-coordinator/internal/issue"
	"github.com/checkpoint-restore/criu-coordinator/internal/logging"
	"github.com/checkpoint-restore/criu-coordinator/internal/protocol"
	"github.com/checkpoint-restore/criu-coordinator/internal/rendezvous"
	"github.com/checkpoint-restore/criu-coordinator/pkg/types"
)

// clientFlags holds the `client` command flags.
type clientFlags struct {
	address        string
	port           int
	id             string
	deps           string
	action         string
	imagesDir      string
	stream         bool
	logFile        string
	connectTimeout time.Duration
}

// arrival is one phase request as the client and the hook send it.
type arrival struct {
	cfg       client.Config
	id        string
	action    string
	deps      []string
	seed      map[string][]string
	imagesDir string
	stream    bool
}

func newClientCommand(app *App) *cobra.Command {
	var flags clientFlags
	clientCmd := &cobra.Command{
		Use:     "client",
		Aliases: []string{"c"},
		Short:   "Report an entity at a phase and wait for its group",
		Long: `Report an entity at a phase and wait until every entity it depends on
reached the same phase.

The exit code tells the caller how the wait ended: 0 synchronized, 1 aborted,
2 timeout, 3 malformed request, 4 server busy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runClient(cmd.Context(), flags)
		},
	}

	f := clientCmd.Flags()
	f.StringVar(&flags.address, "address", config.DefaultAddress, "coordinator address")
	f.IntVar(&flags.port, "port", int(types.DefaultPort), "coordinator port")
	f.StringVarP(&flags.id, "id", "i", "", "entity ID (required)")
	f.StringVarP(&flags.deps, "deps", "d", "", "colon-separated IDs this entity depends on")
	f.StringVarP(&flags.action, "action", "a", protocol.ActionPreDump, "phase to synchronize")
	f.StringVarP(&flags.imagesDir, "images-dir", "D", ".", "images directory; relative log files are placed here")
	f.BoolVarP(&flags.stream, "stream", "s", false, "mark the request as using image streaming")
	f.StringVarP(&flags.logFile, "log-file", "o", config.DefaultLogFile, "log file, or - for stderr")
	f.DurationVar(&flags.connectTimeout, "connect-timeout", config.DefaultConnectTimeout, "how long to retry connecting")
	_ = clientCmd.MarkFlagRequired("id")
	return clientCmd
}

func (a *App) runClient(ctx context.Context, flags clientFlags) error {
	ids, err := rendezvous.ParseDependencies(flags.deps)
	if err != nil {
		return &ExitError{Code: types.ExitFailure, Err: err}
	}
	deps := make([]string, len(ids))
	for i, id := range ids {
		deps[i] = string(id)
	}

	logger, closer, err := logging.New(logging.Options{
		Prefix:  "client",
		File:    flags.logFile,
		Dir:     flags.imagesDir,
		Verbose: a.verbose,
	})
	if err != nil {
		return &ExitError{Code: types.ExitFailure, Err: err}
	}
	defer func() { _ = closer.Close() }()

	err = sendArrival(ctx, logger, arrival{
		cfg: client.Config{
			Address:        flags.address,
			Port:           types.ListenPort(flags.port),
			ConnectTimeout: flags.connectTimeout,
		},
		id:        flags.id,
		action:    flags.action,
		deps:      deps,
		imagesDir: flags.imagesDir,
		stream:    flags.stream,
	})
	if err != nil {
		return &ExitError{Code: client.ExitCodeOf(err), Err: err}
	}
	fmt.Fprintln(a.stdout, SuccessStyle.Render("✓")+" "+CmdStyle.Render(flags.id)+" synchronized at "+flags.action)
	return nil
}

// sendArrival sends the seed, if any, then the phase request. Failures are
// returned as actionable errors that keep the client status reachable.
func sendArrival(ctx context.Context, logger *log.Logger, req arrival) error {
	c, err := client.New(req.cfg, client.WithLogger(logger))
	if err != nil {
		return err
	}
	if len(req.seed) > 0 {
		if err := c.SeedDependencies(ctx, req.seed); err != nil {
			logger.Error("seeding dependencies failed", "id", req.id, "error", err)
			return describeClientError(err, c.Target())
		}
	}
	if err := c.Arrive(ctx, req.id, req.action, req.deps, req.imagesDir, req.stream); err != nil {
		logger.Error("phase not synchronized", "id", req.id, "phase", req.action, "error", err)
		return describeClientError(err, c.Target())
	}
	return nil
}

// describeClientError links client failures to the issue catalog.
func describeClientError(err error, target string) error {
	ec := issue.NewErrorContext().WithResource(target).Wrap(err)

	var se *client.StatusError
	switch {
	case errors.Is(err, client.ErrUnreachable):
		ec.WithOperation("reach the coordinator").
			WithSuggestion("Start it with 'criu-coordinator server'").
			WithSuggestion("Check the address and port in " + config.ConfigFileName + ".json").
			WithIssue(issue.ServerUnreachableId)
	case errors.As(err, &se) && se.Status == protocol.StatusTimeout:
		ec.WithOperation("synchronize with the dependency group").
			WithSuggestion("Check that every dependency runs its CRIU action hook").
			WithSuggestion("Run 'criu-coordinator deps check' on the dependency map").
			WithIssue(issue.SyncTimeoutId)
	case errors.As(err, &se) && se.Status == protocol.StatusBusy:
		ec.WithOperation("get a session slot").
			WithSuggestion("Raise --max-sessions on the coordinator").
			WithIssue(issue.ServerBusyId)
	case errors.As(err, &se) && se.Status == protocol.StatusMalformed:
		ec.WithOperation("send a valid request").
			WithSuggestion("Entity IDs must be non-empty, without surrounding whitespace or ':'").
			WithIssue(issue.MalformedRequestId)
	default:
		ec.WithOperation("synchronize with the coordinator")
	}
	return ec.BuildError()
}
