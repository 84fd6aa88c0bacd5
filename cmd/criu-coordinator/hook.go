// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/checkpoint-restore/criu-coordinator/internal/client"
	"github.com/checkpoint-restore/criu-coordinator/internal/logging"
	"github.com/checkpoint-restore/criu-coordinator/internal/protocol"
	"github.com/checkpoint-restore/criu-coordinator/pkg/types"
)

const (
	// EnvScriptAction is set by CRIU when it runs an action script.
	EnvScriptAction = "CRTOOLS_SCRIPT_ACTION"
	// EnvImageDir is the images directory CRIU passes to action scripts.
	EnvImageDir = "CRTOOLS_IMAGE_DIR"
	// StreamerSocket is created in the images directory by criu-image-streamer.
	StreamerSocket = "streamer-capture.sock"
)

// runHook handles one CRIU action. Actions missing from the entity's
// action list succeed without contacting the coordinator.
func (a *App) runHook(ctx context.Context, action string) types.ExitCode {
	imagesDir := a.getenv(EnvImageDir)
	if imagesDir == "" {
		a.reportError(fmt.Errorf("%s is not set; CRIU passes it to action scripts", EnvImageDir))
		return types.ExitFailure
	}

	cfg, err := a.Config.LoadHook(ctx, imagesDir)
	if err != nil {
		a.reportError(err)
		return types.ExitFailure
	}
	if !cfg.Handles(action) {
		return types.ExitSuccess
	}

	var stream bool
	switch action {
	case protocol.ActionPreStream:
		stream = true
	case protocol.ActionPreDump:
		streaming, err := streamerActive(imagesDir)
		if err != nil {
			a.reportError(err)
			return types.ExitFailure
		}
		// With image streaming the group already met at pre-stream.
		if streaming {
			return types.ExitSuccess
		}
	}

	logger, closer, err := logging.New(logging.Options{
		Prefix:  "hook",
		File:    cfg.LogFile,
		Dir:     imagesDir,
		Verbose: a.verbose,
	})
	if err != nil {
		a.reportError(err)
		return types.ExitFailure
	}
	defer func() { _ = closer.Close() }()

	err = sendArrival(ctx, logger, arrival{
		cfg: client.Config{
			Address:        cfg.Address,
			Port:           cfg.Port,
			ConnectTimeout: cfg.ConnectTimeout,
		},
		id:        cfg.ID,
		action:    action,
		deps:      cfg.Dependencies,
		seed:      cfg.Seed,
		imagesDir: imagesDir,
		stream:    stream,
	})
	if err != nil {
		a.reportError(err)
	}
	return client.ExitCodeOf(err)
}

// streamerActive reports whether the image streamer socket exists in dir.
func streamerActive(dir string) (bool, error) {
	path := filepath.Join(dir, StreamerSocket)
	info, err := os.Lstat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("checking %s: %w", path, err)
	case info.Mode().Type() != fs.ModeSocket:
		return false, fmt.Errorf("%s exists but is not a Unix socket", path)
	}
	return true, nil
}
