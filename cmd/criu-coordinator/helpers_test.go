// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/checkpoint-restore/criu-coordinator/internal/issue"
	"github.com/checkpoint-restore/criu-coordinator/internal/rendezvous"
	"github.com/checkpoint-restore/criu-coordinator/internal/server"
	"github.com/checkpoint-restore/criu-coordinator/internal/testutil"
)

const waitFor = 5 * time.Second

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testApp struct {
	*App
	stdout *syncBuffer
	stderr *syncBuffer
}

func newTestApp(t *testing.T, env map[string]string) *testApp {
	t.Helper()
	stdout, stderr := &syncBuffer{}, &syncBuffer{}
	app := NewApp(Dependencies{
		Stdout:     stdout,
		Stderr:     stderr,
		Getenv:     func(key string) string { return env[key] },
		IssueStyle: "notty",
	})
	return &testApp{App: app, stdout: stdout, stderr: stderr}
}

// run executes the command tree with args.
func (a *testApp) run(t *testing.T, args ...string) error {
	t.Helper()
	root := NewRootCommand(a.App)
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func startTestServer(t *testing.T, wait time.Duration) *server.Server {
	t.Helper()
	engine, err := rendezvous.New()
	require.NoError(t, err)
	cfg := server.DefaultConfig()
	cfg.Port = 0
	cfg.WaitTimeout = wait
	srv, err := server.New(cfg, engine)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(testutil.DeferStop(t, srv))
	return srv
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr), "expected *ExitError, got %T: %v", err, err)
	return int(exitErr.Code)
}

func issueID(t *testing.T, err error) issue.Id {
	t.Helper()
	var ae *issue.ActionableError
	require.True(t, errors.As(err, &ae), "expected *issue.ActionableError, got %T: %v", err, err)
	return ae.Issue
}
