package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"github.com/TisoneK/agentfile-sub000"
	"github.com/TisoneK/agentfile-sub000/config"
	"github.com/TisoneK/agentfile-sub000/log"
	"github.com/TisoneK/agentfile-sub000/state"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func noEnv(string) (string, bool) { return "", false }

func openTestWorkspace(t *testing.T) *agentfile.Workspace {
	t.Helper()
	cfg := config.Default()
	cfg.Root = t.TempDir()
	ws, err := agentfile.Open(cfg, agentfile.WithLogger(log.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

// seedRelease leaves "release" with build completed, a checkpoint, and
// publish in progress after writing out.
func seedRelease(t *testing.T, ws *agentfile.Workspace, out string) string {
	t.Helper()
	ctx := context.Background()
	_, err := ws.Tracker.StartStep(ctx, "release", "build", nil)
	require.NoError(t, err)
	_, err = ws.Tracker.CompleteStep(ctx, "release", "build", nil)
	require.NoError(t, err)
	require.NoError(t, ws.Tracker.SetVariable(ctx, "release", "version", "1.2.0"))
	cp, err := ws.Checkpoint(ctx, "release", "")
	require.NoError(t, err)
	_, err = ws.Tracker.StartStep(ctx, "release", "publish", nil)
	require.NoError(t, err)
	require.NoError(t, ws.Journal.WriteFile(ctx, "release", "publish", out, []byte("published\n"), 0644))
	return cp.CheckpointID
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, config.DirName), 0755))
	require.NoError(t, os.WriteFile(config.Path(root), []byte("format: yaml\nlogging:\n  level: debug\n"), 0644))

	cfg, err := globalFlags{root: root}.loadConfig(noEnv)
	require.NoError(t, err)
	require.Equal(t, root, cfg.Root)
	require.Equal(t, "yaml", cfg.Format)
	require.Equal(t, "debug", cfg.Logging.Level)

	cfg, err = globalFlags{root: root, format: "json", logLevel: "error", logFormat: "json"}.loadConfig(noEnv)
	require.NoError(t, err)
	require.Equal(t, "json", cfg.Format)
	require.Equal(t, "error", cfg.Logging.Level)
	require.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	root := t.TempDir()

	_, err := globalFlags{root: root, output: "xml"}.loadConfig(noEnv)
	require.Error(t, err)

	_, err = globalFlags{root: root, format: "toml"}.loadConfig(noEnv)
	require.Error(t, err)

	_, err = globalFlags{root: root, logFormat: "logfmt"}.loadConfig(noEnv)
	require.Error(t, err)

	_, err = globalFlags{root: root, configPath: filepath.Join(root, "missing.yaml")}.loadConfig(noEnv)
	require.Error(t, err)
}

func TestWorkflowsListing(t *testing.T) {
	ws := openTestWorkspace(t)
	ctx := context.Background()

	var buf bytes.Buffer
	rows, err := collectWorkflows(ctx, ws)
	require.NoError(t, err)
	renderWorkflows(&buf, rows)
	require.Equal(t, "No workflows found.\n", buf.String())

	seedRelease(t, ws, filepath.Join(t.TempDir(), "out.txt"))

	rows, err = collectWorkflows(ctx, ws)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "release", rows[0].WorkflowID)
	require.Equal(t, 50, rows[0].Progress.ProgressPercentage)
	require.Equal(t, 1, rows[0].Checkpoints)

	buf.Reset()
	renderWorkflows(&buf, rows)
	require.Contains(t, buf.String(), "release")
	require.Contains(t, buf.String(), "50%")
	require.Contains(t, buf.String(), "1/2")
}

func TestStatusView(t *testing.T) {
	ws := openTestWorkspace(t)
	ctx := context.Background()
	seedRelease(t, ws, filepath.Join(t.TempDir(), "out.txt"))

	_, err := loadStatus(ctx, ws, "missing")
	require.True(t, state.IsNotFound(err))

	view, err := loadStatus(ctx, ws, "release")
	require.NoError(t, err)
	require.Equal(t, "publish", view.Progress.CurrentStep)
	require.Len(t, view.Steps, 2)
	require.Equal(t, "1.2.0", view.Variables["version"])
	require.Zero(t, view.Rollback.TotalRollbacks)

	var buf bytes.Buffer
	renderStatus(&buf, view)
	out := buf.String()
	require.Contains(t, out, "Workflow release")
	require.Contains(t, out, "Current step: publish")
	require.Contains(t, out, "in-progress")
	require.NotContains(t, out, "Rollbacks:")

	buf.Reset()
	require.NoError(t, writeJSON(&buf, view))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "release", decoded["workflowId"])
}

func TestCheckpointRendering(t *testing.T) {
	ws := openTestWorkspace(t)
	ctx := context.Background()
	id := seedRelease(t, ws, filepath.Join(t.TempDir(), "out.txt"))

	summaries, err := ws.Checkpoints.List(ctx, "release")
	require.NoError(t, err)

	var buf bytes.Buffer
	renderCheckpoints(&buf, summaries)
	require.Contains(t, buf.String(), id)
	require.Contains(t, buf.String(), "build")
	require.Contains(t, buf.String(), "1/1 (100%)")

	cp, err := ws.Checkpoints.Info(ctx, "release", id)
	require.NoError(t, err)
	buf.Reset()
	renderCheckpoint(&buf, cp)
	require.Contains(t, buf.String(), "Checkpoint "+id)
	require.Contains(t, buf.String(), "version: 1.2.0")

	buf.Reset()
	renderCheckpoints(&buf, nil)
	require.Equal(t, "No checkpoints found.\n", buf.String())
}

func TestRollbackDryRunThenApply(t *testing.T) {
	ws := openTestWorkspace(t)
	ctx := context.Background()
	out := filepath.Join(t.TempDir(), "out.txt")
	id := seedRelease(t, ws, out)

	plan, err := ws.Rollback.Preview(ctx, "release", "")
	require.NoError(t, err)
	var buf bytes.Buffer
	renderPlan(&buf, plan)
	require.Contains(t, buf.String(), "Rollback of release to "+id)
	require.Contains(t, buf.String(), "publish")
	require.Contains(t, buf.String(), "remove")
	require.Contains(t, buf.String(), out)

	_, err = os.Stat(out)
	require.NoError(t, err, "dry run must not touch files")

	result, err := runRollback(ctx, ws, "release", "")
	require.NoError(t, err)
	require.Equal(t, state.RollbackSuccess, result.Status)
	require.Equal(t, 1, result.StepsReverted)
	require.Equal(t, 1, result.FilesReverted)
	_, err = os.Stat(out)
	require.True(t, os.IsNotExist(err))

	buf.Reset()
	renderRollbackResult(&buf, result)
	require.Contains(t, buf.String(), "Rolled back release to "+id+": success")

	result, err = runRollback(ctx, ws, "release", id)
	require.NoError(t, err)
	require.Zero(t, result.StepsReverted)

	report, err := ws.Rollback.Report(ctx, "release")
	require.NoError(t, err)
	buf.Reset()
	renderReport(&buf, report)
	require.Contains(t, buf.String(), "Rollbacks:      2 (2 success, 0 partial, 0 failed)")
	require.Contains(t, buf.String(), "Recommendations")
}

func TestRenderReportEmpty(t *testing.T) {
	ws := openTestWorkspace(t)
	report, err := ws.Rollback.Report(context.Background(), "fresh")
	require.NoError(t, err)

	var buf bytes.Buffer
	renderReport(&buf, report)
	require.Contains(t, buf.String(), "No rollbacks recorded.")
}

func TestRenderDiffKeepsLines(t *testing.T) {
	var buf bytes.Buffer
	renderDiff(&buf, "--- current\n+++ after rollback\n@@ -1 +1 @@\n-new\n+old\n")
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 5)
	require.Equal(t, "    -new", lines[3])
	require.Equal(t, "    +old", lines[4])
}

func TestProgressBarAndTruncate(t *testing.T) {
	require.Equal(t, strings.Repeat(barEmpty, barWidth), progressBar(-5))
	require.Equal(t, strings.Repeat(barFilled, barWidth), progressBar(250))
	require.Equal(t, strings.Repeat(barFilled, barWidth/2)+strings.Repeat(barEmpty, barWidth/2), progressBar(50))

	require.Equal(t, "ab", truncate("ab", 5))
	require.Equal(t, "abcd…", truncate("abcdefgh", 5))
	require.Equal(t, "界…", truncate("界界界", 4))
}

// syncBuffer is a bytes.Buffer safe for the watcher goroutine.
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

func waitRender(t *testing.T, renders <-chan struct{}) {
	t.Helper()
	select {
	case <-renders:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a redraw")
	}
}

func TestStateWatcherRedrawsOnSave(t *testing.T) {
	ws := openTestWorkspace(t)
	store, ok := ws.States.(*state.FileStore)
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	renders := make(chan struct{}, 16)
	out := &syncBuffer{}
	watcher := &StateWatcher{
		Store:      store,
		WorkflowID: "release",
		Debounce:   10 * time.Millisecond,
		Clear:      "--\n",
		Render: func(w io.Writer) error {
			view, err := loadStatus(ctx, ws, "release")
			switch {
			case state.IsNotFound(err):
				fmt.Fprintln(w, "waiting")
			case err != nil:
				return err
			default:
				renderStatus(w, view)
			}
			renders <- struct{}{}
			return nil
		},
	}
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx, out) }()

	waitRender(t, renders)
	require.Contains(t, out.String(), "waiting")

	_, err := ws.Tracker.StartStep(context.Background(), "release", "build", nil)
	require.NoError(t, err)
	waitRender(t, renders)
	require.Contains(t, out.String(), "Workflow release")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
