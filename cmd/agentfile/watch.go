package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/deepnoodle-ai/wonton/cli"
	"github.com/fsnotify/fsnotify"

	"github.com/TisoneK/agentfile-sub000"
	"github.com/TisoneK/agentfile-sub000/config"
	"github.com/TisoneK/agentfile-sub000/log"
	"github.com/TisoneK/agentfile-sub000/state"
)

const defaultWatchDebounce = 200 * time.Millisecond

func registerWatchCommand(app *cli.App) {
	app.Command("watch").
		Description("Redraw a workflow's status whenever its state changes").
		Args("workflow").
		Flags(
			cli.Int("debounce-ms", "").
				Default(int(defaultWatchDebounce / time.Millisecond)).
				Help("Quiet period before redrawing after a change"),
		).
		Run(func(ctx *cli.Context) error {
			workflowID, err := requireWorkflowArg(ctx)
			if err != nil {
				return err
			}
			debounce := time.Duration(ctx.Int("debounce-ms")) * time.Millisecond
			return withWorkspace(ctx, func(goCtx context.Context, g globalFlags, ws *agentfile.Workspace) error {
				fs, ok := ws.States.(*state.FileStore)
				if !ok || ws.Config.Backend != config.BackendFile {
					return fmt.Errorf("watch requires the %s backend", config.BackendFile)
				}
				watcher := &StateWatcher{
					Store:      fs,
					WorkflowID: workflowID,
					Debounce:   debounce,
					Logger:     ws.Logger,
					Render: func(w io.Writer) error {
						view, err := loadStatus(goCtx, ws, workflowID)
						if err != nil {
							if state.IsNotFound(err) {
								fmt.Fprintf(w, "Waiting for workflow %s...\n", workflowID)
								return nil
							}
							return err
						}
						renderStatus(w, view)
						return nil
					},
				}
				return watcher.Run(goCtx, os.Stdout)
			})
		})
}

// StateWatcher redraws a workflow's status each time its state document
// is replaced on disk.
type StateWatcher struct {
	Store      *state.FileStore
	WorkflowID string
	Debounce   time.Duration
	Logger     log.Logger
	Render     func(w io.Writer) error

	// Clear is written before each redraw.
	Clear string
}

const clearScreen = "\033[H\033[2J"

// Run blocks until ctx is cancelled.
func (sw *StateWatcher) Run(ctx context.Context, w io.Writer) error {
	logger := sw.Logger
	if logger == nil {
		logger = log.Discard
	}
	reset := sw.Clear
	if reset == "" {
		reset = clearScreen
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// Saves replace the document with a rename, so watch the directory
	// rather than the file.
	dir := sw.Store.Dir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	target := filepath.Clean(sw.Store.Path(sw.WorkflowID))
	logger.Debug("watching workflow state", "workflow", sw.WorkflowID, "path", target)

	redraw := func() error {
		fmt.Fprint(w, reset)
		return sw.Render(w)
	}
	if err := redraw(); err != nil {
		return err
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			pending = time.After(sw.Debounce)
		case <-pending:
			pending = nil
			if err := redraw(); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				logger.Error("failed to render status", "workflow", sw.WorkflowID, "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("file watcher error", "error", err)
		}
	}
}
