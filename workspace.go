package agentfile

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/TisoneK/agentfile-sub000/checkpoint"
	"github.com/TisoneK/agentfile-sub000/config"
	"github.com/TisoneK/agentfile-sub000/journal"
	"github.com/TisoneK/agentfile-sub000/log"
	"github.com/TisoneK/agentfile-sub000/metrics"
	"github.com/TisoneK/agentfile-sub000/progress"
	"github.com/TisoneK/agentfile-sub000/rollback"
	"github.com/TisoneK/agentfile-sub000/state"
	"github.com/TisoneK/agentfile-sub000/tracker"
)

// Workspace is a handle on one project's workflow state. Every component
// shares the same state store, logger and metrics. Open a Workspace per
// project root; several may coexist in one process.
type Workspace struct {
	Config      *config.Config
	Logger      log.Logger
	Metrics     *metrics.Metrics
	States      state.Store
	Tracker     *tracker.Tracker
	Journal     *journal.Journal
	Checkpoints *checkpoint.Store
	Rollback    *rollback.Engine

	sqlite *state.SQLiteStore
}

// Option configures Open.
type Option func(*options)

type options struct {
	logger     log.Logger
	registerer prometheus.Registerer
	now        func() time.Time
}

// WithLogger overrides the logger built from the configured level.
func WithLogger(logger log.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegisterer registers the workspace metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithClock overrides the clock used by every component.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Open builds a Workspace from cfg.
func Open(cfg *config.Config, opts ...Option) (*Workspace, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		// Validate has already rejected unknown levels.
		level, _ := log.ParseLevel(cfg.Logging.Level)
		o.logger = log.New(log.Options{Level: level, Format: cfg.Logging.Format})
	}

	ws := &Workspace{
		Config:  cfg,
		Logger:  o.logger,
		Metrics: metrics.New(o.registerer),
	}

	format := cfg.StateFormat()
	switch cfg.Backend {
	case config.BackendSQLite:
		store, err := state.NewSQLiteStore(cfg.SQLiteFile(), state.SQLiteStoreOptions{Logger: o.logger})
		if err != nil {
			return nil, err
		}
		ws.sqlite = store
		ws.States = store
	case config.BackendMemory:
		ws.States = state.NewMemoryStore()
	default:
		ws.States = state.NewFileStore(cfg.Root,
			state.WithFormat(format),
			state.WithLogger(o.logger),
			state.WithClock(func() time.Time { return o.now().UTC() }))
	}

	j, err := journal.New(ws.States, journal.Options{
		Logger:         o.logger,
		Metrics:        ws.Metrics,
		Now:            o.now,
		ProtectedPaths: cfg.ProtectedPaths,
	})
	if err != nil {
		ws.Close()
		return nil, err
	}
	ws.Journal = j
	ws.Tracker = tracker.New(ws.States, tracker.Options{
		Logger:  o.logger,
		Metrics: ws.Metrics,
		Now:     o.now,
	})
	ws.Checkpoints = checkpoint.New(cfg.Root, ws.States, checkpoint.Options{
		Format:  format,
		Logger:  o.logger,
		Metrics: ws.Metrics,
		Now:     o.now,
	})
	ws.Rollback = rollback.New(ws.States, ws.Checkpoints, ws.Journal, rollback.Options{
		Logger:  o.logger,
		Metrics: ws.Metrics,
		Now:     o.now,
	})

	o.logger.Debug("workspace opened", "root", cfg.Root, "backend", cfg.Backend, "format", format)
	return ws, nil
}

// Close releases the state store.
func (w *Workspace) Close() error {
	if w.sqlite != nil {
		return w.sqlite.Close()
	}
	return nil
}

// Workflows lists the workflows with saved state.
func (w *Workspace) Workflows(ctx context.Context) ([]string, error) {
	return w.States.List(ctx)
}

// State loads the state of workflowID.
func (w *Workspace) State(ctx context.Context, workflowID string) (*state.WorkflowState, error) {
	return w.States.Load(ctx, workflowID)
}

// Progress computes the progress of workflowID.
func (w *Workspace) Progress(ctx context.Context, workflowID string) (progress.Summary, error) {
	st, err := w.States.Load(ctx, workflowID)
	if err != nil {
		return progress.Summary{}, err
	}
	return progress.Compute(st), nil
}

// Checkpoint creates a checkpoint of workflowID and then prunes old
// checkpoints down to the configured retention.
func (w *Workspace) Checkpoint(ctx context.Context, workflowID, stepID string) (*checkpoint.Summary, error) {
	summary, err := w.Checkpoints.Create(ctx, workflowID, stepID)
	if err != nil {
		return nil, err
	}
	if keep := w.Config.Checkpoints.Keep; keep > 0 {
		pruned, err := w.Checkpoints.Prune(ctx, workflowID, keep)
		if err != nil {
			w.Logger.Warn("checkpoint pruning failed", "workflow", workflowID, "error", err)
		} else if pruned > 0 {
			w.Logger.Debug("pruned checkpoints", "workflow", workflowID, "deleted", pruned)
		}
	}
	return summary, nil
}
