// Package rollback restores a workflow to a checkpoint, undoing both its
// recorded progress and the journaled file changes made since.
//
// A rollback runs in a fixed order: select the checkpoint, collect the
// file changes made after it, revert them, restore the state and append
// the rollback to the state's history. File reverts are best effort; a
// file that cannot be reverted degrades the outcome to partial but the
// state is still restored. Re-running a rollback against the same
// checkpoint is safe.
package rollback

import (
	"context"
	"sync"
	"time"

	"github.com/TisoneK/agentfile-sub000/checkpoint"
	"github.com/TisoneK/agentfile-sub000/journal"
	"github.com/TisoneK/agentfile-sub000/log"
	"github.com/TisoneK/agentfile-sub000/metrics"
	"github.com/TisoneK/agentfile-sub000/state"
)

// Options configures an Engine.
type Options struct {
	Logger  log.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Engine orchestrates rollbacks.
type Engine struct {
	mu          sync.Mutex
	states      state.Store
	checkpoints *checkpoint.Store
	journal     *journal.Journal
	logger      log.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

// Result describes a finished rollback.
type Result struct {
	WorkflowID    string               `json:"workflowId"`
	CheckpointID  string               `json:"checkpointId"`
	StepsReverted int                  `json:"stepsReverted"`
	FilesReverted int                  `json:"filesReverted"`
	FilesFailed   int                  `json:"filesFailed"`
	Status        state.RollbackStatus `json:"status"`
	RevertedSteps []string             `json:"revertedSteps"`
	Outcomes      []journal.Outcome    `json:"outcomes,omitempty"`
}

// New returns an Engine.
func New(states state.Store, checkpoints *checkpoint.Store, j *journal.Journal, opts Options) *Engine {
	opts.Logger = log.Component(opts.Logger, "rollback")
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		states:      states,
		checkpoints: checkpoints,
		journal:     j,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		now:         opts.Now,
	}
}

// RollbackToLastCheckpoint rolls workflowID back to its newest
// checkpoint. It fails with RollbackError if there is none.
func (e *Engine) RollbackToLastCheckpoint(ctx context.Context, workflowID string) (*Result, error) {
	const op = "rollback.ToLastCheckpoint"
	cp, err := e.checkpoints.Latest(ctx, workflowID)
	if err != nil {
		return nil, state.WrapError(state.KindRollback, op, err, "workflowId", workflowID)
	}
	return e.rollback(ctx, op, workflowID, cp)
}

// RollbackToCheckpoint rolls workflowID back to checkpointID. Failing to
// load either the checkpoint or the live state is a RollbackError and
// changes nothing.
func (e *Engine) RollbackToCheckpoint(ctx context.Context, workflowID, checkpointID string) (*Result, error) {
	const op = "rollback.ToCheckpoint"
	cp, err := e.checkpoints.Load(ctx, workflowID, checkpointID)
	if err != nil {
		return nil, state.WrapError(state.KindRollback, op, err,
			"workflowId", workflowID, "checkpointId", checkpointID)
	}
	return e.rollback(ctx, op, workflowID, cp)
}

func (e *Engine) rollback(ctx context.Context, op, workflowID string, cp *checkpoint.Checkpoint) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	live, err := e.states.Load(ctx, workflowID)
	if err != nil {
		return nil, state.WrapError(state.KindRollback, op, err,
			"workflowId", workflowID, "checkpointId", cp.CheckpointID)
	}

	p := computePlan(live, cp.State)
	e.logger.Info("rolling back",
		"workflow", workflowID, "checkpoint", cp.CheckpointID,
		"steps", len(p.revertedSteps), "files", len(p.changes))

	// Once files start changing the restored state must be saved even if
	// ctx is cancelled, or the recorded progress would disagree with disk.
	saveCtx := context.WithoutCancel(ctx)

	reverted, err := e.journal.RevertFileChanges(ctx, p.changes)
	if err != nil {
		// Restore the state anyway so recorded progress matches the
		// checkpoint; unattempted files count as failed.
		e.logger.Warn("file revert interrupted", "workflow", workflowID, "error", err)
	}
	failed := len(p.changes) - reverted.RevertedCount

	status := state.RollbackSuccess
	if failed > 0 {
		status = state.RollbackPartial
	}

	now := e.now().UTC()
	restored := restore(live, cp.State)
	restored.Rollback.LastRollbackAt = &now
	restored.Rollback.LastRollbackCheckpointID = cp.CheckpointID
	restored.Rollback.RollbackHistory = append(restored.Rollback.RollbackHistory, state.RollbackRecord{
		RollbackAt:    now,
		CheckpointID:  cp.CheckpointID,
		StepsReverted: len(p.revertedSteps),
		FilesReverted: reverted.RevertedCount,
		Status:        status,
	})
	if err := e.states.Save(saveCtx, workflowID, restored); err != nil {
		e.metrics.Rollback(state.RollbackFailed)
		return nil, state.WrapError(state.KindRollback, op, err,
			"workflowId", workflowID, "checkpointId", cp.CheckpointID)
	}
	e.metrics.Rollback(status)

	result := &Result{
		WorkflowID:    workflowID,
		CheckpointID:  cp.CheckpointID,
		StepsReverted: len(p.revertedSteps),
		FilesReverted: reverted.RevertedCount,
		FilesFailed:   failed,
		Status:        status,
		RevertedSteps: p.revertedSteps,
		Outcomes:      reverted.Outcomes,
	}
	if result.RevertedSteps == nil {
		result.RevertedSteps = []string{}
	}
	if status == state.RollbackPartial {
		e.logger.Warn("rollback partially completed",
			"workflow", workflowID, "checkpoint", cp.CheckpointID,
			"files_reverted", result.FilesReverted, "files_failed", failed)
	} else {
		e.logger.Info("rollback completed",
			"workflow", workflowID, "checkpoint", cp.CheckpointID,
			"steps_reverted", result.StepsReverted, "files_reverted", result.FilesReverted)
	}
	return result, nil
}
