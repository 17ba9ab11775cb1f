package rollback

import (
	"time"

	"github.com/TisoneK/agentfile-sub000/checkpoint"
	"github.com/TisoneK/agentfile-sub000/state"
)

// plan is what a rollback to a checkpoint would undo.
type plan struct {
	revertedSteps []string
	changes       []state.FileChange
}

// computePlan diffs the live state against a checkpoint snapshot.
//
// A step is reverted when it is absent from the snapshot or its status has
// advanced since (pending < in-progress < completed = failed). The file
// changes to undo are every journal entry of a live step beyond the prefix
// the snapshot already holds for that step, collected in step history
// order and then per-step recording order.
func computePlan(live *state.WorkflowState, snap checkpoint.Snapshot) plan {
	var p plan
	for _, step := range live.StepHistory {
		recorded := snap.Step(step.StepID)
		switch {
		case recorded == nil:
			p.revertedSteps = append(p.revertedSteps, step.StepID)
		case step.Status.Rank() > recorded.Status.Rank():
			p.revertedSteps = append(p.revertedSteps, step.StepID)
		}

		known := 0
		if recorded != nil {
			known = min(len(recorded.FileChanges), len(step.FileChanges))
		}
		for _, change := range step.FileChanges[known:] {
			p.changes = append(p.changes, change.Clone())
		}
	}
	return p
}

// restore builds the state a rollback persists: the snapshot's variables,
// steps and timestamps plus the live rollback bookkeeping.
func restore(live *state.WorkflowState, snap checkpoint.Snapshot) *state.WorkflowState {
	cp := snap.Clone()
	restored := &state.WorkflowState{
		Variables:   cp.Variables,
		StepHistory: cp.StepHistory,
		Timestamps:  cp.Timestamps,
	}
	if live.Rollback != nil {
		restored.Rollback = live.Rollback.Clone()
	} else {
		restored.Rollback = &state.RollbackInfo{}
	}
	if restored.Variables == nil {
		restored.Variables = map[string]any{}
	}
	if restored.StepHistory == nil {
		restored.StepHistory = []state.StepRecord{}
	}
	if restored.Timestamps == nil {
		restored.Timestamps = map[string]time.Time{}
	}
	return restored
}
