package rollback

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"time"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/TisoneK/agentfile-sub000/checkpoint"
	"github.com/TisoneK/agentfile-sub000/state"
)

const diffContextLines = 3

// Plan is a dry run of a rollback.
type Plan struct {
	WorkflowID          string     `json:"workflowId"`
	CheckpointID        string     `json:"checkpointId"`
	CheckpointCreatedAt time.Time  `json:"checkpointCreatedAt"`
	RevertedSteps       []string   `json:"revertedSteps"`
	Files               []FilePlan `json:"files"`
}

// FilePlan describes what a rollback would do to one path. Files are
// listed in the order the rollback would process them.
type FilePlan struct {
	Path      string          `json:"path"`
	Operation state.Operation `json:"operation"`
	Protected bool            `json:"protected"`

	// Remove is set when the rollback would delete the path.
	Remove bool `json:"remove"`

	// Diff is a unified diff from the file as it is now to the content
	// this change restores. It is empty when the two are equal. For a path
	// changed several times, the last entry listed is the final content.
	Diff string `json:"diff,omitempty"`

	// Binary is set instead of Diff when either side is binary and they
	// differ.
	Binary bool `json:"binary,omitempty"`
}

// Preview computes what rolling workflowID back to checkpointID would do
// without touching the filesystem or the state. An empty checkpointID
// selects the newest checkpoint.
func (e *Engine) Preview(ctx context.Context, workflowID, checkpointID string) (*Plan, error) {
	const op = "rollback.Preview"
	var (
		cp  *checkpoint.Checkpoint
		err error
	)
	if checkpointID == "" {
		cp, err = e.checkpoints.Latest(ctx, workflowID)
	} else {
		cp, err = e.checkpoints.Load(ctx, workflowID, checkpointID)
	}
	if err != nil {
		return nil, state.WrapError(state.KindRollback, op, err,
			"workflowId", workflowID, "checkpointId", checkpointID)
	}
	live, err := e.states.Load(ctx, workflowID)
	if err != nil {
		return nil, state.WrapError(state.KindRollback, op, err,
			"workflowId", workflowID, "checkpointId", cp.CheckpointID)
	}

	p := computePlan(live, cp.State)
	plan := &Plan{
		WorkflowID:          workflowID,
		CheckpointID:        cp.CheckpointID,
		CheckpointCreatedAt: cp.CreatedAt,
		RevertedSteps:       p.revertedSteps,
		Files:               []FilePlan{},
	}
	if plan.RevertedSteps == nil {
		plan.RevertedSteps = []string{}
	}
	for i := len(p.changes) - 1; i >= 0; i-- {
		fp, err := e.planFile(p.changes[i])
		if err != nil {
			return nil, state.WrapError(state.KindRollback, op, err, "workflowId", workflowID)
		}
		plan.Files = append(plan.Files, fp)
	}
	return plan, nil
}

func (e *Engine) planFile(change state.FileChange) (FilePlan, error) {
	fp := FilePlan{
		Path:      change.Path,
		Operation: change.Operation,
		Protected: e.journal.Protected(change.Path),
		Remove:    change.Operation == state.OpCreate,
	}

	var current []byte
	data, err := os.ReadFile(change.Path)
	switch {
	case err == nil:
		current = data
	case errors.Is(err, fs.ErrNotExist):
	default:
		return fp, err
	}

	target, err := change.PreviousBytes()
	if err != nil {
		return fp, err
	}
	if bytes.Equal(current, target) {
		return fp, nil
	}
	if change.ContentEncoding == state.ContentEncodingBase64 || !utf8.Valid(current) {
		fp.Binary = true
		return fp, nil
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(current)),
		B:        difflib.SplitLines(string(target)),
		FromFile: change.Path,
		ToFile:   change.Path,
		FromDate: "current",
		ToDate:   "after rollback",
		Context:  diffContextLines,
	})
	if err != nil {
		return fp, err
	}
	fp.Diff = diff
	return fp, nil
}
