package journal

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/TisoneK/agentfile-sub000/internal/fsutil"
	"github.com/TisoneK/agentfile-sub000/state"
)

// Outcome is the result of reverting one file change.
type Outcome struct {
	Change   state.FileChange `json:"change"`
	Reverted bool             `json:"reverted"`
	Err      error            `json:"-"`
}

// RevertResult aggregates the outcomes of a revert.
type RevertResult struct {
	RevertedCount int       `json:"revertedCount"`
	FailedCount   int       `json:"failedCount"`
	Outcomes      []Outcome `json:"outcomes"`
}

// Failed returns the outcomes that did not revert.
func (r *RevertResult) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if !o.Reverted {
			failed = append(failed, o)
		}
	}
	return failed
}

// RevertFileChanges undoes changes last to first. A create is undone by
// removing the path, a modify or delete by writing back the previous
// content. Each change is reverted independently: a failure is recorded
// in its Outcome and the remaining changes are still processed. Outcomes
// are listed in the order they were attempted.
//
// The returned error is non-nil only if ctx was cancelled, in which case
// the result covers the changes attempted before cancellation.
func (j *Journal) RevertFileChanges(ctx context.Context, changes []state.FileChange) (*RevertResult, error) {
	result := &RevertResult{Outcomes: make([]Outcome, 0, len(changes))}
	for i := len(changes) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			j.metrics.FilesReverted(result.RevertedCount, result.FailedCount)
			return result, err
		}
		change := changes[i]
		outcome := Outcome{Change: change.Clone()}
		if err := j.revert(change); err != nil {
			outcome.Err = err
			result.FailedCount++
			j.logger.Warn("file revert failed", "path", change.Path, "operation", change.Operation, "error", err)
		} else {
			outcome.Reverted = true
			result.RevertedCount++
			j.logger.Debug("file reverted", "path", change.Path, "operation", change.Operation)
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}
	j.metrics.FilesReverted(result.RevertedCount, result.FailedCount)
	return result, nil
}

func (j *Journal) revert(change state.FileChange) error {
	const op = "journal.RevertFileChanges"
	if err := validateChange(op, change); err != nil {
		return err
	}
	if j.Protected(change.Path) {
		return state.NewError(state.KindPermissionDenied, op, "path is protected", "path", change.Path)
	}

	switch change.Operation {
	case state.OpCreate:
		if err := os.Remove(change.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return state.FSError(op, err, "path", change.Path)
		}
		return nil
	default:
		if change.PreviousContent == nil {
			return state.NewError(state.KindInvalidChange, op, "no previous content to restore",
				"operation", change.Operation, "path", change.Path)
		}
		perm := os.FileMode(0644)
		if info, err := os.Stat(change.Path); err == nil {
			perm = info.Mode().Perm()
		}
		content, err := change.PreviousBytes()
		if err != nil {
			return state.WrapError(state.KindInvalidChange, op, err, "path", change.Path)
		}
		if err := fsutil.WriteFileAtomic(change.Path, content, perm); err != nil {
			return state.FSError(op, err, "path", change.Path)
		}
		return nil
	}
}
