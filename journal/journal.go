// Package journal records the filesystem mutations a step performs and
// undoes them on request.
//
// The journal is bookkeeping only: callers perform the real I/O and then
// record it, or use WriteFile and RemoveFile which do both. Each entry is
// stored on the owning step's record in the workflow state, in the order
// it was recorded.
package journal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/TisoneK/agentfile-sub000/internal/fsutil"
	"github.com/TisoneK/agentfile-sub000/log"
	"github.com/TisoneK/agentfile-sub000/metrics"
	"github.com/TisoneK/agentfile-sub000/state"
)

// Options configures a Journal.
type Options struct {
	Logger  log.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time

	// ProtectedPaths are doublestar patterns matched against absolute
	// paths. Matching paths are never written or removed by a revert.
	ProtectedPaths []string
}

// Journal records and reverts file changes for workflows persisted in a
// state.Store.
type Journal struct {
	mu        sync.Mutex
	store     state.Store
	logger    log.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	protected []string
}

// New returns a Journal over store. It fails if a protected pattern is not
// a valid doublestar pattern.
func New(store state.Store, opts Options) (*Journal, error) {
	for _, pattern := range opts.ProtectedPaths {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid protected path pattern %q", pattern)
		}
	}
	opts.Logger = log.Component(opts.Logger, "journal")
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Journal{
		store:     store,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		now:       opts.Now,
		protected: append([]string(nil), opts.ProtectedPaths...),
	}, nil
}

// TrackFileChange appends change to the journal of stepID. The workflow
// and step must already exist. A zero RecordedAt is stamped with the
// current time.
func (j *Journal) TrackFileChange(ctx context.Context, workflowID, stepID string, change state.FileChange) error {
	const op = "journal.TrackFileChange"
	if err := state.ValidateID(op, "workflowId", workflowID); err != nil {
		return err
	}
	if err := state.ValidateID(op, "stepId", stepID); err != nil {
		return err
	}
	if err := validateChange(op, change); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	st, err := j.store.Load(ctx, workflowID)
	if err != nil {
		return err
	}
	rec := st.Step(stepID)
	if rec == nil {
		return state.NewError(state.KindNotFound, op, "step not found",
			"workflowId", workflowID, "stepId", stepID)
	}

	now := j.now().UTC()
	change = change.Clone()
	if change.RecordedAt.IsZero() {
		change.RecordedAt = now
	}
	rec.FileChanges = append(rec.FileChanges, change)
	st.Touch(now)

	if err := j.store.Save(ctx, workflowID, st); err != nil {
		return err
	}
	j.logger.Debug("file change recorded",
		"workflow", workflowID, "step", stepID,
		"operation", change.Operation, "path", change.Path)
	return nil
}

// Changes returns the journal of stepID in recording order.
func (j *Journal) Changes(ctx context.Context, workflowID, stepID string) ([]state.FileChange, error) {
	const op = "journal.Changes"
	if err := state.ValidateID(op, "workflowId", workflowID); err != nil {
		return nil, err
	}
	if err := state.ValidateID(op, "stepId", stepID); err != nil {
		return nil, err
	}
	st, err := j.store.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	rec := st.Step(stepID)
	if rec == nil {
		return nil, state.NewError(state.KindNotFound, op, "step not found",
			"workflowId", workflowID, "stepId", stepID)
	}
	changes := make([]state.FileChange, len(rec.FileChanges))
	for i, c := range rec.FileChanges {
		changes[i] = c.Clone()
	}
	return changes, nil
}

// Capture builds the FileChange for a mutation the caller is about to
// perform on path, reading the content that a revert must restore. It
// must be called before the mutation. A create over an existing file is
// captured as a modify, and a modify of a missing file as a create, so
// the revert always returns the path to its current condition.
func (j *Journal) Capture(operation state.Operation, path string) (state.FileChange, error) {
	const op = "journal.Capture"
	change := state.FileChange{Operation: operation, Path: path}
	if err := validateChange(op, change); err != nil {
		return state.FileChange{}, err
	}
	change.RecordedAt = j.now().UTC()

	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if operation == state.OpCreate {
			change.Operation = state.OpModify
		}
		change.SetPreviousContent(content)
	case errors.Is(err, fs.ErrNotExist):
		if operation == state.OpDelete {
			return state.FileChange{}, state.NewError(state.KindNotFound, op, "file to delete does not exist", "path", path)
		}
		change.Operation = state.OpCreate
	default:
		return state.FileChange{}, state.FSError(op, err, "path", path)
	}
	return change, nil
}

// WriteFile captures path, writes data to it atomically and records the
// change against stepID.
func (j *Journal) WriteFile(ctx context.Context, workflowID, stepID, path string, data []byte, perm os.FileMode) error {
	const op = "journal.WriteFile"
	change, err := j.Capture(state.OpModify, path)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(path, data, perm); err != nil {
		return state.FSError(op, err, "path", path)
	}
	return j.TrackFileChange(ctx, workflowID, stepID, change)
}

// RemoveFile captures path, removes it and records the deletion against
// stepID.
func (j *Journal) RemoveFile(ctx context.Context, workflowID, stepID, path string) error {
	const op = "journal.RemoveFile"
	change, err := j.Capture(state.OpDelete, path)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return state.FSError(op, err, "path", path)
	}
	return j.TrackFileChange(ctx, workflowID, stepID, change)
}

// Protected reports whether path matches a protected pattern.
func (j *Journal) Protected(path string) bool {
	if len(j.protected) == 0 {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	for _, pattern := range j.protected {
		if matched, _ := doublestar.PathMatch(pattern, abs); matched {
			return true
		}
	}
	return false
}

func validateChange(op string, change state.FileChange) error {
	if !change.Operation.Valid() {
		return state.NewError(state.KindInvalidChange, op, "file change has no valid operation",
			"operation", change.Operation, "path", change.Path)
	}
	if change.Path == "" {
		return state.NewError(state.KindInvalidChange, op, "file change has no path",
			"operation", change.Operation)
	}
	if _, err := change.PreviousBytes(); err != nil {
		return state.WrapError(state.KindInvalidChange, op, err, "path", change.Path)
	}
	return nil
}
