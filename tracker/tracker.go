// Package tracker enforces the step lifecycle of a workflow and keeps its
// step history consistent.
//
// Per step the lifecycle is
//
//	(absent) -> pending -> in-progress -> completed | failed
//
// and a terminal step may re-enter in-progress to retry. Every mutating
// call is a read-modify-write against a state.Store. A Tracker serializes
// its own calls; separate processes driving the same workflow must
// coordinate externally.
//
// Example usage:
//
//	tr := tracker.New(state.NewFileStore(root), tracker.Options{})
//	tr.StartStep(ctx, "release-1.4", "build", nil)
//	tr.CompleteStep(ctx, "release-1.4", "build", map[string]any{"artifact": "dist/app"})
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TisoneK/agentfile-sub000/log"
	"github.com/TisoneK/agentfile-sub000/metrics"
	"github.com/TisoneK/agentfile-sub000/state"
)

// Keys in the data map given to CompleteStep that carry meaning.
const (
	DataKeyError     = "error"
	DataKeyStartTime = "startTime"
)

// Options configures a Tracker.
type Options struct {
	Logger  log.Logger
	Metrics *metrics.Metrics

	// Now overrides the clock. Times are always stored in UTC.
	Now func() time.Time
}

// Tracker records step transitions for any number of workflows.
type Tracker struct {
	mu      sync.Mutex
	store   state.Store
	logger  log.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// StepResult is the outcome of a step transition.
type StepResult struct {
	StepID    string           `json:"stepId"`
	Status    state.StepStatus `json:"status"`
	StartTime *time.Time       `json:"startTime,omitempty"`
	EndTime   *time.Time       `json:"endTime,omitempty"`
	Duration  *int64           `json:"duration,omitempty"`
}

// New returns a Tracker persisting through store.
func New(store state.Store, opts Options) *Tracker {
	opts.Logger = log.Component(opts.Logger, "tracker")
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{
		store:   store,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
}

// Store returns the store the tracker persists through.
func (t *Tracker) Store() state.Store {
	return t.store
}

// StartStep moves stepID to in-progress, appending a record if the step is
// new. The workflow state is created if it does not exist yet. A fresh
// start time is stamped unless the step is already in progress, and any
// previous end time, duration and error are cleared. data is merged into
// the step's data.
func (t *Tracker) StartStep(ctx context.Context, workflowID, stepID string, data map[string]any) (*StepResult, error) {
	const op = "tracker.StartStep"
	if err := validateIDs(op, workflowID, stepID); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.timestamp()
	st, err := t.loadOrCreate(ctx, op, workflowID, now)
	if err != nil {
		return nil, err
	}

	rec := st.Step(stepID)
	if rec == nil {
		st.StepHistory = append(st.StepHistory, state.StepRecord{StepID: stepID, Status: state.StatusPending})
		rec = &st.StepHistory[len(st.StepHistory)-1]
	}
	if rec.Status != state.StatusInProgress || rec.StartTime == nil {
		rec.StartTime = &now
	}
	rec.Status = state.StatusInProgress
	rec.EndTime = nil
	rec.Duration = nil
	rec.Error = nil
	delete(rec.Data, DataKeyError)
	rec.Data = mergeData(rec.Data, data)
	st.Touch(now)

	if err := t.store.Save(ctx, workflowID, st); err != nil {
		return nil, err
	}
	t.metrics.StepTransition(state.StatusInProgress)
	t.logger.Info("step started", "workflow", workflowID, "step", stepID)
	return resultFor(rec), nil
}

// CompleteStep finishes stepID. The workflow state must already exist, but
// the step need not have been started: an unseen step is recorded directly
// with data["startTime"] as its start if given, else a zero duration.
// The step fails if data["error"] is non-nil and completes otherwise.
func (t *Tracker) CompleteStep(ctx context.Context, workflowID, stepID string, data map[string]any) (*StepResult, error) {
	const op = "tracker.CompleteStep"
	if err := validateIDs(op, workflowID, stepID); err != nil {
		return nil, err
	}
	suppliedStart, err := startTimeFromData(op, data)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st, err := t.store.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	now := t.timestamp()
	rec := st.Step(stepID)
	if rec == nil {
		st.StepHistory = append(st.StepHistory, state.StepRecord{StepID: stepID, Status: state.StatusPending})
		rec = &st.StepHistory[len(st.StepHistory)-1]
	}
	if rec.StartTime == nil {
		if suppliedStart != nil {
			rec.StartTime = suppliedStart
		} else {
			start := now
			rec.StartTime = &start
		}
	}

	status := state.StatusCompleted
	rec.Error = nil
	if errValue, ok := data[DataKeyError]; ok && errValue != nil {
		status = state.StatusFailed
		rec.Error = errorPayload(errValue)
	}
	rec.Status = status
	rec.Data = mergeData(rec.Data, data)
	if status == state.StatusFailed {
		rec.Data[DataKeyError] = rec.Error
	} else {
		delete(rec.Data, DataKeyError)
	}
	finish(rec, now)
	st.Timestamps[state.TimestampLastStepComplete] = now
	st.Touch(now)

	if err := t.store.Save(ctx, workflowID, st); err != nil {
		return nil, err
	}
	t.metrics.StepTransition(status)
	if status == state.StatusFailed {
		t.logger.Warn("step failed", "workflow", workflowID, "step", stepID, "error", rec.Error)
	} else {
		t.logger.Info("step completed", "workflow", workflowID, "step", stepID, "duration_ms", *rec.Duration)
	}
	return resultFor(rec), nil
}

// UpdateStatus sets the status of stepID directly. The status is checked
// before storage is touched. Entering in-progress stamps a start time;
// entering completed or failed stamps the end time and duration.
func (t *Tracker) UpdateStatus(ctx context.Context, workflowID, stepID string, status state.StepStatus) (*StepResult, error) {
	const op = "tracker.UpdateStatus"
	if err := validateIDs(op, workflowID, stepID); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, state.NewError(state.KindInvalidStatus, op, "unknown step status",
			"workflowId", workflowID, "stepId", stepID, "status", status)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.timestamp()
	st, err := t.loadOrCreate(ctx, op, workflowID, now)
	if err != nil {
		return nil, err
	}

	rec := st.Step(stepID)
	if rec == nil {
		st.StepHistory = append(st.StepHistory, state.StepRecord{StepID: stepID, Status: state.StatusPending})
		rec = &st.StepHistory[len(st.StepHistory)-1]
	}
	previous := rec.Status
	if rec.Data == nil {
		rec.Data = map[string]any{}
	}
	rec.Status = status
	if status != state.StatusFailed {
		rec.Error = nil
	}

	if previous != status {
		switch {
		case status == state.StatusInProgress:
			rec.StartTime = &now
			rec.EndTime = nil
			rec.Duration = nil
		case status.Terminal():
			finish(rec, now)
			st.Timestamps[state.TimestampLastStepComplete] = now
		}
	}
	st.Touch(now)

	if err := t.store.Save(ctx, workflowID, st); err != nil {
		return nil, err
	}
	if previous != status {
		t.metrics.StepTransition(status)
	}
	t.logger.Debug("step status updated", "workflow", workflowID, "step", stepID, "from", previous, "to", status)
	return resultFor(rec), nil
}

// GetStepStatus returns a copy of the record for stepID. It fails with
// NotFound if the step is absent, and propagates the load error if the
// workflow itself is absent.
func (t *Tracker) GetStepStatus(ctx context.Context, workflowID, stepID string) (*state.StepRecord, error) {
	const op = "tracker.GetStepStatus"
	if err := validateIDs(op, workflowID, stepID); err != nil {
		return nil, err
	}
	st, err := t.store.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	rec := st.Step(stepID)
	if rec == nil {
		return nil, state.NewError(state.KindNotFound, op, "step not found",
			"workflowId", workflowID, "stepId", stepID)
	}
	cp := rec.Clone()
	return &cp, nil
}

// SetVariable sets a workflow variable, creating the state if needed.
func (t *Tracker) SetVariable(ctx context.Context, workflowID, key string, value any) error {
	const op = "tracker.SetVariable"
	if err := state.ValidateID(op, "workflowId", workflowID); err != nil {
		return err
	}
	if key == "" {
		return state.NewError(state.KindInvalidIdentifier, op, "variable key must not be empty", "workflowId", workflowID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.timestamp()
	st, err := t.loadOrCreate(ctx, op, workflowID, now)
	if err != nil {
		return err
	}
	st.Variables = mergeData(st.Variables, map[string]any{key: value})
	st.Touch(now)
	return t.store.Save(ctx, workflowID, st)
}

// Variables returns a copy of the workflow's variables.
func (t *Tracker) Variables(ctx context.Context, workflowID string) (map[string]any, error) {
	const op = "tracker.Variables"
	if err := state.ValidateID(op, "workflowId", workflowID); err != nil {
		return nil, err
	}
	st, err := t.store.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return state.CloneMap(st.Variables), nil
}

func (t *Tracker) timestamp() time.Time {
	return t.now().UTC()
}

func (t *Tracker) loadOrCreate(ctx context.Context, op, workflowID string, now time.Time) (*state.WorkflowState, error) {
	st, err := t.store.Load(ctx, workflowID)
	if err == nil {
		if st.Timestamps == nil {
			st.Timestamps = map[string]time.Time{}
		}
		return st, nil
	}
	if !errors.Is(err, state.ErrNotFound) {
		return nil, err
	}
	t.logger.Debug("creating workflow state", "workflow", workflowID, "op", op)
	return state.New(now), nil
}

func validateIDs(op, workflowID, stepID string) error {
	if err := state.ValidateID(op, "workflowId", workflowID); err != nil {
		return err
	}
	return state.ValidateID(op, "stepId", stepID)
}

// finish stamps the end time and, when the start is known, the duration.
func finish(rec *state.StepRecord, now time.Time) {
	end := now
	rec.EndTime = &end
	rec.Duration = nil
	if rec.StartTime != nil {
		ms := end.Sub(*rec.StartTime).Milliseconds()
		if ms < 0 {
			ms = 0
		}
		rec.Duration = &ms
	}
}

func mergeData(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range state.CloneMap(src) {
		dst[k] = v
	}
	return dst
}

func startTimeFromData(op string, data map[string]any) (*time.Time, error) {
	raw, ok := data[DataKeyStartTime]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case time.Time:
		t := v.UTC()
		return &t, nil
	case *time.Time:
		if v == nil {
			return nil, nil
		}
		t := v.UTC()
		return &t, nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, state.WrapError(state.KindInvalidState, op,
				fmt.Errorf("invalid startTime %q: %w", v, err))
		}
		t = t.UTC()
		return &t, nil
	default:
		return nil, state.NewError(state.KindInvalidState, op,
			fmt.Sprintf("startTime must be a time or RFC 3339 string, got %T", raw))
	}
}

// errorPayload makes an error value safe to persist.
func errorPayload(v any) any {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return state.CloneMap(map[string]any{"v": v})["v"]
}

func resultFor(rec *state.StepRecord) *StepResult {
	cp := rec.Clone()
	return &StepResult{
		StepID:    cp.StepID,
		Status:    cp.Status,
		StartTime: cp.StartTime,
		EndTime:   cp.EndTime,
		Duration:  cp.Duration,
	}
}
