package rollback

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/TisoneK/agentfile-sub000/state"
)

// repeatedRollbackThreshold is how many rollbacks to one checkpoint earn a
// recommendation.
const repeatedRollbackThreshold = 2

// Status is the rollback projection of a workflow state.
type Status struct {
	WorkflowID               string     `json:"workflowId"`
	LastRollbackAt           *time.Time `json:"lastRollbackAt"`
	LastRollbackCheckpointID string     `json:"lastRollbackCheckpointId,omitempty"`
	TotalRollbacks           int        `json:"totalRollbacks"`
}

// ReportSummary aggregates a workflow's rollback history.
type ReportSummary struct {
	TotalRollbacks      int                  `json:"totalRollbacks"`
	SuccessfulRollbacks int                  `json:"successfulRollbacks"`
	PartialRollbacks    int                  `json:"partialRollbacks"`
	FailedRollbacks     int                  `json:"failedRollbacks"`
	StepsReverted       int                  `json:"stepsReverted"`
	FilesReverted       int                  `json:"filesReverted"`
	LastRollbackAt      *time.Time           `json:"lastRollbackAt"`
	LastStatus          state.RollbackStatus `json:"lastStatus,omitempty"`
	CheckpointCounts    map[string]int       `json:"checkpointCounts"`
}

// Report summarizes a workflow's rollback history with recommendations.
type Report struct {
	WorkflowID      string                 `json:"workflowId"`
	Summary         ReportSummary          `json:"summary"`
	History         []state.RollbackRecord `json:"history"`
	Recommendations []string               `json:"recommendations"`
}

// Status returns the rollback bookkeeping of workflowID. A workflow that
// has never been rolled back, or has no state yet, reports zero values.
func (e *Engine) Status(ctx context.Context, workflowID string) (*Status, error) {
	info, err := e.rollbackInfo(ctx, "rollback.Status", workflowID)
	if err != nil {
		return nil, err
	}
	status := &Status{WorkflowID: workflowID}
	if info != nil {
		status.LastRollbackAt = info.LastRollbackAt
		status.LastRollbackCheckpointID = info.LastRollbackCheckpointID
		status.TotalRollbacks = len(info.RollbackHistory)
	}
	return status, nil
}

// Report summarizes the rollback history of workflowID.
func (e *Engine) Report(ctx context.Context, workflowID string) (*Report, error) {
	info, err := e.rollbackInfo(ctx, "rollback.Report", workflowID)
	if err != nil {
		return nil, err
	}
	report := &Report{
		WorkflowID:      workflowID,
		History:         []state.RollbackRecord{},
		Recommendations: []string{},
		Summary:         ReportSummary{CheckpointCounts: map[string]int{}},
	}
	if info == nil {
		return report, nil
	}

	s := &report.Summary
	for _, rec := range info.RollbackHistory {
		s.TotalRollbacks++
		s.StepsReverted += rec.StepsReverted
		s.FilesReverted += rec.FilesReverted
		s.CheckpointCounts[rec.CheckpointID]++
		switch rec.Status {
		case state.RollbackSuccess:
			s.SuccessfulRollbacks++
		case state.RollbackPartial:
			s.PartialRollbacks++
		case state.RollbackFailed:
			s.FailedRollbacks++
		}
	}
	if n := len(info.RollbackHistory); n > 0 {
		last := info.RollbackHistory[n-1]
		at := last.RollbackAt
		s.LastRollbackAt = &at
		s.LastStatus = last.Status
	}
	report.History = append(report.History, info.RollbackHistory...)
	report.Recommendations = recommendations(s)
	return report, nil
}

func recommendations(s *ReportSummary) []string {
	recs := []string{}

	ids := make([]string, 0, len(s.CheckpointCounts))
	for id, n := range s.CheckpointCounts {
		if n >= repeatedRollbackThreshold {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		recs = append(recs, fmt.Sprintf(
			"Rolled back to checkpoint %s %d times; repeated rollbacks to the same checkpoint may indicate a persistently failing step.",
			id, s.CheckpointCounts[id]))
	}

	if s.PartialRollbacks > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d rollback(s) left files unreverted; check the journaled paths and clean them up by hand.",
			s.PartialRollbacks))
	}
	if s.LastStatus != "" && s.LastStatus != state.RollbackSuccess {
		recs = append(recs, "The most recent rollback did not complete cleanly; verify the working tree before resuming the workflow.")
	}
	return recs
}

func (e *Engine) rollbackInfo(ctx context.Context, op, workflowID string) (*state.RollbackInfo, error) {
	if err := state.ValidateID(op, "workflowId", workflowID); err != nil {
		return nil, err
	}
	st, err := e.states.Load(ctx, workflowID)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return st.Rollback, nil
}
