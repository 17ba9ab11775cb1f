package state

import (
	"fmt"
	"time"
)

// record is the persisted form of a WorkflowState. It carries metadata that
// callers never see; fromRecord strips it.
type record struct {
	WorkflowID  string               `json:"workflowId" yaml:"workflowId"`
	SavedAt     time.Time            `json:"savedAt" yaml:"savedAt"`
	Variables   map[string]any       `json:"variables" yaml:"variables"`
	StepHistory []StepRecord         `json:"stepHistory" yaml:"stepHistory"`
	Timestamps  map[string]time.Time `json:"timestamps" yaml:"timestamps"`
	Rollback    *RollbackInfo        `json:"rollback,omitempty" yaml:"rollback,omitempty"`
}

func toRecord(workflowID string, st *WorkflowState, savedAt time.Time) *record {
	cp := st.Clone()
	return &record{
		WorkflowID:  workflowID,
		SavedAt:     savedAt,
		Variables:   cp.Variables,
		StepHistory: cp.StepHistory,
		Timestamps:  cp.Timestamps,
		Rollback:    cp.Rollback,
	}
}

func fromRecord(rec *record) *WorkflowState {
	st := &WorkflowState{
		Variables:   rec.Variables,
		StepHistory: rec.StepHistory,
		Timestamps:  rec.Timestamps,
		Rollback:    rec.Rollback,
	}
	if st.Variables == nil {
		st.Variables = map[string]any{}
	}
	if st.StepHistory == nil {
		st.StepHistory = []StepRecord{}
	}
	if st.Timestamps == nil {
		st.Timestamps = map[string]time.Time{}
	}
	return st
}

// Validate checks the structural invariants of a state: every step has an
// identifier, a legal status, and no identifier appears twice.
func Validate(op string, st *WorkflowState) error {
	if st == nil {
		return NewError(KindInvalidState, op, "state must not be nil")
	}
	seen := make(map[string]struct{}, len(st.StepHistory))
	for i, step := range st.StepHistory {
		if step.StepID == "" {
			return NewError(KindInvalidState, op, fmt.Sprintf("step %d has no id", i))
		}
		if !step.Status.Valid() {
			return NewError(KindInvalidState, op, "step has invalid status",
				"stepId", step.StepID, "status", step.Status)
		}
		if _, dup := seen[step.StepID]; dup {
			return NewError(KindInvalidState, op, "duplicate step record", "stepId", step.StepID)
		}
		seen[step.StepID] = struct{}{}
	}
	return nil
}

// encodeState validates and encodes a state for persistence.
func encodeState(op string, format Format, workflowID string, st *WorkflowState, savedAt time.Time) ([]byte, error) {
	if err := ValidateID(op, "workflowId", workflowID); err != nil {
		return nil, err
	}
	if err := Validate(op, st); err != nil {
		return nil, err
	}
	data, err := format.Marshal(toRecord(workflowID, st, savedAt))
	if err != nil {
		return nil, WrapError(KindInvalidState, op, err, "workflowId", workflowID)
	}
	return data, nil
}

// decodeState decodes a persisted document, mapping failures to ParseError.
func decodeState(op string, format Format, workflowID string, data []byte) (*WorkflowState, error) {
	var rec record
	if err := format.Unmarshal(data, &rec); err != nil {
		return nil, WrapError(KindParseError, op, err, "workflowId", workflowID)
	}
	st := fromRecord(&rec)
	if err := Validate(op, st); err != nil {
		return nil, WrapError(KindParseError, op, err, "workflowId", workflowID)
	}
	return st, nil
}
