// Package checkpoint stores immutable point-in-time snapshots of workflow
// state.
//
// A checkpoint is written once and never modified; it can only be read or
// deleted. Checkpoint identifiers are ULIDs, so sorting them lexically
// sorts them by creation time.
package checkpoint

import (
	"time"

	"github.com/TisoneK/agentfile-sub000/progress"
	"github.com/TisoneK/agentfile-sub000/state"
)

// Snapshot is the copy of workflow state held by a checkpoint. Rollback
// bookkeeping is not part of a snapshot.
type Snapshot struct {
	Variables   map[string]any       `json:"variables" yaml:"variables"`
	StepHistory []state.StepRecord   `json:"stepHistory" yaml:"stepHistory"`
	Timestamps  map[string]time.Time `json:"timestamps" yaml:"timestamps"`
}

// Metadata is computed when the checkpoint is taken so listings need not
// walk the snapshot.
type Metadata struct {
	TotalSteps     int `json:"totalSteps" yaml:"totalSteps"`
	CompletedSteps int `json:"completedSteps" yaml:"completedSteps"`
	Progress       int `json:"progress" yaml:"progress"`
}

// Checkpoint is one stored snapshot.
type Checkpoint struct {
	CheckpointID string    `json:"checkpointId" yaml:"checkpointId"`
	WorkflowID   string    `json:"workflowId" yaml:"workflowId"`
	CreatedAt    time.Time `json:"createdAt" yaml:"createdAt"`
	StepID       string    `json:"stepId,omitempty" yaml:"stepId,omitempty"`
	State        Snapshot  `json:"state" yaml:"state"`
	Metadata     Metadata  `json:"metadata" yaml:"metadata"`
}

// Summary is the listing view of a checkpoint.
type Summary struct {
	CheckpointID string    `json:"checkpointId"`
	WorkflowID   string    `json:"workflowId"`
	CreatedAt    time.Time `json:"createdAt"`
	StepID       string    `json:"stepId,omitempty"`
	Metadata     Metadata  `json:"metadata"`
}

// NewSnapshot deep-copies the snapshot fields of st.
func NewSnapshot(st *state.WorkflowState) Snapshot {
	cp := st.Clone()
	return Snapshot{
		Variables:   cp.Variables,
		StepHistory: cp.StepHistory,
		Timestamps:  cp.Timestamps,
	}
}

// NewMetadata computes listing metadata for st.
func NewMetadata(st *state.WorkflowState) Metadata {
	p := progress.Compute(st)
	return Metadata{
		TotalSteps:     p.TotalSteps,
		CompletedSteps: p.CompletedSteps,
		Progress:       p.ProgressPercentage,
	}
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{
		Variables:   state.CloneMap(s.Variables),
		StepHistory: state.CloneSteps(s.StepHistory),
		Timestamps:  state.CloneTimestamps(s.Timestamps),
	}
}

// Step returns the snapshot's record for stepID, or nil.
func (s Snapshot) Step(stepID string) *state.StepRecord {
	for i := range s.StepHistory {
		if s.StepHistory[i].StepID == stepID {
			return &s.StepHistory[i]
		}
	}
	return nil
}

// Clone returns a deep copy of c.
func (c *Checkpoint) Clone() *Checkpoint {
	cp := *c
	cp.State = c.State.Clone()
	return &cp
}

// Summary returns the listing view of c.
func (c *Checkpoint) Summary() Summary {
	return Summary{
		CheckpointID: c.CheckpointID,
		WorkflowID:   c.WorkflowID,
		CreatedAt:    c.CreatedAt,
		StepID:       c.StepID,
		Metadata:     c.Metadata,
	}
}

// normalize replaces absent collections with empty ones after decoding.
func (c *Checkpoint) normalize() {
	if c.State.Variables == nil {
		c.State.Variables = map[string]any{}
	}
	if c.State.StepHistory == nil {
		c.State.StepHistory = []state.StepRecord{}
	}
	if c.State.Timestamps == nil {
		c.State.Timestamps = map[string]time.Time{}
	}
}
