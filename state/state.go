// Package state holds the workflow state data model and its durable
// stores.
//
// A WorkflowState is the recorded progress of one workflow run: its
// variables, the ordered history of steps, lifecycle timestamps and
// rollback bookkeeping. Exactly one WorkflowState exists per workflow
// identifier. It is created lazily on first save and removed only by an
// explicit Delete.
//
// Stores hand out deep copies. Mutating a loaded state never changes what
// is persisted until it is saved again.
//
//	store := state.NewFileStore(root)
//	st, err := store.Load(ctx, "release-1.4")
//	if state.IsNotFound(err) {
//	    st = state.New(time.Now().UTC())
//	}
package state

import (
	"encoding/base64"
	"fmt"
	"time"
	"unicode"
	"unicode/utf8"
)

// StepStatus is the lifecycle status of a step.
type StepStatus string

const (
	StatusPending    StepStatus = "pending"
	StatusInProgress StepStatus = "in-progress"
	StatusCompleted  StepStatus = "completed"
	StatusFailed     StepStatus = "failed"
)

// Valid reports whether s is one of the four legal statuses.
func (s StepStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s ends a step attempt.
func (s StepStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Rank orders statuses along the lifecycle. Completed and failed share the
// highest rank.
func (s StepStatus) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusInProgress:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	}
	return -1
}

// Timestamp keys maintained in WorkflowState.Timestamps.
const (
	TimestampCreated          = "created"
	TimestampUpdated          = "updated"
	TimestampLastStepComplete = "lastStepComplete"
)

// Operation is the kind of filesystem mutation recorded in a FileChange.
type Operation string

const (
	OpCreate Operation = "create"
	OpModify Operation = "modify"
	OpDelete Operation = "delete"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	return op == OpCreate || op == OpModify || op == OpDelete
}

// RollbackStatus is the outcome of one rollback.
type RollbackStatus string

const (
	RollbackSuccess RollbackStatus = "success"
	RollbackPartial RollbackStatus = "partial"
	RollbackFailed  RollbackStatus = "failed"
)

// WorkflowState is the recorded progress of one workflow.
type WorkflowState struct {
	Variables   map[string]any       `json:"variables" yaml:"variables"`
	StepHistory []StepRecord         `json:"stepHistory" yaml:"stepHistory"`
	Timestamps  map[string]time.Time `json:"timestamps" yaml:"timestamps"`
	Rollback    *RollbackInfo        `json:"rollback,omitempty" yaml:"rollback,omitempty"`
}

// StepRecord is one entry in a workflow's step history. At most one record
// exists per StepID.
type StepRecord struct {
	StepID    string         `json:"stepId" yaml:"stepId"`
	Status    StepStatus     `json:"status" yaml:"status"`
	StartTime *time.Time     `json:"startTime" yaml:"startTime"`
	EndTime   *time.Time     `json:"endTime" yaml:"endTime"`
	Duration  *int64         `json:"duration" yaml:"duration"` // milliseconds
	Data      map[string]any `json:"data" yaml:"data"`
	Error     any            `json:"error,omitempty" yaml:"error,omitempty"`

	// FileChanges is the journal of filesystem mutations performed by this
	// step, in the order they were recorded.
	FileChanges []FileChange `json:"fileChanges,omitempty" yaml:"fileChanges,omitempty"`
}

// FileChange records one filesystem mutation with enough information to
// undo it.
type FileChange struct {
	Operation Operation `json:"operation" yaml:"operation"`
	Path      string    `json:"path" yaml:"path"`

	// PreviousContent is nil for creates and holds the prior file content
	// for modifies and deletes. Use SetPreviousContent and PreviousBytes
	// rather than reading it directly; binary content is stored encoded.
	PreviousContent *string `json:"previousContent" yaml:"previousContent"`

	// ContentEncoding is empty for text content and ContentEncodingBase64
	// when PreviousContent holds base64.
	ContentEncoding string    `json:"contentEncoding,omitempty" yaml:"contentEncoding,omitempty"`
	RecordedAt      time.Time `json:"recordedAt" yaml:"recordedAt"`
}

// ContentEncodingBase64 marks PreviousContent as standard base64.
const ContentEncodingBase64 = "base64"

// SetPreviousContent stores content so that it survives a JSON or YAML
// document unchanged. Anything that is not plain text is base64 encoded.
func (fc *FileChange) SetPreviousContent(content []byte) {
	var s string
	if isPlainText(content) {
		s = string(content)
		fc.ContentEncoding = ""
	} else {
		s = base64.StdEncoding.EncodeToString(content)
		fc.ContentEncoding = ContentEncodingBase64
	}
	fc.PreviousContent = &s
}

// PreviousBytes returns the decoded prior content, or nil for a create.
func (fc FileChange) PreviousBytes() ([]byte, error) {
	if fc.PreviousContent == nil {
		return nil, nil
	}
	switch fc.ContentEncoding {
	case "":
		return []byte(*fc.PreviousContent), nil
	case ContentEncodingBase64:
		data, err := base64.StdEncoding.DecodeString(*fc.PreviousContent)
		if err != nil {
			return nil, fmt.Errorf("decode previous content of %s: %w", fc.Path, err)
		}
		if data == nil {
			data = []byte{}
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown content encoding %q for %s", fc.ContentEncoding, fc.Path)
	}
}

// isPlainText reports whether content is valid UTF-8 with no control
// characters other than tab and newline.
func isPlainText(content []byte) bool {
	if !utf8.Valid(content) {
		return false
	}
	for _, r := range string(content) {
		if r != '\n' && r != '\t' && unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// RollbackInfo is rollback bookkeeping about a state. It survives restores.
type RollbackInfo struct {
	LastRollbackAt           *time.Time       `json:"lastRollbackAt" yaml:"lastRollbackAt"`
	LastRollbackCheckpointID string           `json:"lastRollbackCheckpointId,omitempty" yaml:"lastRollbackCheckpointId,omitempty"`
	RollbackHistory          []RollbackRecord `json:"rollbackHistory" yaml:"rollbackHistory"`
}

// RollbackRecord is one entry in the rollback history.
type RollbackRecord struct {
	RollbackAt    time.Time      `json:"rollbackAt" yaml:"rollbackAt"`
	CheckpointID  string         `json:"checkpointId" yaml:"checkpointId"`
	StepsReverted int            `json:"stepsReverted" yaml:"stepsReverted"`
	FilesReverted int            `json:"filesReverted" yaml:"filesReverted"`
	Status        RollbackStatus `json:"status" yaml:"status"`
}

// New returns an empty state stamped with created/updated at now.
func New(now time.Time) *WorkflowState {
	return &WorkflowState{
		Variables:   map[string]any{},
		StepHistory: []StepRecord{},
		Timestamps: map[string]time.Time{
			TimestampCreated: now,
			TimestampUpdated: now,
		},
	}
}

// Step returns a pointer to the record for stepID inside s, or nil.
func (s *WorkflowState) Step(stepID string) *StepRecord {
	for i := range s.StepHistory {
		if s.StepHistory[i].StepID == stepID {
			return &s.StepHistory[i]
		}
	}
	return nil
}

// Touch sets the updated timestamp, creating the map if needed.
func (s *WorkflowState) Touch(now time.Time) {
	if s.Timestamps == nil {
		s.Timestamps = map[string]time.Time{}
	}
	if _, ok := s.Timestamps[TimestampCreated]; !ok {
		s.Timestamps[TimestampCreated] = now
	}
	s.Timestamps[TimestampUpdated] = now
}

// Clone returns a deep copy of s.
func (s *WorkflowState) Clone() *WorkflowState {
	if s == nil {
		return nil
	}
	cp := &WorkflowState{
		Variables:   CloneMap(s.Variables),
		StepHistory: CloneSteps(s.StepHistory),
		Timestamps:  CloneTimestamps(s.Timestamps),
	}
	if s.Rollback != nil {
		cp.Rollback = s.Rollback.Clone()
	}
	return cp
}

// Clone returns a deep copy of r.
func (r StepRecord) Clone() StepRecord {
	cp := r
	cp.StartTime = cloneTime(r.StartTime)
	cp.EndTime = cloneTime(r.EndTime)
	if r.Duration != nil {
		d := *r.Duration
		cp.Duration = &d
	}
	cp.Data = CloneMap(r.Data)
	cp.Error = cloneValue(r.Error)
	if r.FileChanges != nil {
		cp.FileChanges = make([]FileChange, len(r.FileChanges))
		for i, fc := range r.FileChanges {
			cp.FileChanges[i] = fc.Clone()
		}
	}
	return cp
}

// Clone returns a deep copy of fc.
func (fc FileChange) Clone() FileChange {
	cp := fc
	if fc.PreviousContent != nil {
		content := *fc.PreviousContent
		cp.PreviousContent = &content
	}
	return cp
}

// Clone returns a deep copy of r.
func (r *RollbackInfo) Clone() *RollbackInfo {
	cp := &RollbackInfo{
		LastRollbackAt:           cloneTime(r.LastRollbackAt),
		LastRollbackCheckpointID: r.LastRollbackCheckpointID,
	}
	if r.RollbackHistory != nil {
		cp.RollbackHistory = make([]RollbackRecord, len(r.RollbackHistory))
		copy(cp.RollbackHistory, r.RollbackHistory)
	}
	return cp
}

// CloneSteps deep-copies a step history.
func CloneSteps(steps []StepRecord) []StepRecord {
	if steps == nil {
		return nil
	}
	cp := make([]StepRecord, len(steps))
	for i, step := range steps {
		cp[i] = step.Clone()
	}
	return cp
}

// CloneTimestamps copies a timestamp map.
func CloneTimestamps(ts map[string]time.Time) map[string]time.Time {
	if ts == nil {
		return nil
	}
	cp := make(map[string]time.Time, len(ts))
	for k, v := range ts {
		cp[k] = v
	}
	return cp
}

// CloneMap deep-copies a free-form map. Nested maps and slices are copied;
// other values are shared, which is safe for the scalar types produced by
// decoding.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = cloneValue(v)
	}
	return cp
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = cloneValue(item)
		}
		return cp
	case []string:
		cp := make([]string, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
