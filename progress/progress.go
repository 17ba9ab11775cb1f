// Package progress derives human-facing progress figures from a workflow
// state. Everything here is pure and safe to call on a state loaded for
// display.
package progress

import (
	"math"

	"github.com/TisoneK/agentfile-sub000/state"
)

// Summary is the progress projection of one workflow state.
type Summary struct {
	TotalSteps         int    `json:"totalSteps"`
	CompletedSteps     int    `json:"completedSteps"`
	FailedSteps        int    `json:"failedSteps"`
	InProgressSteps    int    `json:"inProgressSteps"`
	PendingSteps       int    `json:"pendingSteps"`
	ProgressPercentage int    `json:"progressPercentage"`
	TotalDuration      int64  `json:"totalDuration"` // milliseconds
	CurrentStep        string `json:"currentStep,omitempty"`
}

// Compute returns the progress summary for st. A nil state or one with no
// steps reports zero progress.
func Compute(st *state.WorkflowState) Summary {
	var s Summary
	if st == nil {
		return s
	}
	return ComputeSteps(st.StepHistory)
}

// ComputeSteps is Compute over a bare step history.
func ComputeSteps(steps []state.StepRecord) Summary {
	s := Summary{TotalSteps: len(steps)}
	for _, step := range steps {
		switch step.Status {
		case state.StatusCompleted:
			s.CompletedSteps++
		case state.StatusFailed:
			s.FailedSteps++
		case state.StatusInProgress:
			s.InProgressSteps++
			if s.CurrentStep == "" {
				s.CurrentStep = step.StepID
			}
		case state.StatusPending:
			s.PendingSteps++
		}
		if step.Duration != nil {
			s.TotalDuration += *step.Duration
		}
	}
	s.ProgressPercentage = Percentage(s.CompletedSteps+s.FailedSteps, s.TotalSteps)
	return s
}

// Percentage returns round(100*done/total), clamped to [0, 100]. It is 0
// when total is 0.
func Percentage(done, total int) int {
	if total <= 0 || done <= 0 {
		return 0
	}
	if done >= total {
		return 100
	}
	return int(math.Round(100 * float64(done) / float64(total)))
}

// Finished reports whether every step has reached a terminal status.
func (s Summary) Finished() bool {
	return s.TotalSteps > 0 && s.CompletedSteps+s.FailedSteps == s.TotalSteps
}
