package progress

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TisoneK/agentfile-sub000/state"
)

func dur(ms int64) *int64 { return &ms }

func TestComputeEmpty(t *testing.T) {
	require.Equal(t, Summary{}, Compute(nil))

	s := Compute(&state.WorkflowState{})
	require.Equal(t, 0, s.TotalSteps)
	require.Equal(t, 0, s.ProgressPercentage)
	require.Empty(t, s.CurrentStep)
	require.False(t, s.Finished())
}

func TestCompute(t *testing.T) {
	st := &state.WorkflowState{StepHistory: []state.StepRecord{
		{StepID: "fetch", Status: state.StatusCompleted, Duration: dur(1200)},
		{StepID: "build", Status: state.StatusFailed, Duration: dur(300)},
		{StepID: "test", Status: state.StatusInProgress},
		{StepID: "lint", Status: state.StatusInProgress},
		{StepID: "ship", Status: state.StatusPending},
		{StepID: "notify", Status: state.StatusPending, Duration: nil},
	}}

	s := Compute(st)
	require.Equal(t, Summary{
		TotalSteps:         6,
		CompletedSteps:     1,
		FailedSteps:        1,
		InProgressSteps:    2,
		PendingSteps:       2,
		ProgressPercentage: 33,
		TotalDuration:      1500,
		CurrentStep:        "test",
	}, s)
}

func TestPercentageRounding(t *testing.T) {
	tests := []struct {
		done, total, want int
	}{
		{0, 0, 0},
		{0, 3, 0},
		{1, 3, 33},
		{2, 3, 67},
		{1, 2, 50},
		{1, 8, 13},
		{3, 3, 100},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Percentage(tt.done, tt.total), "%d/%d", tt.done, tt.total)
	}
}

func TestProgressBounds(t *testing.T) {
	statuses := []state.StepStatus{
		state.StatusPending, state.StatusInProgress, state.StatusCompleted, state.StatusFailed,
	}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		n := rng.Intn(12)
		steps := make([]state.StepRecord, n)
		for j := range steps {
			steps[j] = state.StepRecord{StepID: string(rune('a' + j)), Status: statuses[rng.Intn(len(statuses))]}
		}
		s := ComputeSteps(steps)
		require.GreaterOrEqual(t, s.ProgressPercentage, 0)
		require.LessOrEqual(t, s.ProgressPercentage, 100)
		require.Equal(t, n, s.CompletedSteps+s.FailedSteps+s.InProgressSteps+s.PendingSteps)
		if n == 0 {
			require.Equal(t, 0, s.ProgressPercentage)
		}
	}
}

func TestFinished(t *testing.T) {
	s := ComputeSteps([]state.StepRecord{
		{StepID: "a", Status: state.StatusCompleted},
		{StepID: "b", Status: state.StatusFailed},
	})
	require.True(t, s.Finished())
	require.Equal(t, 100, s.ProgressPercentage)
}
