package tracker

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TisoneK/agentfile-sub000/state"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)}
}

func newTracker(store state.Store, clock *fakeClock) *Tracker {
	return New(store, Options{Now: clock.Now})
}

func TestStartThenComplete(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := state.NewFileStore(t.TempDir())
	tr := newTracker(store, clock)

	started, err := tr.StartStep(ctx, "wf", "step1", nil)
	require.NoError(t, err)
	require.Equal(t, state.StatusInProgress, started.Status)
	require.Equal(t, clock.Now(), *started.StartTime)
	require.Nil(t, started.EndTime)

	clock.Advance(1500 * time.Millisecond)
	done, err := tr.CompleteStep(ctx, "wf", "step1", nil)
	require.NoError(t, err)
	require.Equal(t, state.StatusCompleted, done.Status)
	require.Equal(t, clock.Now(), *done.EndTime)

	rec, err := tr.GetStepStatus(ctx, "wf", "step1")
	require.NoError(t, err)
	require.Equal(t, state.StatusCompleted, rec.Status)
	require.NotNil(t, rec.Duration)
	require.Equal(t, int64(1500), *rec.Duration)
	require.Nil(t, rec.Error)

	st, err := store.Load(ctx, "wf")
	require.NoError(t, err)
	require.Equal(t, clock.Now(), st.Timestamps[state.TimestampLastStepComplete])
	require.Equal(t, clock.Now(), st.Timestamps[state.TimestampUpdated])
	require.Equal(t, clock.Now().Add(-1500*time.Millisecond), st.Timestamps[state.TimestampCreated])
}

func TestStepUniqueness(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	tr := newTracker(store, newClock())

	for i := 0; i < 3; i++ {
		_, err := tr.StartStep(ctx, "wf", "build", nil)
		require.NoError(t, err)
		_, err = tr.StartStep(ctx, "wf", "build", nil)
		require.NoError(t, err)
		_, err = tr.CompleteStep(ctx, "wf", "build", nil)
		require.NoError(t, err)
		_, err = tr.UpdateStatus(ctx, "wf", "build", state.StatusPending)
		require.NoError(t, err)
	}
	_, err := tr.StartStep(ctx, "wf", "test", nil)
	require.NoError(t, err)

	st, err := store.Load(ctx, "wf")
	require.NoError(t, err)
	require.Len(t, st.StepHistory, 2)
	require.Equal(t, "build", st.StepHistory[0].StepID)
	require.Equal(t, "test", st.StepHistory[1].StepID)
}

func TestRetryAfterFailure(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	tr := newTracker(state.NewMemoryStore(), clock)

	_, err := tr.StartStep(ctx, "wf", "deploy", map[string]any{"attempt": 1})
	require.NoError(t, err)
	clock.Advance(time.Second)

	failed, err := tr.CompleteStep(ctx, "wf", "deploy", map[string]any{"error": errors.New("connection refused")})
	require.NoError(t, err)
	require.Equal(t, state.StatusFailed, failed.Status)

	rec, err := tr.GetStepStatus(ctx, "wf", "deploy")
	require.NoError(t, err)
	require.Equal(t, "connection refused", rec.Error)
	require.Equal(t, "connection refused", rec.Data["error"])
	require.Equal(t, int64(1000), *rec.Duration)

	clock.Advance(time.Minute)
	retried, err := tr.StartStep(ctx, "wf", "deploy", map[string]any{"attempt": 2})
	require.NoError(t, err)
	require.Equal(t, clock.Now(), *retried.StartTime)

	rec, err = tr.GetStepStatus(ctx, "wf", "deploy")
	require.NoError(t, err)
	require.Equal(t, state.StatusInProgress, rec.Status)
	require.Nil(t, rec.EndTime)
	require.Nil(t, rec.Duration)
	require.Nil(t, rec.Error)
	require.Equal(t, 2, rec.Data["attempt"])
	require.NotContains(t, rec.Data, "error")

	clock.Advance(time.Second)
	done, err := tr.CompleteStep(ctx, "wf", "deploy", nil)
	require.NoError(t, err)
	require.Equal(t, state.StatusCompleted, done.Status)

	rec, err = tr.GetStepStatus(ctx, "wf", "deploy")
	require.NoError(t, err)
	require.Nil(t, rec.Error)
	require.NotContains(t, rec.Data, "error")
}

func TestCompletingFailedStepClearsError(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	tr := newTracker(state.NewMemoryStore(), clock)

	_, err := tr.StartStep(ctx, "wf", "lint", nil)
	require.NoError(t, err)
	_, err = tr.CompleteStep(ctx, "wf", "lint", map[string]any{"error": "exit status 1"})
	require.NoError(t, err)

	_, err = tr.CompleteStep(ctx, "wf", "lint", map[string]any{"fixed": true})
	require.NoError(t, err)

	rec, err := tr.GetStepStatus(ctx, "wf", "lint")
	require.NoError(t, err)
	require.Equal(t, state.StatusCompleted, rec.Status)
	require.Nil(t, rec.Error)
	require.NotContains(t, rec.Data, "error")
	require.Equal(t, true, rec.Data["fixed"])
}

func TestStartWhileInProgressKeepsStartTime(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	tr := newTracker(state.NewMemoryStore(), clock)

	first, err := tr.StartStep(ctx, "wf", "s", nil)
	require.NoError(t, err)
	clock.Advance(time.Minute)

	second, err := tr.StartStep(ctx, "wf", "s", map[string]any{"note": "resumed"})
	require.NoError(t, err)
	require.Equal(t, *first.StartTime, *second.StartTime)
}

func TestDataIsMerged(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(state.NewMemoryStore(), newClock())

	_, err := tr.StartStep(ctx, "wf", "s", map[string]any{"input": "a", "shared": 1})
	require.NoError(t, err)
	_, err = tr.CompleteStep(ctx, "wf", "s", map[string]any{"output": "b", "shared": 2})
	require.NoError(t, err)

	rec, err := tr.GetStepStatus(ctx, "wf", "s")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"input": "a", "output": "b", "shared": 2}, rec.Data)
}

func TestCompleteStepRequiresState(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(state.NewMemoryStore(), newClock())

	_, err := tr.CompleteStep(ctx, "missing", "s", nil)
	require.ErrorIs(t, err, state.ErrNotFound)
}

func TestCompleteUnseenStep(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	tr := newTracker(state.NewMemoryStore(), clock)
	_, err := tr.StartStep(ctx, "wf", "first", nil)
	require.NoError(t, err)

	t.Run("without start time", func(t *testing.T) {
		res, err := tr.CompleteStep(ctx, "wf", "direct", nil)
		require.NoError(t, err)
		require.Equal(t, state.StatusCompleted, res.Status)
		require.Equal(t, *res.StartTime, *res.EndTime)
		require.Equal(t, int64(0), *res.Duration)
	})

	t.Run("with start time string", func(t *testing.T) {
		start := clock.Now().Add(-90 * time.Second).Format(time.RFC3339)
		res, err := tr.CompleteStep(ctx, "wf", "imported", map[string]any{"startTime": start})
		require.NoError(t, err)
		require.Equal(t, int64(90000), *res.Duration)
	})

	t.Run("with start time value", func(t *testing.T) {
		res, err := tr.CompleteStep(ctx, "wf", "timed", map[string]any{"startTime": clock.Now().Add(-2 * time.Second)})
		require.NoError(t, err)
		require.Equal(t, int64(2000), *res.Duration)
	})

	t.Run("bad start time", func(t *testing.T) {
		_, err := tr.CompleteStep(ctx, "wf", "bad", map[string]any{"startTime": "yesterday"})
		require.ErrorIs(t, err, state.ErrInvalidState)
	})

	t.Run("error marks failed", func(t *testing.T) {
		res, err := tr.CompleteStep(ctx, "wf", "broken", map[string]any{"error": "exit status 2"})
		require.NoError(t, err)
		require.Equal(t, state.StatusFailed, res.Status)
	})

	t.Run("nil error completes", func(t *testing.T) {
		res, err := tr.CompleteStep(ctx, "wf", "fine", map[string]any{"error": nil})
		require.NoError(t, err)
		require.Equal(t, state.StatusCompleted, res.Status)
	})
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := state.NewFileStore(root)
	tr := newTracker(store, newClock())

	_, err := tr.StartStep(ctx, "wf", "stepX", nil)
	require.NoError(t, err)
	before, err := os.ReadFile(store.Path("wf"))
	require.NoError(t, err)
	info, err := os.Stat(store.Path("wf"))
	require.NoError(t, err)

	_, err = tr.UpdateStatus(ctx, "wf", "stepX", "bogus")
	require.ErrorIs(t, err, state.ErrInvalidStatus)

	after, err := os.ReadFile(store.Path("wf"))
	require.NoError(t, err)
	require.Equal(t, before, after)
	infoAfter, err := os.Stat(store.Path("wf"))
	require.NoError(t, err)
	require.Equal(t, info.ModTime(), infoAfter.ModTime())

	// An unknown status never creates state either.
	_, err = tr.UpdateStatus(ctx, "other", "s", "done")
	require.ErrorIs(t, err, state.ErrInvalidStatus)
	_, err = store.Load(ctx, "other")
	require.ErrorIs(t, err, state.ErrNotFound)
}

func TestUpdateStatusStamps(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	tr := newTracker(state.NewMemoryStore(), clock)

	res, err := tr.UpdateStatus(ctx, "wf", "s", state.StatusPending)
	require.NoError(t, err)
	require.Equal(t, state.StatusPending, res.Status)
	require.Nil(t, res.StartTime)

	res, err = tr.UpdateStatus(ctx, "wf", "s", state.StatusInProgress)
	require.NoError(t, err)
	require.Equal(t, clock.Now(), *res.StartTime)

	clock.Advance(250 * time.Millisecond)
	res, err = tr.UpdateStatus(ctx, "wf", "s", state.StatusCompleted)
	require.NoError(t, err)
	require.Equal(t, clock.Now(), *res.EndTime)
	require.Equal(t, int64(250), *res.Duration)

	// Setting the same status again is not a transition.
	clock.Advance(time.Second)
	res, err = tr.UpdateStatus(ctx, "wf", "s", state.StatusCompleted)
	require.NoError(t, err)
	require.Equal(t, int64(250), *res.Duration)
}

func TestGetStepStatusErrors(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(state.NewMemoryStore(), newClock())

	_, err := tr.GetStepStatus(ctx, "wf", "s")
	require.ErrorIs(t, err, state.ErrNotFound)

	_, err = tr.StartStep(ctx, "wf", "s", nil)
	require.NoError(t, err)
	_, err = tr.GetStepStatus(ctx, "wf", "other")
	require.ErrorIs(t, err, state.ErrNotFound)
	require.Contains(t, err.Error(), "stepId=other")
}

func TestInvalidIdentifiers(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(state.NewMemoryStore(), newClock())

	_, err := tr.StartStep(ctx, "", "s", nil)
	require.ErrorIs(t, err, state.ErrInvalidIdentifier)
	_, err = tr.StartStep(ctx, "wf", " ", nil)
	require.ErrorIs(t, err, state.ErrInvalidIdentifier)
	_, err = tr.CompleteStep(ctx, "wf", "", nil)
	require.ErrorIs(t, err, state.ErrInvalidIdentifier)
	_, err = tr.UpdateStatus(ctx, "", "s", state.StatusPending)
	require.ErrorIs(t, err, state.ErrInvalidIdentifier)
	require.ErrorIs(t, tr.SetVariable(ctx, "wf", "", 1), state.ErrInvalidIdentifier)
}

func TestVariables(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(state.NewMemoryStore(), newClock())

	require.NoError(t, tr.SetVariable(ctx, "wf", "region", "eu-west-1"))
	require.NoError(t, tr.SetVariable(ctx, "wf", "replicas", 3))

	vars, err := tr.Variables(ctx, "wf")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"region": "eu-west-1", "replicas": 3}, vars)

	vars["region"] = "mutated"
	again, err := tr.Variables(ctx, "wf")
	require.NoError(t, err)
	require.Equal(t, "eu-west-1", again["region"])
}
