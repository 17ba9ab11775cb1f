package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

func timePtr(t time.Time) *time.Time { return &t }

func strPtr(s string) *string { return &s }

func sampleState() *WorkflowState {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	t1 := t0.Add(1500 * time.Millisecond)
	return &WorkflowState{
		Variables: map[string]any{
			"target":  "linux/amd64",
			"retries": float64(3),
			"flags":   map[string]any{"verbose": true},
			"tags":    []any{"a", "b"},
		},
		StepHistory: []StepRecord{
			{
				StepID:    "step1",
				Status:    StatusCompleted,
				StartTime: timePtr(t0),
				EndTime:   timePtr(t1),
				Duration:  int64Ptr(1500),
				Data:      map[string]any{"output": "ok"},
				FileChanges: []FileChange{
					{Operation: OpCreate, Path: "/tmp/x.txt", RecordedAt: t0},
					{Operation: OpModify, Path: "/tmp/y.txt", PreviousContent: strPtr("old"), RecordedAt: t1},
				},
			},
			{
				StepID:    "step2",
				Status:    StatusFailed,
				StartTime: timePtr(t1),
				EndTime:   timePtr(t1),
				Duration:  int64Ptr(0),
				Data:      map[string]any{},
				Error:     "exit status 1",
			},
		},
		Timestamps: map[string]time.Time{
			TimestampCreated: t0,
			TimestampUpdated: t1,
		},
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())

	original := sampleState()
	require.NoError(t, store.Save(ctx, "wf-1", original))

	loaded, err := store.Load(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, original, loaded)
}

func TestFileStoreStripsMetadata(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	savedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := NewFileStore(root, WithClock(func() time.Time { return savedAt }))

	require.NoError(t, store.Save(ctx, "wf/with spaces", New(savedAt)))

	path := filepath.Join(root, "state", "wf-with-spaces.json")
	require.Equal(t, path, store.Path("wf/with spaces"))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"workflowId": "wf/with spaces"`)
	require.Contains(t, string(raw), `"savedAt": "2026-01-02T03:04:05Z"`)

	loaded, err := store.Load(ctx, "wf/with spaces")
	require.NoError(t, err)
	require.Equal(t, New(savedAt), loaded)
}

func TestFileStoreLastWriterWins(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())

	first := sampleState()
	require.NoError(t, store.Save(ctx, "wf", first))

	second := New(time.Date(2026, 5, 5, 0, 0, 0, 0, time.UTC))
	second.Variables["only"] = "second"
	require.NoError(t, store.Save(ctx, "wf", second))

	loaded, err := store.Load(ctx, "wf")
	require.NoError(t, err)
	require.Equal(t, second, loaded)
}

func TestFileStoreErrors(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewFileStore(root)

	t.Run("empty identifier", func(t *testing.T) {
		err := store.Save(ctx, "  ", New(time.Now().UTC()))
		require.ErrorIs(t, err, ErrInvalidIdentifier)

		_, err = store.Load(ctx, "")
		require.ErrorIs(t, err, ErrInvalidIdentifier)

		err = store.Delete(ctx, "")
		require.ErrorIs(t, err, ErrInvalidIdentifier)
	})

	t.Run("nil state", func(t *testing.T) {
		err := store.Save(ctx, "wf", nil)
		require.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("duplicate step", func(t *testing.T) {
		st := New(time.Now().UTC())
		st.StepHistory = []StepRecord{
			{StepID: "a", Status: StatusPending},
			{StepID: "a", Status: StatusCompleted},
		}
		err := store.Save(ctx, "wf", st)
		require.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("invalid status", func(t *testing.T) {
		st := New(time.Now().UTC())
		st.StepHistory = []StepRecord{{StepID: "a", Status: "bogus"}}
		err := store.Save(ctx, "wf", st)
		require.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := store.Load(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)
		require.True(t, IsNotFound(err))

		err = store.Delete(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("corrupt", func(t *testing.T) {
		require.NoError(t, os.MkdirAll(filepath.Join(root, "state"), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(root, "state", "corrupt.json"), []byte("{not json"), 0644))

		_, err := store.Load(ctx, "corrupt")
		require.ErrorIs(t, err, ErrParse)
		require.Equal(t, KindParseError, KindOf(err))
	})
}

func TestFileStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())

	require.NoError(t, store.Save(ctx, "wf", sampleState()))
	require.NoError(t, store.Delete(ctx, "wf"))

	_, err := store.Load(ctx, "wf")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreList(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewFileStore(root)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)
	require.NotNil(t, ids)

	require.NoError(t, store.Save(ctx, "beta", New(time.Now().UTC())))
	require.NoError(t, store.Save(ctx, "alpha", New(time.Now().UTC())))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "state", "checkpoints", "alpha"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "state", ".alpha.json.123.tmp"), []byte("{}"), 0644))

	ids, err = store.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "beta"}, ids)
}

func TestFileStoreIsolatesCallers(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())

	st := sampleState()
	require.NoError(t, store.Save(ctx, "wf", st))
	st.StepHistory[0].Status = StatusPending
	st.Variables["target"] = "changed"

	loaded, err := store.Load(ctx, "wf")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, loaded.StepHistory[0].Status)
	require.Equal(t, "linux/amd64", loaded.Variables["target"])
}

func TestFileStoreYAMLFormat(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewFileStore(root, WithFormat(FormatYAML))

	original := sampleState()
	require.NoError(t, store.Save(ctx, "wf", original))

	_, err := os.Stat(filepath.Join(root, "state", "wf.yaml"))
	require.NoError(t, err)

	loaded, err := store.Load(ctx, "wf")
	require.NoError(t, err)
	require.Len(t, loaded.StepHistory, 2)
	require.Equal(t, "step1", loaded.StepHistory[0].StepID)
	require.Equal(t, StatusCompleted, loaded.StepHistory[0].Status)
	require.True(t, original.StepHistory[0].StartTime.Equal(*loaded.StepHistory[0].StartTime))
	require.Equal(t, int64(1500), *loaded.StepHistory[0].Duration)
	require.Equal(t, "old", *loaded.StepHistory[0].FileChanges[1].PreviousContent)
	require.Nil(t, loaded.StepHistory[0].FileChanges[0].PreviousContent)
	require.Equal(t, "linux/amd64", loaded.Variables["target"])

	ids, err := store.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"wf"}, ids)
}

func TestFileStorePermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	ctx := context.Background()
	root := t.TempDir()
	store := NewFileStore(root)
	require.NoError(t, store.Save(ctx, "wf", New(time.Now().UTC())))

	dir := filepath.Join(root, "state")
	require.NoError(t, os.Chmod(dir, 0500))
	defer os.Chmod(dir, 0755)

	err := store.Save(ctx, "wf", New(time.Now().UTC()))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrPermissionDenied))
}
