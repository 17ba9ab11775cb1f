package checkpoint

import (
	"context"
	"crypto/rand"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/TisoneK/agentfile-sub000/internal/fsutil"
	"github.com/TisoneK/agentfile-sub000/log"
	"github.com/TisoneK/agentfile-sub000/metrics"
	"github.com/TisoneK/agentfile-sub000/progress"
	"github.com/TisoneK/agentfile-sub000/state"
)

// DirName is the directory under the state directory holding checkpoints.
const DirName = "checkpoints"

const filePrefix = "checkpoint-"

// Options configures a Store.
type Options struct {
	Format  state.Format
	Logger  log.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Store persists checkpoints under <root>/state/checkpoints/<workflow>/.
// Live state is read through a state.Store so checkpoints can be taken of
// any backend.
type Store struct {
	mu      sync.RWMutex
	dir     string
	states  state.Store
	format  state.Format
	logger  log.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
	last    time.Time
}

// New returns a checkpoint Store for the project at root.
func New(root string, states state.Store, opts Options) *Store {
	if opts.Format == "" {
		opts.Format = state.FormatJSON
	}
	opts.Logger = log.Component(opts.Logger, "checkpoint")
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		dir:     filepath.Join(state.Dir(root), DirName),
		states:  states,
		format:  opts.Format,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Dir returns the checkpoint directory for workflowID.
func (s *Store) Dir(workflowID string) string {
	return filepath.Join(s.dir, state.SanitizeID(workflowID))
}

// Path returns the file path of a checkpoint.
func (s *Store) Path(workflowID, checkpointID string) string {
	return filepath.Join(s.Dir(workflowID), filePrefix+checkpointID+"."+s.format.Ext())
}

// Create snapshots the current state of workflowID. A workflow with no
// saved state is checkpointed as an empty state. When stepID is empty the
// first in-progress step, if any, is recorded.
func (s *Store) Create(ctx context.Context, workflowID, stepID string) (*Summary, error) {
	const op = "checkpoint.Create"
	if err := state.ValidateID(op, "workflowId", workflowID); err != nil {
		return nil, err
	}
	if len(stepID) > state.MaxIdentifierLength {
		return nil, state.NewError(state.KindInvalidIdentifier, op, "stepId is too long", "stepId", stepID)
	}

	now := s.now().UTC()
	st, err := s.states.Load(ctx, workflowID)
	if err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			return nil, err
		}
		st = state.New(now)
	}
	if stepID == "" {
		stepID = progress.Compute(st).CurrentStep
	}

	id, createdAt, err := s.newID(now)
	if err != nil {
		return nil, state.WrapError(state.KindIO, op, err, "workflowId", workflowID)
	}
	cp := &Checkpoint{
		CheckpointID: id,
		WorkflowID:   workflowID,
		CreatedAt:    createdAt,
		StepID:       stepID,
		State:        NewSnapshot(st),
		Metadata:     NewMetadata(st),
	}
	data, err := s.format.Marshal(cp)
	if err != nil {
		return nil, state.WrapError(state.KindInvalidState, op, err, "workflowId", workflowID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(workflowID, id)
	if err := fsutil.WriteFileAtomic(path, data, 0644); err != nil {
		return nil, state.FSError(op, err, "workflowId", workflowID, "path", path)
	}
	s.metrics.CheckpointCreated()
	s.logger.Info("checkpoint created",
		"workflow", workflowID, "checkpoint", id,
		"step", stepID, "progress", cp.Metadata.Progress)

	summary := cp.Summary()
	return &summary, nil
}

// Load returns the checkpoint checkpointID of workflowID.
func (s *Store) Load(ctx context.Context, workflowID, checkpointID string) (*Checkpoint, error) {
	return s.load("checkpoint.Load", workflowID, checkpointID)
}

// Info returns the checkpoint checkpointID of workflowID. It behaves like
// Load.
func (s *Store) Info(ctx context.Context, workflowID, checkpointID string) (*Checkpoint, error) {
	return s.load("checkpoint.Info", workflowID, checkpointID)
}

func (s *Store) load(op, workflowID, checkpointID string) (*Checkpoint, error) {
	if err := validateIDs(op, workflowID, checkpointID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.Path(workflowID, checkpointID)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, state.NewError(state.KindNotFound, op, "checkpoint not found",
				"workflowId", workflowID, "checkpointId", checkpointID)
		}
		return nil, state.FSError(op, err, "workflowId", workflowID, "path", path)
	}
	return s.decode(op, workflowID, data)
}

func (s *Store) decode(op, workflowID string, data []byte) (*Checkpoint, error) {
	var cp Checkpoint
	if err := s.format.Unmarshal(data, &cp); err != nil {
		return nil, state.WrapError(state.KindParseError, op, err, "workflowId", workflowID)
	}
	if cp.CheckpointID == "" {
		return nil, state.NewError(state.KindParseError, op, "checkpoint has no id", "workflowId", workflowID)
	}
	cp.normalize()
	return &cp, nil
}

// List returns summaries of every readable checkpoint of workflowID,
// newest first. Unreadable files are skipped.
func (s *Store) List(ctx context.Context, workflowID string) ([]Summary, error) {
	const op = "checkpoint.List"
	if err := state.ValidateID(op, "workflowId", workflowID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := s.Dir(workflowID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Summary{}, nil
		}
		return nil, state.FSError(op, err, "workflowId", workflowID, "path", dir)
	}

	suffix := "." + s.format.Ext()
	summaries := []Summary{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("skipping unreadable checkpoint", "workflow", workflowID, "path", path, "error", err)
			continue
		}
		cp, err := s.decode(op, workflowID, data)
		if err != nil {
			s.logger.Warn("skipping corrupt checkpoint", "workflow", workflowID, "path", path, "error", err)
			continue
		}
		summaries = append(summaries, cp.Summary())
	}

	sort.Slice(summaries, func(i, j int) bool {
		a, b := summaries[i], summaries[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.CheckpointID > b.CheckpointID
	})
	return summaries, nil
}

// Delete removes a checkpoint.
func (s *Store) Delete(ctx context.Context, workflowID, checkpointID string) error {
	const op = "checkpoint.Delete"
	if err := validateIDs(op, workflowID, checkpointID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(workflowID, checkpointID)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return state.NewError(state.KindNotFound, op, "checkpoint not found",
				"workflowId", workflowID, "checkpointId", checkpointID)
		}
		return state.FSError(op, err, "workflowId", workflowID, "path", path)
	}
	s.metrics.CheckpointDeleted()
	s.logger.Info("checkpoint deleted", "workflow", workflowID, "checkpoint", checkpointID)
	return nil
}

// Latest returns the newest checkpoint of workflowID, or NotFound if there
// is none.
func (s *Store) Latest(ctx context.Context, workflowID string) (*Checkpoint, error) {
	const op = "checkpoint.Latest"
	summaries, err := s.List(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, state.NewError(state.KindNotFound, op, "workflow has no checkpoints", "workflowId", workflowID)
	}
	return s.Load(ctx, workflowID, summaries[0].CheckpointID)
}

// Prune deletes all but the newest keep checkpoints of workflowID and
// returns how many were deleted.
func (s *Store) Prune(ctx context.Context, workflowID string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	summaries, err := s.List(ctx, workflowID)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, summary := range summaries[min(keep, len(summaries)):] {
		if err := s.Delete(ctx, workflowID, summary.CheckpointID); err != nil {
			if errors.Is(err, state.ErrNotFound) {
				continue
			}
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// newID returns a ULID and the creation time it encodes. The time never
// goes below the last one issued, so a clock stepping backwards cannot
// make a newer checkpoint sort before an older one. Within one
// millisecond the monotonic entropy keeps identifiers increasing.
func (s *Store) newID(now time.Time) (string, time.Time, error) {
	s.idMu.Lock()
	defer s.idMu.Unlock()

	if now.Before(s.last) {
		now = s.last
	}
	id, err := ulid.New(ulid.Timestamp(now), s.entropy)
	if err != nil {
		return "", time.Time{}, err
	}
	s.last = now
	return id.String(), now, nil
}

func validateIDs(op, workflowID, checkpointID string) error {
	if err := state.ValidateID(op, "workflowId", workflowID); err != nil {
		return err
	}
	if err := state.ValidateID(op, "checkpointId", checkpointID); err != nil {
		return err
	}
	if state.SanitizeID(checkpointID) != checkpointID {
		return state.NewError(state.KindInvalidIdentifier, op, "checkpointId contains invalid characters",
			"checkpointId", checkpointID)
	}
	return nil
}
