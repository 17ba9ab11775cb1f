package state

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/TisoneK/agentfile-sub000/internal/fsutil"
	"github.com/TisoneK/agentfile-sub000/log"
)

// DirName is the directory under the project root holding state documents.
const DirName = "state"

// Dir returns the state directory for a project root.
func Dir(root string) string {
	return filepath.Join(root, DirName)
}

// FileStore implements Store with one document per workflow at
// <root>/state/<sanitized-id>.<ext>.
type FileStore struct {
	mu     sync.RWMutex
	dir    string
	format Format
	logger log.Logger
	now    func() time.Time
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithFormat selects the document encoding. JSON is the default.
func WithFormat(format Format) FileStoreOption {
	return func(s *FileStore) { s.format = format }
}

// WithLogger sets the logger used for store diagnostics.
func WithLogger(logger log.Logger) FileStoreOption {
	return func(s *FileStore) { s.logger = log.Component(logger, "state.file") }
}

// WithClock overrides the clock used for the savedAt stamp.
func WithClock(now func() time.Time) FileStoreOption {
	return func(s *FileStore) { s.now = now }
}

// NewFileStore creates a FileStore rooted at the project directory root.
// Nothing is created on disk until the first Save.
func NewFileStore(root string, opts ...FileStoreOption) *FileStore {
	s := &FileStore{
		dir:    Dir(root),
		format: FormatJSON,
		logger: log.Discard,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the directory holding state documents.
func (s *FileStore) Dir() string {
	return s.dir
}

// Format returns the document encoding in use.
func (s *FileStore) Format() Format {
	return s.format
}

// Path returns the document path for workflowID.
func (s *FileStore) Path(workflowID string) string {
	return filepath.Join(s.dir, SanitizeID(workflowID)+"."+s.format.Ext())
}

func (s *FileStore) Save(ctx context.Context, workflowID string, st *WorkflowState) error {
	const op = "state.Save"
	data, err := encodeState(op, s.format, workflowID, st, s.now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(workflowID)
	if err := fsutil.WriteFileAtomic(path, data, 0644); err != nil {
		return FSError(op, err, "workflowId", workflowID, "path", path)
	}
	s.logger.Debug("saved workflow state", "workflow", workflowID, "path", path, "steps", len(st.StepHistory))
	return nil
}

func (s *FileStore) Load(ctx context.Context, workflowID string) (*WorkflowState, error) {
	const op = "state.Load"
	if err := ValidateID(op, "workflowId", workflowID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.Path(workflowID)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, NewError(KindNotFound, op, "no state saved for workflow", "workflowId", workflowID)
		}
		return nil, FSError(op, err, "workflowId", workflowID, "path", path)
	}
	return decodeState(op, s.format, workflowID, data)
}

func (s *FileStore) Delete(ctx context.Context, workflowID string) error {
	const op = "state.Delete"
	if err := ValidateID(op, "workflowId", workflowID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(workflowID)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewError(KindNotFound, op, "no state saved for workflow", "workflowId", workflowID)
		}
		return FSError(op, err, "workflowId", workflowID, "path", path)
	}
	s.logger.Debug("deleted workflow state", "workflow", workflowID)
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, FSError("state.List", err, "path", s.dir)
	}

	suffix := "." + s.format.Ext()
	ids := []string{}
	for _, entry := range entries {
		name := entry.Name()
		// Skip the checkpoints directory and in-flight temp files.
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, suffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, suffix))
	}
	sort.Strings(ids)
	return ids, nil
}
