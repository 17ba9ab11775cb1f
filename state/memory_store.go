package state

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation.
//
// Suitable for tests and for drivers that do not need durability. Data is
// lost when the process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*record
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Save(ctx context.Context, workflowID string, st *WorkflowState) error {
	const op = "state.Save"
	if err := ValidateID(op, "workflowId", workflowID); err != nil {
		return err
	}
	if err := Validate(op, st); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[SanitizeID(workflowID)] = toRecord(workflowID, st, s.now())
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, workflowID string) (*WorkflowState, error) {
	const op = "state.Load"
	if err := ValidateID(op, "workflowId", workflowID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[SanitizeID(workflowID)]
	if !ok {
		return nil, NewError(KindNotFound, op, "no state saved for workflow", "workflowId", workflowID)
	}
	return fromRecord(rec).Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, workflowID string) error {
	const op = "state.Delete"
	if err := ValidateID(op, "workflowId", workflowID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := SanitizeID(workflowID)
	if _, ok := s.records[key]; !ok {
		return NewError(KindNotFound, op, "no state saved for workflow", "workflowId", workflowID)
	}
	delete(s.records, key)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
