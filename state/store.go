package state

import "context"

// Store persists exactly one WorkflowState per workflow identifier.
//
// Save overwrites unconditionally (last writer wins). Stores never lock
// across processes; callers that run several writers against the same
// workflow must serialize them.
type Store interface {
	// Save validates and durably writes st for workflowID.
	Save(ctx context.Context, workflowID string, st *WorkflowState) error

	// Load returns a copy of the state for workflowID. It fails with
	// NotFound if nothing has been saved.
	Load(ctx context.Context, workflowID string) (*WorkflowState, error)

	// Delete removes the state for workflowID. It fails with NotFound if
	// nothing has been saved.
	Delete(ctx context.Context, workflowID string) error

	// List returns the stored workflow keys in sorted order. It returns an
	// empty slice when nothing has been stored yet.
	List(ctx context.Context) ([]string, error)
}
