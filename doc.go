// Package agentfile records the progress of multi-step workflows, takes
// immutable checkpoints of that progress, and rolls both the recorded
// state and journaled file changes back to a checkpoint.
//
// The core types live in subpackages:
//
//   - [state.Store] persists one [state.WorkflowState] per workflow.
//   - [tracker.Tracker] drives the step lifecycle.
//   - [journal.Journal] records file changes and reverts them.
//   - [checkpoint.Store] takes and lists snapshots.
//   - [rollback.Engine] restores a workflow to a checkpoint.
//
// A [Workspace] wires all of them from a [config.Config].
//
// # Quick Start
//
//	cfg, _ := config.Load("")
//	ws, _ := agentfile.Open(cfg)
//	defer ws.Close()
//
//	ws.Tracker.StartStep(ctx, "release", "build", nil)
//	ws.Journal.WriteFile(ctx, "release", "build", "dist/VERSION", []byte("1.4.0\n"), 0644)
//	ws.Checkpoint(ctx, "release", "")
//	ws.Tracker.CompleteStep(ctx, "release", "build", nil)
//
//	result, _ := ws.Rollback.RollbackToLastCheckpoint(ctx, "release")
//	fmt.Println(result.Status)
package agentfile
