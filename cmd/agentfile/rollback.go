package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/deepnoodle-ai/wonton/cli"

	"github.com/TisoneK/agentfile-sub000"
	"github.com/TisoneK/agentfile-sub000/rollback"
)

func registerRollbackCommand(app *cli.App) {
	app.Command("rollback").
		Description("Restore a workflow to a checkpoint and revert the files its later steps changed").
		Args("workflow").
		Flags(
			cli.String("to", "t").Help("Checkpoint to restore (defaults to the newest)"),
			cli.Bool("dry-run", "n").Help("Show what would change without touching anything"),
		).
		Run(func(ctx *cli.Context) error {
			workflowID, err := requireWorkflowArg(ctx)
			if err != nil {
				return err
			}
			checkpointID := ctx.String("to")
			dryRun := ctx.Bool("dry-run")
			return withWorkspace(ctx, func(goCtx context.Context, g globalFlags, ws *agentfile.Workspace) error {
				if dryRun {
					plan, err := ws.Rollback.Preview(goCtx, workflowID, checkpointID)
					if err != nil {
						return err
					}
					if g.json() {
						return writeJSON(os.Stdout, plan)
					}
					renderPlan(os.Stdout, plan)
					return nil
				}
				result, err := runRollback(goCtx, ws, workflowID, checkpointID)
				if err != nil {
					return err
				}
				if g.json() {
					return writeJSON(os.Stdout, result)
				}
				renderRollbackResult(os.Stdout, result)
				return nil
			})
		})
}

func registerReportCommand(app *cli.App) {
	app.Command("report").
		Description("Summarize a workflow's rollback history").
		Args("workflow").
		Run(func(ctx *cli.Context) error {
			workflowID, err := requireWorkflowArg(ctx)
			if err != nil {
				return err
			}
			return withWorkspace(ctx, func(goCtx context.Context, g globalFlags, ws *agentfile.Workspace) error {
				report, err := ws.Rollback.Report(goCtx, workflowID)
				if err != nil {
					return err
				}
				if g.json() {
					return writeJSON(os.Stdout, report)
				}
				renderReport(os.Stdout, report)
				return nil
			})
		})
}

func runRollback(ctx context.Context, ws *agentfile.Workspace, workflowID, checkpointID string) (*rollback.Result, error) {
	if checkpointID == "" {
		return ws.Rollback.RollbackToLastCheckpoint(ctx, workflowID)
	}
	return ws.Rollback.RollbackToCheckpoint(ctx, workflowID, checkpointID)
}

func renderPlan(w io.Writer, plan *rollback.Plan) {
	created := plan.CheckpointCreatedAt
	fmt.Fprintln(w, boldStyle.Sprintf("Rollback of %s to %s", plan.WorkflowID, plan.CheckpointID))
	fmt.Fprintf(w, "Checkpoint created %s\n", formatTime(&created))

	if len(plan.RevertedSteps) == 0 {
		fmt.Fprintln(w, mutedStyle.Sprint("No steps would be reverted."))
	} else {
		fmt.Fprintf(w, "Steps reverted: %d\n", len(plan.RevertedSteps))
		for _, id := range plan.RevertedSteps {
			fmt.Fprintf(w, "  %s %s\n", bullet, id)
		}
	}

	if len(plan.Files) == 0 {
		fmt.Fprintln(w, mutedStyle.Sprint("No files would change."))
		return
	}
	fmt.Fprintf(w, "Files: %d\n", len(plan.Files))
	for _, f := range plan.Files {
		action := "restore"
		if f.Remove {
			action = "remove"
		}
		line := fmt.Sprintf("  %s %-7s %s (%s)", arrow, action, f.Path, f.Operation)
		if f.Protected {
			fmt.Fprintln(w, errorStyle.Sprint(line+" protected, will be skipped"))
			continue
		}
		fmt.Fprintln(w, line)
		switch {
		case f.Binary:
			fmt.Fprintln(w, mutedStyle.Sprint("    binary content differs"))
		case f.Diff != "":
			renderDiff(w, f.Diff)
		}
	}
}

func renderDiff(w io.Writer, diff string) {
	for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
			fmt.Fprintln(w, "    "+boldStyle.Sprint(line))
		case strings.HasPrefix(line, "@@"):
			fmt.Fprintln(w, "    "+headerStyle.Sprint(line))
		case strings.HasPrefix(line, "+"):
			fmt.Fprintln(w, "    "+successStyle.Sprint(line))
		case strings.HasPrefix(line, "-"):
			fmt.Fprintln(w, "    "+errorStyle.Sprint(line))
		default:
			fmt.Fprintln(w, "    "+line)
		}
	}
}

func renderRollbackResult(w io.Writer, result *rollback.Result) {
	style := rollbackStyle(result.Status)
	icon := checkmark
	if result.FilesFailed > 0 {
		icon = xmark
	}
	fmt.Fprintf(w, "%s Rolled back %s to %s: %s\n", style.Sprint(icon),
		result.WorkflowID, result.CheckpointID, style.Sprint(result.Status))
	fmt.Fprintf(w, "Steps reverted: %d\n", result.StepsReverted)
	fmt.Fprintf(w, "Files reverted: %d\n", result.FilesReverted)
	if result.FilesFailed > 0 {
		fmt.Fprintln(w, errorStyle.Sprintf("Files failed:   %d", result.FilesFailed))
		for _, o := range result.Outcomes {
			if o.Reverted {
				continue
			}
			reason := "not attempted"
			if o.Err != nil {
				reason = o.Err.Error()
			}
			fmt.Fprintf(w, "  %s %s: %s\n", xmark, o.Change.Path, reason)
		}
	}
}

func renderReport(w io.Writer, report *rollback.Report) {
	s := report.Summary
	fmt.Fprintln(w, boldStyle.Sprintf("Rollback report for %s", report.WorkflowID))
	if s.TotalRollbacks == 0 {
		fmt.Fprintln(w, mutedStyle.Sprint("No rollbacks recorded."))
	} else {
		fmt.Fprintf(w, "Rollbacks:      %d (%d success, %d partial, %d failed)\n",
			s.TotalRollbacks, s.SuccessfulRollbacks, s.PartialRollbacks, s.FailedRollbacks)
		fmt.Fprintf(w, "Steps reverted: %d\n", s.StepsReverted)
		fmt.Fprintf(w, "Files reverted: %d\n", s.FilesReverted)
		fmt.Fprintf(w, "Last rollback:  %s (%s)\n", formatTime(s.LastRollbackAt), s.LastStatus)

		fmt.Fprintln(w)
		table := newTable(w, "WHEN", "CHECKPOINT", "STEPS", "FILES", "STATUS")
		for _, rec := range report.History {
			at := rec.RollbackAt
			table.Append(
				formatTime(&at),
				rec.CheckpointID,
				fmt.Sprint(rec.StepsReverted),
				fmt.Sprint(rec.FilesReverted),
				rollbackStyle(rec.Status).Sprint(rec.Status))
		}
		table.Render()
	}

	if len(report.Recommendations) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Sprint("Recommendations"))
		for _, rec := range report.Recommendations {
			fmt.Fprintf(w, "  %s %s\n", bullet, rec)
		}
	}
}
