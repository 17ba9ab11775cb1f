package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/deepnoodle-ai/wonton/cli"

	"github.com/TisoneK/agentfile-sub000"
	"github.com/TisoneK/agentfile-sub000/progress"
	"github.com/TisoneK/agentfile-sub000/rollback"
	"github.com/TisoneK/agentfile-sub000/state"
)

func registerWorkflowsCommand(app *cli.App) {
	app.Command("workflows").
		Description("List workflows with saved state").
		NoArgs().
		Run(func(ctx *cli.Context) error {
			return withWorkspace(ctx, func(goCtx context.Context, g globalFlags, ws *agentfile.Workspace) error {
				rows, err := collectWorkflows(goCtx, ws)
				if err != nil {
					return err
				}
				if g.json() {
					return writeJSON(os.Stdout, rows)
				}
				renderWorkflows(os.Stdout, rows)
				return nil
			})
		})
}

func registerStatusCommand(app *cli.App) {
	app.Command("status").
		Description("Show step progress and rollback status of a workflow").
		Args("workflow").
		Run(func(ctx *cli.Context) error {
			workflowID, err := requireWorkflowArg(ctx)
			if err != nil {
				return err
			}
			return withWorkspace(ctx, func(goCtx context.Context, g globalFlags, ws *agentfile.Workspace) error {
				view, err := loadStatus(goCtx, ws, workflowID)
				if err != nil {
					return err
				}
				if g.json() {
					return writeJSON(os.Stdout, view)
				}
				renderStatus(os.Stdout, view)
				return nil
			})
		})
}

// workflowRow is one line of the workflows listing.
type workflowRow struct {
	WorkflowID  string           `json:"workflowId"`
	Progress    progress.Summary `json:"progress"`
	Checkpoints int              `json:"checkpoints"`
}

func collectWorkflows(ctx context.Context, ws *agentfile.Workspace) ([]workflowRow, error) {
	ids, err := ws.Workflows(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]workflowRow, 0, len(ids))
	for _, id := range ids {
		summary, err := ws.Progress(ctx, id)
		if err != nil {
			ws.Logger.Warn("skipping unreadable workflow", "workflow", id, "error", err)
			continue
		}
		checkpoints, err := ws.Checkpoints.List(ctx, id)
		if err != nil {
			return nil, err
		}
		rows = append(rows, workflowRow{WorkflowID: id, Progress: summary, Checkpoints: len(checkpoints)})
	}
	return rows, nil
}

func renderWorkflows(w io.Writer, rows []workflowRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No workflows found.")
		return
	}
	table := newTable(w, "WORKFLOW", "PROGRESS", "STEPS", "CHECKPOINTS")
	for _, row := range rows {
		p := row.Progress
		table.Append(
			truncate(row.WorkflowID, 40),
			fmt.Sprintf("%s %3d%%", progressBar(p.ProgressPercentage), p.ProgressPercentage),
			fmt.Sprintf("%d/%d", p.CompletedSteps, p.TotalSteps),
			fmt.Sprint(row.Checkpoints))
	}
	table.Render()
}

// statusView is everything the status command shows.
type statusView struct {
	WorkflowID string             `json:"workflowId"`
	Progress   progress.Summary   `json:"progress"`
	Steps      []state.StepRecord `json:"steps"`
	Variables  map[string]any     `json:"variables"`
	Rollback   *rollback.Status   `json:"rollback"`
}

func loadStatus(ctx context.Context, ws *agentfile.Workspace, workflowID string) (*statusView, error) {
	st, err := ws.State(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	rb, err := ws.Rollback.Status(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return &statusView{
		WorkflowID: workflowID,
		Progress:   progress.Compute(st),
		Steps:      st.StepHistory,
		Variables:  st.Variables,
		Rollback:   rb,
	}, nil
}

func renderStatus(w io.Writer, view *statusView) {
	p := view.Progress
	fmt.Fprintln(w, boldStyle.Sprintf("Workflow %s", view.WorkflowID))
	fmt.Fprintf(w, "%s %d%% (%d/%d completed", progressBar(p.ProgressPercentage),
		p.ProgressPercentage, p.CompletedSteps, p.TotalSteps)
	if p.FailedSteps > 0 {
		fmt.Fprintf(w, ", %s", errorStyle.Sprintf("%d failed", p.FailedSteps))
	}
	fmt.Fprintln(w, ")")
	if p.CurrentStep != "" {
		fmt.Fprintf(w, "Current step: %s\n", p.CurrentStep)
	}
	if p.TotalDuration > 0 {
		fmt.Fprintf(w, "Total duration: %s\n", formatDuration(&p.TotalDuration))
	}
	fmt.Fprintln(w)

	if len(view.Steps) == 0 {
		fmt.Fprintln(w, mutedStyle.Sprint("No steps recorded."))
	} else {
		table := newTable(w, "", "STEP", "STATUS", "STARTED", "DURATION", "FILES")
		var failures []string
		for _, step := range view.Steps {
			icon, style := stepIcon(step.Status)
			table.Append(
				style.Sprint(icon),
				truncate(step.StepID, 40),
				style.Sprint(step.Status),
				formatTime(step.StartTime),
				formatDuration(step.Duration),
				fmt.Sprint(len(step.FileChanges)))
			if step.Error != "" {
				failures = append(failures, fmt.Sprintf("%s %s %s", step.StepID, arrow, errorStyle.Sprint(step.Error)))
			}
		}
		table.Render()
		for _, f := range failures {
			fmt.Fprintf(w, "  %s\n", f)
		}
	}

	if rb := view.Rollback; rb != nil && rb.TotalRollbacks > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Rollbacks: %d, last at %s to %s\n",
			rb.TotalRollbacks, formatTime(rb.LastRollbackAt), rb.LastRollbackCheckpointID)
	}
}
