package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/deepnoodle-ai/wonton/cli"

	"github.com/TisoneK/agentfile-sub000"
	"github.com/TisoneK/agentfile-sub000/checkpoint"
	"github.com/TisoneK/agentfile-sub000/internal/tablewriter"
)

func registerCheckpointCommands(app *cli.App) {
	group := app.Group("checkpoint").
		Description("Create, inspect and delete workflow checkpoints")

	group.Command("create").
		Description("Snapshot a workflow's current state").
		Args("workflow").
		Flags(
			cli.String("step", "s").Help("Step the checkpoint is taken at (defaults to the current step)"),
		).
		Run(func(ctx *cli.Context) error {
			workflowID, err := requireWorkflowArg(ctx)
			if err != nil {
				return err
			}
			stepID := ctx.String("step")
			return withWorkspace(ctx, func(goCtx context.Context, g globalFlags, ws *agentfile.Workspace) error {
				summary, err := ws.Checkpoint(goCtx, workflowID, stepID)
				if err != nil {
					return err
				}
				if g.json() {
					return writeJSON(os.Stdout, summary)
				}
				fmt.Fprintf(os.Stdout, "%s Created checkpoint %s (%d%% complete)\n",
					successStyle.Sprint(checkmark), summary.CheckpointID, summary.Metadata.Progress)
				return nil
			})
		})

	group.Command("list").
		Description("List a workflow's checkpoints, newest first").
		Args("workflow").
		Run(func(ctx *cli.Context) error {
			workflowID, err := requireWorkflowArg(ctx)
			if err != nil {
				return err
			}
			return withWorkspace(ctx, func(goCtx context.Context, g globalFlags, ws *agentfile.Workspace) error {
				summaries, err := ws.Checkpoints.List(goCtx, workflowID)
				if err != nil {
					return err
				}
				if g.json() {
					return writeJSON(os.Stdout, summaries)
				}
				renderCheckpoints(os.Stdout, summaries)
				return nil
			})
		})

	group.Command("show").
		Description("Show a checkpoint's snapshot").
		Args("workflow").
		Flags(
			cli.String("id", "").Required().Help("Checkpoint id"),
		).
		Run(func(ctx *cli.Context) error {
			workflowID, err := requireWorkflowArg(ctx)
			if err != nil {
				return err
			}
			checkpointID := ctx.String("id")
			return withWorkspace(ctx, func(goCtx context.Context, g globalFlags, ws *agentfile.Workspace) error {
				cp, err := ws.Checkpoints.Info(goCtx, workflowID, checkpointID)
				if err != nil {
					return err
				}
				if g.json() {
					return writeJSON(os.Stdout, cp)
				}
				renderCheckpoint(os.Stdout, cp)
				return nil
			})
		})

	group.Command("delete").
		Description("Delete a checkpoint").
		Args("workflow").
		Flags(
			cli.String("id", "").Required().Help("Checkpoint id"),
		).
		Run(func(ctx *cli.Context) error {
			workflowID, err := requireWorkflowArg(ctx)
			if err != nil {
				return err
			}
			checkpointID := ctx.String("id")
			return withWorkspace(ctx, func(goCtx context.Context, g globalFlags, ws *agentfile.Workspace) error {
				if err := ws.Checkpoints.Delete(goCtx, workflowID, checkpointID); err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "%s Deleted checkpoint %s\n", successStyle.Sprint(checkmark), checkpointID)
				return nil
			})
		})

	group.Command("prune").
		Description("Delete all but the newest checkpoints of a workflow").
		Args("workflow").
		Flags(
			cli.Int("keep", "k").Default(5).Help("Number of checkpoints to keep"),
		).
		Run(func(ctx *cli.Context) error {
			workflowID, err := requireWorkflowArg(ctx)
			if err != nil {
				return err
			}
			keep := ctx.Int("keep")
			return withWorkspace(ctx, func(goCtx context.Context, g globalFlags, ws *agentfile.Workspace) error {
				deleted, err := ws.Checkpoints.Prune(goCtx, workflowID, keep)
				if err != nil {
					return err
				}
				if g.json() {
					return writeJSON(os.Stdout, map[string]int{"deleted": deleted})
				}
				fmt.Fprintf(os.Stdout, "Deleted %s\n", plural(deleted, "checkpoint"))
				return nil
			})
		})
}

func renderCheckpoints(w io.Writer, summaries []checkpoint.Summary) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No checkpoints found.")
		return
	}
	table := newTable(w, "CHECKPOINT", "CREATED", "STEP", "PROGRESS")
	for _, s := range summaries {
		created := s.CreatedAt
		table.Append(
			s.CheckpointID,
			formatTime(&created),
			truncate(orDash(s.StepID), 30),
			fmt.Sprintf("%d/%d (%d%%)", s.Metadata.CompletedSteps, s.Metadata.TotalSteps, s.Metadata.Progress))
	}
	table.Render()
}

func renderCheckpoint(w io.Writer, cp *checkpoint.Checkpoint) {
	fmt.Fprintln(w, boldStyle.Sprintf("Checkpoint %s", cp.CheckpointID))
	fmt.Fprintf(w, "Workflow:  %s\n", cp.WorkflowID)
	fmt.Fprintf(w, "Created:   %s\n", formatTime(&cp.CreatedAt))
	fmt.Fprintf(w, "Step:      %s\n", orDash(cp.StepID))
	fmt.Fprintf(w, "Progress:  %s %d%% (%d/%d)\n", progressBar(cp.Metadata.Progress),
		cp.Metadata.Progress, cp.Metadata.CompletedSteps, cp.Metadata.TotalSteps)

	if len(cp.State.StepHistory) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Sprint("Steps"))
		table := tablewriter.NewWriter(w, tablewriter.StylePlain)
		for _, step := range cp.State.StepHistory {
			icon, style := stepIcon(step.Status)
			table.Append(" "+style.Sprint(icon), step.StepID, style.Sprint(step.Status))
		}
		table.Render()
	}

	if len(cp.State.Variables) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Sprint("Variables"))
		keys := make([]string, 0, len(cp.State.Variables))
		for k := range cp.State.Variables {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %v\n", k, cp.State.Variables[k])
		}
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
