package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// NewTaskCmd создаёт группу команд для управления tasks.
func NewTaskCmd(appFn AppFn, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}

	cmd.AddCommand(
		newTaskShowCmd(appFn, outputFn),
		newTaskAssignCmd(appFn, outputFn),
		newTaskHistoryCmd(appFn, outputFn),
	)

	return cmd
}

func newTaskShowCmd(appFn AppFn, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show task details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id: %w", err)
			}

			app, err := appFn(ctx)
			if err != nil {
				return err
			}
			defer app.Close()
			out := outputFn()

			task, err := app.Tasks.GetByID(ctx, id)
			if err != nil {
				return err
			}

			worker := ""
			if task.WorkerID != nil {
				worker = task.WorkerID.String()
			}
			out.Print(
				[]string{"ID", "WORKFLOW", "TYPE", "STATUS", "WORKER", "SCORE", "RETRIES", "ERROR"},
				[][]string{{
					task.ID.String(),
					task.WorkflowID.String(),
					string(task.Type),
					string(task.Status),
					worker,
					fmt.Sprintf("%.2f", task.AssignmentScore),
					fmt.Sprintf("%d/%d", task.RetryCount, task.MaxRetries),
					task.Error,
				}},
				task,
			)
			return nil
		},
	}
}

func newTaskAssignCmd(appFn AppFn, outputFn func() *Output) *cobra.Command {
	var force bool
	var actor string

	cmd := &cobra.Command{
		Use:   "assign TASK_ID WORKER_ID",
		Short: "Manually assign a task to a worker",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			taskID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id: %w", err)
			}
			workerID, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid worker id: %w", err)
			}

			app, err := appFn(ctx)
			if err != nil {
				return err
			}
			defer app.Close()
			out := outputFn()

			result, err := app.Orchestrator.AssignTaskManual(ctx, taskID, workerID, force, actor)
			if err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("assignment failed: %v (use --force to override capacity)", result.Errors)
			}

			if force {
				out.Warn("capacity limit overridden")
			}
			out.Success(fmt.Sprintf("Task %s assigned to %s", taskID, workerID))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Assign over the worker capacity limit")
	cmd.Flags().StringVar(&actor, "actor", "cli", "Actor recorded in the audit log")

	return cmd
}

func newTaskHistoryCmd(appFn AppFn, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "history TASK_ID",
		Short: "Show the audit trail of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id: %w", err)
			}

			app, err := appFn(ctx)
			if err != nil {
				return err
			}
			defer app.Close()
			out := outputFn()

			entries, err := app.Audit.TaskHistory(ctx, id)
			if err != nil {
				return err
			}

			headers := []string{"TIME", "ACTION", "ACTOR", "DETAIL"}
			rows := make([][]string, len(entries))
			for i, e := range entries {
				rows[i] = []string{
					e.CreatedAt.Format(time.RFC3339),
					string(e.Action),
					e.Actor,
					fmt.Sprintf("%v", e.Detail),
				}
			}

			out.Print(headers, rows, entries)
			return nil
		},
	}
}
