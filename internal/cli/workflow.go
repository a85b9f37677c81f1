package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/verger-io/verger/internal/domain"
)

// AppFn лениво подключает зависимости команды.
type AppFn func(ctx context.Context) (*App, error)

// NewWorkflowCmd создаёт группу команд для управления workflows.
func NewWorkflowCmd(appFn AppFn, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage workflows",
	}

	cmd.AddCommand(
		newWorkflowCreateCmd(appFn, outputFn),
		newWorkflowStartCmd(appFn, outputFn),
		newWorkflowCancelCmd(appFn, outputFn),
		newWorkflowShowCmd(appFn, outputFn),
		newWorkflowListCmd(appFn, outputFn),
		newWorkflowTasksCmd(appFn, outputFn),
	)

	return cmd
}

// parseArtifact разбирает REF:KIND[:geo] в Artifact.
func parseArtifact(spec string) (domain.Artifact, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return domain.Artifact{}, fmt.Errorf("invalid artifact %q, expected REF:KIND[:geo]", spec)
	}

	kind := domain.ArtifactKind(parts[1])
	if kind != domain.ArtifactKindAudio && kind != domain.ArtifactKindVideo {
		return domain.Artifact{}, fmt.Errorf("unknown artifact kind %q (audio|video)", parts[1])
	}

	a := domain.Artifact{Ref: parts[0], Kind: kind}
	if len(parts) == 3 {
		if parts[2] != "geo" {
			return domain.Artifact{}, fmt.Errorf("unknown artifact modifier %q", parts[2])
		}
		a.HasGeo = true
	}
	return a, nil
}

func newWorkflowCreateCmd(appFn AppFn, outputFn func() *Output) *cobra.Command {
	var artifactSpecs []string
	var priority int
	var start bool
	var strategy string

	cmd := &cobra.Command{
		Use:   "create ENTITY_REF",
		Short: "Create a workflow from uploaded artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := appFn(ctx)
			if err != nil {
				return err
			}
			defer app.Close()
			out := outputFn()

			artifacts := make([]domain.Artifact, 0, len(artifactSpecs))
			for _, spec := range artifactSpecs {
				a, err := parseArtifact(spec)
				if err != nil {
					return err
				}
				artifacts = append(artifacts, a)
			}

			types := domain.DeriveTaskTypes(artifacts)
			wf, err := app.Orchestrator.CreateWorkflow(ctx, "", args[0], priority, types)
			if err != nil {
				return err
			}

			if start {
				if err := app.Orchestrator.StartWorkflow(ctx, wf.ID, domain.AssignmentStrategy(strategy)); err != nil {
					return err
				}
				wf, err = app.Workflows.GetByID(ctx, wf.ID)
				if err != nil {
					return err
				}
			}

			out.Success(fmt.Sprintf("Workflow created: %s", wf.ID))
			printWorkflow(out, wf)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&artifactSpecs, "artifact", nil, "Artifact as REF:KIND[:geo] (repeatable)")
	cmd.Flags().IntVar(&priority, "priority", 0, "Workflow priority")
	cmd.Flags().BoolVar(&start, "start", false, "Start the workflow immediately")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Assignment strategy (skill_match, workload_balance, random, ai_match)")
	cmd.MarkFlagRequired("artifact")

	return cmd
}

func newWorkflowStartCmd(appFn AppFn, outputFn func() *Output) *cobra.Command {
	var strategy string

	cmd := &cobra.Command{
		Use:   "start ID",
		Short: "Start a created workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid workflow id: %w", err)
			}

			app, err := appFn(ctx)
			if err != nil {
				return err
			}
			defer app.Close()
			out := outputFn()

			if err := app.Orchestrator.StartWorkflow(ctx, id, domain.AssignmentStrategy(strategy)); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Workflow started: %s", id))
			return nil
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", "", "Assignment strategy")

	return cmd
}

func newWorkflowCancelCmd(appFn AppFn, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a workflow and its unfinished tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid workflow id: %w", err)
			}

			app, err := appFn(ctx)
			if err != nil {
				return err
			}
			defer app.Close()
			out := outputFn()

			if err := app.Orchestrator.CancelWorkflow(ctx, id, "cli"); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Workflow cancelled: %s", id))
			return nil
		},
	}
}

func newWorkflowShowCmd(appFn AppFn, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show workflow details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid workflow id: %w", err)
			}

			app, err := appFn(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			wf, err := app.Workflows.GetByID(ctx, id)
			if err != nil {
				return err
			}

			printWorkflow(outputFn(), wf)
			return nil
		},
	}
}

func newWorkflowListCmd(appFn AppFn, outputFn func() *Output) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := appFn(ctx)
			if err != nil {
				return err
			}
			defer app.Close()
			out := outputFn()

			wfs, err := app.Workflows.List(ctx, limit, offset)
			if err != nil {
				return err
			}

			headers := []string{"ID", "ENTITY_REF", "STATUS", "TASKS", "DONE", "CREATED"}
			rows := make([][]string, len(wfs))
			for i, wf := range wfs {
				rows[i] = []string{
					wf.ID.String(),
					wf.EntityRef,
					string(wf.Status),
					strconv.Itoa(wf.TaskCount),
					strconv.Itoa(wf.CompletedTaskCount),
					wf.CreatedAt.Format(time.RFC3339),
				}
			}

			out.Print(headers, rows, wfs)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Results offset")

	return cmd
}

func newWorkflowTasksCmd(appFn AppFn, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks WORKFLOW_ID",
		Short: "List tasks of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid workflow id: %w", err)
			}

			app, err := appFn(ctx)
			if err != nil {
				return err
			}
			defer app.Close()
			out := outputFn()

			tasks, err := app.Tasks.ListByWorkflow(ctx, id)
			if err != nil {
				return err
			}

			headers := []string{"ID", "TYPE", "STATUS", "WORKER", "RETRIES", "ERROR"}
			rows := make([][]string, len(tasks))
			for i, t := range tasks {
				worker := ""
				if t.WorkerID != nil {
					worker = t.WorkerID.String()
				}
				rows[i] = []string{
					t.ID.String(),
					string(t.Type),
					string(t.Status),
					worker,
					fmt.Sprintf("%d/%d", t.RetryCount, t.MaxRetries),
					t.Error,
				}
			}

			out.Print(headers, rows, tasks)
			return nil
		},
	}
}

func printWorkflow(out *Output, wf *domain.Workflow) {
	out.Print(
		[]string{"ID", "ENTITY_REF", "STATUS", "TASKS", "DONE", "CREATED"},
		[][]string{{
			wf.ID.String(),
			wf.EntityRef,
			string(wf.Status),
			strconv.Itoa(wf.TaskCount),
			strconv.Itoa(wf.CompletedTaskCount),
			wf.CreatedAt.Format(time.RFC3339),
		}},
		wf,
	)
}
