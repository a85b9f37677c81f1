package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/verger-io/verger/internal/domain"
)

// NewWorkerCmd создаёт группу команд для управления workers.
func NewWorkerCmd(appFn AppFn, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage workers",
	}

	cmd.AddCommand(
		newWorkerAddCmd(appFn, outputFn),
		newWorkerListCmd(appFn, outputFn),
		newWorkerEnableCmd(appFn, outputFn, true),
		newWorkerEnableCmd(appFn, outputFn, false),
	)

	return cmd
}

// parseSkillGrade разбирает CODE[=PROFICIENCY] в SkillGrade.
func parseSkillGrade(spec string) (domain.SkillGrade, error) {
	parts := strings.SplitN(spec, "=", 2)
	grade := domain.SkillGrade{
		SkillCode:   parts[0],
		Proficiency: domain.ProficiencyIntermediate,
	}
	if len(parts) == 2 {
		p := domain.Proficiency(strings.ToUpper(parts[1]))
		if p.Rank() == 0 {
			return grade, fmt.Errorf("unknown proficiency %q", parts[1])
		}
		grade.Proficiency = p
	}
	return grade, nil
}

func newWorkerAddCmd(appFn AppFn, outputFn func() *Output) *cobra.Command {
	var name, role string
	var capacity int
	var skillSpecs []string
	var autoassignable bool

	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Register a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := appFn(ctx)
			if err != nil {
				return err
			}
			defer app.Close()
			out := outputFn()

			name = args[0]
			w := &domain.Worker{
				ID:                 uuid.New(),
				Name:               name,
				Role:               role,
				Available:          true,
				Autoassignable:     autoassignable,
				MaxConcurrentTasks: capacity,
				CreatedAt:          time.Now(),
			}
			for _, spec := range skillSpecs {
				grade, err := parseSkillGrade(spec)
				if err != nil {
					return err
				}
				w.Skills = append(w.Skills, grade)
			}

			if err := app.Workers.Create(ctx, w); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Worker registered: %s", w.ID))
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "Worker role")
	cmd.Flags().IntVar(&capacity, "capacity", 3, "Maximum concurrent tasks")
	cmd.Flags().StringSliceVar(&skillSpecs, "skill", nil, "Skill as CODE[=PROFICIENCY] (repeatable)")
	cmd.Flags().BoolVar(&autoassignable, "autoassignable", true, "Eligible for automatic assignment")

	return cmd
}

func newWorkerListCmd(appFn AppFn, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := appFn(ctx)
			if err != nil {
				return err
			}
			defer app.Close()
			out := outputFn()

			workers, err := app.Workers.List(ctx)
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "AVAILABLE", "LOAD", "DONE", "FAILED", "SKILLS"}
			rows := make([][]string, len(workers))
			for i, w := range workers {
				skills := make([]string, len(w.Skills))
				for j, s := range w.Skills {
					skills[j] = s.SkillCode
				}
				rows[i] = []string{
					w.ID.String(),
					w.Name,
					strconv.FormatBool(w.Available),
					fmt.Sprintf("%d/%d", w.CurrentWorkload, w.MaxConcurrentTasks),
					strconv.Itoa(w.CompletedCount),
					strconv.Itoa(w.FailedCount),
					strings.Join(skills, ","),
				}
			}

			out.Print(headers, rows, workers)
			return nil
		},
	}
}

func newWorkerEnableCmd(appFn AppFn, outputFn func() *Output, enable bool) *cobra.Command {
	use, short := "enable ID", "Mark a worker available"
	if !enable {
		use, short = "disable ID", "Mark a worker unavailable"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid worker id: %w", err)
			}

			app, err := appFn(ctx)
			if err != nil {
				return err
			}
			defer app.Close()
			out := outputFn()

			if err := app.Registry.SetAvailability(ctx, id, enable); err != nil {
				return err
			}

			state := "available"
			if !enable {
				state = "unavailable"
			}
			out.Success(fmt.Sprintf("Worker %s is now %s", id, state))
			return nil
		},
	}
}
