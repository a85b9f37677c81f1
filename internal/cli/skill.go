package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/verger-io/verger/internal/domain"
	"github.com/verger-io/verger/internal/repo"
)

// NewSkillCmd создаёт группу команд для справочника навыков.
func NewSkillCmd(appFn AppFn, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skill",
		Short: "Manage the skill catalog",
	}

	cmd.AddCommand(
		newSkillAddCmd(appFn, outputFn),
		newSkillListCmd(appFn, outputFn),
	)

	return cmd
}

func newSkillAddCmd(appFn AppFn, outputFn func() *Output) *cobra.Command {
	var category, label string
	var tools []string

	cmd := &cobra.Command{
		Use:   "add CODE",
		Short: "Add a skill to the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := appFn(ctx)
			if err != nil {
				return err
			}
			defer app.Close()
			out := outputFn()

			skill := &domain.Skill{
				ID:            uuid.New(),
				Code:          args[0],
				Category:      category,
				Label:         label,
				RequiredTools: tools,
				CreatedAt:     time.Now(),
			}
			if skill.Label == "" {
				skill.Label = skill.Code
			}

			if err := app.Skills.Create(ctx, skill); err != nil {
				if errors.Is(err, repo.ErrAlreadyExists) {
					return fmt.Errorf("skill %s already exists", skill.Code)
				}
				return err
			}

			out.Success(fmt.Sprintf("Skill added: %s", skill.Code))
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Skill category")
	cmd.Flags().StringVar(&label, "label", "", "Human-readable label")
	cmd.Flags().StringSliceVar(&tools, "tool", nil, "Required tool (repeatable)")

	return cmd
}

func newSkillListCmd(appFn AppFn, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List catalog skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := appFn(ctx)
			if err != nil {
				return err
			}
			defer app.Close()
			out := outputFn()

			skills, err := app.Skills.List(ctx)
			if err != nil {
				return err
			}

			headers := []string{"CODE", "CATEGORY", "LABEL", "TOOLS"}
			rows := make([][]string, len(skills))
			for i, s := range skills {
				rows[i] = []string{s.Code, s.Category, s.Label, strings.Join(s.RequiredTools, ",")}
			}

			out.Print(headers, rows, skills)
			return nil
		},
	}
}
