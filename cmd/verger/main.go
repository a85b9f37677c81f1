// Verger CLI — инструмент командной строки для управления
// workflows, tasks, workers и skills.
//
// Использование:
//
//	verger [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	workflow  Управление workflows
//	task      Управление tasks
//	worker    Управление workers
//	skill     Управление каталогом skills
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/verger-io/verger/internal/cli"
	"github.com/verger-io/verger/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "verger",
		Short:         "Verger CLI — media intake orchestration tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	logger := telemetry.SetupLogger()
	appFn := func(ctx context.Context) (*cli.App, error) { return cli.NewApp(ctx, logger) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewWorkflowCmd(appFn, outputFn),
		cli.NewTaskCmd(appFn, outputFn),
		cli.NewWorkerCmd(appFn, outputFn),
		cli.NewSkillCmd(appFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
