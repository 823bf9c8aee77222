// Actionrun CLI — инструмент командной строки для отправки
// и проверки планов действий.
//
// Использование:
//
//	actionrun [--api-url URL] [--json] plan <subcommand> [flags]
//
// Команды:
//
//	plan submit  Отправить план на сервер
//	plan list    Список runs
//	plan show    Run и статус его шагов
//	plan reap    Удалить запись завершённого run
//	plan logs    Лог-артефакт шага
//	plan lint    Проверить файл плана локально
//	plan exec    Выполнить план локально
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaiso/Actionrun/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "actionrun",
		Short:         "Actionrun CLI — staged shell action plans",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := "http://localhost:8080"
	if v := os.Getenv("ACTIONRUN_API_URL"); v != "" {
		defaultURL = v
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewPlanCmd(clientFn, outputFn),
	)

	// Ctrl+C прерывает plan exec: шаги отменяются, команда завершается с ошибкой
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}
