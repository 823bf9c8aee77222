package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Actionrun/internal/config"
	"github.com/shaiso/Actionrun/internal/domain"
	"github.com/shaiso/Actionrun/internal/engine"
	"github.com/shaiso/Actionrun/internal/telemetry"
	"github.com/shaiso/Actionrun/internal/worker"
)

// NewPlanCmd создаёт группу команд для работы с планами.
func NewPlanCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Submit, inspect and run action plans",
	}

	cmd.AddCommand(
		newPlanSubmitCmd(clientFn, outputFn),
		newPlanListCmd(clientFn, outputFn),
		newPlanShowCmd(clientFn, outputFn),
		newPlanReapCmd(clientFn, outputFn),
		newPlanLogsCmd(clientFn, outputFn),
		newPlanLintCmd(outputFn),
		newPlanExecCmd(outputFn),
	)

	return cmd
}

func newPlanSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "submit -f FILE",
		Short: "Submit a plan to the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			format, err := engine.FormatFromPath(file)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}

			run, err := client.SubmitPlan(cmd.Context(), data, contentType(format))
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Action plan '%s' started: %s", run.PlanName, run.ID))
			out.Print(runHeaders, [][]string{runRow(run)}, run)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Plan file (.json, .yaml, .yml)")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newPlanListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plan runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runs, err := client.ListPlans(cmd.Context(), ListPlansOpts{
				Status: status,
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "PLAN", "STATUS", "STEPS", "FAILED_STEP", "CREATED"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{r.ID, r.PlanName, r.Status, strconv.Itoa(r.Steps), dash(r.FailedStep), r.CreatedAt}
			}

			out.Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PENDING, RUNNING, SUCCEEDED, FAILED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newPlanShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show a plan run with its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.GetPlan(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if out.IsJSON() {
				out.JSON(run)
				return nil
			}

			out.Table(runHeaders, [][]string{runRow(run)})
			if run.Error != "" {
				out.Warn(run.Error)
			}
			fmt.Fprintln(out.w)
			out.Table(stepHeaders, stepRows(run.Steps))
			return nil
		},
	}
}

func newPlanReapCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "reap RUN_ID",
		Short: "Delete the record of a finished plan run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.ReapPlan(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run reaped: %s (%s)", run.ID, run.Status))
			if out.IsJSON() {
				out.JSON(run)
			}
			return nil
		},
	}
}

func newPlanLogsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "logs RUN_ID STEP",
		Short: "Print the log artifact of a step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			data, err := client.StepLog(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}

			out.Raw(data)
			return nil
		},
	}
}

func newPlanLintCmd(outputFn func() *Output) *cobra.Command {
	var file string
	var strict bool

	cmd := &cobra.Command{
		Use:   "lint -f FILE",
		Short: "Validate a plan file and report steps that would never start",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			plan, err := loadPlan(file)
			if err != nil {
				return err
			}

			report := engine.Analyze(plan)

			headers := []string{"KIND", "STAGE", "STEP", "DEPENDENCY", "MESSAGE"}
			rows := make([][]string, len(report.Issues))
			for i, issue := range report.Issues {
				rows[i] = []string{string(issue.Kind), issue.Stage, issue.Step, dash(issue.Dependency), issue.Message}
			}

			if report.OK() && !out.IsJSON() {
				out.Success(fmt.Sprintf("Plan '%s' is valid: %d stages, %d steps", plan.Name, len(plan.Stages), plan.StepCount()))
				return nil
			}

			out.Print(headers, rows, report)
			if strict && !report.OK() {
				return fmt.Errorf("plan '%s' has %d dependency issues", plan.Name, len(report.Issues))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Plan file (.json, .yaml, .yml)")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail when dependency issues are found")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newPlanExecCmd(outputFn func() *Output) *cobra.Command {
	defaults := config.Default()

	var file string
	var logDir string
	var shell string
	var maxParallel int
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "exec -f FILE",
		Short: "Run a plan locally and wait for it to finish",
		Long: "Run a plan in this process without the API server. " +
			"Step logs are written to --log-dir. Exits non-zero if a step could not be executed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			plan, err := loadPlan(file)
			if err != nil {
				return err
			}

			for _, issue := range engine.Analyze(plan).Issues {
				out.Warn(issue.Message)
			}

			if err := os.MkdirAll(logDir, 0o755); err != nil {
				return fmt.Errorf("create log dir: %w", err)
			}

			executor := worker.New(worker.Config{
				Commands:    worker.ShellRunner{Shell: shell},
				Artifacts:   worker.DirStore{Dir: logDir},
				MaxParallel: maxParallel,
				Logger:      telemetry.NewLogger(out.errW, telemetry.LogLevel(), "text"),
			})

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			result, runErr := executor.RunPlan(ctx, *plan)

			if out.IsJSON() {
				out.JSON(result)
			} else {
				out.Table([]string{"STAGE", "STEP", "EXIT", "LOG", "ERROR"}, reportRows(result.Steps))
			}

			if runErr != nil {
				return runErr
			}

			out.Success(fmt.Sprintf("Action plan '%s' finished: %d steps completed", plan.Name, len(result.Completed)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Plan file (.json, .yaml, .yml)")
	cmd.Flags().StringVar(&logDir, "log-dir", defaults.LogDir, "Directory for step log artifacts")
	cmd.Flags().StringVar(&shell, "shell", defaults.Shell, "Shell used to run step commands")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", defaults.MaxParallel, "Maximum concurrently running commands (0 = unlimited)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Abort the run after this duration (0 = no limit)")
	cmd.MarkFlagRequired("file")

	return cmd
}

// --- helpers ---

var runHeaders = []string{"ID", "PLAN", "STATUS", "FAILED_STEP", "CREATED", "FINISHED"}

var stepHeaders = []string{"STAGE", "STEP", "STATUS", "EXIT", "LOG"}

func runRow(r *RunResponse) []string {
	return []string{r.ID, r.PlanName, r.Status, dash(r.FailedStep), r.CreatedAt, dash(r.FinishedAt)}
}

func stepRows(steps []StepRecord) [][]string {
	rows := make([][]string, len(steps))
	for i, s := range steps {
		exit := "-"
		if s.ExitCode != nil {
			exit = strconv.Itoa(*s.ExitCode)
		}
		rows[i] = []string{s.Stage, s.Name, s.Status, exit, dash(s.LogFile)}
	}
	return rows
}

func reportRows(reports []worker.StepReport) [][]string {
	rows := make([][]string, len(reports))
	for i, r := range reports {
		exit := "-"
		if r.Ran {
			exit = strconv.Itoa(r.ExitCode)
		}
		errMsg := "-"
		if r.Err != nil {
			errMsg = r.Err.Error()
		}
		rows[i] = []string{r.Stage, r.Step, exit, dash(r.LogFile), errMsg}
	}
	return rows
}

// loadPlan читает и валидирует файл плана.
func loadPlan(path string) (*domain.ActionPlan, error) {
	plan, err := engine.ParsePlanFile(path)
	if err != nil {
		return nil, err
	}
	if err := engine.Validate(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// contentType возвращает Content-Type для формата плана.
func contentType(format engine.Format) string {
	if format == engine.FormatYAML {
		return "application/yaml"
	}
	return "application/json"
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
