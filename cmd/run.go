package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/signalnine/frugal/internal/job"
	"github.com/spf13/cobra"
)

var (
	flagProject string
	flagGoal    string
	flagContext string
	flagSchema  string
	flagBudget  int
	flagTask    string
	flagRetries int
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit a job and wait for its receipt",
		RunE:  runJob,
	}
	cmd.Flags().StringVar(&flagProject, "project", "default", "project the job is charged to")
	cmd.Flags().StringVar(&flagGoal, "goal", "", "what the job should accomplish")
	cmd.Flags().StringVar(&flagContext, "context", "", "context file or directory to include in the prompt")
	cmd.Flags().StringVar(&flagSchema, "schema", "", "JSON schema file the output must satisfy")
	cmd.Flags().IntVar(&flagBudget, "budget-cents", 0, "maximum cost of this job in cents")
	cmd.Flags().StringVar(&flagTask, "task", "", "task kind used to match backend capabilities")
	cmd.Flags().IntVar(&flagRetries, "max-retries", 0, "override same-tier retries for this job")
	return cmd
}

func runJob(cmd *cobra.Command, args []string) error {
	if flagGoal == "" {
		return fmt.Errorf("--goal is required")
	}

	sys, err := buildSystem(cfgFile)
	if err != nil {
		return err
	}
	defer sys.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	j := job.New(flagProject, flagGoal)
	j.TaskKind = flagTask
	j.BudgetCents = flagBudget
	j.MaxRetries = flagRetries
	if flagSchema != "" {
		j.SchemaRaw, err = os.ReadFile(flagSchema)
		if err != nil {
			return fmt.Errorf("reading schema: %w", err)
		}
	}
	if flagContext != "" {
		j.Context, err = loadContext(flagContext)
		if err != nil {
			return fmt.Errorf("loading context: %w", err)
		}
	}

	// Probe once before selecting so the first job sees real health data,
	// then keep probing in the background while the job runs.
	sys.mon.CheckNow(ctx)
	sys.mon.Start()
	defer sys.mon.Stop()

	receipt, runErr := sys.runner.Run(ctx, j)
	if receipt != nil {
		fmt.Printf("job %s: %s (%s)\n", receipt.JobID, receipt.Status, receipt.Reason)
		fmt.Printf("  tiers: %s\n", strings.Join(receipt.TierPath, " -> "))
		fmt.Printf("  cost: %d¢  agreement: %.2f  latency: %dms\n", receipt.CostCents, receipt.Agreement, receipt.LatencyMS)
	}
	if runErr == nil && j.Result != "" {
		fmt.Println("\n--- Result ---")
		fmt.Println(j.Result)
	}
	return runErr
}

// loadContext reads one file, or every regular file directly under a
// directory, concatenated with filename headers. Hidden files are skipped.
func loadContext(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		data, err := os.ReadFile(path)
		return string(data), err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(path, e.Name()))
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "=== %s ===\n%s\n", e.Name(), data)
	}
	return b.String(), nil
}
