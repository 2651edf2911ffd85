package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/lucasnoah/specforge/internal/config"
	"github.com/lucasnoah/specforge/internal/executor"
	"github.com/lucasnoah/specforge/internal/phase"
	"github.com/lucasnoah/specforge/internal/retry"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <work-item.yaml>",
	Short: "Drive a work item through analysis, implementation, testing, and fixes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if errs := config.Validate(cfg); len(errs) > 0 {
			return fmt.Errorf("invalid config: %s (run `forge config validate` for the full list)", errs[0])
		}
		f := cfg.Forge
		if f.AgentCommand == "" {
			return fmt.Errorf("forge.agent_command must be set to run work items")
		}
		if f.ToolCommand == "" {
			return fmt.Errorf("forge.tool_command must be set to run work items")
		}

		item, err := config.LoadWorkItem(args[0])
		if err != nil {
			return err
		}

		baseDelay, _ := time.ParseDuration(f.Retry.BaseDelay)
		maxDelay, _ := time.ParseDuration(f.Retry.MaxDelay)
		resetTimeout, _ := time.ParseDuration(f.Breaker.ResetTimeout)
		testTimeout, _ := time.ParseDuration(f.TestTimeout)
		retryCfg := retry.Config{
			MaxAttempts:   f.Retry.MaxAttempts,
			BaseDelay:     baseDelay,
			BackoffFactor: f.Retry.BackoffFactor,
			MaxDelay:      maxDelay,
			JitterFactor:  f.Retry.Jitter,
		}

		store, err := openHistory(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer store.Close()

		runs, err := openRuns(cfg)
		if err != nil {
			return fmt.Errorf("open run store: %w", err)
		}

		runner := &executor.ExecRunner{}
		phases := executor.NewCommandPhaseExecutor(runner, f.WorkDir, f.AgentCommand, 0, retryCfg,
			retry.NewBreaker(f.Breaker.FailureThreshold, resetTimeout))
		tools := executor.NewGuardedToolExecutor(
			executor.NewCommandToolExecutor(runner, f.WorkDir, f.ToolCommand, 0),
			retry.NewBreaker(f.Breaker.FailureThreshold, resetTimeout))
		tests := executor.NewCommandTestRunner(runner, f.WorkDir, f.TestCommand, testTimeout)

		texts := make([]string, len(item.Criteria))
		for i, c := range item.Criteria {
			texts[i] = c.Text
		}

		m, err := phase.New(phase.Config{
			WorkItem:      item.ID,
			Task:          item.Task,
			MaxRetries:    f.MaxRetries,
			AbandonMarker: f.AbandonMarker,
		}, texts, phase.Deps{
			History:  store,
			Runs:     runs,
			Phases:   phases,
			Tools:    tools,
			Tests:    tests,
			Progress: cmd.OutOrStdout(),
		})
		if err != nil {
			return err
		}
		for _, c := range item.Criteria {
			for _, dep := range c.Deps {
				if err := m.Graph().AddDependency(c.Text, dep); err != nil {
					return err
				}
			}
		}

		ok, err := m.Run(cmd.Context())
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		report := m.Graph().Report()
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%-48s %-12s %s\n", "CRITERION", "STATUS", "REASON")
		fmt.Fprintln(w, strings.Repeat("-", 80))
		for _, key := range m.Graph().Keys() {
			entry := report[key]
			fmt.Fprintf(w, "%-48s %-12s %s\n", key, entry.Status, entry.Reason)
		}

		if !ok {
			return fmt.Errorf("work item %s did not complete", item.ID)
		}
		cmd.Printf("\nWork item %s completed.\n", item.ID)
		return nil
	},
}
