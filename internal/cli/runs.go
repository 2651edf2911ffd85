package cli

import (
	"fmt"
	"strings"

	"github.com/lucasnoah/specforge/internal/config"
	"github.com/lucasnoah/specforge/internal/runstore"
	"github.com/spf13/cobra"
)

func openRuns(cfg *config.Config) (*runstore.Store, error) {
	if cfg.Forge.RunsDir != "" {
		return runstore.NewStore(cfg.Forge.RunsDir), nil
	}
	return runstore.DefaultStore()
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored run state",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openRuns(cfg)
		if err != nil {
			return fmt.Errorf("open run store: %w", err)
		}

		runs, err := store.List(status)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			cmd.Println("No runs found.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-24s %-10s %-16s %s\n", "WORK ITEM", "STATUS", "PHASE", "UPDATED")
		fmt.Fprintln(w, strings.Repeat("-", 72))
		for _, r := range runs {
			fmt.Fprintf(w, "%-24s %-10s %-16s %s\n", r.WorkItem, r.Status, r.CurrentPhase, r.UpdatedAt)
		}
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <work-item>",
	Short: "Show one run in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openRuns(cfg)
		if err != nil {
			return fmt.Errorf("open run store: %w", err)
		}

		rs, err := store.Get(args[0])
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Work item: %s\n", rs.WorkItem)
		fmt.Fprintf(w, "  Task:      %s\n", rs.Task)
		fmt.Fprintf(w, "  Status:    %s\n", rs.Status)
		fmt.Fprintf(w, "  Phase:     %s (attempt %d)\n", rs.CurrentPhase, rs.CurrentAttempt)
		if rs.Reason != "" {
			fmt.Fprintf(w, "  Reason:    %s\n", rs.Reason)
		}
		fmt.Fprintf(w, "  Created:   %s\n", rs.CreatedAt)
		fmt.Fprintf(w, "  Updated:   %s\n", rs.UpdatedAt)

		fmt.Fprintln(w, "  Criteria:")
		for _, c := range rs.Criteria {
			fmt.Fprintf(w, "    - %s\n", c)
		}

		if len(rs.PhaseHistory) > 0 {
			fmt.Fprintln(w, "  Phases:")
			for _, p := range rs.PhaseHistory {
				fmt.Fprintf(w, "    %-16s %-10s attempts=%d  %s\n", p.Phase, p.Outcome, p.Attempts, p.CompletedAt)
			}
		}
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "Filter by status (pending, running, succeeded, abandoned, failed)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
}
