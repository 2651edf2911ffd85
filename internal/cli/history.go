package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/lucasnoah/specforge/internal/config"
	"github.com/lucasnoah/specforge/internal/history"
	"github.com/spf13/cobra"
)

// openHistory opens the configured history backend. SQLite stores are
// migrated on open; the Postgres backend applies its schema itself.
func openHistory(ctx context.Context, cfg *config.Config) (history.Store, error) {
	switch cfg.Forge.History.Backend {
	case "postgres":
		return history.OpenPostgres(ctx, cfg.Forge.History.DSN)
	default:
		path := cfg.Forge.History.Path
		if path == "" {
			p, err := history.DefaultPath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		store, err := history.OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(); err != nil {
			store.Close()
			return nil, fmt.Errorf("migrate history store: %w", err)
		}
		return store, nil
	}
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect and maintain the test history store",
}

var historyListCmd = &cobra.Command{
	Use:   "list <test-file>",
	Short: "List recorded runs of a test file, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openHistory(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer store.Close()

		results, err := store.TestHistory(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			cmd.Println("No runs recorded.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-20s %-8s %-16s %s\n", "TIMESTAMP", "STATUS", "KIND", "TEST")
		fmt.Fprintln(w, strings.Repeat("-", 70))
		for _, r := range results {
			fmt.Fprintf(w, "%-20s %-8s %-16s %s\n", r.Timestamp, r.Status, r.ErrorKind, r.TestName)
			if r.Status == history.StatusFailed && r.ErrorMessage != "" {
				fmt.Fprintf(w, "  %s\n", r.ErrorMessage)
			}
			if r.FixedBy != "" {
				fmt.Fprintf(w, "  fixed by %s: %s\n", r.FixedBy, r.FixDescription)
			}
		}
		return nil
	},
}

var historySummaryCmd = &cobra.Command{
	Use:   "summary <test-file>",
	Short: "Show the compact run summary for a test file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openHistory(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer store.Close()

		rows, err := store.TestSummary(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			cmd.Println("No runs recorded.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-20s %-8s %-10s %s\n", "TIMESTAMP", "STATUS", "DURATION", "MODIFIED")
		fmt.Fprintln(w, strings.Repeat("-", 70))
		for _, s := range rows {
			fmt.Fprintf(w, "%-20s %-8s %-10s %s\n",
				s.Timestamp, s.Status, fmt.Sprintf("%dms", s.DurationMs), strings.Join(s.ModifiedFiles, ", "))
		}
		return nil
	},
}

var historyFixCmd = &cobra.Command{
	Use:   "fix <test-file>",
	Short: "Mark the most recent failed run of a test file as fixed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fixedBy, _ := cmd.Flags().GetString("by")
		description, _ := cmd.Flags().GetString("description")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openHistory(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer store.Close()

		if err := store.RecordFix(cmd.Context(), args[0], fixedBy, description); err != nil {
			return err
		}
		cmd.Printf("Recorded fix for %s\n", args[0])
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all recorded test results (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openHistory(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer store.Close()

		if err := store.ClearHistory(cmd.Context()); err != nil {
			return err
		}
		cmd.Println("Test history cleared.")
		return nil
	},
}

var historyEventsCmd = &cobra.Command{
	Use:   "events <work-item>",
	Short: "Show the orchestrator event log for a work item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openHistory(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer store.Close()

		events, err := store.Events(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(events) == 0 {
			cmd.Println("No events recorded.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-20s %-20s %-16s %-8s %s\n", "TIMESTAMP", "EVENT", "PHASE", "ATTEMPT", "DETAIL")
		fmt.Fprintln(w, strings.Repeat("-", 90))
		for _, e := range events {
			fmt.Fprintf(w, "%-20s %-20s %-16s %-8d %s\n", e.Timestamp, e.Event, e.Phase, e.Attempt, e.Detail)
		}
		return nil
	},
}

func init() {
	historyListCmd.Flags().Int("limit", 10, "Maximum number of runs to show")
	historySummaryCmd.Flags().Int("limit", 10, "Maximum number of runs to show")
	historyFixCmd.Flags().String("by", "manual", "Who or what applied the fix")
	historyFixCmd.Flags().String("description", "", "What the fix changed")
	historyFixCmd.MarkFlagRequired("description")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historySummaryCmd)
	historyCmd.AddCommand(historyFixCmd)
	historyCmd.AddCommand(historyClearCmd)
	historyCmd.AddCommand(historyEventsCmd)
}
