package cli

import (
	"fmt"

	"github.com/lucasnoah/specforge/internal/config"
	"github.com/lucasnoah/specforge/internal/history"
	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "History database management",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply history database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		switch cfg.Forge.History.Backend {
		case "postgres":
			store, err := history.OpenPostgres(cmd.Context(), cfg.Forge.History.DSN)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}
		default:
			store, err := openSQLite(cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(); err != nil {
				return err
			}
		}
		cmd.Println("Schema is up to date.")
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the history database (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		switch cfg.Forge.History.Backend {
		case "postgres":
			store, err := history.OpenPostgres(cmd.Context(), cfg.Forge.History.DSN)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Reset(cmd.Context()); err != nil {
				return err
			}
		default:
			store, err := openSQLite(cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Reset(); err != nil {
				return err
			}
		}
		cmd.Println("Database reset.")
		return nil
	},
}

func openSQLite(cfg *config.Config) (*history.SQLite, error) {
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
		return nil, fmt.Errorf("open history store: %w", err)
	}
	return store, nil
}

func init() {
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
}
