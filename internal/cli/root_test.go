package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// executeCommand runs the shared command tree once. Cobra keeps parsed flag
// state between executions (a --help run leaves the help flag set for good),
// so every flag is restored to its default first.
func executeCommand(args ...string) (string, error) {
	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func resetFlags(c *cobra.Command) {
	c.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			f.Value.Set(f.DefValue)
			f.Changed = false
		}
	})
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// withConfig points the root --config flag at a temp config file and restores
// the flag afterwards.
func withConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "forge.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Cleanup(func() { configFile = "" })
	return path
}

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "test-version") {
		t.Errorf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedSubcommands := []string{
		"run", "runs", "history", "db", "config", "version",
	}
	for _, sub := range expectedSubcommands {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestHistorySubcommands(t *testing.T) {
	subcmds := []string{"list", "summary", "fix", "clear", "events"}
	for _, sub := range subcmds {
		out, err := executeCommand("history", sub, "--help")
		if err != nil {
			t.Errorf("history %s --help failed: %v", sub, err)
		}
		if out == "" {
			t.Errorf("history %s --help produced no output", sub)
		}
	}
}

func TestRunsSubcommands(t *testing.T) {
	subcmds := []string{"list", "show"}
	for _, sub := range subcmds {
		out, err := executeCommand("runs", sub, "--help")
		if err != nil {
			t.Errorf("runs %s --help failed: %v", sub, err)
		}
		if out == "" {
			t.Errorf("runs %s --help produced no output", sub)
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	_, err := executeCommand("nonexistent")
	if err == nil {
		t.Error("expected error for unknown command, got nil")
	}
}

func TestConfigValidateCommand(t *testing.T) {
	path := withConfig(t, "forge: {}\n")

	out, err := executeCommand("--config", path, "config", "validate")
	if err != nil {
		t.Fatalf("config validate failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Configuration is valid.") {
		t.Errorf("output = %s", out)
	}
}

func TestConfigValidateReportsErrors(t *testing.T) {
	path := withConfig(t, "forge:\n  history:\n    backend: redis\n")

	out, err := executeCommand("--config", path, "config", "validate")
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(out, "forge.history.backend") {
		t.Errorf("output = %s", out)
	}
}

func TestHistoryCommandsAgainstSQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "forge.db")
	path := withConfig(t, fmt.Sprintf("forge:\n  history:\n    backend: sqlite\n    path: %s\n", dbPath))

	// A prior --help run on the same subcommands must not leak into the real
	// invocations below.
	if _, err := executeCommand("history", "list", "--help"); err != nil {
		t.Fatalf("history list --help failed: %v", err)
	}

	out, err := executeCommand("--config", path, "history", "list", "parser_test.go")
	if err != nil {
		t.Fatalf("history list failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "No runs recorded.") {
		t.Errorf("output = %s", out)
	}

	out, err = executeCommand("--config", path, "history", "clear")
	if err != nil {
		t.Fatalf("history clear failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Test history cleared.") {
		t.Errorf("output = %s", out)
	}

	out, err = executeCommand("--config", path, "history", "fix", "parser_test.go", "--description", "guard nil header")
	if err == nil {
		t.Fatalf("expected fix against empty history to fail, got:\n%s", out)
	}
}

func TestDBMigrateCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "forge.db")
	path := withConfig(t, fmt.Sprintf("forge:\n  history:\n    path: %s\n", dbPath))

	out, err := executeCommand("--config", path, "db", "migrate")
	if err != nil {
		t.Fatalf("db migrate failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Schema is up to date.") {
		t.Errorf("output = %s", out)
	}
}

func TestRunsListEmpty(t *testing.T) {
	runsDir := t.TempDir()
	path := withConfig(t, fmt.Sprintf("forge:\n  runs_dir: %s\n", runsDir))

	if _, err := executeCommand("runs", "list", "--help"); err != nil {
		t.Fatalf("runs list --help failed: %v", err)
	}

	out, err := executeCommand("--config", path, "runs", "list")
	if err != nil {
		t.Fatalf("runs list failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "No runs found.") {
		t.Errorf("output = %s", out)
	}
}

func TestRunRequiresAgentCommand(t *testing.T) {
	itemPath := filepath.Join(t.TempDir(), "item.yaml")
	if err := os.WriteFile(itemPath, []byte("id: x\ntask: t\ncriteria: [a]\n"), 0o644); err != nil {
		t.Fatalf("writing work item: %v", err)
	}
	path := withConfig(t, "forge: {}\n")

	_, err := executeCommand("--config", path, "run", itemPath)
	if err == nil || !strings.Contains(err.Error(), "agent_command") {
		t.Fatalf("expected agent_command error, got %v", err)
	}
}
