package executor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/lucasnoah/specforge/internal/retry"
)

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, command string) (stdout string, stderr string, exitCode int, err error)
}

// StdinRunner is a CommandRunner that also feeds the command's stdin. The
// command-backed phase and tool executors pass their payloads this way.
type StdinRunner interface {
	RunWithInput(ctx context.Context, dir, command, input string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner and StdinRunner by shelling out.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	return e.RunWithInput(ctx, dir, command, "")
}

func (e *ExecRunner) RunWithInput(ctx context.Context, dir, command, input string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// CommandTestRunner runs a configured test command, scoped to files by
// appending their paths. Passed means exit code 0.
type CommandTestRunner struct {
	cmd     CommandRunner
	dir     string
	command string
	timeout time.Duration
}

// NewCommandTestRunner creates a TestRunner shelling out to command in dir.
func NewCommandTestRunner(cmd CommandRunner, dir, command string, timeout time.Duration) *CommandTestRunner {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &CommandTestRunner{cmd: cmd, dir: dir, command: command, timeout: timeout}
}

// RunTests runs the suite, optionally scoped to specific test files.
func (r *CommandTestRunner) RunTests(ctx context.Context, files ...string) (TestRunResult, error) {
	command := r.command
	if len(files) > 0 {
		command = command + " " + strings.Join(files, " ")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	stdout, stderr, exitCode, err := r.cmd.Run(ctx, r.dir, command)
	output := stdout
	if stderr != "" {
		output += stderr
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return TestRunResult{Passed: false, RawOutput: output + fmt.Sprintf("\ntimeout after %s", r.timeout)}, nil
		}
		return TestRunResult{}, fmt.Errorf("run tests: %w", err)
	}
	return TestRunResult{Passed: exitCode == 0, RawOutput: output}, nil
}

// GuardedToolExecutor wraps a ToolExecutor with a circuit breaker. While the
// breaker is open it refuses calls with retry.ErrCircuitOpen; outcomes feed
// the breaker so repeated failures stop the flow of calls.
type GuardedToolExecutor struct {
	inner   ToolExecutor
	breaker *retry.Breaker
}

// NewGuardedToolExecutor wraps inner with breaker.
func NewGuardedToolExecutor(inner ToolExecutor, breaker *retry.Breaker) *GuardedToolExecutor {
	return &GuardedToolExecutor{inner: inner, breaker: breaker}
}

// ExecuteTool forwards to the wrapped executor when the breaker allows it.
// Soft failures (StatusError results) count as breaker failures too.
func (g *GuardedToolExecutor) ExecuteTool(ctx context.Context, req ToolInvocation) (ToolResult, error) {
	if !g.breaker.CanExecute() {
		return ToolResult{}, fmt.Errorf("tool %q: %w", req.Name, retry.ErrCircuitOpen)
	}
	res, err := g.inner.ExecuteTool(ctx, req)
	if err != nil || res.Status == StatusError {
		g.breaker.RecordFailure()
		return res, err
	}
	g.breaker.RecordSuccess()
	return res, nil
}
