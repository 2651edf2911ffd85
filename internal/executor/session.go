package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lucasnoah/specforge/internal/retry"
)

// errSpawn marks transient process-spawn failures, the only class the phase
// executor retries internally. Exit-code and protocol failures surface to the
// orchestrator, which has its own retry budget.
var errSpawn = errors.New("spawn failure")

// phaseEnvelope is the JSON document the phase command must print on stdout.
type phaseEnvelope struct {
	Response    string           `json:"response"`
	Invocations []ToolInvocation `json:"invocations"`
}

// CommandPhaseExecutor implements PhaseExecutor by shelling out to a
// configured command: the phase name is appended as an argument, the context
// snapshot arrives on stdin, and the command prints a JSON envelope with the
// response text and tool invocation requests on stdout.
type CommandPhaseExecutor struct {
	cmd      StdinRunner
	dir      string
	command  string
	timeout  time.Duration
	retryCfg retry.Config
	breaker  *retry.Breaker
}

// NewCommandPhaseExecutor creates a phase executor shelling out to command in
// dir. Spawn failures are retried per retryCfg; breaker is optional and
// refuses round trips while open.
func NewCommandPhaseExecutor(cmd StdinRunner, dir, command string, timeout time.Duration, retryCfg retry.Config, breaker *retry.Breaker) *CommandPhaseExecutor {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	retryCfg.Retryable = func(err error) bool { return errors.Is(err, errSpawn) }
	return &CommandPhaseExecutor{
		cmd:      cmd,
		dir:      dir,
		command:  command,
		timeout:  timeout,
		retryCfg: retryCfg,
		breaker:  breaker,
	}
}

// ExecutePhase performs one round trip to the phase command.
func (e *CommandPhaseExecutor) ExecutePhase(ctx context.Context, phaseContext, phase string) (string, []ToolInvocation, error) {
	if e.breaker != nil && !e.breaker.CanExecute() {
		return "", nil, fmt.Errorf("phase %s: %w", phase, retry.ErrCircuitOpen)
	}

	var env phaseEnvelope
	op := func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		stdout, stderr, exitCode, err := e.cmd.RunWithInput(cctx, e.dir, e.command+" "+phase, phaseContext)
		if err != nil {
			return fmt.Errorf("phase command: %v: %w", err, errSpawn)
		}
		if exitCode != 0 {
			return fmt.Errorf("phase command exited %d: %s", exitCode, strings.TrimSpace(stderr))
		}
		env = phaseEnvelope{}
		if err := json.Unmarshal([]byte(stdout), &env); err != nil {
			return fmt.Errorf("decode phase envelope: %w", err)
		}
		return nil
	}

	handler := retry.NewHandler(e.retryCfg)
	if err := handler.Execute(ctx, op, nil); err != nil {
		if e.breaker != nil {
			e.breaker.RecordFailure()
		}
		return "", nil, err
	}
	if e.breaker != nil {
		e.breaker.RecordSuccess()
	}
	return env.Response, env.Invocations, nil
}

// CommandToolExecutor implements ToolExecutor by shelling out to a configured
// command: the invocation envelope arrives as JSON on stdin and the command
// prints a ToolResult JSON document on stdout. A non-zero exit is a soft
// failure (StatusError result), not a Go error.
type CommandToolExecutor struct {
	cmd     StdinRunner
	dir     string
	command string
	timeout time.Duration
}

// NewCommandToolExecutor creates a tool executor shelling out to command in dir.
func NewCommandToolExecutor(cmd StdinRunner, dir, command string, timeout time.Duration) *CommandToolExecutor {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &CommandToolExecutor{cmd: cmd, dir: dir, command: command, timeout: timeout}
}

// ExecuteTool performs one tool round trip.
func (t *CommandToolExecutor) ExecuteTool(ctx context.Context, req ToolInvocation) (ToolResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return ToolResult{}, fmt.Errorf("encode invocation: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	stdout, stderr, exitCode, err := t.cmd.RunWithInput(cctx, t.dir, t.command, string(payload))
	if err != nil {
		return ToolResult{}, fmt.Errorf("tool command: %w", err)
	}
	if exitCode != 0 {
		return ToolResult{Status: StatusError, Error: strings.TrimSpace(stderr)}, nil
	}

	var res ToolResult
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		return ToolResult{}, fmt.Errorf("decode tool result: %w", err)
	}
	if res.Status == "" {
		res.Status = StatusSuccess
	}
	return res, nil
}
