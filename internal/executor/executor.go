// Package executor defines the external collaborators the orchestrator
// drives: the phase executor that turns context into a response, the tool
// executor that performs side-effecting actions, and the test runner.
package executor

import "context"

// Status is the outcome of one tool invocation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ToolInvocation is a generic {name, parameter-map} request envelope.
// Payloads are validated at the tool-executor boundary, not by the
// orchestrator.
type ToolInvocation struct {
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// ToolResult is the outcome of one tool invocation. A StatusError result is
// a soft failure the orchestrator retries in-phase; it is not a Go error.
// Metadata carries attribution hints, e.g. Metadata["file"] names the file a
// change touched.
type ToolResult struct {
	Status   Status            `json:"status"`
	Data     string            `json:"data,omitempty"`
	Error    string            `json:"error,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// PhaseExecutor turns a context snapshot into a response and a list of tool
// invocation requests. Opaque and synchronous; the orchestrator only inspects
// the response text for the abandonment marker.
type PhaseExecutor interface {
	ExecutePhase(ctx context.Context, phaseContext, phase string) (response string, invocations []ToolInvocation, err error)
}

// ToolExecutor performs one side-effecting action.
type ToolExecutor interface {
	ExecuteTool(ctx context.Context, req ToolInvocation) (ToolResult, error)
}

// TestRunResult is the outcome of a test-suite run.
type TestRunResult struct {
	Passed    bool
	RawOutput string
}

// TestRunner runs the test suite, optionally scoped to specific files.
type TestRunner interface {
	RunTests(ctx context.Context, files ...string) (TestRunResult, error)
}
