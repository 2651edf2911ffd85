// Package history is the durable test-history store. It outlives any single
// work item and is the one component designed for access from multiple
// orchestrator processes; row-write atomicity is the storage engine's job.
package history

import (
	"context"
	"errors"
)

// ErrNoFailedRun is returned by RecordFix when the test file has no failed
// row to resolve. This is a usage error, never retried.
var ErrNoFailedRun = errors.New("no failed run recorded for test file")

// Status is the outcome of one test in one run.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusXFailed Status = "xfailed"
	StatusXPassed Status = "xpassed"
)

// TestResult is one durable row: a single test's outcome in a single run,
// plus its joined modified-files list.
type TestResult struct {
	ID             int64
	TestFile       string
	TestName       string
	Status         Status
	DurationMs     int
	ErrorKind      string
	ErrorMessage   string
	StackTrace     string
	Timestamp      string
	CommitID       string
	CommitMessage  string
	Metadata       string
	ModifiedFiles  []string
	FixedBy        string
	FixDescription string
}

// Summary is the compact projection fed into phase context.
type Summary struct {
	Timestamp     string
	Status        Status
	DurationMs    int
	ErrorKind     string
	ModifiedFiles []string
	CommitID      string
	CommitMessage string
}

// RowResult is the per-row outcome of RecordTestRun. A batch is not
// all-or-nothing: each row succeeds or fails on its own.
type RowResult struct {
	Index int
	ID    int64
	Err   error
}

// Event is one orchestrator lifecycle event, kept for post-run inspection.
type Event struct {
	ID        int64
	WorkItem  string
	Event     string
	Phase     string
	Attempt   int
	Detail    string
	Timestamp string
}

// Store is the durable test-history interface. Two backends exist: SQLite
// for a single host, Postgres for stores shared between hosts.
type Store interface {
	RecordTestRun(ctx context.Context, results []TestResult) []RowResult
	TestHistory(ctx context.Context, testFile string, limit int) ([]TestResult, error)
	TestSummary(ctx context.Context, testFile string, limit int) ([]Summary, error)
	RecordFix(ctx context.Context, testFile, fixedBy, description string) error
	ClearHistory(ctx context.Context) error

	LogEvent(ctx context.Context, workItem, event, phase string, attempt int, detail string) error
	Events(ctx context.Context, workItem string) ([]Event, error)

	Close() error
}
