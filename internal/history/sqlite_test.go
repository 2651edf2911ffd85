package history

import (
	"context"
	"errors"
	"testing"
)

func testStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrate(t *testing.T) {
	s, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	tables := []string{"schema_version", "test_results", "modified_files", "orchestrator_events"}
	for _, table := range tables {
		var name string
		err := s.conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}

	var version int
	if err := s.conn.QueryRow("SELECT version FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("query schema_version: %v", err)
	}
	if version != 1 {
		t.Errorf("expected schema version 1, got %d", version)
	}

	// Migrate again should be idempotent
	if err := s.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestRecordTestRun_TestHistory(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rows := s.RecordTestRun(ctx, []TestResult{
		{
			TestFile:      "parse_test.go",
			TestName:      "TestParseHeader",
			Status:        StatusFailed,
			DurationMs:    120,
			ErrorKind:     "assertion_error",
			ErrorMessage:  "AssertionError: expected magic bytes",
			StackTrace:    "parse_test.go:12",
			ModifiedFiles: []string{"parse.go", "header.go"},
			CommitID:      "abc123",
			CommitMessage: "handle short headers",
		},
		{
			TestFile:   "parse_test.go",
			TestName:   "TestParseHeader",
			Status:     StatusPassed,
			DurationMs: 95,
		},
	})
	for _, row := range rows {
		if row.Err != nil {
			t.Fatalf("row %d: %v", row.Index, row.Err)
		}
		if row.ID == 0 {
			t.Fatalf("row %d: no id assigned", row.Index)
		}
	}

	history, err := s.TestHistory(ctx, "parse_test.go", 10)
	if err != nil {
		t.Fatalf("test history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d rows, want 2", len(history))
	}
	// Newest first
	if history[0].Status != StatusPassed {
		t.Errorf("history[0].Status = %q, want passed", history[0].Status)
	}
	if history[1].Status != StatusFailed {
		t.Errorf("history[1].Status = %q, want failed", history[1].Status)
	}
	if history[1].ErrorMessage != "AssertionError: expected magic bytes" {
		t.Errorf("history[1].ErrorMessage = %q", history[1].ErrorMessage)
	}
	if len(history[1].ModifiedFiles) != 2 || history[1].ModifiedFiles[0] != "parse.go" {
		t.Errorf("history[1].ModifiedFiles = %v", history[1].ModifiedFiles)
	}
	if len(history[0].ModifiedFiles) != 0 {
		t.Errorf("history[0].ModifiedFiles = %v, want empty", history[0].ModifiedFiles)
	}
	if history[0].Timestamp == "" {
		t.Error("timestamp not set")
	}
}

func TestRecordTestRunPerRowFailure(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rows := s.RecordTestRun(ctx, []TestResult{
		{TestFile: "a_test.go", TestName: "TestA", Status: StatusPassed},
		{TestFile: "b_test.go", TestName: "TestB", Status: Status("bogus")},
		{TestFile: "c_test.go", TestName: "TestC", Status: StatusFailed},
	})
	if rows[0].Err != nil {
		t.Errorf("row 0 failed: %v", rows[0].Err)
	}
	if rows[1].Err == nil {
		t.Error("row 1 with invalid status succeeded")
	}
	if rows[2].Err != nil {
		t.Errorf("row 2 failed: %v", rows[2].Err)
	}

	// Good rows landed despite the bad one.
	if got, err := s.TestHistory(ctx, "c_test.go", 1); err != nil || len(got) != 1 {
		t.Errorf("TestHistory(c_test.go) = %v, %v", got, err)
	}
	if got, _ := s.TestHistory(ctx, "b_test.go", 1); len(got) != 0 {
		t.Errorf("bad row was inserted: %v", got)
	}
}

func TestTestHistoryLimit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rows := s.RecordTestRun(ctx, []TestResult{
			{TestFile: "x_test.go", TestName: "TestX", Status: StatusPassed},
		})
		if rows[0].Err != nil {
			t.Fatalf("record: %v", rows[0].Err)
		}
	}

	history, err := s.TestHistory(ctx, "x_test.go", 3)
	if err != nil {
		t.Fatalf("test history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("got %d rows, want 3", len(history))
	}
	if history[0].ID < history[1].ID || history[1].ID < history[2].ID {
		t.Errorf("rows not newest first: %d, %d, %d", history[0].ID, history[1].ID, history[2].ID)
	}
}

func TestTestSummary(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.RecordTestRun(ctx, []TestResult{{
		TestFile:      "y_test.go",
		TestName:      "TestY",
		Status:        StatusFailed,
		DurationMs:    300,
		ErrorKind:     "key_error",
		ErrorMessage:  "KeyError: 'id'",
		ModifiedFiles: []string{"y.go"},
		CommitID:      "def456",
		CommitMessage: "extract ids",
	}})

	summaries, err := s.TestSummary(ctx, "y_test.go", 10)
	if err != nil {
		t.Fatalf("test summary: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("got %d summaries, want 1", len(summaries))
	}
	sum := summaries[0]
	if sum.Status != StatusFailed || sum.ErrorKind != "key_error" || sum.DurationMs != 300 {
		t.Errorf("summary = %+v", sum)
	}
	if len(sum.ModifiedFiles) != 1 || sum.ModifiedFiles[0] != "y.go" {
		t.Errorf("summary files = %v", sum.ModifiedFiles)
	}
	if sum.CommitID != "def456" {
		t.Errorf("summary commit = %q", sum.CommitID)
	}
}

func TestRecordFix(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.RecordTestRun(ctx, []TestResult{
		{TestFile: "z_test.go", TestName: "TestZ", Status: StatusFailed, ErrorMessage: "IndexError"},
		{TestFile: "z_test.go", TestName: "TestZ", Status: StatusFailed, ErrorMessage: "IndexError again"},
	})

	if err := s.RecordFix(ctx, "z_test.go", "fixes-phase", "guard empty slice"); err != nil {
		t.Fatalf("record fix: %v", err)
	}

	history, err := s.TestHistory(ctx, "z_test.go", 10)
	if err != nil {
		t.Fatalf("test history: %v", err)
	}
	// Most recent failed row carries the fix; the older one does not.
	if history[0].FixedBy != "fixes-phase" || history[0].FixDescription != "guard empty slice" {
		t.Errorf("history[0] fix fields = %q/%q", history[0].FixedBy, history[0].FixDescription)
	}
	if history[1].FixedBy != "" {
		t.Errorf("history[1].FixedBy = %q, want empty", history[1].FixedBy)
	}
}

func TestRecordFixNoFailedRun(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// Only a passing run exists.
	s.RecordTestRun(ctx, []TestResult{
		{TestFile: "ok_test.go", TestName: "TestOK", Status: StatusPassed},
	})

	err := s.RecordFix(ctx, "ok_test.go", "fixes-phase", "nothing to fix")
	if !errors.Is(err, ErrNoFailedRun) {
		t.Fatalf("RecordFix = %v, want ErrNoFailedRun", err)
	}

	// No new row was inserted.
	history, _ := s.TestHistory(ctx, "ok_test.go", 10)
	if len(history) != 1 {
		t.Errorf("got %d rows, want 1", len(history))
	}
}

func TestClearHistory(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.RecordTestRun(ctx, []TestResult{
		{TestFile: "a_test.go", TestName: "TestA", Status: StatusFailed, ModifiedFiles: []string{"a.go"}},
	})

	if err := s.ClearHistory(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	history, err := s.TestHistory(ctx, "a_test.go", 10)
	if err != nil {
		t.Fatalf("test history: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("got %d rows after clear, want 0", len(history))
	}

	var count int
	if err := s.conn.QueryRow("SELECT COUNT(*) FROM modified_files").Scan(&count); err != nil {
		t.Fatalf("count modified files: %v", err)
	}
	if count != 0 {
		t.Errorf("modified_files count = %d, want 0", count)
	}

	// Clearing again is a no-op.
	if err := s.ClearHistory(ctx); err != nil {
		t.Fatalf("second clear: %v", err)
	}
}

func TestLogEvent_Events(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.LogEvent(ctx, "item-1", "phase_started", "analysis", 0, ""); err != nil {
		t.Fatalf("log event: %v", err)
	}
	if err := s.LogEvent(ctx, "item-1", "phase_completed", "analysis", 2, "validated"); err != nil {
		t.Fatalf("log event: %v", err)
	}
	if err := s.LogEvent(ctx, "item-2", "phase_started", "analysis", 0, ""); err != nil {
		t.Fatalf("log event: %v", err)
	}

	events, err := s.Events(ctx, "item-1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	// Most recent first
	if events[0].Event != "phase_completed" || events[0].Attempt != 2 {
		t.Errorf("events[0] = %+v", events[0])
	}
	if events[1].Event != "phase_started" {
		t.Errorf("events[1] = %+v", events[1])
	}
}

func TestReset(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.RecordTestRun(ctx, []TestResult{
		{TestFile: "a_test.go", TestName: "TestA", Status: StatusPassed},
	})

	if err := s.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}

	history, err := s.TestHistory(ctx, "a_test.go", 10)
	if err != nil {
		t.Fatalf("history after reset: %v", err)
	}
	if len(history) != 0 {
		t.Error("expected empty history after reset")
	}
}
