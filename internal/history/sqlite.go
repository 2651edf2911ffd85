package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite is the default single-host Store backend.
type SQLite struct {
	conn *sql.DB
	path string
}

// DefaultPath returns ~/.forge/forge.db, creating the directory if needed.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	dir := filepath.Join(home, ".forge")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}
	return filepath.Join(dir, "forge.db"), nil
}

// OpenSQLite opens or creates the database at the given path.
func OpenSQLite(path string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &SQLite{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

// Conn returns the underlying *sql.DB for advanced queries.
func (s *SQLite) Conn() *sql.DB {
	return s.conn
}

const sqliteSchemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS test_results (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    test_file       TEXT NOT NULL,
    test_name       TEXT NOT NULL,
    status          TEXT NOT NULL CHECK(status IN ('passed','failed','skipped','xfailed','xpassed')),
    duration_ms     INTEGER,
    error_kind      TEXT,
    error_message   TEXT,
    stack_trace     TEXT,
    timestamp       TEXT NOT NULL DEFAULT (datetime('now')),
    commit_id       TEXT,
    commit_message  TEXT,
    metadata        TEXT,
    fixed_by        TEXT,
    fix_description TEXT
);
CREATE INDEX IF NOT EXISTS idx_results_file ON test_results(test_file, id DESC);

CREATE TABLE IF NOT EXISTS modified_files (
    result_id INTEGER NOT NULL REFERENCES test_results(id) ON DELETE CASCADE,
    path      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_modified_result ON modified_files(result_id);

CREATE TABLE IF NOT EXISTS orchestrator_events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    work_item  TEXT NOT NULL,
    event      TEXT NOT NULL,
    phase      TEXT,
    attempt    INTEGER,
    detail     TEXT,
    timestamp  TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_events_item ON orchestrator_events(work_item, timestamp DESC);
`

// Migrate applies the database schema.
func (s *SQLite) Migrate() error {
	var count int
	err := s.conn.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = 1").Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(sqliteSchemaV1); err != nil {
		return fmt.Errorf("apply schema v1: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// Reset drops all tables and re-applies the schema.
func (s *SQLite) Reset() error {
	tables := []string{"orchestrator_events", "modified_files", "test_results", "schema_version"}
	for _, t := range tables {
		if _, err := s.conn.Exec("DROP TABLE IF EXISTS " + t); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	return s.Migrate()
}

// RecordTestRun persists one row per result plus its modified-files side
// rows. Each row is its own transaction; one bad row does not roll back the
// rest of the batch.
func (s *SQLite) RecordTestRun(ctx context.Context, results []TestResult) []RowResult {
	out := make([]RowResult, len(results))
	for i, r := range results {
		out[i] = RowResult{Index: i}
		id, err := s.insertResult(ctx, r)
		if err != nil {
			out[i].Err = fmt.Errorf("record test result %d: %w", i, err)
			continue
		}
		out[i].ID = id
	}
	return out
}

func (s *SQLite) insertResult(ctx context.Context, r TestResult) (int64, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO test_results (test_file, test_name, status, duration_ms, error_kind, error_message, stack_trace, commit_id, commit_message, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.TestFile, r.TestName, string(r.Status), r.DurationMs,
		r.ErrorKind, r.ErrorMessage, r.StackTrace,
		r.CommitID, r.CommitMessage, r.Metadata,
	)
	if err != nil {
		return 0, fmt.Errorf("insert result: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get result id: %w", err)
	}
	for _, path := range r.ModifiedFiles {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO modified_files (result_id, path) VALUES (?, ?)`, id, path); err != nil {
			return 0, fmt.Errorf("insert modified file %s: %w", path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// TestHistory returns the most recent limit rows for a test file, newest
// first, each with its reconstructed modified-files list.
func (s *SQLite) TestHistory(ctx context.Context, testFile string, limit int) ([]TestResult, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, test_file, test_name, status, duration_ms, error_kind, error_message, stack_trace, timestamp, commit_id, commit_message, metadata, fixed_by, fix_description
		 FROM test_results WHERE test_file = ? ORDER BY id DESC LIMIT ?`,
		testFile, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get test history: %w", err)
	}
	defer rows.Close()

	var results []TestResult
	for rows.Next() {
		var r TestResult
		var status string
		var durationMs sql.NullInt64
		var errorKind, errorMessage, stackTrace sql.NullString
		var commitID, commitMessage, metadata, fixedBy, fixDescription sql.NullString
		if err := rows.Scan(&r.ID, &r.TestFile, &r.TestName, &status, &durationMs,
			&errorKind, &errorMessage, &stackTrace, &r.Timestamp,
			&commitID, &commitMessage, &metadata, &fixedBy, &fixDescription); err != nil {
			return nil, fmt.Errorf("scan test result: %w", err)
		}
		r.Status = Status(status)
		if durationMs.Valid {
			r.DurationMs = int(durationMs.Int64)
		}
		r.ErrorKind = errorKind.String
		r.ErrorMessage = errorMessage.String
		r.StackTrace = stackTrace.String
		r.CommitID = commitID.String
		r.CommitMessage = commitMessage.String
		r.Metadata = metadata.String
		r.FixedBy = fixedBy.String
		r.FixDescription = fixDescription.String
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range results {
		files, err := s.modifiedFiles(ctx, results[i].ID)
		if err != nil {
			return nil, err
		}
		results[i].ModifiedFiles = files
	}
	return results, nil
}

func (s *SQLite) modifiedFiles(ctx context.Context, resultID int64) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT path FROM modified_files WHERE result_id = ? ORDER BY rowid`, resultID)
	if err != nil {
		return nil, fmt.Errorf("get modified files: %w", err)
	}
	defer rows.Close()

	var files []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("scan modified file: %w", err)
		}
		files = append(files, path)
	}
	return files, rows.Err()
}

// TestSummary returns the compact projection of TestHistory.
func (s *SQLite) TestSummary(ctx context.Context, testFile string, limit int) ([]Summary, error) {
	results, err := s.TestHistory(ctx, testFile, limit)
	if err != nil {
		return nil, err
	}
	summaries := make([]Summary, len(results))
	for i, r := range results {
		summaries[i] = Summary{
			Timestamp:     r.Timestamp,
			Status:        r.Status,
			DurationMs:    r.DurationMs,
			ErrorKind:     r.ErrorKind,
			ModifiedFiles: r.ModifiedFiles,
			CommitID:      r.CommitID,
			CommitMessage: r.CommitMessage,
		}
	}
	return summaries, nil
}

// RecordFix resolves the most recent failed row for a test file. With no
// failed row to resolve it returns ErrNoFailedRun and inserts nothing.
func (s *SQLite) RecordFix(ctx context.Context, testFile, fixedBy, description string) error {
	var id int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT id FROM test_results WHERE test_file = ? AND status = 'failed' ORDER BY id DESC LIMIT 1`,
		testFile,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return fmt.Errorf("record fix for %s: %w", testFile, ErrNoFailedRun)
	}
	if err != nil {
		return fmt.Errorf("find failed run: %w", err)
	}

	if _, err := s.conn.ExecContext(ctx,
		`UPDATE test_results SET fixed_by = ?, fix_description = ? WHERE id = ?`,
		fixedBy, description, id); err != nil {
		return fmt.Errorf("record fix: %w", err)
	}
	return nil
}

// ClearHistory deletes all result rows and side-table entries. Idempotent.
func (s *SQLite) ClearHistory(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM modified_files`); err != nil {
		return fmt.Errorf("clear modified files: %w", err)
	}
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM test_results`); err != nil {
		return fmt.Errorf("clear test results: %w", err)
	}
	return nil
}

// LogEvent inserts an orchestrator lifecycle event.
func (s *SQLite) LogEvent(ctx context.Context, workItem, event, phase string, attempt int, detail string) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO orchestrator_events (work_item, event, phase, attempt, detail) VALUES (?, ?, ?, ?, ?)`,
		workItem, event, phase, attempt, detail,
	)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// Events returns all events for a work item, most recent first.
func (s *SQLite) Events(ctx context.Context, workItem string) ([]Event, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, work_item, event, phase, attempt, detail, timestamp
		 FROM orchestrator_events WHERE work_item = ? ORDER BY timestamp DESC, id DESC`,
		workItem,
	)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var phase, detail sql.NullString
		var attempt sql.NullInt64
		if err := rows.Scan(&e.ID, &e.WorkItem, &e.Event, &phase, &attempt, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Phase = phase.String
		if attempt.Valid {
			e.Attempt = int(attempt.Int64)
		}
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}
