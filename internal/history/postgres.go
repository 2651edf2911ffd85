package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the shared-store backend, for deployments where several
// orchestrator hosts write into one history database.
type Postgres struct {
	pool *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS test_results (
    id              BIGSERIAL PRIMARY KEY,
    test_file       TEXT NOT NULL,
    test_name       TEXT NOT NULL,
    status          TEXT NOT NULL CHECK(status IN ('passed','failed','skipped','xfailed','xpassed')),
    duration_ms     INTEGER,
    error_kind      TEXT,
    error_message   TEXT,
    stack_trace     TEXT,
    timestamp       TIMESTAMPTZ NOT NULL DEFAULT now(),
    commit_id       TEXT,
    commit_message  TEXT,
    metadata        TEXT,
    fixed_by        TEXT,
    fix_description TEXT
);
CREATE INDEX IF NOT EXISTS idx_results_file ON test_results(test_file, id DESC);

CREATE TABLE IF NOT EXISTS modified_files (
    result_id BIGINT NOT NULL REFERENCES test_results(id) ON DELETE CASCADE,
    path      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_modified_result ON modified_files(result_id);

CREATE TABLE IF NOT EXISTS orchestrator_events (
    id         BIGSERIAL PRIMARY KEY,
    work_item  TEXT NOT NULL,
    event      TEXT NOT NULL,
    phase      TEXT,
    attempt    INTEGER,
    detail     TEXT,
    timestamp  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_events_item ON orchestrator_events(work_item, timestamp DESC);
`

// OpenPostgres connects to the given DSN and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// Migrate reapplies the idempotent schema. OpenPostgres already does this;
// Migrate exists for explicit schema management from the CLI.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Reset drops all tables and recreates the schema.
func (p *Postgres) Reset(ctx context.Context) error {
	drop := `
DROP TABLE IF EXISTS modified_files CASCADE;
DROP TABLE IF EXISTS test_results CASCADE;
DROP TABLE IF EXISTS orchestrator_events CASCADE;
`
	if _, err := p.pool.Exec(ctx, drop); err != nil {
		return fmt.Errorf("drop tables: %w", err)
	}
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// RecordTestRun persists one row per result; each row is its own transaction.
func (p *Postgres) RecordTestRun(ctx context.Context, results []TestResult) []RowResult {
	out := make([]RowResult, len(results))
	for i, r := range results {
		out[i] = RowResult{Index: i}
		id, err := p.insertResult(ctx, r)
		if err != nil {
			out[i].Err = fmt.Errorf("record test result %d: %w", i, err)
			continue
		}
		out[i].ID = id
	}
	return out
}

func (p *Postgres) insertResult(ctx context.Context, r TestResult) (int64, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO test_results (test_file, test_name, status, duration_ms, error_kind, error_message, stack_trace, commit_id, commit_message, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		r.TestFile, r.TestName, string(r.Status), r.DurationMs,
		r.ErrorKind, r.ErrorMessage, r.StackTrace,
		r.CommitID, r.CommitMessage, r.Metadata,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert result: %w", err)
	}
	for _, path := range r.ModifiedFiles {
		if _, err := tx.Exec(ctx,
			`INSERT INTO modified_files (result_id, path) VALUES ($1, $2)`, id, path); err != nil {
			return 0, fmt.Errorf("insert modified file %s: %w", path, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// TestHistory returns the most recent limit rows for a test file, newest first.
func (p *Postgres) TestHistory(ctx context.Context, testFile string, limit int) ([]TestResult, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, test_file, test_name, status, duration_ms, error_kind, error_message, stack_trace, timestamp::text, commit_id, commit_message, metadata, fixed_by, fix_description
		 FROM test_results WHERE test_file = $1 ORDER BY id DESC LIMIT $2`,
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
		var durationMs *int
		var errorKind, errorMessage, stackTrace *string
		var commitID, commitMessage, metadata, fixedBy, fixDescription *string
		if err := rows.Scan(&r.ID, &r.TestFile, &r.TestName, &status, &durationMs,
			&errorKind, &errorMessage, &stackTrace, &r.Timestamp,
			&commitID, &commitMessage, &metadata, &fixedBy, &fixDescription); err != nil {
			return nil, fmt.Errorf("scan test result: %w", err)
		}
		r.Status = Status(status)
		if durationMs != nil {
			r.DurationMs = *durationMs
		}
		r.ErrorKind = deref(errorKind)
		r.ErrorMessage = deref(errorMessage)
		r.StackTrace = deref(stackTrace)
		r.CommitID = deref(commitID)
		r.CommitMessage = deref(commitMessage)
		r.Metadata = deref(metadata)
		r.FixedBy = deref(fixedBy)
		r.FixDescription = deref(fixDescription)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range results {
		files, err := p.modifiedFiles(ctx, results[i].ID)
		if err != nil {
			return nil, err
		}
		results[i].ModifiedFiles = files
	}
	return results, nil
}

func (p *Postgres) modifiedFiles(ctx context.Context, resultID int64) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT path FROM modified_files WHERE result_id = $1 ORDER BY ctid`, resultID)
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
func (p *Postgres) TestSummary(ctx context.Context, testFile string, limit int) ([]Summary, error) {
	results, err := p.TestHistory(ctx, testFile, limit)
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

// RecordFix resolves the most recent failed row for a test file.
func (p *Postgres) RecordFix(ctx context.Context, testFile, fixedBy, description string) error {
	var id int64
	err := p.pool.QueryRow(ctx,
		`SELECT id FROM test_results WHERE test_file = $1 AND status = 'failed' ORDER BY id DESC LIMIT 1`,
		testFile,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("record fix for %s: %w", testFile, ErrNoFailedRun)
	}
	if err != nil {
		return fmt.Errorf("find failed run: %w", err)
	}

	if _, err := p.pool.Exec(ctx,
		`UPDATE test_results SET fixed_by = $1, fix_description = $2 WHERE id = $3`,
		fixedBy, description, id); err != nil {
		return fmt.Errorf("record fix: %w", err)
	}
	return nil
}

// ClearHistory deletes all result rows; the side table cascades. Idempotent.
func (p *Postgres) ClearHistory(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM test_results`); err != nil {
		return fmt.Errorf("clear test results: %w", err)
	}
	return nil
}

// LogEvent inserts an orchestrator lifecycle event.
func (p *Postgres) LogEvent(ctx context.Context, workItem, event, phase string, attempt int, detail string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO orchestrator_events (work_item, event, phase, attempt, detail) VALUES ($1, $2, $3, $4, $5)`,
		workItem, event, phase, attempt, detail,
	)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// Events returns all events for a work item, most recent first.
func (p *Postgres) Events(ctx context.Context, workItem string) ([]Event, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, work_item, event, phase, attempt, detail, timestamp::text
		 FROM orchestrator_events WHERE work_item = $1 ORDER BY timestamp DESC, id DESC`,
		workItem,
	)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var phase, detail *string
		var attempt *int
		if err := rows.Scan(&e.ID, &e.WorkItem, &e.Event, &phase, &attempt, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Phase = deref(phase)
		if attempt != nil {
			e.Attempt = *attempt
		}
		e.Detail = deref(detail)
		events = append(events, e)
	}
	return events, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
