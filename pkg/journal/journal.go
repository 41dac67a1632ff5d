package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// ErrRunNotFound is returned for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// Run statuses.
const (
	RunRunning   = "running"
	RunDone      = "done"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// Journal is a SQLite-backed run journal.
type Journal struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Options configures Journal behavior.
type Options struct {
	// CreateIfNotExists creates the database file and its directory.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default journal options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// RunRecord is one journaled run.
type RunRecord struct {
	ID         string
	Reports    []string
	Facilities []string
	RangeStart time.Time
	RangeEnd   time.Time
	Timezone   string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Status     string
	Error      string
}

// PairEvent is the state of one pair at a point in time.
type PairEvent struct {
	RunID    string
	Report   string
	Facility string
	Status   string
	Pages    int
	LastPage int
	Rows     int64
	Error    string
	At       time.Time
}

// Open opens or creates the journal at path.
func Open(path string, opts Options) (*Journal, error) {
	if opts.CreateIfNotExists {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("journal not found at %s: %w", path, err)
	}

	dsn := path + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = path + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	j := &Journal{db: db, path: path, now: time.Now}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if err := j.createTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return j, nil
}

// Path returns the database file path.
func (j *Journal) Path() string {
	return j.path
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		reports TEXT NOT NULL,
		facilities TEXT NOT NULL,
		range_start TEXT NOT NULL,
		range_end TEXT NOT NULL,
		timezone TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		status TEXT NOT NULL,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	-- latest state per pair
	CREATE TABLE IF NOT EXISTS pairs (
		run_id TEXT NOT NULL REFERENCES runs(id),
		report TEXT NOT NULL,
		facility TEXT NOT NULL,
		status TEXT NOT NULL,
		pages INTEGER NOT NULL DEFAULT 0,
		last_page INTEGER NOT NULL DEFAULT 0,
		row_count INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (run_id, report, facility)
	);

	-- one row per status change
	CREATE TABLE IF NOT EXISTS pair_transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		report TEXT NOT NULL,
		facility TEXT NOT NULL,
		status TEXT NOT NULL,
		pages INTEGER NOT NULL,
		last_page INTEGER NOT NULL,
		row_count INTEGER NOT NULL,
		error TEXT,
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transitions_run ON pair_transitions(run_id);
	`
	_, err := j.db.ExecContext(ctx, schema)
	return err
}

// BeginRun records the start of a run.
func (j *Journal) BeginRun(ctx context.Context, run RunRecord) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	reports, err := json.Marshal(run.Reports)
	if err != nil {
		return fmt.Errorf("failed to serialize reports: %w", err)
	}
	facilities, err := json.Marshal(run.Facilities)
	if err != nil {
		return fmt.Errorf("failed to serialize facilities: %w", err)
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = j.now()
	}

	_, err = j.db.ExecContext(ctx, `
	INSERT INTO runs (id, reports, facilities, range_start, range_end, timezone, started_at, status)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		string(reports),
		string(facilities),
		formatTime(run.RangeStart),
		formatTime(run.RangeEnd),
		run.Timezone,
		formatTime(run.StartedAt),
		RunRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// RecordPair stores the latest state of a pair and, when its status
// changed, appends a transition.
func (j *Journal) RecordPair(ctx context.Context, ev PairEvent) error {
	if ev.At.IsZero() {
		ev.At = j.now()
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var prev string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM pairs WHERE run_id = ? AND report = ? AND facility = ?`,
		ev.RunID, ev.Report, ev.Facility,
	).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read pair: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO pairs (run_id, report, facility, status, pages, last_page, row_count, error, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(run_id, report, facility) DO UPDATE SET
		status = excluded.status,
		pages = excluded.pages,
		last_page = excluded.last_page,
		row_count = excluded.row_count,
		error = excluded.error,
		updated_at = excluded.updated_at
	`,
		ev.RunID, ev.Report, ev.Facility, ev.Status,
		ev.Pages, ev.LastPage, ev.Rows, nullString(ev.Error), formatTime(ev.At),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert pair: %w", err)
	}

	if prev != ev.Status {
		_, err = tx.ExecContext(ctx, `
		INSERT INTO pair_transitions (run_id, report, facility, status, pages, last_page, row_count, error, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			ev.RunID, ev.Report, ev.Facility, ev.Status,
			ev.Pages, ev.LastPage, ev.Rows, nullString(ev.Error), formatTime(ev.At),
		)
		if err != nil {
			return fmt.Errorf("failed to insert transition: %w", err)
		}
	}

	return tx.Commit()
}

// FinishRun records the end of a run.
func (j *Journal) FinishRun(ctx context.Context, runID, status string, runErr error) error {
	var msg string
	if runErr != nil {
		msg = runErr.Error()
	}
	res, err := j.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, error = ? WHERE id = ?`,
		formatTime(j.now()), status, nullString(msg), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// Run returns one run.
func (j *Journal) Run(ctx context.Context, runID string) (*RunRecord, error) {
	rows, err := j.db.QueryContext(ctx, runQuery+` WHERE id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return &runs[0], nil
}

// Runs returns the most recent runs, newest first.
func (j *Journal) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, runQuery+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	return scanRuns(rows)
}

// Pairs returns the latest state of every pair of a run.
func (j *Journal) Pairs(ctx context.Context, runID string) ([]PairEvent, error) {
	rows, err := j.db.QueryContext(ctx, `
	SELECT run_id, report, facility, status, pages, last_page, row_count, error, updated_at
	FROM pairs WHERE run_id = ? ORDER BY report, facility
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pairs: %w", err)
	}
	return scanEvents(rows)
}

// Transitions returns every status change of a run in order.
func (j *Journal) Transitions(ctx context.Context, runID string) ([]PairEvent, error) {
	rows, err := j.db.QueryContext(ctx, `
	SELECT run_id, report, facility, status, pages, last_page, row_count, error, at
	FROM pair_transitions WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	return scanEvents(rows)
}

const runQuery = `
	SELECT id, reports, facilities, range_start, range_end, timezone, started_at, finished_at, status, error
	FROM runs`

func scanRuns(rows *sql.Rows) ([]RunRecord, error) {
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var reports, facilities, start, end, started string
		var finished, runErr sql.NullString
		if err := rows.Scan(&r.ID, &reports, &facilities, &start, &end, &r.Timezone, &started, &finished, &r.Status, &runErr); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(reports), &r.Reports); err != nil {
			return nil, fmt.Errorf("failed to parse reports: %w", err)
		}
		if err := json.Unmarshal([]byte(facilities), &r.Facilities); err != nil {
			return nil, fmt.Errorf("failed to parse facilities: %w", err)
		}
		r.RangeStart = parseTime(start)
		r.RangeEnd = parseTime(end)
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished.String)
		r.Error = runErr.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return out, nil
}

func scanEvents(rows *sql.Rows) ([]PairEvent, error) {
	defer rows.Close()

	var out []PairEvent
	for rows.Next() {
		var ev PairEvent
		var evErr sql.NullString
		var at string
		if err := rows.Scan(&ev.RunID, &ev.Report, &ev.Facility, &ev.Status, &ev.Pages, &ev.LastPage, &ev.Rows, &evErr, &at); err != nil {
			return nil, fmt.Errorf("failed to scan pair: %w", err)
		}
		ev.Error = evErr.String
		ev.At = parseTime(at)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pairs: %w", err)
	}
	return out, nil
}

// timeLayout has a fixed width so that stored UTC timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
