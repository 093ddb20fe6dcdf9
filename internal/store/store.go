// Package store persists calibration history in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/codefionn/tilewall/internal/calibration"
	"github.com/codefionn/tilewall/internal/vision"
)

// ErrNotFound is returned when a session has no stored calibration
var ErrNotFound = errors.New("no calibration stored")

// Run is one recorded calibration attempt. Layout is nil unless the run
// succeeded.
type Run struct {
	ID          int64
	SessionID   string
	Outcome     string
	Error       string
	Expected    []int
	Frames      int
	Forced      bool
	AspectRatio float64
	Layout      map[int]vision.Quad
	StartedAt   time.Time
	CompletedAt time.Time
}

// Result converts a successful run back into a calibration result
func (r *Run) Result() *calibration.Result {
	if r.Layout == nil {
		return nil
	}
	return &calibration.Result{
		SessionID:   r.SessionID,
		Layout:      r.Layout,
		AspectRatio: r.AspectRatio,
		Frames:      r.Frames,
		Forced:      r.Forced,
		CompletedAt: r.CompletedAt,
	}
}

// Database handles SQLite operations for calibration history
type Database struct {
	db     *sql.DB
	dbPath string
}

// NewDatabase opens or creates the database at dbPath. ":memory:" keeps
// everything in memory.
func NewDatabase(dbPath string) (*Database, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection keeps :memory: databases alive and serializes writers
	db.SetMaxOpenConns(1)

	database := &Database{db: db, dbPath: dbPath}
	if err := database.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return database, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS calibration_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		error TEXT,
		expected BLOB,
		frames INTEGER NOT NULL DEFAULT 0,
		forced BOOLEAN NOT NULL DEFAULT FALSE,
		aspect_ratio REAL NOT NULL DEFAULT 0,
		layout BLOB,
		started_at DATETIME NOT NULL,
		completed_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_calibration_runs_session ON calibration_runs(session_id, id);
	`
	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// RecordRun stores a finished run and returns its row ID
func (d *Database) RecordRun(run *Run) (int64, error) {
	expected, err := msgpack.Marshal(run.Expected)
	if err != nil {
		return 0, fmt.Errorf("failed to encode expected markers: %w", err)
	}

	var layout interface{}
	if run.Layout != nil {
		blob, err := msgpack.Marshal(run.Layout)
		if err != nil {
			return 0, fmt.Errorf("failed to encode layout: %w", err)
		}
		layout = blob
	}

	res, err := d.db.Exec(`
		INSERT INTO calibration_runs
			(session_id, outcome, error, expected, frames, forced, aspect_ratio, layout, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.SessionID, run.Outcome, run.Error, expected, run.Frames, run.Forced,
		run.AspectRatio, layout, run.StartedAt.UTC(), run.CompletedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert calibration run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get run id: %w", err)
	}
	run.ID = id
	return id, nil
}

// History returns the runs of a session, newest first. limit <= 0 returns
// every run.
func (d *Database) History(sessionID string, limit int) ([]*Run, error) {
	query := `
		SELECT id, session_id, outcome, error, expected, frames, forced, aspect_ratio, layout, started_at, completed_at
		FROM calibration_runs WHERE session_id = ? ORDER BY id DESC`
	args := []interface{}{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query calibration runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LatestLayout returns the newest successful calibration of a session
func (d *Database) LatestLayout(sessionID string) (*calibration.Result, error) {
	row := d.db.QueryRow(`
		SELECT id, session_id, outcome, error, expected, frames, forced, aspect_ratio, layout, started_at, completed_at
		FROM calibration_runs WHERE session_id = ? AND layout IS NOT NULL ORDER BY id DESC LIMIT 1`,
		sessionID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}
	return run.Result(), nil
}

// Sessions lists every session ID with recorded runs
func (d *Database) Sessions() ([]string, error) {
	rows, err := d.db.Query(`SELECT session_id FROM calibration_runs GROUP BY session_id ORDER BY MIN(id)`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run      Run
		errText  sql.NullString
		expected []byte
		layout   []byte
	)
	err := row.Scan(&run.ID, &run.SessionID, &run.Outcome, &errText, &expected, &run.Frames,
		&run.Forced, &run.AspectRatio, &layout, &run.StartedAt, &run.CompletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan calibration run: %w", err)
	}
	run.Error = errText.String

	if len(expected) > 0 {
		if err := msgpack.Unmarshal(expected, &run.Expected); err != nil {
			return nil, fmt.Errorf("failed to decode expected markers: %w", err)
		}
	}
	if len(layout) > 0 {
		if err := msgpack.Unmarshal(layout, &run.Layout); err != nil {
			return nil, fmt.Errorf("failed to decode layout: %w", err)
		}
	}
	return &run, nil
}
