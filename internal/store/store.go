// Package store persists progress records in SQLite. It is the local
// persistence collaborator: the engine reports into it through
// progress.Sink and the HTTP endpoint reads from it.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"chemlab/internal/progress"
)

// Driver names accepted by Open.
const (
	// DriverSQLite is the pure Go modernc.org/sqlite driver.
	DriverSQLite = "sqlite"
	// DriverSQLite3 is the cgo github.com/mattn/go-sqlite3 driver.
	DriverSQLite3 = "sqlite3"
)

// ErrNotFound is returned when a session has no records.
var ErrNotFound = errors.New("store: not found")

// Session is the latest record of one experiment session.
type Session struct {
	progress.Record
	StartedAt time.Time `json:"started_at"`
}

// Summary aggregates sessions of one experiment.
type Summary struct {
	ExperimentID    string  `json:"experiment_id"`
	Sessions        int     `json:"sessions"`
	Completed       int     `json:"completed"`
	AverageProgress float64 `json:"average_progress"`
	LastReportedAt  string  `json:"last_reported_at"`
}

// Filter narrows session listings.
type Filter struct {
	ExperimentID string
	Limit        int
}

// ProgressStore manages the progress database.
type ProgressStore struct {
	db     *sql.DB
	dbPath string
	driver string
	mu     sync.RWMutex
	logger *zap.Logger
}

// Open creates or opens a progress store at path with the given driver.
// An empty driver selects DriverSQLite.
func Open(driver, path string, logger *zap.Logger) (*ProgressStore, error) {
	if driver == "" {
		driver = DriverSQLite
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := openDB(driver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &ProgressStore{db: db, dbPath: path, driver: driver, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logger.Debug("progress store opened",
		zap.String("path", path),
		zap.String("driver", driver),
		zap.Int("schema_version", CurrentSchemaVersion))
	return s, nil
}

func openDB(driver, path string) (*sql.DB, error) {
	switch driver {
	case DriverSQLite3:
		return sql.Open(DriverSQLite3, path+"?_journal_mode=WAL&_busy_timeout=5000")
	case DriverSQLite:
		db, err := sql.Open(DriverSQLite, path)
		if err != nil {
			return nil, err
		}
		if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set journal mode: %w", err)
		}
		if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}

// Close closes the database connection.
func (s *ProgressStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *ProgressStore) Path() string {
	return s.dbPath
}

// Driver returns the database/sql driver name in use.
func (s *ProgressStore) Driver() string {
	return s.driver
}

// Report implements progress.Sink. Each record is appended to the event
// log and folded into the per-session latest state.
func (s *ProgressStore) Report(ctx context.Context, rec progress.Record) error {
	if rec.SessionID == "" || rec.ExperimentID == "" {
		return fmt.Errorf("record needs session and experiment ids")
	}
	if rec.ReportedAt.IsZero() {
		rec.ReportedAt = time.Now().UTC()
	}
	at := formatTime(rec.ReportedAt)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO progress_events (session_id, experiment_id, current_step, completed, progress_percentage, reported_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.ExperimentID, rec.CurrentStep, boolInt(rec.Completed), rec.ProgressPercentage, at,
	); err != nil {
		return fmt.Errorf("failed to insert progress event: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, experiment_id, current_step, completed, progress_percentage, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			current_step = excluded.current_step,
			completed = excluded.completed,
			progress_percentage = excluded.progress_percentage,
			updated_at = excluded.updated_at`,
		rec.SessionID, rec.ExperimentID, rec.CurrentStep, boolInt(rec.Completed), rec.ProgressPercentage, at, at,
	); err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit progress: %w", err)
	}
	s.logger.Debug("progress stored",
		zap.String("session", rec.SessionID),
		zap.String("experiment", rec.ExperimentID),
		zap.Int("percentage", rec.ProgressPercentage))
	return nil
}

// Sessions lists the latest state of each session, most recent first.
func (s *ProgressStore) Sessions(ctx context.Context, f Filter) ([]Session, error) {
	query := `SELECT session_id, experiment_id, current_step, completed, progress_percentage, started_at, updated_at
		FROM sessions`
	var args []any
	if f.ExperimentID != "" {
		query += ` WHERE experiment_id = ?`
		args = append(args, f.ExperimentID)
	}
	query += ` ORDER BY updated_at DESC, session_id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Session returns the latest state of one session.
func (s *ProgressStore) Session(ctx context.Context, sessionID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, experiment_id, current_step, completed, progress_percentage, started_at, updated_at
		FROM sessions WHERE session_id = ?`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return sess, err
}

// History returns every record of a session in report order.
func (s *ProgressStore) History(ctx context.Context, sessionID string) ([]progress.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, experiment_id, current_step, completed, progress_percentage, reported_at
		FROM progress_events WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []progress.Record
	for rows.Next() {
		var rec progress.Record
		var completed int
		var at string
		if err := rows.Scan(&rec.SessionID, &rec.ExperimentID, &rec.CurrentStep, &completed, &rec.ProgressPercentage, &at); err != nil {
			return nil, fmt.Errorf("failed to scan progress event: %w", err)
		}
		rec.Completed = completed != 0
		rec.ReportedAt = parseTime(at)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Summaries aggregates sessions per experiment, ordered by experiment id.
func (s *ProgressStore) Summaries(ctx context.Context) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT experiment_id, COUNT(*), SUM(completed), AVG(progress_percentage), MAX(updated_at)
		FROM sessions GROUP BY experiment_id ORDER BY experiment_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.ExperimentID, &sum.Sessions, &sum.Completed, &sum.AverageProgress, &sum.LastReportedAt); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (Session, error) {
	var sess Session
	var completed int
	var started, updated string
	err := sc.Scan(&sess.SessionID, &sess.ExperimentID, &sess.CurrentStep, &completed,
		&sess.ProgressPercentage, &started, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("failed to scan session: %w", err)
	}
	sess.Completed = completed != 0
	sess.StartedAt = parseTime(started)
	sess.ReportedAt = parseTime(updated)
	return sess, nil
}

// Times are stored as fixed-width RFC 3339 text so both drivers
// round-trip them the same way and text order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
