package store

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// Schema versions:
// v1: progress_events log and sessions latest-state table
// v2: sessions.started_at
const CurrentSchemaVersion = 2

// Migration is one schema step. Statements run in order inside a
// transaction; Column, when set, skips the step if the column already
// exists (databases created by an older build that had it unversioned).
type Migration struct {
	Version    int
	Table      string
	Column     string
	Statements []string
}

var migrations = []Migration{
	{
		Version: 1,
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS progress_events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL,
				experiment_id TEXT NOT NULL,
				current_step INTEGER NOT NULL,
				completed INTEGER NOT NULL DEFAULT 0,
				progress_percentage INTEGER NOT NULL,
				reported_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_events_session ON progress_events(session_id)`,
			`CREATE INDEX IF NOT EXISTS idx_events_experiment ON progress_events(experiment_id)`,
			`CREATE TABLE IF NOT EXISTS sessions (
				session_id TEXT PRIMARY KEY,
				experiment_id TEXT NOT NULL,
				current_step INTEGER NOT NULL,
				completed INTEGER NOT NULL DEFAULT 0,
				progress_percentage INTEGER NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_experiment ON sessions(experiment_id)`,
		},
	},
	{
		Version:    2,
		Table:      "sessions",
		Column:     "started_at",
		Statements: []string{`ALTER TABLE sessions ADD COLUMN started_at TEXT NOT NULL DEFAULT ''`},
	},
}

// migrate brings the database to CurrentSchemaVersion.
func (s *ProgressStore) migrate() error {
	version, err := GetSchemaVersion(s.db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.Version <= version {
			continue
		}
		if m.Column != "" && columnExists(s.db, m.Table, m.Column) {
			s.logger.Debug("column present, skipping migration",
				zap.Int("version", m.Version),
				zap.String("column", m.Table+"."+m.Column))
		} else if err := applyMigration(s.db, m); err != nil {
			return err
		}
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
			return fmt.Errorf("failed to record schema version %d: %w", m.Version, err)
		}
		s.logger.Info("schema migrated", zap.Int("version", m.Version))
	}
	return nil
}

func applyMigration(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
	}
	defer tx.Rollback()
	for _, stmt := range m.Statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.Version, err)
		}
	}
	return tx.Commit()
}

// GetSchemaVersion returns the current schema version of a database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

func columnExists(db *sql.DB, table, column string) bool {
	query := fmt.Sprintf("PRAGMA table_info(%s)", table)
	rows, err := db.Query(query)
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false
		}
		if name == column {
			return true
		}
	}
	return false
}

func tableExists(db *sql.DB, table string) bool {
	var count int
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?"
	if err := db.QueryRow(query, table).Scan(&count); err != nil {
		return false
	}
	return count > 0
}
