// Package store opens the service's SQLite database and applies migrations.
package store

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Open opens (or creates) the SQLite database, sets PRAGMAs, and runs
// migrations. Use ":memory:" for tests.
func Open(dbPath string, logger zerolog.Logger) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite allows one writer, and an in-memory database exists per
	// connection, so the pool is pinned to a single connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info().Str("path", dbPath).Msg("store initialized")
	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			project_id TEXT NOT NULL,
			stage      TEXT NOT NULL,
			mode       TEXT NOT NULL DEFAULT 'balanced',
			messages   TEXT NOT NULL DEFAULT '[]',
			artifact   TEXT NOT NULL DEFAULT '',
			topics     TEXT NOT NULL DEFAULT '[]',
			snapshots  TEXT NOT NULL DEFAULT '{}',
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (project_id, stage)
		);

		CREATE TABLE IF NOT EXISTS relays (
			project_id     TEXT NOT NULL,
			from_stage     TEXT NOT NULL,
			core_soul      TEXT NOT NULL,
			progress       TEXT NOT NULL,
			handover       TEXT NOT NULL,
			risks          TEXT NOT NULL,
			snapshots      TEXT NOT NULL DEFAULT '{}',
			created_at     DATETIME NOT NULL,
			PRIMARY KEY (project_id, from_stage)
		);
	`)
	return err
}
