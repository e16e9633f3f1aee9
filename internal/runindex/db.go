// SPDX-License-Identifier: AGPL-3.0-or-later

// Package runindex maintains a small SQLite catalogue of the runs under a
// root directory, so the CLI can list runs without crawling every run
// directory. The per-run JSON/CSV artifacts remain the source of truth;
// the index is derived state and can always be rebuilt from disk.
package runindex

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/runlog-org/runlog/internal/paths"
	_ "modernc.org/sqlite"
)

const (
	sqliteDriverName = "sqlite"

	defaultBusyTimeout = 5 * time.Second
	defaultJournalMode = "WAL"
	defaultSynchronous = "FULL"
)

var migrations = [...]string{
	`CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		date_start TEXT NOT NULL,
		date_end TEXT,
		successful INTEGER NOT NULL DEFAULT 0,
		base_path TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_runs_date_start ON runs(date_start);`,
}

// Index wraps the SQLite connection for one root's run catalogue.
type Index struct {
	sql  *sql.DB
	root string
}

// Open initialises the index database under root with required pragmas and
// schema. The root directory is created when missing.
func Open(ctx context.Context, root string) (*Index, error) {
	root = paths.Resolve(root)
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("ensure root dir: %w", err)
	}

	dbPath := paths.IndexPath(root)
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", filepath.ToSlash(dbPath), int(defaultBusyTimeout/time.Millisecond))

	conn, err := sql.Open(sqliteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := configureConnection(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := applyMigrations(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &Index{sql: conn, root: root}, nil
}

// Close shuts down the underlying SQLite connection.
func (ix *Index) Close() error {
	if ix == nil || ix.sql == nil {
		return nil
	}
	return ix.sql.Close()
}

// Root returns the resolved root directory the index catalogues.
func (ix *Index) Root() string {
	if ix == nil {
		return ""
	}
	return ix.root
}

func configureConnection(ctx context.Context, conn *sql.DB) error {
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	statements := []string{
		fmt.Sprintf("PRAGMA journal_mode=%s;", defaultJournalMode),
		fmt.Sprintf("PRAGMA synchronous=%s;", defaultSynchronous),
		"PRAGMA foreign_keys=ON;",
	}
	for _, stmt := range statements {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute pragma %q: %w", stmt, err)
		}
	}
	return nil
}

func applyMigrations(ctx context.Context, conn *sql.DB) error {
	for _, stmt := range migrations {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}
