// Package cache is the engine's durable per-account store: folders,
// messages, flags, attachments, drafts, tags, signatures, outbox, contacts,
// rules and OAuth tokens, all in one single-writer, many-reader SQLite file.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hkdb/mailengine/internal/logging"
)

// Connection pool tuning. SQLite in WAL mode allows only one writer at a
// time, so a large pool just adds lock contention; idle connections scale
// modestly with the number of configured accounts instead.
const (
	MaxOpenConns         = 8
	BaseIdleConns        = 2
	MaxIdleConns         = 4
	IdleConnsPerAccount  = 1
	CheckpointInterval   = 5 * time.Minute
)

// DB wraps the underlying SQLite connection and the blob directory that
// sits beside it.
type DB struct {
	*sql.DB
	path    string
	blobDir string
}

// Open opens or creates the cache database at path, applying the PRAGMAs
// required for safe concurrent access from the pool above. The blob
// directory is created as a sibling of the database file.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("cache: create data dir: %w", err)
	}

	// PRAGMAs are embedded in the DSN so every pooled connection — not just
	// the first — gets busy_timeout and WAL, avoiding SQLITE_BUSY errors
	// from connections that never saw an explicit PRAGMA statement.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)",
		path,
	)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cache: open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(MaxOpenConns)
	sqlDB.SetMaxIdleConns(BaseIdleConns)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("cache: ping database: %w", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("cache: set database permissions: %w", err)
	}

	blobDir := filepath.Join(dir, "blobs")
	if err := os.MkdirAll(blobDir, 0700); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("cache: create blob dir: %w", err)
	}

	return &DB{DB: sqlDB, path: path, blobDir: blobDir}, nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// BlobDir returns the content-addressed attachment blob directory.
func (db *DB) BlobDir() string { return db.blobDir }

// UpdateIdleConns rescales the idle connection pool by account count. Call
// whenever an account is added or removed.
func (db *DB) UpdateIdleConns(numAccounts int) {
	idle := BaseIdleConns + numAccounts*IdleConnsPerAccount
	if idle < BaseIdleConns {
		idle = BaseIdleConns
	}
	if idle > MaxIdleConns {
		idle = MaxIdleConns
	}
	db.SetMaxIdleConns(idle)
}

// Checkpoint merges the write-ahead log back into the main database file
// using PASSIVE mode, which never blocks concurrent readers/writers.
func (db *DB) Checkpoint() error {
	_, err := db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
	if err != nil {
		return fmt.Errorf("cache: checkpoint: %w", err)
	}
	return nil
}

// StartCheckpointRoutine runs periodic WAL checkpoints until ctx is
// cancelled. Intended to be started once at engine startup.
func (db *DB) StartCheckpointRoutine(ctx context.Context) {
	log := logging.WithComponent("cache")
	ticker := time.NewTicker(CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := db.Checkpoint(); err != nil {
				log.Error().Err(err).Msg("periodic WAL checkpoint failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// Migrate creates the migrations tracking table if needed and applies every
// pending migration in order, each inside its own transaction. Safe to call
// on every startup: already-applied migrations are skipped.
func (db *DB) Migrate() error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("cache: create migrations table: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&current); err != nil {
		return fmt.Errorf("cache: read migration version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := db.applyMigration(m); err != nil {
			return fmt.Errorf("cache: apply migration %d: %w", m.Version, err)
		}
	}
	return nil
}

func (db *DB) applyMigration(m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("migration SQL failed: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", m.Version); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}
