package cache

import (
	"github.com/rs/zerolog"

	"github.com/hkdb/mailengine/internal/logging"
)

// Store is the cache's single entry point: CRUD and bulk-upsert operations
// for every entity in the data model, all account-scoped at the query
// level. There is exactly one Store per process, wrapping one *DB.
type Store struct {
	db  *DB
	log zerolog.Logger
}

// NewStore wraps an already-open, already-migrated DB.
func NewStore(db *DB) *Store {
	return &Store{db: db, log: logging.WithComponent("cache")}
}

// DB exposes the underlying connection for callers that need direct access
// (e.g. the checkpoint routine, or tests asserting on raw rows).
func (s *Store) DB() *DB { return s.db }
