// Package settings exposes the engine's global preferences as key/value rows
// in the cache database's settings table, and the engine's exhaustive set of
// recognized configuration options (§6). No config.json file is read or
// written by this package.
package settings

import (
	"strconv"

	"github.com/hkdb/mailengine/internal/cache"
)

// Store wraps the cache's settings kv table with typed accessors for every
// option named in §6's configuration table.
type Store struct {
	db *cache.DB
}

// NewStore wraps an already-open, already-migrated cache database.
func NewStore(db *cache.DB) *Store {
	return &Store{db: db}
}

// Get returns a raw string setting, or def if unset.
func (s *Store) Get(key, def string) (string, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key=?`, key).Scan(&v)
	if err != nil {
		return def, nil
	}
	return v, nil
}

// Set persists a raw string setting.
func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value) VALUES (?,?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}

// Keys recognized by the engine, matching §6's configuration table exactly.
const (
	KeyOfflineDefault     = "offline_default"
	KeyAutoSyncOnStartup  = "auto_sync_on_startup"
	KeyMessageFetchWindow = "message_fetch_window"
	KeyAttachmentSizeWarn = "attachment_size_warn_bytes"
	KeyRetryBackoffCapSec = "retry_backoff_cap_seconds"
	KeyLogLevel           = "log_level"
)

// GetOfflineDefault returns the initial value of the global offline toggle.
func (s *Store) GetOfflineDefault() (bool, error) {
	v, _ := s.Get(KeyOfflineDefault, "false")
	return v == "true", nil
}

// SetOfflineDefault persists the global offline toggle's startup value.
func (s *Store) SetOfflineDefault(v bool) error {
	return s.Set(KeyOfflineDefault, strconv.FormatBool(v))
}

// GetAutoSyncOnStartup returns whether enabled accounts connect at launch.
func (s *Store) GetAutoSyncOnStartup() (bool, error) {
	v, _ := s.Get(KeyAutoSyncOnStartup, "true")
	return v == "true", nil
}

// SetAutoSyncOnStartup persists auto_sync_on_startup.
func (s *Store) SetAutoSyncOnStartup(v bool) error {
	return s.Set(KeyAutoSyncOnStartup, strconv.FormatBool(v))
}

// GetMessageFetchWindow returns the max headers fetched per sync batch.
func (s *Store) GetMessageFetchWindow() (int, error) {
	v, _ := s.Get(KeyMessageFetchWindow, "50")
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 50, nil
	}
	return n, nil
}

// SetMessageFetchWindow persists message_fetch_window.
func (s *Store) SetMessageFetchWindow(n int) error {
	return s.Set(KeyMessageFetchWindow, strconv.Itoa(n))
}

// GetAttachmentSizeWarnBytes returns the compose-time size warning
// threshold.
func (s *Store) GetAttachmentSizeWarnBytes() (int64, error) {
	v, _ := s.Get(KeyAttachmentSizeWarn, "26214400") // 25 MiB
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 26214400, nil
	}
	return n, nil
}

// SetAttachmentSizeWarnBytes persists attachment_size_warn_bytes.
func (s *Store) SetAttachmentSizeWarnBytes(n int64) error {
	return s.Set(KeyAttachmentSizeWarn, strconv.FormatInt(n, 10))
}

// GetRetryBackoffCapSeconds returns the upper bound on reconnect/send
// backoff (§4.6 default 300s).
func (s *Store) GetRetryBackoffCapSeconds() (int, error) {
	v, _ := s.Get(KeyRetryBackoffCapSec, "300")
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 300, nil
	}
	return n, nil
}

// SetRetryBackoffCapSeconds persists retry_backoff_cap_seconds.
func (s *Store) SetRetryBackoffCapSeconds(n int) error {
	return s.Set(KeyRetryBackoffCapSec, strconv.Itoa(n))
}

// GetLogLevel returns the configured log level.
func (s *Store) GetLogLevel() (string, error) {
	return s.Get(KeyLogLevel, "info")
}

// SetLogLevel persists log_level.
func (s *Store) SetLogLevel(level string) error {
	return s.Set(KeyLogLevel, level)
}
