package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrDuplicateEmail is returned by CreateAccount when the email is already
// registered to another account.
var ErrDuplicateEmail = errors.New("cache: duplicate email")

// CreateAccount inserts a new account. If no account currently exists it
// becomes active. Fails with ErrDuplicateEmail if the email is taken.
func (s *Store) CreateAccount(a *Account) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM accounts`).Scan(&count); err != nil {
		return err
	}
	makeActive := count == 0 || a.IsActive

	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	var pop3Host, pop3TLS sql.NullString
	var pop3Port sql.NullInt64
	if a.POP3 != nil {
		pop3Host = sql.NullString{String: a.POP3.Host, Valid: true}
		pop3Port = sql.NullInt64{Int64: int64(a.POP3.Port), Valid: true}
		pop3TLS = sql.NullString{String: string(a.POP3.TLS), Valid: true}
	}

	if makeActive {
		if _, err := tx.Exec(`UPDATE accounts SET is_active = 0`); err != nil {
			return err
		}
	}

	_, err = tx.Exec(`
		INSERT INTO accounts (
			id, display_name, email, imap_host, imap_port, imap_tls_mode,
			smtp_host, smtp_port, smtp_tls_mode, pop3_host, pop3_port, pop3_tls_mode,
			pop3_delete_on_server, username, sealed_password, auth_type, enabled,
			is_active, check_interval_minutes, provider_tag, color, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.DisplayName, a.Email, a.IMAP.Host, a.IMAP.Port, string(a.IMAP.TLS),
		a.SMTP.Host, a.SMTP.Port, string(a.SMTP.TLS), pop3Host, pop3Port, pop3TLS,
		a.POP3DeleteOnServer, a.Username, a.SealedPassword, string(a.AuthType), a.Enabled,
		makeActive, a.CheckIntervalMinutes, a.ProviderTag, a.Color, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("cache: insert account: %w", err)
	}
	a.IsActive = makeActive
	return tx.Commit()
}

// isUniqueViolation is a best-effort check for SQLite's UNIQUE constraint
// error text, since modernc.org/sqlite does not export a typed error.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetAccount fetches one account by id.
func (s *Store) GetAccount(id string) (*Account, error) {
	row := s.db.QueryRow(accountSelectCols+` WHERE id = ?`, id)
	return scanAccount(row)
}

// ListAccounts returns every account, ordered by creation time.
func (s *Store) ListAccounts() ([]*Account, error) {
	rows, err := s.db.Query(accountSelectCols + ` ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAccounts(rows)
}

// ListEnabledAccounts returns every account with enabled = true.
func (s *Store) ListEnabledAccounts() ([]*Account, error) {
	rows, err := s.db.Query(accountSelectCols + ` WHERE enabled = 1 ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAccounts(rows)
}

// GetActiveAccount returns the currently active account, or ErrNotFound if
// none is active.
func (s *Store) GetActiveAccount() (*Account, error) {
	row := s.db.QueryRow(accountSelectCols + ` WHERE is_active = 1`)
	return scanAccount(row)
}

// SetActiveAccount clears any other active account and marks id active.
func (s *Store) SetActiveAccount(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE accounts SET is_active = 0`); err != nil {
		return err
	}
	res, err := tx.Exec(`UPDATE accounts SET is_active = 1, updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// UpdateAccount persists changes to an existing account row.
func (s *Store) UpdateAccount(a *Account) error {
	a.UpdatedAt = time.Now().UTC()
	var pop3Host, pop3TLS sql.NullString
	var pop3Port sql.NullInt64
	if a.POP3 != nil {
		pop3Host = sql.NullString{String: a.POP3.Host, Valid: true}
		pop3Port = sql.NullInt64{Int64: int64(a.POP3.Port), Valid: true}
		pop3TLS = sql.NullString{String: string(a.POP3.TLS), Valid: true}
	}
	res, err := s.db.Exec(`
		UPDATE accounts SET display_name=?, email=?, imap_host=?, imap_port=?, imap_tls_mode=?,
			smtp_host=?, smtp_port=?, smtp_tls_mode=?, pop3_host=?, pop3_port=?, pop3_tls_mode=?,
			pop3_delete_on_server=?, username=?, sealed_password=?, auth_type=?, enabled=?,
			check_interval_minutes=?, provider_tag=?, color=?, updated_at=?
		WHERE id=?`,
		a.DisplayName, a.Email, a.IMAP.Host, a.IMAP.Port, string(a.IMAP.TLS),
		a.SMTP.Host, a.SMTP.Port, string(a.SMTP.TLS), pop3Host, pop3Port, pop3TLS,
		a.POP3DeleteOnServer, a.Username, a.SealedPassword, string(a.AuthType), a.Enabled,
		a.CheckIntervalMinutes, a.ProviderTag, a.Color, a.UpdatedAt, a.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAccountEnabled toggles whether an account participates in sync/outbox.
func (s *Store) SetAccountEnabled(id string, enabled bool) error {
	res, err := s.db.Exec(`UPDATE accounts SET enabled=?, updated_at=? WHERE id=?`, enabled, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAccount removes an account and, via ON DELETE CASCADE, every row in
// every table tagged with its id. If the deleted account was active, the
// first remaining enabled account (if any) becomes active.
func (s *Store) DeleteAccount(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var wasActive bool
	if err := tx.QueryRow(`SELECT is_active FROM accounts WHERE id = ?`, id).Scan(&wasActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	if _, err := tx.Exec(`DELETE FROM accounts WHERE id = ?`, id); err != nil {
		return err
	}

	if wasActive {
		var nextID sql.NullString
		err := tx.QueryRow(`SELECT id FROM accounts WHERE enabled = 1 ORDER BY created_at ASC LIMIT 1`).Scan(&nextID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if nextID.Valid {
			if _, err := tx.Exec(`UPDATE accounts SET is_active = 1 WHERE id = ?`, nextID.String); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

const accountSelectCols = `
	SELECT id, display_name, email, imap_host, imap_port, imap_tls_mode,
		smtp_host, smtp_port, smtp_tls_mode, pop3_host, pop3_port, pop3_tls_mode,
		pop3_delete_on_server, username, sealed_password, auth_type, enabled,
		is_active, check_interval_minutes, provider_tag, color, last_sync_at, created_at, updated_at
	FROM accounts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var a Account
	var pop3Host, pop3TLS, providerTag sql.NullString
	var pop3Port sql.NullInt64
	var lastSync sql.NullTime
	var imapTLS, smtpTLS, authType string

	err := row.Scan(
		&a.ID, &a.DisplayName, &a.Email, &a.IMAP.Host, &a.IMAP.Port, &imapTLS,
		&a.SMTP.Host, &a.SMTP.Port, &smtpTLS, &pop3Host, &pop3Port, &pop3TLS,
		&a.POP3DeleteOnServer, &a.Username, &a.SealedPassword, &authType, &a.Enabled,
		&a.IsActive, &a.CheckIntervalMinutes, &providerTag, &a.Color, &lastSync, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.IMAP.TLS = TLSMode(imapTLS)
	a.SMTP.TLS = TLSMode(smtpTLS)
	a.AuthType = AuthType(authType)
	a.ProviderTag = providerTag.String
	a.LastSyncAt = timePtr(lastSync)
	if pop3Host.Valid {
		a.POP3 = &Endpoint{Host: pop3Host.String, Port: int(pop3Port.Int64), TLS: TLSMode(pop3TLS.String)}
	}
	return &a, nil
}

func scanAccounts(rows *sql.Rows) ([]*Account, error) {
	var out []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
