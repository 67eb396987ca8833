package cache

import (
	"database/sql"
	"errors"
	"time"
)

const contactSelectCols = `
	SELECT id, account_id, display_name, email, first_name, last_name, organization, notes,
		usage_count, last_used_at
	FROM contacts`

func scanContact(row rowScanner) (*Contact, error) {
	var c Contact
	var accountID, first, last, org, notes sql.NullString
	var lastUsed sql.NullTime
	err := row.Scan(&c.ID, &accountID, &c.DisplayName, &c.Email, &first, &last, &org, &notes,
		&c.UsageCount, &lastUsed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.AccountID = accountID.String
	c.FirstName = first.String
	c.LastName = last.String
	c.Organization = org.String
	c.Notes = notes.String
	c.LastUsedAt = timePtr(lastUsed)
	return &c, nil
}

// UpsertContact inserts or replaces a contact by (account_id, email).
func (s *Store) UpsertContact(c *Contact) error {
	if c.AccountID == "" {
		// NULL account_id never conflicts under the UNIQUE constraint, so
		// global contacts are matched by email explicitly.
		res, err := s.db.Exec(`
			UPDATE contacts SET display_name=?, first_name=?, last_name=?, organization=?, notes=?
			WHERE account_id IS NULL AND email=?`,
			c.DisplayName, nullableStr(c.FirstName), nullableStr(c.LastName),
			nullableStr(c.Organization), nullableStr(c.Notes), c.Email)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
	}
	_, err := s.db.Exec(`
		INSERT INTO contacts (id, account_id, display_name, email, first_name, last_name,
			organization, notes, usage_count, last_used_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(account_id, email) DO UPDATE SET
			display_name=excluded.display_name, first_name=excluded.first_name,
			last_name=excluded.last_name, organization=excluded.organization,
			notes=excluded.notes`,
		c.ID, nullableStr(c.AccountID), c.DisplayName, c.Email, nullableStr(c.FirstName),
		nullableStr(c.LastName), nullableStr(c.Organization), nullableStr(c.Notes),
		c.UsageCount, nullTime(c.LastUsedAt))
	return err
}

// RecordContactUsage increments usage_count and bumps last_used_at —
// called whenever an address is used in a compose To/Cc/Bcc field, used to
// rank autocomplete suggestions.
func (s *Store) RecordContactUsage(accountID, email string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		UPDATE contacts SET usage_count = usage_count + 1, last_used_at = ?
		WHERE account_id IS ? AND email = ?`, now, nullableStr(accountID), email)
	return err
}

// ListContacts returns every contact scoped to accountID plus any global
// (account_id IS NULL) contacts.
func (s *Store) ListContacts(accountID string) ([]*Contact, error) {
	rows, err := s.db.Query(contactSelectCols+`
		WHERE account_id = ? OR account_id IS NULL ORDER BY usage_count DESC, display_name ASC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteContact removes a contact by id.
func (s *Store) DeleteContact(id string) error {
	_, err := s.db.Exec(`DELETE FROM contacts WHERE id=?`, id)
	return err
}
