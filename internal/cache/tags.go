package cache

import (
	"database/sql"
)

// CreateTag inserts a tag, unique per (account_id, name).
func (s *Store) CreateTag(t *Tag) error {
	_, err := s.db.Exec(`INSERT INTO tags (id, account_id, name, color) VALUES (?,?,?,?)`,
		t.ID, t.AccountID, t.Name, t.Color)
	return err
}

// ListTags returns every tag for an account.
func (s *Store) ListTags(accountID string) ([]*Tag, error) {
	rows, err := s.db.Query(`SELECT id, account_id, name, color FROM tags WHERE account_id=? ORDER BY name`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Name, &t.Color); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// DeleteTag removes a tag and, via ON DELETE CASCADE, its message_tags rows.
func (s *Store) DeleteTag(id string) error {
	_, err := s.db.Exec(`DELETE FROM tags WHERE id=?`, id)
	return err
}

// ApplyTag links a message to a tag; idempotent.
func (s *Store) ApplyTag(messageLocalID, tagID string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO message_tags (message_local_id, tag_id) VALUES (?,?)`,
		messageLocalID, tagID)
	return err
}

// RemoveTag unlinks a message from a tag.
func (s *Store) RemoveTag(messageLocalID, tagID string) error {
	_, err := s.db.Exec(`DELETE FROM message_tags WHERE message_local_id=? AND tag_id=?`, messageLocalID, tagID)
	return err
}

// ListMessageTags returns every tag applied to a message.
func (s *Store) ListMessageTags(messageLocalID string) ([]*Tag, error) {
	rows, err := s.db.Query(`
		SELECT t.id, t.account_id, t.name, t.color FROM tags t
		JOIN message_tags mt ON mt.tag_id = t.id
		WHERE mt.message_local_id = ?`, messageLocalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Name, &t.Color); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// --- Signatures --------------------------------------------------------

// SaveSignature inserts or replaces a signature. If IsDefault is set, any
// other default for the account is cleared first so at most one default
// survives (§3 Signature invariant).
func (s *Store) SaveSignature(sig *Signature) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if sig.IsDefault {
		if _, err := tx.Exec(`UPDATE signatures SET is_default=0 WHERE account_id=?`, sig.AccountID); err != nil {
			return err
		}
	}
	_, err = tx.Exec(`
		INSERT INTO signatures (id, account_id, name, content_plain, content_html, is_default)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, content_plain=excluded.content_plain,
			content_html=excluded.content_html, is_default=excluded.is_default`,
		sig.ID, sig.AccountID, sig.Name, sig.ContentPlain, nullableStr(sig.ContentHTML), sig.IsDefault)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// ListSignatures returns every signature for an account.
func (s *Store) ListSignatures(accountID string) ([]*Signature, error) {
	rows, err := s.db.Query(`
		SELECT id, account_id, name, content_plain, content_html, is_default
		FROM signatures WHERE account_id=?`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Signature
	for rows.Next() {
		var sig Signature
		var html sql.NullString
		if err := rows.Scan(&sig.ID, &sig.AccountID, &sig.Name, &sig.ContentPlain, &html, &sig.IsDefault); err != nil {
			return nil, err
		}
		sig.ContentHTML = html.String
		out = append(out, &sig)
	}
	return out, rows.Err()
}

// DeleteSignature removes a signature by id.
func (s *Store) DeleteSignature(id string) error {
	_, err := s.db.Exec(`DELETE FROM signatures WHERE id=?`, id)
	return err
}
