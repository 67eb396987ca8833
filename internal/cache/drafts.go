package cache

import (
	"database/sql"
	"errors"
	"time"
)

const draftSelectCols = `
	SELECT id, account_id, to_list, cc_list, bcc_list, subject, body, is_html, attachments,
		created_at, updated_at
	FROM drafts`

func scanDraft(row rowScanner) (*Draft, error) {
	var d Draft
	var toList, ccList, bccList, attachments sql.NullString
	err := row.Scan(&d.ID, &d.AccountID, &toList, &ccList, &bccList, &d.Subject, &d.Body,
		&d.IsHTML, &attachments, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	d.To = unmarshalList(toList.String)
	d.Cc = unmarshalList(ccList.String)
	d.Bcc = unmarshalList(bccList.String)
	d.Attachments = unmarshalList(attachments.String)
	return &d, nil
}

// SaveDraft inserts or replaces a draft by id.
func (s *Store) SaveDraft(d *Draft) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	_, err := s.db.Exec(`
		INSERT INTO drafts (id, account_id, to_list, cc_list, bcc_list, subject, body, is_html,
			attachments, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			to_list=excluded.to_list, cc_list=excluded.cc_list, bcc_list=excluded.bcc_list,
			subject=excluded.subject, body=excluded.body, is_html=excluded.is_html,
			attachments=excluded.attachments, updated_at=excluded.updated_at`,
		d.ID, d.AccountID, marshalList(d.To), marshalList(d.Cc), marshalList(d.Bcc), d.Subject,
		d.Body, d.IsHTML, marshalList(d.Attachments), d.CreatedAt, d.UpdatedAt)
	return err
}

// GetDraft fetches a draft by id.
func (s *Store) GetDraft(id string) (*Draft, error) {
	return scanDraft(s.db.QueryRow(draftSelectCols+` WHERE id = ?`, id))
}

// ListDrafts returns every draft for an account, most recently updated
// first.
func (s *Store) ListDrafts(accountID string) ([]*Draft, error) {
	rows, err := s.db.Query(draftSelectCols+` WHERE account_id=? ORDER BY updated_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDraft removes a draft by id.
func (s *Store) DeleteDraft(id string) error {
	_, err := s.db.Exec(`DELETE FROM drafts WHERE id=?`, id)
	return err
}
