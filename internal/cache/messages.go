package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const messageSelectCols = `
	SELECT local_id, account_id, folder_id, uid, message_id, thread_id, in_reply_to,
		references_list, subject, from_name, from_email, to_list, cc_list, bcc_list,
		date_utc, body_plain, body_html, body_fetched, seen, flagged, deleted, draft,
		answered, size, has_attachments, snippet
	FROM messages`

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var threadID, inReplyTo, refs, toList, ccList, bccList, bodyHTML, snippet sql.NullString
	err := row.Scan(
		&m.LocalID, &m.AccountID, &m.FolderID, &m.UID, &m.MessageID, &threadID, &inReplyTo,
		&refs, &m.Subject, &m.FromName, &m.FromEmail, &toList, &ccList, &bccList,
		&m.DateUTC, &m.BodyPlain, &bodyHTML, &m.BodyFetched, &m.Flags.Seen, &m.Flags.Flagged,
		&m.Flags.Deleted, &m.Flags.Draft, &m.Flags.Answered, &m.Size, &m.HasAttachments, &snippet,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	m.ThreadID = threadID.String
	m.InReplyTo = inReplyTo.String
	m.References = unmarshalList(refs.String)
	m.To = unmarshalList(toList.String)
	m.Cc = unmarshalList(ccList.String)
	m.Bcc = unmarshalList(bccList.String)
	m.BodyHTML = bodyHTML.String
	m.Snippet = snippet.String
	return &m, nil
}

// UpsertMessageHeader inserts or replaces a message by its natural key
// (account_id, folder_id, uid) with envelope + flag data, leaving any
// already-fetched body fields untouched. This is the write path for header
// sync (§4.6 step 3).
func (s *Store) UpsertMessageHeader(m *Message) error {
	_, err := s.db.Exec(`
		INSERT INTO messages (local_id, account_id, folder_id, uid, message_id, thread_id,
			in_reply_to, references_list, subject, from_name, from_email, to_list, cc_list,
			bcc_list, date_utc, seen, flagged, deleted, draft, answered, size, has_attachments, snippet)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(account_id, folder_id, uid) DO UPDATE SET
			message_id=excluded.message_id, thread_id=excluded.thread_id,
			in_reply_to=excluded.in_reply_to, references_list=excluded.references_list,
			subject=excluded.subject, from_name=excluded.from_name, from_email=excluded.from_email,
			to_list=excluded.to_list, cc_list=excluded.cc_list, bcc_list=excluded.bcc_list,
			date_utc=excluded.date_utc, seen=excluded.seen, flagged=excluded.flagged,
			deleted=excluded.deleted, draft=excluded.draft, answered=excluded.answered,
			size=excluded.size, has_attachments=excluded.has_attachments, snippet=excluded.snippet`,
		m.LocalID, m.AccountID, m.FolderID, m.UID, m.MessageID, nullableStr(m.ThreadID),
		nullableStr(m.InReplyTo), marshalList(m.References), m.Subject, m.FromName, m.FromEmail,
		marshalList(m.To), marshalList(m.Cc), marshalList(m.Bcc), m.DateUTC,
		m.Flags.Seen, m.Flags.Flagged, m.Flags.Deleted, m.Flags.Draft, m.Flags.Answered,
		m.Size, m.HasAttachments, nullableStr(m.Snippet),
	)
	if err != nil {
		return fmt.Errorf("cache: upsert message header: %w", err)
	}
	return nil
}

// WriteMessageBody stores the sanitized plain/HTML body for an already
// cached message (§4.6 step 4).
func (s *Store) WriteMessageBody(localID, bodyPlain, bodyHTML string) error {
	res, err := s.db.Exec(`UPDATE messages SET body_plain=?, body_html=?, body_fetched=1 WHERE local_id=?`,
		bodyPlain, nullableStr(bodyHTML), localID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateFlags reconciles cached flags with the server's view for one
// message (§4.6 step 5).
func (s *Store) UpdateFlags(accountID, folderID string, uid uint32, f Flags) error {
	_, err := s.db.Exec(`
		UPDATE messages SET seen=?, flagged=?, deleted=?, draft=?, answered=?
		WHERE account_id=? AND folder_id=? AND uid=?`,
		f.Seen, f.Flagged, f.Deleted, f.Draft, f.Answered, accountID, folderID, uid)
	return err
}

// GetMessage fetches one message by local id.
func (s *Store) GetMessage(localID string) (*Message, error) {
	return scanMessage(s.db.QueryRow(messageSelectCols+` WHERE local_id = ?`, localID))
}

// GetMessageByUID fetches one message by its natural key.
func (s *Store) GetMessageByUID(accountID, folderID string, uid uint32) (*Message, error) {
	return scanMessage(s.db.QueryRow(messageSelectCols+` WHERE account_id=? AND folder_id=? AND uid=?`,
		accountID, folderID, uid))
}

// FindMessageByMessageID looks up a cached message by its RFC 5322
// Message-ID header, scoped to one account, for thread-id resolution
// (§4.6 step 7).
func (s *Store) FindMessageByMessageID(accountID, messageID string) (*Message, error) {
	return scanMessage(s.db.QueryRow(messageSelectCols+` WHERE account_id=? AND message_id=? LIMIT 1`,
		accountID, messageID))
}

// ListMessages returns every cached message in a folder, newest first.
// Always account-scoped: callers cannot request a folder's messages without
// naming the account that owns it.
func (s *Store) ListMessages(accountID, folderID string) ([]*Message, error) {
	rows, err := s.db.Query(messageSelectCols+` WHERE account_id=? AND folder_id=? ORDER BY date_utc DESC`,
		accountID, folderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// GetAllUIDs returns every UID currently cached for a folder, used by the
// sync controller to diff against the server's UID list.
func (s *Store) GetAllUIDs(folderID string) ([]uint32, error) {
	rows, err := s.db.Query(`SELECT uid FROM messages WHERE folder_id = ?`, folderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uint32
	for rows.Next() {
		var uid uint32
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		out = append(out, uid)
	}
	return out, rows.Err()
}

// CountUnreadByFolder counts unseen messages in a folder (fallback used
// when the server's STATUS response is unavailable).
func (s *Store) CountUnreadByFolder(folderID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE folder_id=? AND seen=0`, folderID).Scan(&n)
	return n, err
}

// DeleteByUID removes one message (e.g. it vanished from the server).
func (s *Store) DeleteByUID(folderID string, uid uint32) error {
	_, err := s.db.Exec(`DELETE FROM messages WHERE folder_id=? AND uid=?`, folderID, uid)
	return err
}

// DeleteByFolder purges every cached message in a folder — used on
// UidValidityChanged (§4.4 edge case, §8 boundary behavior).
func (s *Store) DeleteByFolder(folderID string) error {
	_, err := s.db.Exec(`DELETE FROM messages WHERE folder_id=?`, folderID)
	return err
}

// DeleteOlderThan removes cached messages older than cutoff for an account,
// used when a per-account sync window shrinks.
func (s *Store) DeleteOlderThan(accountID string, cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM messages WHERE account_id=? AND date_utc < ?`, accountID, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// MoveMessage relocates a message to a different folder in the cache only
// (used by rule actions and local-only moves); it does not issue IMAP
// commands — callers responsible for online accounts must also move the
// message on the server.
func (s *Store) MoveMessage(localID, destFolderID string) error {
	res, err := s.db.Exec(`UPDATE messages SET folder_id=? WHERE local_id=?`, destFolderID, localID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMessage removes one message row entirely (rule action Delete).
func (s *Store) DeleteMessage(localID string) error {
	_, err := s.db.Exec(`DELETE FROM messages WHERE local_id=?`, localID)
	return err
}

// SearchMessages runs a full-text query scoped to one account, optionally
// narrowed to one folder, using the messages_fts virtual table.
func (s *Store) SearchMessages(accountID, folderID, query string, limit int) ([]*Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	q := `
		SELECT m.local_id, m.account_id, m.folder_id, m.uid, m.message_id, m.thread_id, m.in_reply_to,
			m.references_list, m.subject, m.from_name, m.from_email, m.to_list, m.cc_list, m.bcc_list,
			m.date_utc, m.body_plain, m.body_html, m.body_fetched, m.seen, m.flagged, m.deleted, m.draft,
			m.answered, m.size, m.has_attachments, m.snippet
		FROM messages m
		JOIN messages_fts fts ON fts.rowid = m.rowid
		WHERE messages_fts MATCH ? AND m.account_id = ?`
	args := []any{query, accountID}
	if folderID != "" {
		q += ` AND m.folder_id = ?`
		args = append(args, folderID)
	}
	q += ` ORDER BY m.date_utc DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullableStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
