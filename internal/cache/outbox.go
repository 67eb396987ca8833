package cache

import (
	"database/sql"
	"errors"
	"time"
)

const outboxSelectCols = `
	SELECT id, account_id, to_list, cc_list, bcc_list, from_address, subject, body, is_html,
		attachments, attempts, last_error, next_attempt_at, sending, created_at
	FROM outbox`

func scanOutboxRow(row rowScanner) (*OutboxItem, error) {
	var o OutboxItem
	var toList, ccList, bccList, attachments, lastError sql.NullString
	err := row.Scan(&o.ID, &o.AccountID, &toList, &ccList, &bccList, &o.From, &o.Subject, &o.Body,
		&o.IsHTML, &attachments, &o.Attempts, &lastError, &o.NextAttemptAt, &o.Sending, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	o.To = unmarshalList(toList.String)
	o.Cc = unmarshalList(ccList.String)
	o.Bcc = unmarshalList(bccList.String)
	o.Attachments = unmarshalList(attachments.String)
	o.LastError = lastError.String
	return &o, nil
}

// Enqueue inserts a new outbox item. Always succeeds and persists
// atomically (a single INSERT); the compose path calls this whenever
// offline is ON or an immediate send attempt fails transiently (§4.7).
func (s *Store) Enqueue(o *OutboxItem) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	if o.NextAttemptAt.IsZero() {
		o.NextAttemptAt = o.CreatedAt
	}
	_, err := s.db.Exec(`
		INSERT INTO outbox (id, account_id, to_list, cc_list, bcc_list, from_address, subject,
			body, is_html, attachments, attempts, last_error, next_attempt_at, sending, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.AccountID, marshalList(o.To), marshalList(o.Cc), marshalList(o.Bcc), o.From,
		o.Subject, o.Body, o.IsHTML, marshalList(o.Attachments), o.Attempts, nullableStr(o.LastError),
		o.NextAttemptAt, o.Sending, o.CreatedAt,
	)
	return err
}

// ListOutboxDue returns pending items for an account in FIFO order
// (created_at ascending) whose next_attempt_at has arrived and which are
// not already marked sending.
func (s *Store) ListOutboxDue(accountID string, now time.Time) ([]*OutboxItem, error) {
	rows, err := s.db.Query(outboxSelectCols+`
		WHERE account_id=? AND sending=0 AND next_attempt_at <= ?
		ORDER BY created_at ASC`, accountID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*OutboxItem
	for rows.Next() {
		o, err := scanOutboxRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CountOutbox returns the exact number of pending items for an account,
// exposed to the UI per §4.7's "counts are exact" invariant.
func (s *Store) CountOutbox(accountID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM outbox WHERE account_id=?`, accountID).Scan(&n)
	return n, err
}

// MarkSending flags an item as in-flight so a concurrent flush cannot pick
// it up twice (§4.7 "at most one in-flight send per account" combined with
// a single worker per account makes this belt-and-braces).
func (s *Store) MarkSending(id string, sending bool) error {
	_, err := s.db.Exec(`UPDATE outbox SET sending=? WHERE id=?`, sending, id)
	return err
}

// CompleteSend atomically removes an outbox item and writes the sent
// message into the Sent folder cache, satisfying §8 universal invariant 3:
// the two effects are never observed independently.
func (s *Store) CompleteSend(outboxID string, sentMessage *Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM outbox WHERE id=?`, outboxID); err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT INTO messages (local_id, account_id, folder_id, uid, message_id, thread_id,
			in_reply_to, references_list, subject, from_name, from_email, to_list, cc_list,
			bcc_list, date_utc, body_plain, body_html, body_fetched, seen, flagged, deleted,
			draft, answered, size, has_attachments, snippet)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,1,?,?,?,?,?,?,?,?)
		ON CONFLICT(account_id, folder_id, uid) DO NOTHING`,
		sentMessage.LocalID, sentMessage.AccountID, sentMessage.FolderID, sentMessage.UID,
		sentMessage.MessageID, nullableStr(sentMessage.ThreadID), nullableStr(sentMessage.InReplyTo),
		marshalList(sentMessage.References), sentMessage.Subject, sentMessage.FromName, sentMessage.FromEmail,
		marshalList(sentMessage.To), marshalList(sentMessage.Cc), marshalList(sentMessage.Bcc),
		sentMessage.DateUTC, sentMessage.BodyPlain, nullableStr(sentMessage.BodyHTML), sentMessage.BodyFetched,
		sentMessage.Flags.Flagged, sentMessage.Flags.Deleted, sentMessage.Flags.Draft, sentMessage.Flags.Answered,
		sentMessage.Size, sentMessage.HasAttachments, nullableStr(sentMessage.Snippet),
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// RecordFailure increments the attempt count and records the error. For a
// transient failure the caller supplies the next backoff deadline; for a
// permanent failure the caller passes a far-future/zero nextAttempt and is
// expected to stop processing the account afterward (§4.7, §7).
func (s *Store) RecordFailure(id, lastError string, nextAttempt time.Time) error {
	_, err := s.db.Exec(`
		UPDATE outbox SET attempts = attempts + 1, last_error = ?, next_attempt_at = ?, sending = 0
		WHERE id = ?`, lastError, nextAttempt, id)
	return err
}

// Cancel removes an outbox item that has not yet started sending. Returns
// ErrNotFound if the item is already sending or absent.
func (s *Store) Cancel(id string) error {
	res, err := s.db.Exec(`DELETE FROM outbox WHERE id=? AND sending=0`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
