package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// PutBlob writes content-addressed bytes under the blob directory, keyed by
// their SHA-256 hash, and returns the hex digest. Writing the same bytes
// twice is a no-op beyond the hash computation: two messages sharing
// identical attachment bytes share storage.
func (s *Store) PutBlob(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	path := s.blobPath(hash)

	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("cache: create blob shard dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("cache: write blob: %w", err)
	}
	return hash, nil
}

// GetBlob reads back bytes previously stored by PutBlob.
func (s *Store) GetBlob(hash string) ([]byte, error) {
	return os.ReadFile(s.blobPath(hash))
}

// blobPath shards blobs two hex characters deep to avoid one directory
// holding an unbounded number of entries.
func (s *Store) blobPath(hash string) string {
	if len(hash) < 2 {
		return filepath.Join(s.db.BlobDir(), hash)
	}
	return filepath.Join(s.db.BlobDir(), hash[:2], hash)
}

// CompactBlob removes a blob file if no attachment row still references it.
// Nothing in the engine calls it automatically: deleting an account removes
// rows but leaves blob files in place, and this function takes no lock of
// its own.
func (s *Store) CompactBlob(hash string) error {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM attachments WHERE bytes_ref = ?`, hash).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	err := os.Remove(s.blobPath(hash))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// CreateAttachment inserts an attachment row referencing an already-stored
// blob.
func (s *Store) CreateAttachment(a *Attachment) error {
	_, err := s.db.Exec(`
		INSERT INTO attachments (local_id, message_local_id, filename, mime, size, content_id, bytes_ref)
		VALUES (?,?,?,?,?,?,?)`,
		a.LocalID, a.MessageLocalID, a.Filename, a.MIME, a.Size, nullableStr(a.ContentID), a.BytesRef)
	return err
}

// ListAttachments returns every attachment of one message.
func (s *Store) ListAttachments(messageLocalID string) ([]*Attachment, error) {
	rows, err := s.db.Query(`
		SELECT local_id, message_local_id, filename, mime, size, content_id, bytes_ref
		FROM attachments WHERE message_local_id = ?`, messageLocalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Attachment
	for rows.Next() {
		var a Attachment
		var contentID sql.NullString
		if err := rows.Scan(&a.LocalID, &a.MessageLocalID, &a.Filename, &a.MIME, &a.Size, &contentID, &a.BytesRef); err != nil {
			return nil, err
		}
		a.ContentID = contentID.String
		out = append(out, &a)
	}
	return out, rows.Err()
}

// BlobReferencesForAccount returns every distinct blob hash referenced by
// accountID's messages, including hashes that other accounts' attachments
// also reference. The lookup joins through messages, so it returns nothing
// once the account's messages have been deleted.
func (s *Store) BlobReferencesForAccount(accountID string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT a.bytes_ref FROM attachments a
		JOIN messages m ON m.local_id = a.message_local_id
		WHERE m.account_id = ?`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
