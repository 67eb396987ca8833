package cache

import (
	"database/sql"
	"errors"
	"fmt"
)

const folderSelectCols = `
	SELECT id, account_id, name, path, type, unread_count, total_count,
		uid_validity, uid_next, highest_uid_seen, highest_mod_seq, last_sync
	FROM folders`

func scanFolder(row rowScanner) (*Folder, error) {
	var f Folder
	var typ string
	var lastSync sql.NullTime
	err := row.Scan(&f.ID, &f.AccountID, &f.Name, &f.Path, &typ, &f.UnreadCount, &f.TotalCount,
		&f.UIDValidity, &f.UIDNext, &f.HighestUIDSeen, &f.HighestModSeq, &lastSync)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	f.Type = FolderType(typ)
	f.LastSync = timePtr(lastSync)
	return &f, nil
}

// UpsertFolder inserts a folder or, if (account_id, path) already exists,
// updates its mutable fields — the bulk-upsert contract required for sync.
func (s *Store) UpsertFolder(f *Folder) error {
	_, err := s.db.Exec(`
		INSERT INTO folders (id, account_id, name, path, type, unread_count, total_count,
			uid_validity, uid_next, highest_uid_seen, highest_mod_seq, last_sync)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(account_id, path) DO UPDATE SET
			name=excluded.name, type=excluded.type, unread_count=excluded.unread_count,
			total_count=excluded.total_count, uid_validity=excluded.uid_validity,
			uid_next=excluded.uid_next, highest_uid_seen=excluded.highest_uid_seen,
			highest_mod_seq=excluded.highest_mod_seq, last_sync=excluded.last_sync`,
		f.ID, f.AccountID, f.Name, f.Path, string(f.Type), f.UnreadCount, f.TotalCount,
		f.UIDValidity, f.UIDNext, f.HighestUIDSeen, f.HighestModSeq, nullTime(f.LastSync),
	)
	if err != nil {
		return fmt.Errorf("cache: upsert folder: %w", err)
	}
	return nil
}

// GetFolder fetches a folder by its local id.
func (s *Store) GetFolder(id string) (*Folder, error) {
	return scanFolder(s.db.QueryRow(folderSelectCols+` WHERE id = ?`, id))
}

// GetFolderByPath fetches a folder by its account-scoped IMAP path.
func (s *Store) GetFolderByPath(accountID, path string) (*Folder, error) {
	return scanFolder(s.db.QueryRow(folderSelectCols+` WHERE account_id = ? AND path = ?`, accountID, path))
}

// ListFolders returns every folder belonging to accountID.
func (s *Store) ListFolders(accountID string) ([]*Folder, error) {
	rows, err := s.db.Query(folderSelectCols+` WHERE account_id = ? ORDER BY path ASC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpdateFolder persists folder sync-state and count changes for an existing row.
func (s *Store) UpdateFolder(f *Folder) error {
	res, err := s.db.Exec(`
		UPDATE folders SET name=?, type=?, unread_count=?, total_count=?, uid_validity=?,
			uid_next=?, highest_uid_seen=?, highest_mod_seq=?, last_sync=?
		WHERE id=?`,
		f.Name, string(f.Type), f.UnreadCount, f.TotalCount, f.UIDValidity,
		f.UIDNext, f.HighestUIDSeen, f.HighestModSeq, nullTime(f.LastSync), f.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteFolder removes a folder and, via ON DELETE CASCADE, its messages.
func (s *Store) DeleteFolder(id string) error {
	_, err := s.db.Exec(`DELETE FROM folders WHERE id = ?`, id)
	return err
}
