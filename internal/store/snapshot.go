package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// Snapshot is one message row and its body exactly as they are on disk.
type Snapshot struct {
	Message Message
	Removed bool

	body        []byte // compressed; nil when there is no body row
	compression sql.NullString
}

// HasBodyRow reports whether a body was stored when the snapshot was taken.
func (s Snapshot) HasBodyRow() bool { return s.body != nil }

// Snapshot reads gid from the database, bypassing the metadata cache, so it
// works for soft-removed rows and while the store is still loading.
func (s *Store) Snapshot(gid uint32) (Snapshot, error) {
	var snap Snapshot
	row := s.db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE gid = ?`, gid)
	m, removed, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, ErrNotFound
	}
	if err != nil {
		return snap, fmt.Errorf("snapshot message %d: %w", gid, err)
	}
	snap.Message = m
	snap.Removed = removed

	err = s.db.QueryRow(`
		SELECT raw_data, compression FROM message_bodies WHERE gid = ?
	`, gid).Scan(&snap.body, &snap.compression)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return snap, fmt.Errorf("snapshot body %d: %w", gid, err)
	}
	return snap, nil
}

// Restore writes snap back over its row: every column, the removed mark,
// and the body row, which is deleted when the snapshot had none.
func (s *Store) Restore(snap Snapshot) error {
	m := snap.Message
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE messages SET
				account_id = ?, source_id = ?, message_id_header = ?,
				in_reply_to = ?, parent_id = ?, folder_id = ?, flags = ?,
				has_body = ?, size = ?, date = ?, received_at = ?,
				subject = ?, sender = ?, dup_next = ?, removed = ?
			WHERE gid = ?
		`, m.AccountID, m.SourceID, m.MessageIDHeader,
			m.InReplyTo, m.ParentID, m.FolderID, m.Flags,
			m.HasBody, m.Size, toUnix(m.Date), toUnix(m.ReceivedAt),
			m.Subject, m.Sender, m.DupNext, snap.Removed, m.GID)
		if err != nil {
			return fmt.Errorf("restore message %d: %w", m.GID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}

		if snap.body == nil {
			_, err = tx.Exec(`DELETE FROM message_bodies WHERE gid = ?`, m.GID)
		} else {
			_, err = tx.Exec(`
				INSERT INTO message_bodies (gid, raw_data, compression)
				VALUES (?, ?, ?)
				ON CONFLICT(gid) DO UPDATE SET
					raw_data = excluded.raw_data,
					compression = excluded.compression
			`, m.GID, snap.body, snap.compression)
		}
		if err != nil {
			return fmt.Errorf("restore body %d: %w", m.GID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.touch()
	return s.refresh(m.GID)
}
