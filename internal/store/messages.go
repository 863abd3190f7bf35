package store

import (
	"bytes"
	"compress/zlib"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"time"
)

// Message is the metadata record for one stored message.
type Message struct {
	GID             uint32
	AccountID       int64
	SourceID        string // identity within the account, e.g. a path or UID
	MessageIDHeader string
	InReplyTo       string
	ParentID        uint32
	FolderID        uint32 // index the message was filed into; 0 means the inbox
	Flags           Flags
	HasBody         bool
	Size            int64
	Date            time.Time
	ReceivedAt      time.Time
	Subject         string
	Sender          string
	DupNext         uint32

	// Body is the raw message supplied to Add. Reads never populate it.
	Body []byte
}

const messageColumns = `gid, account_id, source_id, message_id_header, in_reply_to,
	parent_id, folder_id, flags, has_body, size, date, received_at,
	subject, sender, dup_next, removed`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(r rowScanner) (Message, bool, error) {
	var (
		m                   Message
		gid, parent, folder int64
		dupNext, flags      int64
		date, received      int64
		hasBody, removed    bool
	)
	err := r.Scan(&gid, &m.AccountID, &m.SourceID, &m.MessageIDHeader, &m.InReplyTo,
		&parent, &folder, &flags, &hasBody, &m.Size, &date, &received,
		&m.Subject, &m.Sender, &dupNext, &removed)
	if err != nil {
		return Message{}, false, err
	}
	m.GID = uint32(gid)
	m.ParentID = uint32(parent)
	m.FolderID = uint32(folder)
	m.Flags = Flags(flags)
	m.HasBody = hasBody
	m.Date = fromUnix(date)
	m.ReceivedAt = fromUnix(received)
	m.DupNext = uint32(dupNext)
	return m, removed, nil
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// compress compresses raw MIME data with zlib.
func compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close compressor: %w", err)
	}
	return buf.Bytes(), nil
}

func upsertBody(tx *sql.Tx, gid uint32, raw []byte) error {
	compressed, err := compress(raw)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO message_bodies (gid, raw_data, compression)
		VALUES (?, ?, 'zlib')
		ON CONFLICT(gid) DO UPDATE SET
			raw_data = excluded.raw_data,
			compression = excluded.compression
	`, gid, compressed)
	if err != nil {
		return fmt.Errorf("store body: %w", err)
	}
	return nil
}

// Lookup returns the gid stored under the given account and source identity.
func (s *Store) Lookup(accountID int64, sourceID string) (uint32, bool, error) {
	var gid int64
	err := s.db.QueryRow(`
		SELECT gid FROM messages WHERE account_id = ? AND source_id = ?
	`, accountID, sourceID).Scan(&gid)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uint32(gid), true, nil
}

// FindByMessageID returns the lowest live gid carrying the given
// Message-ID header.
func (s *Store) FindByMessageID(header string) (uint32, bool, error) {
	if header == "" {
		return 0, false, nil
	}
	var gid int64
	err := s.db.QueryRow(`
		SELECT gid FROM messages
		WHERE message_id_header = ? AND removed = 0
		ORDER BY gid LIMIT 1
	`, header).Scan(&gid)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uint32(gid), true, nil
}

// Add stores a message and returns its gid. A message whose account and
// source identity already exist replaces the stored one under the same gid;
// ReceivedAt is reset either way. New messages are appended to the
// duplicate chain of any message sharing their Message-ID header, and
// ParentID is resolved from InReplyTo when not supplied.
func (s *Store) Add(m *Message) (uint32, error) {
	if m.SourceID == "" {
		return 0, fmt.Errorf("add message: empty source id")
	}
	now := s.now().UTC().Truncate(time.Second)

	if m.ParentID == 0 && m.InReplyTo != "" {
		parent, ok, err := s.FindByMessageID(m.InReplyTo)
		if err != nil {
			return 0, fmt.Errorf("resolve parent: %w", err)
		}
		if ok {
			m.ParentID = parent
		}
	}

	size := m.Size
	if size == 0 && m.Body != nil {
		size = int64(len(m.Body))
	}
	hasBody := m.Body != nil

	var gid uint32
	var tail uint32
	err := s.withTx(func(tx *sql.Tx) error {
		var existing int64
		err := tx.QueryRow(`
			SELECT gid FROM messages WHERE account_id = ? AND source_id = ?
		`, m.AccountID, m.SourceID).Scan(&existing)
		switch {
		case err == nil:
			gid = uint32(existing)
			_, err = tx.Exec(`
				UPDATE messages SET
					message_id_header = ?, in_reply_to = ?, parent_id = ?,
					folder_id = ?, flags = ?, has_body = MAX(has_body, ?),
					size = ?, date = ?, received_at = ?, subject = ?,
					sender = ?, removed = 0
				WHERE gid = ?
			`, m.MessageIDHeader, m.InReplyTo, m.ParentID,
				m.FolderID, m.Flags, hasBody,
				size, toUnix(m.Date), now.Unix(), m.Subject,
				m.Sender, gid)
			if err != nil {
				return fmt.Errorf("replace message: %w", err)
			}
		case errors.Is(err, sql.ErrNoRows):
			res, err := tx.Exec(`
				INSERT INTO messages (
					account_id, source_id, message_id_header, in_reply_to,
					parent_id, folder_id, flags, has_body, size, date,
					received_at, subject, sender
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, m.AccountID, m.SourceID, m.MessageIDHeader, m.InReplyTo,
				m.ParentID, m.FolderID, m.Flags, hasBody, size, toUnix(m.Date),
				now.Unix(), m.Subject, m.Sender)
			if err != nil {
				return fmt.Errorf("insert message: %w", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			if id <= 0 || id > math.MaxUint32 {
				return fmt.Errorf("gid %d out of range", id)
			}
			gid = uint32(id)

			if m.MessageIDHeader != "" {
				var t int64
				err := tx.QueryRow(`
					SELECT gid FROM messages
					WHERE message_id_header = ? AND gid != ? AND dup_next = 0
					ORDER BY gid DESC LIMIT 1
				`, m.MessageIDHeader, gid).Scan(&t)
				switch {
				case err == nil:
					tail = uint32(t)
					if _, err := tx.Exec(`UPDATE messages SET dup_next = ? WHERE gid = ?`, gid, tail); err != nil {
						return fmt.Errorf("link duplicate: %w", err)
					}
				case !errors.Is(err, sql.ErrNoRows):
					return fmt.Errorf("find duplicate: %w", err)
				}
			}
		default:
			return fmt.Errorf("lookup message: %w", err)
		}

		if m.Body != nil {
			return upsertBody(tx, gid, m.Body)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	m.GID = gid
	m.ReceivedAt = now
	s.touch()
	if err := s.refresh(gid); err != nil {
		return 0, err
	}
	if tail != 0 {
		if err := s.refresh(tail); err != nil {
			return 0, err
		}
	}
	return gid, nil
}

// LinkReplies points stored messages that reply to gid's Message-ID but
// had no resolved parent at gid. It returns the gids that changed.
func (s *Store) LinkReplies(gid uint32) ([]uint32, error) {
	c, ok := s.cache[gid]
	if !ok || c.removed || c.msg.MessageIDHeader == "" {
		return nil, nil
	}
	var linked []uint32
	rows, err := s.db.Query(`
		SELECT gid FROM messages
		WHERE in_reply_to = ? AND parent_id = 0 AND gid != ? AND removed = 0
	`, c.msg.MessageIDHeader, gid)
	if err != nil {
		return nil, fmt.Errorf("find replies: %w", err)
	}
	for rows.Next() {
		var child int64
		if err := rows.Scan(&child); err != nil {
			rows.Close()
			return nil, err
		}
		linked = append(linked, uint32(child))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, child := range linked {
		if _, err := s.db.Exec(`UPDATE messages SET parent_id = ? WHERE gid = ?`, gid, child); err != nil {
			return nil, fmt.Errorf("link reply %d: %w", child, err)
		}
		s.touch()
		if err := s.refresh(child); err != nil {
			return nil, err
		}
	}
	return linked, nil
}

// refresh reloads gid's row into the metadata cache.
func (s *Store) refresh(gid uint32) error {
	row := s.db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE gid = ?`, gid)
	m, removed, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		delete(s.cache, gid)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reload message %d: %w", gid, err)
	}
	s.cacheMessage(m, removed)
	return nil
}

func (s *Store) cacheMessage(m Message, removed bool) {
	s.cache[m.GID] = &cachedMessage{msg: m, removed: removed}
	if m.DupNext != 0 {
		s.prev[m.DupNext] = m.GID
	}
}

// Get returns the metadata for gid from the in-memory cache.
func (s *Store) Get(gid uint32) (Message, error) {
	c, ok := s.cache[gid]
	if !ok {
		if !s.loaded {
			return Message{}, ErrNotLoaded
		}
		return Message{}, ErrNotFound
	}
	if c.removed {
		return Message{}, ErrNotFound
	}
	return c.msg, nil
}

// UpdateMetadata rewrites the mutable metadata of a stored message.
func (s *Store) UpdateMetadata(m Message) error {
	res, err := s.db.Exec(`
		UPDATE messages SET
			parent_id = ?, folder_id = ?, flags = ?, size = ?,
			date = ?, subject = ?, sender = ?, in_reply_to = ?
		WHERE gid = ? AND removed = 0
	`, m.ParentID, m.FolderID, m.Flags, m.Size,
		toUnix(m.Date), m.Subject, m.Sender, m.InReplyTo, m.GID)
	if err != nil {
		return fmt.Errorf("update message %d: %w", m.GID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.touch()
	return s.refresh(m.GID)
}

// SetRawBody stores or replaces the raw body of gid.
func (s *Store) SetRawBody(gid uint32, raw []byte) error {
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE messages SET has_body = 1, size = ? WHERE gid = ? AND removed = 0
		`, len(raw), gid)
		if err != nil {
			return fmt.Errorf("update message %d: %w", gid, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return upsertBody(tx, gid, raw)
	})
	if err != nil {
		return err
	}
	s.touch()
	return s.refresh(gid)
}

// GetBody retrieves and decompresses the raw body of gid.
func (s *Store) GetBody(gid uint32) ([]byte, error) {
	var removed bool
	var compressed []byte
	var compression sql.NullString

	err := s.db.QueryRow(`
		SELECT m.removed, b.raw_data, b.compression
		FROM messages m LEFT JOIN message_bodies b ON b.gid = m.gid
		WHERE m.gid = ?
	`, gid).Scan(&removed, &compressed, &compression)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get body %d: %w", gid, err)
	}
	if removed {
		return nil, ErrNotFound
	}
	if compressed == nil {
		return nil, ErrNoBody
	}

	if compression.Valid && compression.String == "zlib" {
		r, err := zlib.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, fmt.Errorf("zlib reader: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	}
	return compressed, nil
}

// MarkRemoved soft-removes gid. Marking an unknown or already removed gid
// is a no-op.
func (s *Store) MarkRemoved(gid uint32) error {
	res, err := s.db.Exec(`UPDATE messages SET removed = 1 WHERE gid = ? AND removed = 0`, gid)
	if err != nil {
		return fmt.Errorf("mark removed %d: %w", gid, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	s.touch()
	if c, ok := s.cache[gid]; ok {
		c.removed = true
	}
	return nil
}

// Remove hard-deletes gid and its body, unlinking it from its duplicate
// chain.
func (s *Store) Remove(gid uint32) error {
	var next, prev int64
	hasPrev := false
	err := s.withTx(func(tx *sql.Tx) error {
		err := tx.QueryRow(`SELECT dup_next FROM messages WHERE gid = ?`, gid).Scan(&next)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lookup message %d: %w", gid, err)
		}
		err = tx.QueryRow(`SELECT gid FROM messages WHERE dup_next = ?`, gid).Scan(&prev)
		switch {
		case err == nil:
			hasPrev = true
			if _, err := tx.Exec(`UPDATE messages SET dup_next = ? WHERE gid = ?`, next, prev); err != nil {
				return fmt.Errorf("unlink duplicate: %w", err)
			}
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("find duplicate predecessor: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM message_bodies WHERE gid = ?`, gid); err != nil {
			return fmt.Errorf("delete body: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM messages WHERE gid = ?`, gid); err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.touch()
	delete(s.cache, gid)
	delete(s.prev, gid)
	if next != 0 {
		delete(s.prev, uint32(next))
	}
	if hasPrev {
		if err := s.refresh(uint32(prev)); err != nil {
			return err
		}
	}
	return nil
}

// SetFlag sets or clears a flag on gid.
func (s *Store) SetFlag(gid uint32, f Flags, on bool) error {
	query := `UPDATE messages SET flags = flags | ? WHERE gid = ? AND removed = 0`
	if !on {
		query = `UPDATE messages SET flags = flags & ~? WHERE gid = ? AND removed = 0`
	}
	res, err := s.db.Exec(query, f, gid)
	if err != nil {
		return fmt.Errorf("set flag on %d: %w", gid, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.touch()
	return s.refresh(gid)
}

// GetFlag reports whether f is set on gid.
func (s *Store) GetFlag(gid uint32, f Flags) (bool, error) {
	m, err := s.Get(gid)
	if err != nil {
		return false, err
	}
	return m.Flags.Has(f), nil
}

// DupChain returns the duplicate chain containing gid in chain order. A
// message without duplicates yields a single-element chain.
func (s *Store) DupChain(gid uint32) []uint32 {
	if !s.loaded {
		chain, err := s.queryChain(gid)
		if err != nil {
			s.logger.Warn("duplicate chain lookup failed", "gid", gid, "error", err)
			return []uint32{gid}
		}
		return chain
	}

	head := gid
	seen := map[uint32]bool{gid: true}
	for {
		p, ok := s.prev[head]
		if !ok || seen[p] {
			break
		}
		seen[p] = true
		head = p
	}

	var chain []uint32
	visited := make(map[uint32]bool)
	for g := head; g != 0 && !visited[g]; {
		visited[g] = true
		chain = append(chain, g)
		c, ok := s.cache[g]
		if !ok {
			break
		}
		g = c.msg.DupNext
	}
	if len(chain) == 0 {
		return []uint32{gid}
	}
	return chain
}

func (s *Store) queryChain(gid uint32) ([]uint32, error) {
	var header string
	err := s.db.QueryRow(`SELECT message_id_header FROM messages WHERE gid = ?`, gid).Scan(&header)
	if errors.Is(err, sql.ErrNoRows) || header == "" {
		return []uint32{gid}, nil
	}
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`SELECT gid FROM messages WHERE message_id_header = ? ORDER BY gid`, header)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var chain []uint32
	for rows.Next() {
		var g int64
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		chain = append(chain, uint32(g))
	}
	return chain, rows.Err()
}

// Removed returns the gids marked removed but not yet deleted.
func (s *Store) Removed() ([]uint32, error) {
	rows, err := s.db.Query(`SELECT gid FROM messages WHERE removed != 0 ORDER BY gid`)
	if err != nil {
		return nil, fmt.Errorf("list removed: %w", err)
	}
	defer rows.Close()
	var gids []uint32
	for rows.Next() {
		var g int64
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		gids = append(gids, uint32(g))
	}
	return gids, rows.Err()
}

// All calls fn for every live cached message in gid order until fn
// returns false.
func (s *Store) All(fn func(Message) bool) {
	gids := make([]uint32, 0, len(s.cache))
	for gid, c := range s.cache {
		if !c.removed {
			gids = append(gids, gid)
		}
	}
	slices.Sort(gids)
	for _, gid := range gids {
		c, ok := s.cache[gid]
		if !ok || c.removed {
			continue
		}
		if !fn(c.msg) {
			return
		}
	}
}
