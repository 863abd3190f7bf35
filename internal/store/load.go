package store

import (
	"fmt"
)

// ReadBlock loads up to count messages with gid >= start into the metadata
// cache. It returns the position to continue from, or 0 once the whole
// store has been read.
func (s *Store) ReadBlock(start uint32, count int) (uint32, error) {
	if count <= 0 {
		return 0, fmt.Errorf("read block: invalid count %d", count)
	}
	if s.loaded {
		return 0, nil
	}

	rows, err := s.db.Query(`SELECT `+messageColumns+`
		FROM messages WHERE gid >= ? ORDER BY gid LIMIT ?`, start, count)
	if err != nil {
		return 0, fmt.Errorf("read block at %d: %w", start, err)
	}
	defer rows.Close()

	n := 0
	var last uint32
	for rows.Next() {
		m, removed, err := scanMessage(rows)
		if err != nil {
			return 0, fmt.Errorf("scan message: %w", err)
		}
		s.cacheMessage(m, removed)
		last = m.GID
		n++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("read block at %d: %w", start, err)
	}

	if n < count {
		s.loaded = true
		s.logger.Debug("message store loaded", "messages", len(s.cache))
		return 0, nil
	}
	return last + 1, nil
}

// LoadAll reads the whole store into the cache in blocks of blockSize.
func (s *Store) LoadAll(blockSize int) error {
	pos := uint32(1)
	for {
		next, err := s.ReadBlock(pos, blockSize)
		if err != nil {
			return err
		}
		if next == 0 {
			return nil
		}
		pos = next
	}
}

// HasFinishedLoading reports whether the metadata cache holds every
// stored message.
func (s *Store) HasFinishedLoading() bool {
	return s.loaded
}
