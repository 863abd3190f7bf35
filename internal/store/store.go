// Package store provides the message store: durable per-message metadata
// and raw bodies keyed by gid, backed by SQLite.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaFS embed.FS

var (
	// ErrNotFound is returned for gids that were never stored or have been
	// removed.
	ErrNotFound = errors.New("message not found")
	// ErrNotLoaded is returned for cache misses while the store is still
	// loading. Callers should treat the message as still loading.
	ErrNotLoaded = errors.New("message store still loading")
	// ErrNoBody is returned by GetBody for messages whose body is absent.
	ErrNoBody = errors.New("message body not available")
	// ErrCheckpointBusy is returned by Commit when the WAL could not be
	// fully checkpointed because of concurrent readers.
	ErrCheckpointBusy = errors.New("wal checkpoint incomplete")
)

// Store provides database operations for message metadata and bodies.
// Mutations are written through to SQLite immediately; Commit checkpoints
// the write-ahead log into the main database file.
type Store struct {
	db     *sql.DB
	dbPath string
	logger *slog.Logger
	now    func() time.Time

	cache  map[uint32]*cachedMessage
	prev   map[uint32]uint32 // duplicate chain predecessor
	loaded bool
	dirty  bool
}

type cachedMessage struct {
	msg     Message
	removed bool
}

const defaultSQLiteParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON&_synchronous=NORMAL"

// isSQLiteError checks if err is a sqlite3.Error with a message containing substr.
// Handles both value (sqlite3.Error) and pointer (*sqlite3.Error) forms.
func isSQLiteError(err error, substr string) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return strings.Contains(sqliteErr.Error(), substr)
	}
	var sqliteErrPtr *sqlite3.Error
	if errors.As(err, &sqliteErrPtr) && sqliteErrPtr != nil {
		return strings.Contains(sqliteErrPtr.Error(), substr)
	}
	return false
}

// Open opens or creates the message database at the given path.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+defaultSQLiteParams)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Pragmas are per connection, so keep exactly one.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	// Only Commit moves pages out of the log.
	if _, err := db.Exec("PRAGMA wal_autocheckpoint=0"); err != nil {
		db.Close()
		return nil, fmt.Errorf("disable autocheckpoint: %w", err)
	}

	return &Store{
		db:     db,
		dbPath: dbPath,
		logger: slog.Default(),
		now:    time.Now,
		cache:  make(map[uint32]*cachedMessage),
		prev:   make(map[uint32]uint32),
	}, nil
}

// WithLogger sets the logger for the store.
func (s *Store) WithLogger(logger *slog.Logger) *Store {
	s.logger = logger
	return s
}

// WithClock overrides the time source used to stamp ReceivedAt.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// withTx executes fn within a database transaction. If fn returns an error,
// the transaction is rolled back; otherwise it is committed.
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// InitSchema initializes the database schema.
// This creates all tables if they don't exist.
func (s *Store) InitSchema() error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("read schema.sql: %w", err)
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("execute schema.sql: %w", err)
	}
	return nil
}

// Commit checkpoints the write-ahead log into the database file. The store
// reports itself committed only once a checkpoint completes with every
// frame transferred.
func (s *Store) Commit() error {
	var busy, logFrames, checkpointed int
	err := s.db.QueryRow("PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busy, &logFrames, &checkpointed)
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", s.dbPath, err)
	}
	if busy != 0 {
		return fmt.Errorf("checkpoint %s: %w (%d of %d frames)", s.dbPath, ErrCheckpointBusy, checkpointed, logFrames)
	}
	s.dirty = false
	return nil
}

// FullyCommitted reports whether every mutation has been checkpointed.
func (s *Store) FullyCommitted() bool {
	return !s.dirty
}

func (s *Store) touch() {
	s.dirty = true
}

// Stats holds database statistics.
type Stats struct {
	MessageCount   int64
	RemovedCount   int64
	BodyCount      int64
	DuplicateCount int64
	CachedCount    int64
	Loaded         bool
	DatabaseSize   int64
}

// GetStats returns statistics about the database.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{
		CachedCount: int64(len(s.cache)),
		Loaded:      s.loaded,
	}

	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM messages WHERE removed = 0", &stats.MessageCount},
		{"SELECT COUNT(*) FROM messages WHERE removed != 0", &stats.RemovedCount},
		{"SELECT COUNT(*) FROM message_bodies", &stats.BodyCount},
		{"SELECT COUNT(*) FROM messages WHERE dup_next != 0", &stats.DuplicateCount},
	}

	for _, q := range queries {
		if err := s.db.QueryRow(q.query).Scan(q.dest); err != nil {
			if isSQLiteError(err, "no such table") {
				continue
			}
			return nil, fmt.Errorf("get stats %q: %w", q.query, err)
		}
	}

	if info, err := os.Stat(s.dbPath); err == nil {
		stats.DatabaseSize = info.Size()
	}

	return stats, nil
}
