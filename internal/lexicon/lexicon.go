// Package lexicon implements the full-text index over message subjects,
// senders and bodies.
package lexicon

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/wesm/msgdb/internal/textutil"
)

//go:embed schema.sql schema_fts.sql schema_plain.sql
var schemaFS embed.FS

// ErrUnavailable is returned when the lexicon database cannot be used.
var ErrUnavailable = errors.New("lexicon unavailable")

const defaultSQLiteParams = "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"

// Document is the text submitted for one message.
type Document struct {
	Subject string
	Sender  string
	Body    string
}

// Lexicon is a SQLite-backed text index keyed by gid.
type Lexicon struct {
	db     *sql.DB
	path   string
	fts5   bool
	dirty  bool
	logger *slog.Logger
}

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

// Open opens or creates the lexicon at path and initializes its schema.
func Open(path string) (*Lexicon, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create lexicon directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+defaultSQLiteParams)
	if err != nil {
		return nil, fmt.Errorf("open lexicon: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if _, err := db.Exec("PRAGMA wal_autocheckpoint=0"); err != nil {
		db.Close()
		return nil, fmt.Errorf("disable autocheckpoint: %w", err)
	}

	l := &Lexicon{db: db, path: path, logger: slog.Default()}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// WithLogger sets the logger for the lexicon.
func (l *Lexicon) WithLogger(logger *slog.Logger) *Lexicon {
	l.logger = logger
	return l
}

func (l *Lexicon) initSchema() error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("read schema.sql: %w", err)
	}
	if _, err := l.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("execute schema.sql: %w", err)
	}

	// FTS5 may not be available in all builds.
	fts, err := schemaFS.ReadFile("schema_fts.sql")
	if err != nil {
		return fmt.Errorf("read schema_fts.sql: %w", err)
	}
	if _, err := l.db.Exec(string(fts)); err != nil {
		if !isSQLiteError(err, "no such module: fts5") {
			return fmt.Errorf("init fts5 schema: %w", err)
		}
		l.logger.Warn("FTS5 not available, lexicon falls back to substring matching")
		plain, err := schemaFS.ReadFile("schema_plain.sql")
		if err != nil {
			return fmt.Errorf("read schema_plain.sql: %w", err)
		}
		if _, err := l.db.Exec(string(plain)); err != nil {
			return fmt.Errorf("execute schema_plain.sql: %w", err)
		}
		return nil
	}
	l.fts5 = true
	return nil
}

// Close closes the lexicon database.
func (l *Lexicon) Close() error {
	return l.db.Close()
}

// FTS5Available reports whether the lexicon uses SQLite FTS5.
func (l *Lexicon) FTS5Available() bool {
	return l.fts5
}

// Insert indexes doc under gid, replacing any previous entry. Spam
// messages get a reduced entry without their body.
func (l *Lexicon) Insert(gid uint32, doc Document, spam bool) error {
	subject := textutil.EnsureUTF8(doc.Subject)
	sender := textutil.EnsureUTF8(doc.Sender)
	body := ""
	if !spam {
		body = textutil.EnsureUTF8(doc.Body)
	}

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO lexicon_docs (gid, spam) VALUES (?, ?)
		ON CONFLICT(gid) DO UPDATE SET spam = excluded.spam
	`, gid, spam); err != nil {
		return fmt.Errorf("index %d: %w", gid, err)
	}

	if l.fts5 {
		if _, err := tx.Exec(`DELETE FROM lexicon_fts WHERE rowid = ?`, gid); err != nil {
			return fmt.Errorf("index %d: %w", gid, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO lexicon_fts (rowid, subject, sender, body) VALUES (?, ?, ?, ?)
		`, gid, subject, sender, body); err != nil {
			return fmt.Errorf("index %d: %w", gid, err)
		}
	} else {
		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO lexicon_plain (gid, subject, sender, body) VALUES (?, ?, ?, ?)
		`, gid, textutil.Fold(subject), textutil.Fold(sender), textutil.Fold(body)); err != nil {
			return fmt.Errorf("index %d: %w", gid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index %d: %w", gid, err)
	}
	l.dirty = true
	return nil
}

// Remove drops gid from the lexicon. Removing an unknown gid is a no-op.
func (l *Lexicon) Remove(gid uint32) error {
	table := "lexicon_plain WHERE gid = ?"
	if l.fts5 {
		table = "lexicon_fts WHERE rowid = ?"
	}
	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`DELETE FROM `+table, gid); err != nil {
		return fmt.Errorf("remove %d: %w", gid, err)
	}
	res, err := tx.Exec(`DELETE FROM lexicon_docs WHERE gid = ?`, gid)
	if err != nil {
		return fmt.Errorf("remove %d: %w", gid, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("remove %d: %w", gid, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		l.dirty = true
	}
	return nil
}

// Contains reports whether gid has an entry.
func (l *Lexicon) Contains(gid uint32) (bool, error) {
	var n int
	if err := l.db.QueryRow(`SELECT COUNT(*) FROM lexicon_docs WHERE gid = ?`, gid).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// IsSpam reports whether gid's entry was indexed as spam.
func (l *Lexicon) IsSpam(gid uint32) (bool, error) {
	var spam bool
	err := l.db.QueryRow(`SELECT spam FROM lexicon_docs WHERE gid = ?`, gid).Scan(&spam)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return spam, err
}

// Count returns the number of indexed messages.
func (l *Lexicon) Count() (int64, error) {
	var n int64
	err := l.db.QueryRow(`SELECT COUNT(*) FROM lexicon_docs`).Scan(&n)
	return n, err
}

// Commit checkpoints the lexicon's write-ahead log.
func (l *Lexicon) Commit() error {
	var busy, logFrames, checkpointed int
	if err := l.db.QueryRow("PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busy, &logFrames, &checkpointed); err != nil {
		return fmt.Errorf("checkpoint %s: %w", l.path, err)
	}
	if busy != 0 {
		return fmt.Errorf("checkpoint %s: busy (%d of %d frames)", l.path, checkpointed, logFrames)
	}
	l.dirty = false
	return nil
}

// FullyCommitted reports whether every change has been checkpointed.
func (l *Lexicon) FullyCommitted() bool {
	return !l.dirty
}
