// Package msgdb is the single mutation path for the message store, its
// indexes and the lexicon. It keeps the three consistent, debounces
// commits and fans change notifications out to listeners.
package msgdb

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/wesm/msgdb/internal/indexer"
	"github.com/wesm/msgdb/internal/lexicon"
	"github.com/wesm/msgdb/internal/loop"
	"github.com/wesm/msgdb/internal/notify"
	"github.com/wesm/msgdb/internal/store"
)

// AllMessages is the MessageChanged sentinel meaning every message may
// have changed.
const AllMessages uint32 = 0

// File names inside a database directory.
const (
	MessagesFile = "messages.db"
	IndexesFile  = "indexes.db"
	LexiconFile  = "lexicon.db"
)

// CommitListener is notified once per successful commit cycle.
type CommitListener interface {
	Committed()
}

// CommitFunc adapts a function to CommitListener.
type CommitFunc func()

// Committed calls f.
func (f CommitFunc) Committed() { f() }

// MessageListener observes per-message changes that do not alter index
// membership. gid is AllMessages after bulk changes.
type MessageListener interface {
	MessageChanged(gid uint32)
	MessageBodyChanged(gid uint32)
}

// RetryPolicy bounds commit retries.
type RetryPolicy struct {
	// MaxAttempts is the number of consecutive failed commits after which
	// the pipeline gives up until the next RequestCommit. 0 retries forever.
	MaxAttempts int
	// Delay between attempts; 0 uses the commit delay.
	Delay time.Duration
}

// Options configures a Database.
type Options struct {
	// CommitDelay is the debounce delay between the first RequestCommit and
	// the commit (default: 5s).
	CommitDelay time.Duration

	// Retry governs failed commits (default: retry forever).
	Retry RetryPolicy

	// LoadBlockSize is the number of rows read per startup loading step
	// (default: 500).
	LoadBlockSize int
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() *Options {
	return &Options{
		CommitDelay:   5 * time.Second,
		LoadBlockSize: 500,
	}
}

// Database coordinates the store, the indexer and the lexicon. All methods
// must be called from the goroutine driving the scheduler.
type Database struct {
	store  *store.Store
	ix     *indexer.Indexer
	sched  loop.Scheduler
	opts   *Options
	logger *slog.Logger

	group      CommitGroup
	companions []Committer

	pending     bool
	timer       loop.Timer
	attempts    int
	commitCount int
	lastErr     error

	batchDepth int

	commitListeners  notify.Registry[CommitListener]
	messageListeners notify.Registry[MessageListener]

	loading bool
	owned   bool
}

// Open opens the message store, index database and lexicon under dir,
// creating them if needed. Messages are not loaded; call LoadAll or
// StartLoading.
func Open(dir string, sched loop.Scheduler, opts *Options) (*Database, error) {
	st, err := store.Open(filepath.Join(dir, MessagesFile))
	if err != nil {
		return nil, err
	}
	st.WithClock(sched.Now)
	if err := st.InitSchema(); err != nil {
		st.Close()
		return nil, err
	}
	ix, err := indexer.Open(filepath.Join(dir, IndexesFile), filepath.Join(dir, LexiconFile), st)
	if err != nil {
		st.Close()
		return nil, err
	}
	db := New(st, ix, sched, opts)
	db.owned = true
	return db, nil
}

// New creates a Database over an already opened store and indexer. The
// store leads the commit group; the indexer and its lexicon join it.
func New(st *store.Store, ix *indexer.Indexer, sched loop.Scheduler, opts *Options) *Database {
	if opts == nil {
		opts = DefaultOptions()
	}
	db := &Database{
		store:  st,
		ix:     ix,
		sched:  sched,
		opts:   opts,
		logger: slog.Default(),
	}
	db.group.Join(st)
	db.group.Join(ix)
	db.group.Join(ix.Lexicon())
	return db
}

// WithLogger sets the logger for the database and the components it
// coordinates.
func (db *Database) WithLogger(logger *slog.Logger) *Database {
	db.logger = logger
	db.store.WithLogger(logger)
	db.ix.WithLogger(logger)
	return db
}

// Close flushes a pending commit and, when the database opened them,
// closes the underlying files.
func (db *Database) Close() error {
	var flushErr error
	if db.pending {
		flushErr = db.Flush()
	}
	if db.timer != nil {
		db.timer.Stop()
		db.timer = nil
	}
	if !db.owned {
		return flushErr
	}
	ixErr := db.ix.Close()
	if err := db.store.Close(); err != nil {
		return err
	}
	if ixErr != nil {
		return ixErr
	}
	return flushErr
}

// Store returns the message store.
func (db *Database) Store() *store.Store { return db.store }

// Indexer returns the indexer.
func (db *Database) Indexer() *indexer.Indexer { return db.ix }

// Lexicon returns the full-text index.
func (db *Database) Lexicon() *lexicon.Lexicon { return db.ix.Lexicon() }

// Scheduler returns the scheduler the database runs on.
func (db *Database) Scheduler() loop.Scheduler { return db.sched }

// Get returns the metadata of a live message.
func (db *Database) Get(gid uint32) (store.Message, error) {
	return db.store.Get(gid)
}

// GetBody returns the raw body of a message.
func (db *Database) GetBody(gid uint32) ([]byte, error) {
	return db.store.GetBody(gid)
}

// DupChain returns gid's duplicate chain, head first.
func (db *Database) DupChain(gid uint32) []uint32 {
	return db.store.DupChain(gid)
}

// HasFinishedLoading reports whether every stored message is cached.
func (db *Database) HasFinishedLoading() bool {
	return db.store.HasFinishedLoading()
}

// Index returns the index with the given id.
func (db *Database) Index(id uint32) (*indexer.Index, error) {
	return db.ix.Index(id)
}

// AddIndexListener registers l for index membership changes.
func (db *Database) AddIndexListener(l indexer.Listener) *notify.Subscription {
	return db.ix.AddListener(l)
}

// AddMessageListener registers l for per-message changes.
func (db *Database) AddMessageListener(l MessageListener) *notify.Subscription {
	return db.messageListeners.Add(l)
}

// AddCommitListener registers l to be told about successful commits.
func (db *Database) AddCommitListener(l CommitListener) *notify.Subscription {
	return db.commitListeners.Add(l)
}

func (db *Database) emitChanged(gid uint32) {
	if db.batchDepth > 0 {
		return
	}
	db.messageListeners.Each(func(l MessageListener) { l.MessageChanged(gid) })
}

func (db *Database) emitBodyChanged(gid uint32) {
	if db.batchDepth > 0 {
		return
	}
	db.messageListeners.Each(func(l MessageListener) { l.MessageBodyChanged(gid) })
}

// Stats summarizes the database.
type Stats struct {
	Store         *store.Stats
	Indexes       indexer.Stats
	LexiconCount  int64
	FTS5          bool
	CommitPending bool
	Commits       int
}

// GetStats returns database statistics.
func (db *Database) GetStats() (*Stats, error) {
	st, err := db.store.GetStats()
	if err != nil {
		return nil, fmt.Errorf("store stats: %w", err)
	}
	n, err := db.Lexicon().Count()
	if err != nil {
		return nil, fmt.Errorf("lexicon stats: %w", err)
	}
	return &Stats{
		Store:         st,
		Indexes:       db.ix.GetStats(),
		LexiconCount:  n,
		FTS5:          db.Lexicon().FTS5Available(),
		CommitPending: db.pending,
		Commits:       db.commitCount,
	}, nil
}
