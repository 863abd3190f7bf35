package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/wesm/msgdb/internal/indexer"
	"github.com/wesm/msgdb/internal/loop"
	"github.com/wesm/msgdb/internal/msgdb"
	"github.com/wesm/msgdb/internal/store"
)

// Epoch is the virtual clock start used by engine tests.
var Epoch = time.Date(2024, 6, 14, 10, 0, 0, 0, time.UTC)

// NewTestStore creates a temporary, fully loaded message store.
// The database is automatically cleaned up when the test completes.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "messages.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	if err := st.InitSchema(); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	if err := st.LoadAll(500); err != nil {
		t.Fatalf("load store: %v", err)
	}
	return st
}

// NewTestIndexer creates a temporary indexer over st with default indexes.
func NewTestIndexer(t *testing.T, st *store.Store) *indexer.Indexer {
	t.Helper()

	dir := t.TempDir()
	ix, err := indexer.Open(filepath.Join(dir, "indexes.db"), filepath.Join(dir, "lexicon.db"), st)
	if err != nil {
		t.Fatalf("open indexer: %v", err)
	}
	t.Cleanup(func() {
		ix.Close()
	})
	return ix
}

// NewTestDatabase opens a temporary, fully loaded database driven by a
// virtual clock starting at Epoch.
func NewTestDatabase(t *testing.T) (*msgdb.Database, *loop.Virtual) {
	t.Helper()

	clock := loop.NewVirtual(Epoch)
	db, err := msgdb.Open(t.TempDir(), clock, msgdb.DefaultOptions())
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	if err := db.LoadAll(); err != nil {
		t.Fatalf("load database: %v", err)
	}
	return db, clock
}

// AddMessages stores each message and returns their gids in order.
func AddMessages(t *testing.T, db *msgdb.Database, msgs ...*store.Message) []uint32 {
	t.Helper()

	gids := make([]uint32, len(msgs))
	for i, m := range msgs {
		gid, err := db.AddMessage(m)
		MustNoErr(t, err, "add message "+m.SourceID)
		gids[i] = gid
	}
	return gids
}
