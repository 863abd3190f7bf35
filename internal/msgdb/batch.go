package msgdb

import "github.com/wesm/msgdb/internal/indexer"

// batchThreshold is the largest known batch size that still reports
// changes message by message.
const batchThreshold = 5

// Batch suppresses per-message notifications while bulk changes run.
type Batch struct {
	db      *Database
	entered bool
	ended   bool
}

// BeginBatch opens a batching scope for n changes; n < 0 means unknown.
// Small batches (n <= 5) do not suppress anything. Scopes nest; when the
// outermost one ends, listeners receive MessageChanged(AllMessages) and
// IndexesChanged(AllIndexes) once each.
func (db *Database) BeginBatch(n int) *Batch {
	b := &Batch{db: db}
	if n < 0 || n > batchThreshold {
		db.batchDepth++
		b.entered = true
	}
	return b
}

// End closes the scope. Calling End more than once has no effect.
func (b *Batch) End() {
	if b.ended {
		return
	}
	b.ended = true
	if !b.entered {
		return
	}
	db := b.db
	db.batchDepth--
	if db.batchDepth > 0 {
		return
	}
	db.emitChanged(AllMessages)
	db.ix.NotifyIndexesChanged(indexer.AllIndexes)
}

// Batching reports whether a batching scope is active.
func (db *Database) Batching() bool {
	return db.batchDepth > 0
}
