package msgdb

import (
	"fmt"
	"time"

	"github.com/wesm/msgdb/internal/indexer"
	"github.com/wesm/msgdb/internal/store"
)

// LoadAll reads every stored message into the cache and then reports
// MessageChanged(AllMessages).
func (db *Database) LoadAll() error {
	if err := db.store.LoadAll(db.blockSize()); err != nil {
		return err
	}
	db.emitChanged(AllMessages)
	return nil
}

// StartLoading loads the store progressively, one block per scheduler
// step, so that the loop stays responsive. When loading completes,
// listeners receive MessageChanged(AllMessages) and done, if non-nil, is
// called with the outcome.
func (db *Database) StartLoading(done func(error)) {
	if db.loading || db.store.HasFinishedLoading() {
		return
	}
	db.loading = true
	var step func(start uint32)
	step = func(start uint32) {
		next, err := db.store.ReadBlock(start, db.blockSize())
		if err != nil {
			db.loading = false
			db.logger.Error("loading messages failed", "start", start, "error", err)
			if done != nil {
				done(err)
			}
			return
		}
		if next != 0 {
			db.sched.AfterFunc(0, func() { step(next) })
			return
		}
		db.loading = false
		db.logger.Debug("messages loaded")
		db.emitChanged(AllMessages)
		if done != nil {
			done(nil)
		}
	}
	db.sched.AfterFunc(0, func() { step(1) })
}

func (db *Database) blockSize() int {
	if db.opts.LoadBlockSize > 0 {
		return db.opts.LoadBlockSize
	}
	return 500
}

// RecoverResult reports what a recovery pass repaired.
type RecoverResult struct {
	Purged    int // soft-removed messages finished off
	Pruned    int // index memberships without a stored message
	Reindexed int // messages resubmitted to the lexicon
}

// Recover finishes interrupted removals, drops index entries whose message
// is gone and resubmits messages still waiting for the lexicon. It needs
// the store to be fully loaded.
func (db *Database) Recover() (*RecoverResult, error) {
	if !db.store.HasFinishedLoading() {
		return nil, store.ErrNotLoaded
	}
	res := &RecoverResult{}
	batch := db.BeginBatch(-1)
	defer batch.End()

	removed, err := db.store.Removed()
	if err != nil {
		return nil, err
	}
	for _, gid := range removed {
		if err := db.ix.RemoveMessage(gid); err != nil {
			return res, fmt.Errorf("recover %d: %w", gid, err)
		}
		if err := db.Lexicon().Remove(gid); err != nil {
			db.logger.Warn("lexicon remove failed", "gid", gid, "error", err)
		}
		if err := db.store.Remove(gid); err != nil {
			return res, fmt.Errorf("recover %d: %w", gid, err)
		}
		res.Purged++
	}

	res.Pruned, err = db.ix.Prune(func(gid uint32) bool {
		_, err := db.store.Get(gid)
		return err == nil
	})
	if err != nil {
		return res, fmt.Errorf("prune indexes: %w", err)
	}

	res.Reindexed = db.ReindexPending()

	if res.Purged > 0 || res.Pruned > 0 || res.Reindexed > 0 {
		db.RequestCommit()
	}
	db.logger.Info("recovery pass complete",
		"purged", res.Purged, "pruned", res.Pruned, "reindexed", res.Reindexed)
	return res, nil
}

// ReindexPending resubmits every message still flagged as waiting for
// indexing and returns how many were submitted.
func (db *Database) ReindexPending() int {
	var pending []store.Message
	db.store.All(func(m store.Message) bool {
		if m.Flags.Has(store.FlagWaitingForIndexing) {
			pending = append(pending, m)
		}
		return true
	})
	for _, m := range pending {
		db.submit(m, true)
	}
	return len(pending)
}

// PurgeTrash permanently removes trashed messages dated before cutoff and
// returns how many were removed. Messages without a date use the time
// they were received.
func (db *Database) PurgeTrash(cutoff time.Time) (int, error) {
	var victims []uint32
	for _, idx := range db.ix.Indexes() {
		if idx.SpecialUse != indexer.UseTrash {
			continue
		}
		for _, gid := range idx.Gids() {
			m, err := db.store.Get(gid)
			if err != nil {
				continue
			}
			when := m.Date
			if when.IsZero() {
				when = m.ReceivedAt
			}
			if when.Before(cutoff) {
				victims = append(victims, gid)
			}
		}
	}
	if len(victims) == 0 {
		return 0, nil
	}

	batch := db.BeginBatch(len(victims))
	defer batch.End()
	n := 0
	for _, gid := range victims {
		if err := db.RemoveMessage(gid); err != nil {
			return n, fmt.Errorf("purge %d: %w", gid, err)
		}
		n++
	}
	db.logger.Info("purged trash", "removed", n, "cutoff", cutoff)
	return n, nil
}
