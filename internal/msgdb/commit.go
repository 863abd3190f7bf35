package msgdb

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotCommitted is returned when a commit ran but some member of the
// commit group still reports unflushed changes.
var ErrNotCommitted = errors.New("commit group not fully committed")

// Committer is a storage file that can be flushed to stable storage.
type Committer interface {
	Commit() error
	FullyCommitted() bool
}

// CommitGroup is a set of files that commit as one unit. The first member
// to join is the leader.
type CommitGroup struct {
	members []Committer
}

// Join adds c to the group.
func (g *CommitGroup) Join(c Committer) {
	g.members = append(g.members, c)
}

// Leader returns the first member, or nil for an empty group.
func (g *CommitGroup) Leader() Committer {
	if len(g.members) == 0 {
		return nil
	}
	return g.members[0]
}

// Len returns the number of members.
func (g *CommitGroup) Len() int {
	return len(g.members)
}

// Committed reports whether every member is fully committed.
func (g *CommitGroup) Committed() bool {
	for _, c := range g.members {
		if !c.FullyCommitted() {
			return false
		}
	}
	return true
}

// Group registers a companion file that commits together with the store
// and the indexes. It is flushed after them on every commit.
func (db *Database) Group(c Committer) {
	db.group.Join(c)
	db.companions = append(db.companions, c)
}

// RequestCommit schedules a commit after the commit delay. It is a no-op
// while a commit is already pending.
func (db *Database) RequestCommit() {
	if db.pending {
		return
	}
	db.pending = true
	db.attempts = 0
	db.schedule(db.opts.CommitDelay)
}

// CommitPending reports whether a commit is scheduled.
func (db *Database) CommitPending() bool {
	return db.pending
}

// LastCommitError returns the error of the most recent failed commit, or
// nil once a commit succeeds.
func (db *Database) LastCommitError() error {
	return db.lastErr
}

func (db *Database) schedule(d time.Duration) {
	if db.timer != nil {
		db.timer.Stop()
	}
	db.timer = db.sched.AfterFunc(d, func() {
		db.timer = nil
		_ = db.Commit()
	})
}

// Commit flushes the store, then the indexes and lexicon, then companion
// files, and verifies that the whole group is committed. On failure the
// commit stays pending and is retried after the retry delay; on success
// commit listeners are notified in registration order.
func (db *Database) Commit() error {
	if db.timer != nil {
		db.timer.Stop()
		db.timer = nil
	}
	if err := db.flush(); err != nil {
		db.lastErr = err
		db.attempts++
		if limit := db.opts.Retry.MaxAttempts; limit > 0 && db.attempts >= limit {
			db.logger.Error("commit failed, giving up", "attempts", db.attempts, "error", err)
			db.pending = false
			db.attempts = 0
			return err
		}
		delay := db.opts.Retry.Delay
		if delay <= 0 {
			delay = db.opts.CommitDelay
		}
		db.logger.Warn("commit failed, retrying", "attempt", db.attempts, "delay", delay, "error", err)
		db.pending = true
		db.schedule(delay)
		return err
	}

	db.pending = false
	db.attempts = 0
	db.lastErr = nil
	db.commitCount++
	db.logger.Debug("committed", "count", db.commitCount)
	db.commitListeners.Each(func(l CommitListener) { l.Committed() })
	return nil
}

// Flush commits immediately, cancelling any scheduled commit.
func (db *Database) Flush() error {
	return db.Commit()
}

func (db *Database) flush() error {
	if err := db.store.Commit(); err != nil {
		return fmt.Errorf("commit store: %w", err)
	}
	if err := db.ix.Commit(); err != nil {
		return fmt.Errorf("commit indexes: %w", err)
	}
	for _, c := range db.companions {
		if err := c.Commit(); err != nil {
			return fmt.Errorf("commit companion: %w", err)
		}
	}
	if !db.group.Committed() {
		return ErrNotCommitted
	}
	return nil
}
