package msgdb

import (
	"errors"
	"fmt"

	"github.com/wesm/msgdb/internal/indexer"
	"github.com/wesm/msgdb/internal/lexicon"
	"github.com/wesm/msgdb/internal/mime"
	"github.com/wesm/msgdb/internal/store"
)

// AddMessage stores m, files it into its indexes and submits it to the
// lexicon. If indexing fails the store is returned to its previous state
// and the indexing error is returned.
func (db *Database) AddMessage(m *store.Message) (uint32, error) {
	prev, err := db.snapshot(m)
	if err != nil {
		return 0, err
	}

	gid, err := db.store.Add(m)
	if err != nil {
		return 0, fmt.Errorf("store message: %w", err)
	}
	stored, err := db.store.Get(gid)
	if err == nil {
		err = db.ix.IndexMessage(stored)
	}
	if err != nil {
		db.rollbackAdd(gid, prev)
		return 0, fmt.Errorf("index message %d: %w", gid, err)
	}

	linked, err := db.store.LinkReplies(gid)
	if err != nil {
		db.logger.Warn("link replies failed", "gid", gid, "error", err)
	}

	db.submit(stored, false)
	db.RequestCommit()

	if prev != nil {
		db.emitChanged(gid)
	}
	for _, child := range linked {
		db.emitChanged(child)
	}
	db.touchChain(gid)
	return gid, nil
}

// snapshot captures the row m would replace, or nil for a new message. It
// reads from disk, so live rows not yet loaded into the cache are not
// mistaken for removed ones.
func (db *Database) snapshot(m *store.Message) (*store.Snapshot, error) {
	gid, ok, err := db.store.Lookup(m.AccountID, m.SourceID)
	if err != nil {
		return nil, fmt.Errorf("lookup message: %w", err)
	}
	if !ok {
		return nil, nil
	}
	snap, err := db.store.Snapshot(gid)
	if err != nil {
		return nil, fmt.Errorf("snapshot message %d: %w", gid, err)
	}
	return &snap, nil
}

// rollbackAdd undoes a store.Add whose indexing failed. New messages are
// deleted; replaced ones get their previous row and body back.
func (db *Database) rollbackAdd(gid uint32, prev *store.Snapshot) {
	if prev == nil {
		if err := db.ix.RemoveMessage(gid); err != nil {
			db.logger.Warn("rollback: unindex failed", "gid", gid, "error", err)
		}
		if err := db.store.Remove(gid); err != nil {
			db.logger.Warn("rollback: remove failed", "gid", gid, "error", err)
		}
		return
	}

	if err := db.store.Restore(*prev); err != nil {
		db.logger.Warn("rollback: restore failed", "gid", gid, "error", err)
	}
	if prev.Removed {
		if err := db.ix.RemoveMessage(gid); err != nil {
			db.logger.Warn("rollback: unindex failed", "gid", gid, "error", err)
		}
		return
	}
	if err := db.ix.ReconcileFlags(prev.Message); err != nil {
		db.logger.Warn("rollback: reconcile flags failed", "gid", gid, "error", err)
	}
}

// UpdateMetadata rewrites a message's metadata in the store. Indexes and
// the lexicon are left alone.
func (db *Database) UpdateMetadata(m store.Message) error {
	if err := db.store.UpdateMetadata(m); err != nil {
		return err
	}
	db.RequestCommit()
	db.emitChanged(m.GID)
	return nil
}

// UpdateBody replaces a message's body, re-indexes it and resubmits it to
// the lexicon.
func (db *Database) UpdateBody(gid uint32, raw []byte) error {
	if err := db.store.SetRawBody(gid, raw); err != nil {
		return err
	}
	m, err := db.store.Get(gid)
	if err != nil {
		return err
	}
	if err := db.ix.IndexMessage(m); err != nil {
		return fmt.Errorf("reindex message %d: %w", gid, err)
	}
	db.submit(m, true)
	db.RequestCommit()
	db.emitBodyChanged(gid)
	return nil
}

// RemoveMessage deletes a message. It is marked removed first so that a
// crash part way leaves a state Recover can finish.
func (db *Database) RemoveMessage(gid uint32) error {
	chain := db.store.DupChain(gid)
	if err := db.store.MarkRemoved(gid); err != nil {
		return err
	}
	if err := db.ix.RemoveMessage(gid); err != nil {
		return fmt.Errorf("unindex message %d: %w", gid, err)
	}
	if err := db.Lexicon().Remove(gid); err != nil {
		db.logger.Warn("lexicon remove failed", "gid", gid, "error", err)
	}
	if err := db.store.Remove(gid); err != nil {
		return err
	}
	db.RequestCommit()
	for _, dup := range chain {
		if dup != gid {
			db.emitChanged(dup)
		}
	}
	return nil
}

// SetFlag sets or clears a flag and updates the flag-derived indexes.
func (db *Database) SetFlag(gid uint32, flag store.Flags, on bool) error {
	if err := db.store.SetFlag(gid, flag, on); err != nil {
		return err
	}
	m, err := db.store.Get(gid)
	if err != nil {
		return err
	}
	if err := db.ix.ReconcileFlags(m); err != nil {
		return fmt.Errorf("reconcile flags of %d: %w", gid, err)
	}
	db.RequestCommit()
	db.emitChanged(gid)
	return nil
}

// MoveToTrash adds a message to its account's trash, hiding it from
// every other index without removing it from them.
func (db *Database) MoveToTrash(gid uint32) error {
	return db.hide(gid, indexer.UseTrash)
}

// RestoreFromTrash removes a message from the trash, re-exposing it in
// every index that still holds it. A message no longer filed anywhere is
// filed again.
func (db *Database) RestoreFromTrash(gid uint32) error {
	return db.unhide(gid, indexer.UseTrash)
}

// MarkSpam moves a message into the spam index and out of its filing
// indexes. Its lexicon entry is reduced to headers.
func (db *Database) MarkSpam(gid uint32) error {
	if err := db.hide(gid, indexer.UseSpam); err != nil {
		return err
	}
	if _, err := db.ix.RemoveFromFiling(gid); err != nil {
		return fmt.Errorf("unfile %d: %w", gid, err)
	}
	if m, err := db.store.Get(gid); err == nil {
		db.submit(m, true)
	}
	return nil
}

// MarkNotSpam removes a message from spam, filing it again when needed,
// and restores its full lexicon entry.
func (db *Database) MarkNotSpam(gid uint32) error {
	if err := db.unhide(gid, indexer.UseSpam); err != nil {
		return err
	}
	if m, err := db.store.Get(gid); err == nil {
		db.submit(m, true)
	}
	return nil
}

func (db *Database) hide(gid uint32, use indexer.SpecialUse) error {
	m, err := db.store.Get(gid)
	if err != nil {
		return err
	}
	idx, err := db.ix.Special(use, m.AccountID)
	if err != nil {
		return err
	}
	if err := db.ix.AddToIndex(idx.ID, gid); err != nil {
		return err
	}
	db.RequestCommit()
	db.emitChanged(gid)
	db.touchChain(gid)
	return nil
}

func (db *Database) unhide(gid uint32, use indexer.SpecialUse) error {
	m, err := db.store.Get(gid)
	if err != nil {
		return err
	}
	idx, err := db.ix.Special(use, m.AccountID)
	if err != nil {
		return err
	}
	if err := db.ix.RemoveFromIndex(idx.ID, gid); err != nil {
		return err
	}
	if !db.ix.IsFiled(gid) {
		if err := db.ix.IndexMessage(m); err != nil {
			return fmt.Errorf("refile %d: %w", gid, err)
		}
	}
	db.RequestCommit()
	db.emitChanged(gid)
	db.touchChain(gid)
	return nil
}

// MoveToFolder files a message into the given folder or special index,
// removing it from its other filing indexes.
func (db *Database) MoveToFolder(gid, indexID uint32) error {
	m, err := db.store.Get(gid)
	if err != nil {
		return err
	}
	dest, err := db.ix.Index(indexID)
	if err != nil {
		return err
	}
	if err := db.ix.MoveToFolder(gid, dest); err != nil {
		return err
	}
	m.FolderID = dest.ID
	if err := db.store.UpdateMetadata(m); err != nil {
		return err
	}
	db.RequestCommit()
	db.emitChanged(gid)
	return nil
}

// touchChain reports a change for every other member of gid's duplicate
// chain, since which member is visible may have moved.
func (db *Database) touchChain(gid uint32) {
	chain := db.store.DupChain(gid)
	if len(chain) < 2 {
		return
	}
	for _, dup := range chain {
		if dup != gid {
			db.emitChanged(dup)
		}
	}
}

// isSpam reports whether the account's spam index holds gid.
func (db *Database) isSpam(m store.Message) bool {
	idx, err := db.ix.Special(indexer.UseSpam, m.AccountID)
	if err != nil {
		return false
	}
	return idx.Contains(m.GID)
}

// submit sends m to the lexicon. Messages already waiting for indexing are
// skipped unless force is set. The waiting flag is cleared once the
// lexicon accepts the entry; failures are logged and leave it set so
// ReindexPending can retry.
func (db *Database) submit(m store.Message, force bool) {
	if m.Flags.Has(store.FlagWaitingForIndexing) && !force {
		return
	}
	if err := db.store.SetFlag(m.GID, store.FlagWaitingForIndexing, true); err != nil {
		db.logger.Warn("mark waiting for indexing failed", "gid", m.GID, "error", err)
		return
	}
	doc := lexicon.Document{Subject: m.Subject, Sender: m.Sender}
	body, err := db.store.GetBody(m.GID)
	switch {
	case err == nil:
		if parsed, perr := mime.Parse(body); perr == nil {
			doc.Body = parsed.GetBodyText()
		} else {
			db.logger.Debug("parse body for lexicon failed", "gid", m.GID, "error", perr)
		}
	case !errors.Is(err, store.ErrNoBody):
		db.logger.Warn("read body for lexicon failed", "gid", m.GID, "error", err)
	}

	if err := db.Lexicon().Insert(m.GID, doc, db.isSpam(m)); err != nil {
		db.logger.Warn("lexicon insert failed", "gid", m.GID, "error", err)
		return
	}
	if err := db.store.SetFlag(m.GID, store.FlagWaitingForIndexing, false); err != nil {
		db.logger.Warn("clear waiting for indexing failed", "gid", m.GID, "error", err)
	}
}
