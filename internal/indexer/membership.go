package indexer

import (
	"fmt"
	"slices"

	bolt "go.etcd.io/bbolt"

	"github.com/wesm/msgdb/internal/store"
)

// AddToIndex adds gid to a stored index. Adding a present member is a
// no-op.
func (ix *Indexer) AddToIndex(id, gid uint32) error {
	idx, err := ix.Index(id)
	if err != nil {
		return err
	}
	return ix.add(idx, gid, false)
}

// RemoveFromIndex removes gid from a stored index. Removing an absent
// member is a no-op.
func (ix *Indexer) RemoveFromIndex(id, gid uint32) error {
	idx, err := ix.Index(id)
	if err != nil {
		return err
	}
	return ix.remove(idx, gid, false)
}

func (ix *Indexer) add(idx *Index, gid uint32, keyword bool) error {
	if !idx.IsStored() {
		return fmt.Errorf("add to %s: %w", idx.Name, ErrComputedIndex)
	}
	set := ix.members[idx.ID]
	if _, ok := set[gid]; ok {
		return nil
	}
	unions := ix.unionsContaining(idx, gid)

	err := ix.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMembers).Bucket(key32(idx.ID))
		if b == nil {
			return fmt.Errorf("missing member bucket")
		}
		return b.Put(key32(gid), present)
	})
	if err != nil {
		return fmt.Errorf("add %d to %s: %w", gid, idx.Name, err)
	}
	set[gid] = struct{}{}
	ix.dirty = true

	ix.listeners.Each(func(l Listener) { l.MessageAdded(idx, gid, keyword) })
	for _, u := range unions {
		ix.listeners.Each(func(l Listener) { l.MessageAdded(u, gid, keyword) })
	}
	return nil
}

func (ix *Indexer) remove(idx *Index, gid uint32, keyword bool) error {
	if !idx.IsStored() {
		return fmt.Errorf("remove from %s: %w", idx.Name, ErrComputedIndex)
	}
	set := ix.members[idx.ID]
	if _, ok := set[gid]; !ok {
		return nil
	}
	unions := ix.unionsContaining(idx, gid)

	err := ix.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMembers).Bucket(key32(idx.ID))
		if b == nil {
			return nil
		}
		return b.Delete(key32(gid))
	})
	if err != nil {
		return fmt.Errorf("remove %d from %s: %w", gid, idx.Name, err)
	}
	delete(set, gid)
	ix.dirty = true

	ix.listeners.Each(func(l Listener) { l.MessageRemoved(idx, gid, keyword) })
	for _, u := range unions {
		ix.listeners.Each(func(l Listener) { l.MessageRemoved(u, gid, keyword) })
	}
	return nil
}

// unionsContaining returns the unions over idx whose membership of gid
// depends on idx alone.
func (ix *Indexer) unionsContaining(idx *Index, gid uint32) []*Index {
	var out []*Index
	for _, u := range ix.Indexes() {
		if u.Kind != KindUnion || !slices.Contains(u.Members, idx.ID) {
			continue
		}
		other := false
		for _, id := range u.Members {
			if id == idx.ID {
				continue
			}
			if _, ok := ix.members[id][gid]; ok {
				other = true
				break
			}
		}
		if !other {
			out = append(out, u)
		}
	}
	return out
}

// filingIndex returns the index a message is filed into: its folder when
// set, otherwise outbox, sent or inbox depending on its flags.
func (ix *Indexer) filingIndex(m store.Message) (*Index, error) {
	if m.FolderID != 0 {
		idx, err := ix.Index(m.FolderID)
		if err != nil {
			return nil, err
		}
		if !idx.IsStored() {
			return nil, fmt.Errorf("file into %s: %w", idx.Name, ErrComputedIndex)
		}
		return idx, nil
	}
	switch {
	case m.Flags.Has(store.FlagOutgoing):
		return ix.Special(UseOutbox, m.AccountID)
	case m.Flags.Has(store.FlagSent):
		return ix.Special(UseSent, m.AccountID)
	default:
		return ix.Special(UseInbox, m.AccountID)
	}
}

// IndexMessage adds a stored message to its filing index and to the
// flag-derived indexes. Re-indexing a message is idempotent.
func (ix *Indexer) IndexMessage(m store.Message) error {
	target, err := ix.filingIndex(m)
	if err != nil {
		return fmt.Errorf("index message %d: %w", m.GID, err)
	}
	if err := ix.add(target, m.GID, false); err != nil {
		return err
	}
	return ix.ReconcileFlags(m)
}

// ReconcileFlags brings the unread and flagged indexes in line with m's
// flags.
func (ix *Indexer) ReconcileFlags(m store.Message) error {
	derived := []struct {
		use SpecialUse
		on  bool
	}{
		{UseUnread, !m.Flags.Has(store.FlagRead)},
		{UseFlagged, m.Flags.Has(store.FlagFlagged)},
	}
	for _, d := range derived {
		idx, err := ix.Special(d.use, m.AccountID)
		if err != nil {
			return err
		}
		if d.on {
			err = ix.add(idx, m.GID, true)
		} else {
			err = ix.remove(idx, m.GID, true)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// MoveToFolder removes gid from every filing index and adds it to dest.
func (ix *Indexer) MoveToFolder(gid uint32, dest *Index) error {
	if !dest.IsStored() || dest.Kind == KindSearch {
		return fmt.Errorf("move into %s: %w", dest.Name, ErrComputedIndex)
	}
	if err := ix.add(dest, gid, false); err != nil {
		return err
	}
	for _, idx := range ix.Indexes() {
		if idx.ID == dest.ID || !isFiling(idx) {
			continue
		}
		if err := ix.remove(idx, gid, false); err != nil {
			return err
		}
	}
	return nil
}

// RemoveFromFiling removes gid from every folder, inbox, sent, outbox and
// drafts index. It returns the ids it was removed from.
func (ix *Indexer) RemoveFromFiling(gid uint32) ([]uint32, error) {
	var removed []uint32
	for _, idx := range ix.Indexes() {
		if !isFiling(idx) || !idx.Contains(gid) {
			continue
		}
		if err := ix.remove(idx, gid, false); err != nil {
			return removed, err
		}
		removed = append(removed, idx.ID)
	}
	return removed, nil
}

// IsFiled reports whether gid is in any filing index.
func (ix *Indexer) IsFiled(gid uint32) bool {
	for _, idx := range ix.indexes {
		if isFiling(idx) && idx.Contains(gid) {
			return true
		}
	}
	return false
}

func isFiling(idx *Index) bool {
	switch idx.Kind {
	case KindFolder:
		return true
	case KindSpecial:
		switch idx.SpecialUse {
		case UseInbox, UseSent, UseOutbox, UseDrafts:
			return true
		}
	}
	return false
}

// RemoveMessage removes gid from every stored index.
func (ix *Indexer) RemoveMessage(gid uint32) error {
	for _, idx := range ix.Indexes() {
		if !idx.IsStored() || !idx.Contains(gid) {
			continue
		}
		keyword := idx.SpecialUse == UseUnread || idx.SpecialUse == UseFlagged
		if err := ix.remove(idx, gid, keyword); err != nil {
			return err
		}
	}
	return nil
}

// Contains reports whether any stored index holds gid.
func (ix *Indexer) Contains(gid uint32) bool {
	for _, set := range ix.members {
		if _, ok := set[gid]; ok {
			return true
		}
	}
	return false
}

// Prune removes every membership whose gid fails exists. It returns the
// number of memberships removed.
func (ix *Indexer) Prune(exists func(gid uint32) bool) (int, error) {
	n := 0
	for _, idx := range ix.Indexes() {
		if !idx.IsStored() {
			continue
		}
		for _, gid := range idx.Gids() {
			if exists(gid) {
				continue
			}
			if err := ix.remove(idx, gid, false); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}
