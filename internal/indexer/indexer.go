// Package indexer maintains named sets of messages (folders, special-use
// indexes, unions and saved searches) in a bbolt database, and notifies
// listeners as membership changes.
package indexer

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/wesm/msgdb/internal/lexicon"
	"github.com/wesm/msgdb/internal/notify"
)

// AllIndexes is the IndexesChanged sentinel meaning every index changed.
const AllIndexes uint32 = 0

var (
	// ErrUnknownIndex is returned for index ids that do not exist.
	ErrUnknownIndex = errors.New("unknown index")
	// ErrComputedIndex is returned when changing membership of a union.
	ErrComputedIndex = errors.New("index membership is computed")
	// ErrSpecialIndex is returned when deleting a special-use index.
	ErrSpecialIndex = errors.New("special index cannot be deleted")
)

var (
	bucketMeta    = []byte("meta")
	bucketIndexes = []byte("indexes")
	bucketMembers = []byte("members")
	keyNextID     = []byte("next_id")
	present       = []byte{1}
)

// MessageSource resolves duplicate chains for visibility checks.
type MessageSource interface {
	DupChain(gid uint32) []uint32
}

// Listener observes membership and definition changes. keyword is true
// for memberships derived from message flags rather than filing.
type Listener interface {
	MessageAdded(idx *Index, gid uint32, keyword bool)
	MessageRemoved(idx *Index, gid uint32, keyword bool)
	IndexesChanged(id uint32)
}

// Indexer owns the index database and the lexicon.
type Indexer struct {
	db     *bolt.DB
	path   string
	lex    *lexicon.Lexicon
	msgs   MessageSource
	logger *slog.Logger

	indexes   map[uint32]*Index
	members   map[uint32]map[uint32]struct{}
	dirty     bool
	listeners notify.Registry[Listener]
}

func key32(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

// Open opens or creates the index database at path and the lexicon at
// lexiconPath. Default indexes are created on first open.
func Open(path, lexiconPath string, msgs MessageSource) (*Indexer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	// Writes are flushed to disk by Commit.
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second, NoSync: true})
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}
	lex, err := lexicon.Open(lexiconPath)
	if err != nil {
		db.Close()
		return nil, err
	}

	ix := &Indexer{
		db:      db,
		path:    path,
		lex:     lex,
		msgs:    msgs,
		logger:  slog.Default(),
		indexes: make(map[uint32]*Index),
		members: make(map[uint32]map[uint32]struct{}),
	}
	if err := ix.load(); err != nil {
		ix.Close()
		return nil, err
	}
	if len(ix.indexes) == 0 {
		if err := ix.createDefaults(); err != nil {
			ix.Close()
			return nil, err
		}
	}
	return ix, nil
}

// WithLogger sets the logger for the indexer and its lexicon.
func (ix *Indexer) WithLogger(logger *slog.Logger) *Indexer {
	ix.logger = logger
	ix.lex.WithLogger(logger)
	return ix
}

// Close closes the index database and the lexicon.
func (ix *Indexer) Close() error {
	lexErr := ix.lex.Close()
	if err := ix.db.Close(); err != nil {
		return err
	}
	return lexErr
}

// Lexicon returns the full-text index owned by the indexer.
func (ix *Indexer) Lexicon() *lexicon.Lexicon {
	return ix.lex
}

func (ix *Indexer) load() error {
	return ix.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketIndexes, bucketMembers} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		err := tx.Bucket(bucketIndexes).ForEach(func(k, v []byte) error {
			idx := &Index{ix: ix}
			if err := json.Unmarshal(v, &idx.Info); err != nil {
				return fmt.Errorf("decode index %x: %w", k, err)
			}
			ix.indexes[idx.ID] = idx
			return nil
		})
		if err != nil {
			return err
		}
		members := tx.Bucket(bucketMembers)
		return members.ForEach(func(k, _ []byte) error {
			b := members.Bucket(k)
			if b == nil {
				return nil
			}
			id := binary.BigEndian.Uint32(k)
			set := make(map[uint32]struct{})
			if err := b.ForEach(func(gk, _ []byte) error {
				set[binary.BigEndian.Uint32(gk)] = struct{}{}
				return nil
			}); err != nil {
				return err
			}
			ix.members[id] = set
			return nil
		})
	})
}

var defaultIndexes = []Info{
	{Name: "Inbox", Kind: KindSpecial, SpecialUse: UseInbox, Visible: true,
		View: ViewConfig{Model: ModelThreaded, Grouping: GroupDate, Sort: SortDate, SortDesc: true}},
	{Name: "Sent", Kind: KindSpecial, SpecialUse: UseSent, Visible: true,
		View: ViewConfig{Sort: SortDate, SortDesc: true}},
	{Name: "Outbox", Kind: KindSpecial, SpecialUse: UseOutbox, Visible: true,
		View: ViewConfig{Sort: SortDate}},
	{Name: "Drafts", Kind: KindSpecial, SpecialUse: UseDrafts, Visible: true,
		View: ViewConfig{Sort: SortDate, SortDesc: true}},
	{Name: "Trash", Kind: KindSpecial, SpecialUse: UseTrash, Visible: true,
		View: ViewConfig{Sort: SortDate, SortDesc: true}},
	{Name: "Spam", Kind: KindSpecial, SpecialUse: UseSpam, Visible: true,
		View: ViewConfig{Sort: SortDate, SortDesc: true}},
	{Name: "Unread", Kind: KindSpecial, SpecialUse: UseUnread, Visible: true,
		View: ViewConfig{Model: ModelThreaded, Sort: SortDate, SortDesc: true}},
	{Name: "Flagged", Kind: KindSpecial, SpecialUse: UseFlagged, Visible: true,
		View: ViewConfig{Grouping: GroupDate, Sort: SortDate, SortDesc: true}},
}

func (ix *Indexer) createDefaults() error {
	for _, info := range defaultIndexes {
		if _, err := ix.CreateIndex(info); err != nil {
			return fmt.Errorf("create %s: %w", info.Name, err)
		}
	}
	ix.logger.Info("created default indexes", "count", len(defaultIndexes))
	return nil
}

// AddListener registers l for membership and definition changes.
func (ix *Indexer) AddListener(l Listener) *notify.Subscription {
	return ix.listeners.Add(l)
}

// NotifyIndexesChanged tells listeners that index id, or every index for
// AllIndexes, changed wholesale.
func (ix *Indexer) NotifyIndexesChanged(id uint32) {
	ix.listeners.Each(func(l Listener) { l.IndexesChanged(id) })
}

// Index returns the index with the given id.
func (ix *Indexer) Index(id uint32) (*Index, error) {
	idx, ok := ix.indexes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownIndex, id)
	}
	return idx, nil
}

// Indexes returns every index ordered by id.
func (ix *Indexer) Indexes() []*Index {
	out := make([]*Index, 0, len(ix.indexes))
	for _, idx := range ix.indexes {
		out = append(out, idx)
	}
	slices.SortFunc(out, func(a, b *Index) int { return int(a.ID) - int(b.ID) })
	return out
}

// Special returns the special-use index for the account, falling back to
// the shared one.
func (ix *Indexer) Special(use SpecialUse, accountID int64) (*Index, error) {
	var shared *Index
	for _, idx := range ix.Indexes() {
		if idx.SpecialUse != use {
			continue
		}
		if idx.AccountID == accountID {
			return idx, nil
		}
		if idx.AccountID == 0 && shared == nil {
			shared = idx
		}
	}
	if shared == nil {
		return nil, fmt.Errorf("%w: no %s index", ErrUnknownIndex, use)
	}
	return shared, nil
}

// FindByName returns the first index with the given name.
func (ix *Indexer) FindByName(name string) (*Index, error) {
	for _, idx := range ix.Indexes() {
		if idx.Name == name {
			return idx, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownIndex, name)
}

func (ix *Indexer) hiders() []*Index {
	var out []*Index
	for _, idx := range ix.indexes {
		if idx.IsHideable() {
			out = append(out, idx)
		}
	}
	return out
}

// CreateIndex persists a new index definition and returns it. The id is
// assigned by the indexer.
func (ix *Indexer) CreateIndex(info Info) (*Index, error) {
	if info.Name == "" {
		return nil, fmt.Errorf("create index: empty name")
	}
	if info.Kind == KindUnion {
		if len(info.Members) == 0 {
			return nil, fmt.Errorf("create union %q: no members", info.Name)
		}
		for _, id := range info.Members {
			m, ok := ix.indexes[id]
			if !ok {
				return nil, fmt.Errorf("create union %q: %w: %d", info.Name, ErrUnknownIndex, id)
			}
			if m.Kind == KindUnion {
				return nil, fmt.Errorf("create union %q: member %d is a union", info.Name, id)
			}
		}
	}

	idx := &Index{Info: info, ix: ix}
	err := ix.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		next := uint32(1)
		if v := meta.Get(keyNextID); v != nil {
			next = binary.BigEndian.Uint32(v)
		}
		idx.ID = next
		if err := meta.Put(keyNextID, key32(next+1)); err != nil {
			return err
		}
		if err := putInfo(tx, &idx.Info); err != nil {
			return err
		}
		if idx.IsStored() {
			if _, err := tx.Bucket(bucketMembers).CreateBucketIfNotExists(key32(idx.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create index %q: %w", info.Name, err)
	}

	ix.indexes[idx.ID] = idx
	if idx.IsStored() {
		ix.members[idx.ID] = make(map[uint32]struct{})
	}
	ix.dirty = true
	ix.logger.Debug("created index", "id", idx.ID, "name", idx.Name, "kind", idx.Kind)
	ix.NotifyIndexesChanged(idx.ID)
	return idx, nil
}

func putInfo(tx *bolt.Tx, info *Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	return tx.Bucket(bucketIndexes).Put(key32(info.ID), data)
}

// DeleteIndex removes a folder, union or search index. Unions lose the
// deleted index as a member.
func (ix *Indexer) DeleteIndex(id uint32) error {
	idx, err := ix.Index(id)
	if err != nil {
		return err
	}
	if idx.Kind == KindSpecial {
		return fmt.Errorf("delete %s: %w", idx.Name, ErrSpecialIndex)
	}

	var changedUnions []*Index
	err = ix.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketIndexes).Delete(key32(id)); err != nil {
			return err
		}
		if idx.IsStored() {
			if err := tx.Bucket(bucketMembers).DeleteBucket(key32(id)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
				return err
			}
		}
		for _, u := range ix.indexes {
			if u.Kind != KindUnion || !slices.Contains(u.Members, id) {
				continue
			}
			info := u.Info
			info.Members = slices.DeleteFunc(slices.Clone(u.Members), func(m uint32) bool { return m == id })
			if err := putInfo(tx, &info); err != nil {
				return err
			}
			changedUnions = append(changedUnions, u)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete index %d: %w", id, err)
	}

	delete(ix.indexes, id)
	delete(ix.members, id)
	for _, u := range changedUnions {
		u.Members = slices.DeleteFunc(u.Members, func(m uint32) bool { return m == id })
	}
	ix.dirty = true
	ix.NotifyIndexesChanged(id)
	for _, u := range changedUnions {
		ix.NotifyIndexesChanged(u.ID)
	}
	return nil
}

// UpdateIndex persists changes to an index's name, visibility, parent or
// view configuration.
func (ix *Indexer) UpdateIndex(id uint32, fn func(info *Info)) error {
	idx, err := ix.Index(id)
	if err != nil {
		return err
	}
	info := idx.Info
	fn(&info)
	info.ID = idx.ID
	info.Kind = idx.Kind
	info.Members = idx.Members

	if err := ix.db.Update(func(tx *bolt.Tx) error { return putInfo(tx, &info) }); err != nil {
		return fmt.Errorf("update index %d: %w", id, err)
	}
	idx.Info = info
	ix.dirty = true
	ix.NotifyIndexesChanged(id)
	return nil
}

// Commit flushes the index database and then the lexicon to disk.
func (ix *Indexer) Commit() error {
	if err := ix.db.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", ix.path, err)
	}
	ix.dirty = false
	if err := ix.lex.Commit(); err != nil {
		return fmt.Errorf("commit lexicon: %w", err)
	}
	return nil
}

// FullyCommitted reports whether every change has been synced.
func (ix *Indexer) FullyCommitted() bool {
	return !ix.dirty
}

// Verify checks the consistency of the index database file.
func (ix *Indexer) Verify() error {
	var errs []error
	err := ix.db.View(func(tx *bolt.Tx) error {
		for err := range tx.Check() {
			errs = append(errs, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return errors.Join(errs...)
}

// Stats describes the index database.
type Stats struct {
	Indexes     int
	Memberships int
	FileSize    int64
}

// GetStats returns index statistics.
func (ix *Indexer) GetStats() Stats {
	st := Stats{Indexes: len(ix.indexes)}
	for _, set := range ix.members {
		st.Memberships += len(set)
	}
	if info, err := os.Stat(ix.path); err == nil {
		st.FileSize = info.Size()
	}
	return st
}
