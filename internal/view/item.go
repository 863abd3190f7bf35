package view

import (
	"time"

	"github.com/wesm/msgdb/internal/indexer"
	"github.com/wesm/msgdb/internal/store"
)

// Item is the payload of a view node: a *MessageItem or a *HeaderItem.
type Item interface {
	isItem()
}

// FetchState tracks how much of a message's data a view holds.
type FetchState int

const (
	// StateUnfetched items have metadata but no row yet.
	StateUnfetched FetchState = iota
	// StateLoading items are waiting on the store or on the fetch throttle.
	StateLoading
	// StateFetched items have a cached row.
	StateFetched
	// StateGhost items vanished from the store after it finished loading.
	StateGhost
)

func (s FetchState) String() string {
	switch s {
	case StateUnfetched:
		return "unfetched"
	case StateLoading:
		return "loading"
	case StateFetched:
		return "fetched"
	case StateGhost:
		return "ghost"
	}
	return "unknown"
}

// MessageItem is a message shown in a view.
type MessageItem struct {
	GID   uint32
	State FetchState
	Open  bool

	msg    store.Message
	known  bool // msg holds loaded metadata
	row    *Row
	groups [indexer.NumGroupings]int // cached header per grouping, -1 unknown
}

func newMessageItem(gid uint32) *MessageItem {
	it := &MessageItem{GID: gid}
	it.resetGroups()
	return it
}

func (it *MessageItem) resetGroups() {
	for i := range it.groups {
		it.groups[i] = -1
	}
}

func (*MessageItem) isItem() {}

// HeaderItem is a grouping header. Its Index is the header's position in
// its grouping's header list.
type HeaderItem struct {
	Index int
	Title string

	match  func(summary) bool // nil for the catch-all header
	unread int                // cached, -1 unknown
}

func (*HeaderItem) isItem() {}

// Row is the display data of a node.
type Row struct {
	GID     uint32
	State   FetchState
	Depth   int
	Subject string
	Sender  string
	Date    time.Time
	Flags   store.Flags
	Size    int64
	Snippet string

	// Group is the title of the header a message's thread is filed under.
	Group string

	// Header rows carry a title and the unread count beneath them.
	Header bool
	Title  string
	Unread int

	HasChildren bool
	Open        bool
}

// EventKind identifies a view change.
type EventKind int

const (
	Inserted EventKind = iota
	Removed
	Changed
	Moved
	Reset
)

func (k EventKind) String() string {
	switch k {
	case Inserted:
		return "inserted"
	case Removed:
		return "removed"
	case Changed:
		return "changed"
	case Moved:
		return "moved"
	case Reset:
		return "reset"
	}
	return "unknown"
}

// Event describes one change to a view. For Removed and Moved, OldParent
// is the former parent; Parent and Index give the new position for
// Inserted and Moved. Reset carries no node.
type Event struct {
	Kind      EventKind
	Ref       Ref
	GID       uint32
	Parent    Ref
	OldParent Ref
	Index     int
}

// Observer receives view events.
type Observer func(Event)
