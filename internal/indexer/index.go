package indexer

import (
	"fmt"
	"slices"
)

// Kind distinguishes how an index gets its members.
type Kind int

const (
	KindFolder  Kind = iota // filed messages
	KindSpecial             // special-use index, see SpecialUse
	KindUnion               // computed from member indexes
	KindSearch              // snapshot of a lexicon query
)

func (k Kind) String() string {
	switch k {
	case KindFolder:
		return "folder"
	case KindSpecial:
		return "special"
	case KindUnion:
		return "union"
	case KindSearch:
		return "search"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// SpecialUse marks the role of a special index.
type SpecialUse int

const (
	UseNone SpecialUse = iota
	UseInbox
	UseSent
	UseOutbox
	UseDrafts
	UseTrash
	UseSpam
	UseUnread
	UseFlagged
)

var specialNames = map[SpecialUse]string{
	UseNone:    "none",
	UseInbox:   "inbox",
	UseSent:    "sent",
	UseOutbox:  "outbox",
	UseDrafts:  "drafts",
	UseTrash:   "trash",
	UseSpam:    "spam",
	UseUnread:  "unread",
	UseFlagged: "flagged",
}

func (u SpecialUse) String() string {
	if s, ok := specialNames[u]; ok {
		return s
	}
	return fmt.Sprintf("use(%d)", int(u))
}

// ParseSpecialUse maps a name such as "trash" to its SpecialUse.
func ParseSpecialUse(name string) (SpecialUse, error) {
	for u, s := range specialNames {
		if s == name {
			return u, nil
		}
	}
	return UseNone, fmt.Errorf("unknown special use %q", name)
}

// Model selects flat or threaded presentation.
type Model int

const (
	ModelFlat Model = iota
	ModelThreaded
)

// Grouping selects how thread roots are grouped under headers.
type Grouping int

const (
	GroupNone Grouping = iota
	GroupDate
	GroupFlag
	GroupRead
)

// NumGroupings is the number of grouping methods.
const NumGroupings = 4

// SortKey selects the ordering of thread roots.
type SortKey int

const (
	SortGID SortKey = iota
	SortDate
	SortSubject
)

// ViewConfig is the presentation configuration persisted with an index.
type ViewConfig struct {
	Model        Model    `json:"model"`
	Grouping     Grouping `json:"grouping"`
	Sort         SortKey  `json:"sort"`
	SortDesc     bool     `json:"sort_desc"`
	AgeDays      int      `json:"age_days,omitempty"`
	LastSelected uint32   `json:"last_selected,omitempty"`
}

// Info is the persisted definition of an index.
type Info struct {
	ID         uint32     `json:"id"`
	ParentID   uint32     `json:"parent_id,omitempty"`
	Name       string     `json:"name"`
	Kind       Kind       `json:"kind"`
	SpecialUse SpecialUse `json:"special_use,omitempty"`
	AccountID  int64      `json:"account_id,omitempty"`
	Visible    bool       `json:"visible"`
	Members    []uint32   `json:"members,omitempty"` // union member index ids
	Query      string     `json:"query,omitempty"`   // search query text
	View       ViewConfig `json:"view"`
}

// Index is a named set of gids together with its presentation config.
type Index struct {
	Info
	ix *Indexer
}

// IsStored reports whether membership is held in the index itself rather
// than computed.
func (idx *Index) IsStored() bool {
	return idx.Kind != KindUnion
}

// Contains reports whether gid is a member.
func (idx *Index) Contains(gid uint32) bool {
	if idx.Kind == KindUnion {
		for _, id := range idx.Members {
			if set, ok := idx.ix.members[id]; ok {
				if _, ok := set[gid]; ok {
					return true
				}
			}
		}
		return false
	}
	_, ok := idx.ix.members[idx.ID][gid]
	return ok
}

// Gids returns the members in ascending order.
func (idx *Index) Gids() []uint32 {
	seen := make(map[uint32]struct{})
	ids := []uint32{idx.ID}
	if idx.Kind == KindUnion {
		ids = idx.Members
	}
	for _, id := range ids {
		for gid := range idx.ix.members[id] {
			seen[gid] = struct{}{}
		}
	}
	gids := make([]uint32, 0, len(seen))
	for gid := range seen {
		gids = append(gids, gid)
	}
	slices.Sort(gids)
	return gids
}

// Len returns the number of members.
func (idx *Index) Len() int {
	if idx.Kind != KindUnion {
		return len(idx.ix.members[idx.ID])
	}
	return len(idx.Gids())
}

// Covers reports whether changes to other's membership are changes to
// idx's membership.
func (idx *Index) Covers(other *Index) bool {
	if other.ID == idx.ID {
		return true
	}
	return idx.Kind == KindUnion && slices.Contains(idx.Members, other.ID)
}

// IsHideable reports whether membership in idx hides messages elsewhere.
func (idx *Index) IsHideable() bool {
	return idx.SpecialUse == UseTrash || idx.SpecialUse == UseSpam
}

// HiddenBy reports whether membership in other hides messages from idx.
// Trash hides from every other index; spam hides from everything except
// spam and trash.
func (idx *Index) HiddenBy(other *Index) bool {
	switch other.SpecialUse {
	case UseTrash:
		return idx.SpecialUse != UseTrash
	case UseSpam:
		return idx.SpecialUse != UseSpam && idx.SpecialUse != UseTrash
	}
	return false
}

// IsHidden reports whether gid is hidden from idx by a hideable index.
func (idx *Index) IsHidden(gid uint32) bool {
	for _, h := range idx.ix.hiders() {
		if h.ID != idx.ID && idx.HiddenBy(h) && h.Contains(gid) {
			return true
		}
	}
	return false
}

// IsVisible reports whether gid should appear in idx: it is a member, not
// hidden, and no earlier member of its duplicate chain is visible here.
func (idx *Index) IsVisible(gid uint32) bool {
	if !idx.Contains(gid) || idx.IsHidden(gid) {
		return false
	}
	if idx.ix.msgs == nil {
		return true
	}
	for _, dup := range idx.ix.msgs.DupChain(gid) {
		if dup == gid {
			return true
		}
		if idx.Contains(dup) && !idx.IsHidden(dup) {
			return false
		}
	}
	return true
}

// VisibleGids returns the visible members in ascending order.
func (idx *Index) VisibleGids() []uint32 {
	var out []uint32
	for _, gid := range idx.Gids() {
		if idx.IsVisible(gid) {
			out = append(out, gid)
		}
	}
	return out
}
