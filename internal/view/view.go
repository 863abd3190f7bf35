// Package view maintains the presentation model of one index: a flat or
// threaded tree of messages, optionally grouped under headers, kept
// consistent with the database through its change notifications.
//
// A View is confined to the scheduler goroutine of its database.
package view

import (
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/wesm/msgdb/internal/indexer"
	"github.com/wesm/msgdb/internal/loop"
	"github.com/wesm/msgdb/internal/mime"
	"github.com/wesm/msgdb/internal/msgdb"
	"github.com/wesm/msgdb/internal/notify"
	"github.com/wesm/msgdb/internal/store"
	"github.com/wesm/msgdb/internal/textutil"
)

// MaxAncestorHops bounds how far thread resolution walks up parent links
// looking for a visible ancestor. Messages whose nearest visible ancestor
// is further away become thread roots.
const MaxAncestorHops = 3

// Source is the database a view presents.
type Source interface {
	Index(id uint32) (*indexer.Index, error)
	Get(gid uint32) (store.Message, error)
	GetBody(gid uint32) ([]byte, error)
	DupChain(gid uint32) []uint32
	HasFinishedLoading() bool
	Batching() bool
	Scheduler() loop.Scheduler
	AddIndexListener(l indexer.Listener) *notify.Subscription
	AddMessageListener(l msgdb.MessageListener) *notify.Subscription
}

var _ Source = (*msgdb.Database)(nil)

// Options tunes row fetching.
type Options struct {
	FetchLimit    int           // fetches allowed per window before deferring
	FetchWindow   time.Duration // length of a fetch window
	FetchBatch    int           // deferred fetches resolved per tick
	FetchTick     time.Duration // interval between deferred resolutions
	FetchQueue    int           // deferred fetches kept; older ones are dropped
	SnippetLength int           // body snippet length in runes
}

// DefaultOptions returns the default view options.
func DefaultOptions() *Options {
	return &Options{
		FetchLimit:    50,
		FetchWindow:   time.Second,
		FetchBatch:    20,
		FetchTick:     100 * time.Millisecond,
		FetchQueue:    100,
		SnippetLength: 120,
	}
}

// View is the live presentation of one index.
type View struct {
	src    Source
	id     uint32
	idx    *indexer.Index
	cfg    indexer.ViewConfig
	unions []uint32
	opts   *Options
	logger *slog.Logger

	nodes       arena
	root        Ref
	byGID       map[uint32]Ref
	headers     []Ref
	headerItems []*HeaderItem
	orphans     map[uint32][]uint32 // missing parent gid -> waiting roots
	inserting   map[uint32]bool
	cutoff      time.Time
	silent      bool

	observers notify.Registry[Observer]
	subs      []*notify.Subscription
	fetch     *throttle
}

// New builds a view of the index with the given id and subscribes it to
// the source's notifications. If opts is nil, DefaultOptions is used.
func New(src Source, indexID uint32, opts *Options) (*View, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	v := &View{
		src:    src,
		id:     indexID,
		opts:   opts,
		logger: slog.Default(),
	}
	v.fetch = newThrottle(src.Scheduler(), opts, v.resolveDeferred)
	if err := v.Reinit(); err != nil {
		return nil, err
	}
	l := listener{v}
	v.subs = append(v.subs, src.AddIndexListener(l), src.AddMessageListener(l))
	return v, nil
}

// WithLogger sets the logger for the view.
func (v *View) WithLogger(logger *slog.Logger) *View {
	v.logger = logger
	return v
}

// Close detaches the view from its source. A closed view keeps its last
// contents but no longer changes.
func (v *View) Close() {
	for _, s := range v.subs {
		s.Close()
	}
	v.subs = nil
	v.fetch.stop()
}

// Reinit rebuilds the view from the index, emitting a single Reset.
func (v *View) Reinit() error {
	idx, err := v.src.Index(v.id)
	if err != nil {
		return err
	}
	v.idx = idx
	v.cfg = idx.View
	v.unions = slices.Clone(idx.Members)
	v.reset()

	v.silent = true
	for _, gid := range idx.VisibleGids() {
		if v.admits(gid) {
			v.insert(gid)
		}
	}
	v.silent = false
	v.emit(Event{Kind: Reset})
	return nil
}

func (v *View) reset() {
	v.fetch.stop()
	v.nodes = newArena()
	v.root = v.nodes.alloc(nil, NoRef)
	v.byGID = make(map[uint32]Ref)
	v.orphans = make(map[uint32][]uint32)
	v.inserting = make(map[uint32]bool)
	v.headers = nil
	v.headerItems = nil

	now := v.src.Scheduler().Now()
	v.cutoff = time.Time{}
	if v.cfg.AgeDays > 0 {
		v.cutoff = now.AddDate(0, 0, -v.cfg.AgeDays)
	}
	for i, d := range headerDefs(v.cfg.Grouping, now) {
		h := &HeaderItem{Index: i, Title: d.title, match: d.match, unread: -1}
		ref := v.nodes.alloc(h, NoRef)
		v.nodes.insertChild(v.root, ref, i)
		v.headers = append(v.headers, ref)
		v.headerItems = append(v.headerItems, h)
	}
}

// detach empties a view whose index was deleted.
func (v *View) detach() {
	v.logger.Debug("index deleted, detaching view", "index", v.id)
	v.idx = nil
	v.cfg = indexer.ViewConfig{}
	v.reset()
	v.Close()
	v.emit(Event{Kind: Reset})
}

// IndexID returns the id of the presented index.
func (v *View) IndexID() uint32 { return v.id }

// Config returns the view configuration in effect.
func (v *View) Config() indexer.ViewConfig { return v.cfg }

// Len returns the number of messages in the view.
func (v *View) Len() int { return len(v.byGID) }

// AddObserver registers o for view events.
func (v *View) AddObserver(o Observer) *notify.Subscription {
	return v.observers.Add(o)
}

func (v *View) emit(e Event) {
	if v.silent {
		return
	}
	if e.Parent == v.root {
		e.Parent = NoRef
	}
	if e.OldParent == v.root {
		e.OldParent = NoRef
	}
	v.observers.Each(func(o Observer) { o(e) })
}

// Lookup returns the node showing gid.
func (v *View) Lookup(gid uint32) (Ref, bool) {
	ref, ok := v.byGID[gid]
	return ref, ok
}

// Item returns the payload of a node, or nil for stale refs.
func (v *View) Item(ref Ref) Item {
	n := v.nodes.get(ref)
	if n == nil {
		return nil
	}
	return n.item
}

// Roots returns the top-level nodes: headers in grouped views, thread
// roots otherwise.
func (v *View) Roots() []Ref {
	return slices.Clone(v.nodes.get(v.root).children)
}

// Children returns the children of ref in display order.
func (v *View) Children(ref Ref) []Ref {
	n := v.nodes.get(ref)
	if n == nil {
		return nil
	}
	return slices.Clone(n.children)
}

// Parent returns the parent of ref, or NoRef for top-level nodes.
func (v *View) Parent(ref Ref) Ref {
	n := v.nodes.get(ref)
	if n == nil || n.parent == v.root {
		return NoRef
	}
	return n.parent
}

// Walk visits every node in display order. depth is 0 for top-level
// nodes. Returning false from fn skips the node's children.
func (v *View) Walk(fn func(ref Ref, depth int) bool) {
	var walk func(refs []Ref, depth int)
	walk = func(refs []Ref, depth int) {
		for _, ref := range refs {
			if fn(ref, depth) {
				walk(v.nodes.get(ref).children, depth+1)
			}
		}
	}
	walk(slices.Clone(v.nodes.get(v.root).children), 0)
}

// SetOpen expands or collapses a message item.
func (v *View) SetOpen(ref Ref, open bool) {
	it, ok := v.Item(ref).(*MessageItem)
	if !ok || it.Open == open {
		return
	}
	it.Open = open
	v.emit(Event{Kind: Changed, Ref: ref, GID: it.GID})
}

// LastSelected returns the node of the index's last selected message.
func (v *View) LastSelected() (Ref, bool) {
	if v.cfg.LastSelected == 0 {
		return NoRef, false
	}
	return v.Lookup(v.cfg.LastSelected)
}

// UnreadCount returns the number of unread messages under a header.
func (v *View) UnreadCount(ref Ref) int {
	h, ok := v.Item(ref).(*HeaderItem)
	if !ok {
		return 0
	}
	if h.unread < 0 {
		h.unread = 0
		v.eachMessage(ref, func(it *MessageItem) {
			if it.known && !it.msg.Flags.Has(store.FlagRead) {
				h.unread++
			}
		})
	}
	return h.unread
}

func (v *View) invalidateUnread() {
	for _, h := range v.headerItems {
		h.unread = -1
	}
}

func (v *View) eachMessage(ref Ref, fn func(*MessageItem)) {
	n := v.nodes.get(ref)
	if n == nil {
		return
	}
	if it, ok := n.item.(*MessageItem); ok {
		fn(it)
	}
	for _, c := range n.children {
		v.eachMessage(c, fn)
	}
}

// QueuedFetches returns the number of row fetches waiting on the throttle.
func (v *View) QueuedFetches() int { return v.fetch.queued() }

// Row returns the display data of a node. Rows of messages not fetched
// yet are loaded on demand, subject to the fetch throttle; throttled and
// still-loading messages return a row in StateLoading and are announced
// with a Changed event once fetched.
func (v *View) Row(ref Ref) (Row, bool) {
	n := v.nodes.get(ref)
	if n == nil || n.item == nil {
		return Row{}, false
	}
	switch it := n.item.(type) {
	case *HeaderItem:
		return Row{
			Header:      true,
			Title:       it.Title,
			Unread:      v.UnreadCount(ref),
			HasChildren: len(n.children) > 0,
			Open:        true,
		}, true
	case *MessageItem:
		if it.row == nil && it.State != StateGhost {
			switch {
			case !it.known && !v.src.HasFinishedLoading():
				it.State = StateLoading
			case v.fetch.isQueued(it.GID):
				// Asked again while waiting: bump it without charging the window.
				v.fetch.deferFetch(it.GID)
			case v.fetch.allow():
				v.fetchRow(it)
			default:
				it.State = StateLoading
				v.fetch.deferFetch(it.GID)
			}
		}
		row := Row{
			GID:         it.GID,
			State:       it.State,
			Depth:       v.depth(ref),
			HasChildren: len(n.children) > 0,
			Open:        it.Open,
		}
		switch {
		case it.row != nil:
			r := *it.row
			r.State, r.Depth, r.HasChildren, r.Open = row.State, row.Depth, row.HasChildren, row.Open
			row = r
		case it.known:
			row.Subject = it.msg.Subject
			row.Sender = it.msg.Sender
			row.Date = it.msg.Date
			row.Flags = it.msg.Flags
			row.Size = it.msg.Size
		}
		if h, ok := v.GroupOf(ref); ok {
			row.Group = v.nodes.get(h).item.(*HeaderItem).Title
		}
		return row, true
	}
	return Row{}, false
}

func (v *View) depth(ref Ref) int {
	d := 0
	for p := v.nodes.get(ref).parent; ; {
		n := v.nodes.get(p)
		if n == nil {
			return d
		}
		if _, ok := n.item.(*MessageItem); !ok {
			return d
		}
		d++
		p = n.parent
	}
}

// fetchRow loads the row of it. It reports whether the row is now cached.
func (v *View) fetchRow(it *MessageItem) bool {
	m, err := v.src.Get(it.GID)
	switch {
	case errors.Is(err, store.ErrNotLoaded):
		it.State = StateLoading
		return false
	case err != nil:
		it.State = StateGhost
		return false
	}
	it.setMsg(m)

	row := &Row{
		GID:     m.GID,
		Subject: m.Subject,
		Sender:  m.Sender,
		Date:    m.Date,
		Flags:   m.Flags,
		Size:    m.Size,
	}
	body, err := v.src.GetBody(m.GID)
	switch {
	case err == nil:
		if p, perr := mime.Parse(body); perr == nil {
			row.Snippet = textutil.Snippet(p.GetBodyText(), v.opts.SnippetLength)
		}
	case !errors.Is(err, store.ErrNoBody):
		v.logger.Debug("read body for row failed", "gid", m.GID, "error", err)
	}
	it.row = row
	it.State = StateFetched
	return true
}

func (v *View) resolveDeferred(gid uint32) {
	ref, ok := v.byGID[gid]
	if !ok {
		return
	}
	it := v.nodes.get(ref).item.(*MessageItem)
	if it.row != nil {
		return
	}
	v.fetchRow(it)
	v.emit(Event{Kind: Changed, Ref: ref, GID: gid})
}

// admits reports whether gid belongs in the view: visible in the index,
// still stored and within the age limit.
func (v *View) admits(gid uint32) bool {
	if v.idx == nil || !v.idx.IsVisible(gid) {
		return false
	}
	m, err := v.src.Get(gid)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return false
	case err != nil:
		return true
	}
	return v.cutoff.IsZero() || m.Date.IsZero() || !m.Date.Before(v.cutoff)
}

func (v *View) threaded() bool {
	return v.cfg.Model == indexer.ModelThreaded
}

// listener adapts a View to the database notification interfaces.
type listener struct{ v *View }

func (l listener) MessageAdded(idx *indexer.Index, gid uint32, keyword bool) {
	l.v.membershipChanged(idx, gid, keyword, true)
}

func (l listener) MessageRemoved(idx *indexer.Index, gid uint32, keyword bool) {
	l.v.membershipChanged(idx, gid, keyword, false)
}

func (l listener) IndexesChanged(id uint32) { l.v.indexesChanged(id) }

func (l listener) MessageChanged(gid uint32) {
	if gid == msgdb.AllMessages {
		l.v.Resync()
		return
	}
	l.v.reconcile(gid)
}

func (l listener) MessageBodyChanged(gid uint32) { l.v.bodyChanged(gid) }

// membershipChanged reacts to gid entering or leaving idx. Additions are
// skipped while the database is batching; the batch ends with a resync.
// Keyword memberships follow flags, which never change which member of a
// duplicate chain is visible, so only filing changes revisit the chain.
func (v *View) membershipChanged(idx *indexer.Index, gid uint32, keyword, added bool) {
	if v.idx == nil {
		return
	}
	var appears bool
	switch {
	case v.idx.Covers(idx):
		appears = added
	case idx.IsHideable() && v.idx.HiddenBy(idx):
		appears = !added
	default:
		return
	}
	if appears && v.src.Batching() {
		return
	}
	v.reconcile(gid)
	if keyword {
		return
	}
	for _, dup := range v.src.DupChain(gid) {
		if dup != gid {
			v.reconcile(dup)
		}
	}
}

func (v *View) indexesChanged(id uint32) {
	if v.idx == nil {
		return
	}
	if id != indexer.AllIndexes && id != v.id && !slices.Contains(v.unions, id) {
		return
	}
	idx, err := v.src.Index(v.id)
	if err != nil {
		v.detach()
		return
	}
	v.idx = idx
	cur, next := v.cfg, idx.View
	cur.LastSelected, next.LastSelected = 0, 0
	if cur != next || !slices.Equal(v.unions, idx.Members) {
		if err := v.Reinit(); err != nil {
			v.logger.Warn("rebuild view failed", "index", v.id, "error", err)
		}
		return
	}
	v.cfg.LastSelected = idx.View.LastSelected
}

func (v *View) bodyChanged(gid uint32) {
	ref, ok := v.byGID[gid]
	if !ok {
		return
	}
	it := v.nodes.get(ref).item.(*MessageItem)
	it.row = nil
	if it.State == StateFetched {
		it.State = StateUnfetched
	}
	v.emit(Event{Kind: Changed, Ref: ref, GID: gid})
}

// Resync brings the view in line with its index after wholesale changes:
// items no longer visible are dropped, newly visible ones added, loading
// placeholders re-resolved and unread counts recomputed. Observers get a
// single Reset instead of per-item events.
func (v *View) Resync() {
	if v.idx == nil {
		return
	}
	v.silent = true
	gids := make([]uint32, 0, len(v.byGID))
	for gid := range v.byGID {
		gids = append(gids, gid)
	}
	slices.Sort(gids)
	for _, gid := range gids {
		ref, ok := v.byGID[gid]
		if !ok {
			continue
		}
		it := v.nodes.get(ref).item.(*MessageItem)
		switch {
		case !v.admits(gid):
			v.remove(ref)
		case !it.known:
			if _, err := v.src.Get(gid); err == nil {
				v.remove(ref)
			}
		}
	}
	for _, gid := range v.idx.VisibleGids() {
		if _, ok := v.byGID[gid]; !ok && v.admits(gid) {
			v.insert(gid)
		}
	}
	v.invalidateUnread()
	v.silent = false
	v.emit(Event{Kind: Reset})
}
