package view

import (
	"cmp"
	"slices"
	"strings"

	"github.com/wesm/msgdb/internal/indexer"
	"github.com/wesm/msgdb/internal/store"
	"github.com/wesm/msgdb/internal/textutil"
)

func (it *MessageItem) setMsg(m store.Message) {
	it.msg = m
	it.known = true
}

// reconcile brings gid's presence in the view in line with the index.
func (v *View) reconcile(gid uint32) {
	ref, have := v.byGID[gid]
	want := v.admits(gid)
	switch {
	case want && !have:
		v.insert(gid)
	case !want && have:
		v.remove(ref)
	case want && have:
		v.refresh(ref)
	}
}

func (v *View) message(ref Ref) *MessageItem {
	n := v.nodes.get(ref)
	if n == nil {
		return nil
	}
	it, _ := n.item.(*MessageItem)
	return it
}

// insert adds gid to the view, placing it under its thread parent when
// one is visible. Ancestors that are visible but missing are inserted
// first.
func (v *View) insert(gid uint32) Ref {
	if ref, ok := v.byGID[gid]; ok {
		return ref
	}
	it := newMessageItem(gid)
	if m, err := v.src.Get(gid); err == nil {
		it.setMsg(m)
	} else {
		it.State = StateLoading
	}

	parent := NoRef
	if v.threaded() && it.known {
		v.inserting[gid] = true
		parent = v.resolveParent(it.msg)
		delete(v.inserting, gid)
	}
	if ref, ok := v.byGID[gid]; ok {
		return ref
	}

	ref := v.nodes.alloc(it, NoRef)
	v.byGID[gid] = ref
	var pos int
	if parent.Valid() {
		pos = v.attach(ref, parent)
	} else {
		parent, pos = v.attachTop(ref)
		v.noteOrphan(it)
	}
	v.invalidateUnread()
	v.emit(Event{Kind: Inserted, Ref: ref, GID: gid, Parent: parent, Index: pos})

	if p := v.message(parent); p != nil {
		v.emit(Event{Kind: Changed, Ref: parent, GID: p.GID})
		v.regroup(v.threadRoot(parent))
	}
	v.adopt(gid)
	return ref
}

// remove deletes ref from the view. Its replies are placed again: under
// another visible ancestor when one is close enough, otherwise as roots
// waiting to be adopted should the removed message return.
func (v *View) remove(ref Ref) {
	n := v.nodes.get(ref)
	it := n.item.(*MessageItem)
	parent := n.parent
	children := slices.Clone(n.children)

	pos := v.nodes.detach(ref)
	delete(v.byGID, it.GID)
	v.fetch.forget(it.GID)
	v.invalidateUnread()
	v.emit(Event{Kind: Removed, Ref: ref, GID: it.GID, OldParent: parent, Index: pos})

	for _, c := range children {
		v.nodes.detach(c)
		v.place(c, ref)
	}
	v.nodes.release(ref)

	if p := v.message(parent); p != nil {
		v.emit(Event{Kind: Changed, Ref: parent, GID: p.GID})
		v.regroup(v.threadRoot(parent))
	}
}

// place attaches a detached node at its proper position and reports the
// move from oldParent.
func (v *View) place(ref, oldParent Ref) {
	it := v.message(ref)
	parent := NoRef
	if v.threaded() && it.known {
		parent = v.resolveParent(it.msg)
		if parent == ref || v.isAncestor(ref, parent) {
			parent = NoRef
		}
	}
	var pos int
	if parent.Valid() {
		pos = v.attach(ref, parent)
	} else {
		parent, pos = v.attachTop(ref)
		v.noteOrphan(it)
	}
	v.emit(Event{Kind: Moved, Ref: ref, GID: it.GID, Parent: parent, OldParent: oldParent, Index: pos})
	if p := v.message(parent); p != nil {
		v.regroup(v.threadRoot(parent))
	}
}

// refresh re-reads ref's metadata and repositions it when its thread
// parent, sort key or group changed. Changed is emitted for the item and
// every ancestor up to its thread root, and for a former parent it left.
func (v *View) refresh(ref Ref) {
	it := v.message(ref)
	m, err := v.src.Get(it.GID)
	if err != nil {
		return
	}
	old, wasKnown := it.msg, it.known
	it.setMsg(m)
	it.row = nil
	if it.State != StateGhost {
		it.State = StateUnfetched
	}

	switch {
	case v.threaded() && (!wasKnown || old.ParentID != m.ParentID):
		oldParent := v.nodes.get(ref).parent
		v.nodes.detach(ref)
		v.place(ref, oldParent)
		if p := v.message(oldParent); p != nil && v.nodes.get(ref).parent != oldParent {
			v.emit(Event{Kind: Changed, Ref: oldParent, GID: p.GID})
			v.regroup(v.threadRoot(oldParent))
		}
	case !wasKnown || old.Date != m.Date || old.Subject != m.Subject:
		v.reposition(ref)
	}
	v.regroup(v.threadRoot(ref))
	v.invalidateUnread()

	for r := ref; ; {
		mi := v.message(r)
		if mi == nil {
			break
		}
		v.emit(Event{Kind: Changed, Ref: r, GID: mi.GID})
		r = v.nodes.get(r).parent
	}
}

// reposition restores sibling order after ref's sort key changed.
func (v *View) reposition(ref Ref) {
	parent := v.nodes.get(ref).parent
	oldPos := v.nodes.detach(ref)
	pos := v.attach(ref, parent)
	if pos != oldPos {
		it := v.message(ref)
		v.emit(Event{Kind: Moved, Ref: ref, GID: it.GID, Parent: parent, OldParent: parent, Index: pos})
	}
}

// moveTo reattaches ref under parent.
func (v *View) moveTo(ref, parent Ref) {
	oldParent := v.nodes.get(ref).parent
	v.nodes.detach(ref)
	pos := v.attach(ref, parent)
	it := v.message(ref)
	v.emit(Event{Kind: Moved, Ref: ref, GID: it.GID, Parent: parent, OldParent: oldParent, Index: pos})
}

// resolveParent finds the node a message hangs under: the nearest
// visible ancestor within MaxAncestorHops parent links, or a visible
// duplicate of it. Ancestors currently being inserted are skipped, which
// breaks reference cycles.
func (v *View) resolveParent(m store.Message) Ref {
	cur := m.ParentID
	for hop := 0; hop < MaxAncestorHops && cur != 0 && cur != m.GID; hop++ {
		if gid, ok := v.visibleInChain(cur); ok {
			if ref, present := v.byGID[gid]; present {
				return ref
			}
			if v.inserting[gid] {
				return NoRef
			}
			return v.insert(gid)
		}
		pm, err := v.src.Get(cur)
		if err != nil {
			return NoRef
		}
		cur = pm.ParentID
	}
	return NoRef
}

func (v *View) visibleInChain(gid uint32) (uint32, bool) {
	for _, dup := range v.src.DupChain(gid) {
		if v.admits(dup) {
			return dup, true
		}
	}
	return 0, false
}

// noteOrphan records a root whose thread parent is not in the view.
func (v *View) noteOrphan(it *MessageItem) {
	if !v.threaded() || !it.known || it.msg.ParentID == 0 {
		return
	}
	p := it.msg.ParentID
	if !slices.Contains(v.orphans[p], it.GID) {
		v.orphans[p] = append(v.orphans[p], it.GID)
	}
}

// adopt moves roots waiting for gid, or for a duplicate of it, under
// their newly visible parent.
func (v *View) adopt(gid uint32) {
	if !v.threaded() {
		return
	}
	for _, dup := range v.src.DupChain(gid) {
		kids, ok := v.orphans[dup]
		if !ok {
			continue
		}
		delete(v.orphans, dup)
		for _, kid := range kids {
			ref, ok := v.byGID[kid]
			if !ok || !v.isTop(ref) {
				continue
			}
			it := v.message(ref)
			parent := v.resolveParent(it.msg)
			if !parent.Valid() || parent == ref || v.isAncestor(ref, parent) {
				v.noteOrphan(it)
				continue
			}
			v.moveTo(ref, parent)
			v.regroup(v.threadRoot(parent))
		}
	}
}

// attachTop attaches a thread root under its group header, or at the top
// level of ungrouped views.
func (v *View) attachTop(ref Ref) (Ref, int) {
	if len(v.headers) == 0 {
		return v.root, v.attach(ref, v.root)
	}
	g := groupOf(v.headerItems, v.summarize(ref))
	v.message(ref).groups[v.cfg.Grouping] = g
	h := v.headers[g]
	return h, v.attach(ref, h)
}

// regroup moves a thread root to the header its thread now belongs to.
// The root caches its group, so a thread that stays put is not moved.
func (v *View) regroup(root Ref) {
	if len(v.headers) == 0 || !v.isTop(root) {
		return
	}
	it := v.message(root)
	g := groupOf(v.headerItems, v.summarize(root))
	if it.groups[v.cfg.Grouping] == g {
		return
	}
	it.groups[v.cfg.Grouping] = g
	v.moveTo(root, v.headers[g])
}

// GroupOf returns the header ref's thread is filed under. It reports
// false for ungrouped views and for nodes that are not messages.
func (v *View) GroupOf(ref Ref) (Ref, bool) {
	if len(v.headers) == 0 || v.message(ref) == nil {
		return NoRef, false
	}
	g := v.message(v.threadRoot(ref)).groups[v.cfg.Grouping]
	if g < 0 || g >= len(v.headers) {
		return NoRef, false
	}
	return v.headers[g], true
}

func (v *View) summarize(ref Ref) summary {
	var s summary
	v.eachMessage(ref, func(it *MessageItem) {
		if it.known {
			s.add(it.msg)
		}
	})
	return s
}

// isTop reports whether ref is a thread root.
func (v *View) isTop(ref Ref) bool {
	n := v.nodes.get(ref)
	return n != nil && v.message(n.parent) == nil
}

func (v *View) threadRoot(ref Ref) Ref {
	for {
		n := v.nodes.get(ref)
		if n == nil || v.message(n.parent) == nil {
			return ref
		}
		ref = n.parent
	}
}

// isAncestor reports whether a is an ancestor of b.
func (v *View) isAncestor(a, b Ref) bool {
	for n := v.nodes.get(b); n != nil; n = v.nodes.get(n.parent) {
		if n.parent == a {
			return true
		}
	}
	return false
}

// attach inserts ref among parent's children in sort order and returns
// its position.
func (v *View) attach(ref, parent Ref) int {
	top := v.message(parent) == nil
	a := v.message(ref)
	if !top {
		// Only thread roots carry a group.
		a.resetGroups()
	}
	children := v.nodes.get(parent).children
	pos, _ := slices.BinarySearchFunc(children, a, func(c Ref, target *MessageItem) int {
		return v.compare(v.message(c), target, top)
	})
	v.nodes.insertChild(parent, ref, pos)
	return pos
}

// compare orders thread roots by the view's sort key and replies by date.
// Ties fall back to gid so the order is total.
func (v *View) compare(a, b *MessageItem, top bool) int {
	if !top {
		if c := a.msg.Date.Compare(b.msg.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.GID, b.GID)
	}
	var c int
	switch v.cfg.Sort {
	case indexer.SortDate:
		c = a.msg.Date.Compare(b.msg.Date)
	case indexer.SortSubject:
		c = strings.Compare(textutil.SortKey(a.msg.Subject), textutil.SortKey(b.msg.Subject))
	}
	if c == 0 {
		c = cmp.Compare(a.GID, b.GID)
	}
	if v.cfg.SortDesc {
		c = -c
	}
	return c
}
