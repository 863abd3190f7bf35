package view

import "slices"

// Ref identifies a node in a view. Refs stay valid until their node is
// removed; a stale Ref never resolves to a newer node in the same slot.
type Ref struct {
	slot uint32
	gen  uint32
}

// NoRef is the zero Ref; it never refers to a node.
var NoRef Ref

// Valid reports whether r could refer to a node.
func (r Ref) Valid() bool { return r.slot != 0 }

type node struct {
	gen      uint32
	used     bool
	item     Item // nil for the root
	parent   Ref
	children []Ref
}

// arena stores nodes in a slice. Slot 0 is never used so that the zero
// Ref is invalid.
type arena struct {
	nodes []node
	free  []uint32
	live  int
}

func newArena() arena {
	return arena{nodes: make([]node, 1)}
}

func (a *arena) alloc(item Item, parent Ref) Ref {
	var slot uint32
	if n := len(a.free); n > 0 {
		slot = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.nodes = append(a.nodes, node{})
		slot = uint32(len(a.nodes) - 1)
	}
	n := &a.nodes[slot]
	n.gen++
	n.used = true
	n.item = item
	n.parent = parent
	n.children = nil
	a.live++
	return Ref{slot: slot, gen: n.gen}
}

func (a *arena) get(r Ref) *node {
	if r.slot == 0 || int(r.slot) >= len(a.nodes) {
		return nil
	}
	n := &a.nodes[r.slot]
	if !n.used || n.gen != r.gen {
		return nil
	}
	return n
}

func (a *arena) release(r Ref) {
	n := a.get(r)
	if n == nil {
		return
	}
	n.used = false
	n.item = nil
	n.children = nil
	n.parent = NoRef
	a.free = append(a.free, r.slot)
	a.live--
}

// insertChild places child at position pos among parent's children.
func (a *arena) insertChild(parent, child Ref, pos int) {
	p := a.get(parent)
	p.children = slices.Insert(p.children, pos, child)
	a.get(child).parent = parent
}

// detach removes child from its parent's children and returns the
// position it held, or -1.
func (a *arena) detach(child Ref) int {
	c := a.get(child)
	if c == nil {
		return -1
	}
	p := a.get(c.parent)
	if p == nil {
		return -1
	}
	pos := slices.Index(p.children, child)
	if pos >= 0 {
		p.children = slices.Delete(p.children, pos, pos+1)
	}
	c.parent = NoRef
	return pos
}
