package view

import (
	"container/list"
	"log/slog"
)

// Cache shares views between users of the same index. Views stay live
// while acquired; released views are kept up to date in an LRU of
// bounded size and closed when evicted.
type Cache struct {
	src      Source
	opts     *Options
	capacity int
	logger   *slog.Logger

	views map[uint32]*cacheEntry
	idle  *list.List // of *cacheEntry, most recently released first
}

type cacheEntry struct {
	view *View
	refs int
	elem *list.Element
}

// Handle is one acquisition of a cached view.
type Handle struct {
	c        *Cache
	e        *cacheEntry
	released bool
}

// NewCache creates a cache keeping up to capacity released views.
func NewCache(src Source, capacity int, opts *Options) *Cache {
	return &Cache{
		src:      src,
		opts:     opts,
		capacity: capacity,
		logger:   slog.Default(),
		views:    make(map[uint32]*cacheEntry),
		idle:     list.New(),
	}
}

// WithLogger sets the logger for the cache and the views it creates.
func (c *Cache) WithLogger(logger *slog.Logger) *Cache {
	c.logger = logger
	return c
}

// Acquire returns a handle on the view of indexID, building the view on
// first use.
func (c *Cache) Acquire(indexID uint32) (*Handle, error) {
	e, ok := c.views[indexID]
	if !ok {
		v, err := New(c.src, indexID, c.opts)
		if err != nil {
			return nil, err
		}
		v.WithLogger(c.logger)
		e = &cacheEntry{view: v}
		c.views[indexID] = e
	}
	if e.elem != nil {
		c.idle.Remove(e.elem)
		e.elem = nil
	}
	e.refs++
	return &Handle{c: c, e: e}, nil
}

// View returns the acquired view.
func (h *Handle) View() *View { return h.e.view }

// Release gives up the handle. Releasing twice is a no-op.
func (h *Handle) Release() {
	if h.released {
		return
	}
	h.released = true
	h.c.release(h.e)
}

func (c *Cache) release(e *cacheEntry) {
	e.refs--
	if e.refs > 0 {
		return
	}
	e.elem = c.idle.PushFront(e)
	for c.idle.Len() > c.capacity {
		victim := c.idle.Remove(c.idle.Back()).(*cacheEntry)
		victim.elem = nil
		victim.view.Close()
		delete(c.views, victim.view.IndexID())
		c.logger.Debug("evicted view", "index", victim.view.IndexID())
	}
}

// Len returns the number of views held, acquired or idle.
func (c *Cache) Len() int { return len(c.views) }

// Idle returns the number of released views kept.
func (c *Cache) Idle() int { return c.idle.Len() }

// Cached reports whether a view of indexID is held.
func (c *Cache) Cached(indexID uint32) bool {
	_, ok := c.views[indexID]
	return ok
}

// Close closes every view, acquired or not.
func (c *Cache) Close() {
	for id, e := range c.views {
		e.view.Close()
		delete(c.views, id)
	}
	c.idle.Init()
}
