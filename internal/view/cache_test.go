package view_test

import (
	"testing"

	"github.com/wesm/msgdb/internal/indexer"
	"github.com/wesm/msgdb/internal/testutil"
	"github.com/wesm/msgdb/internal/view"
)

func TestCache_SharesViews(t *testing.T) {
	db, _ := testutil.NewTestDatabase(t)
	work := createFolder(t, db, "Work", indexer.ViewConfig{})
	c := view.NewCache(db, 2, nil)
	defer c.Close()

	h1, err := c.Acquire(work.ID)
	testutil.MustNoErr(t, err, "acquire")
	h2, err := c.Acquire(work.ID)
	testutil.MustNoErr(t, err, "acquire again")
	if h1.View() != h2.View() {
		t.Error("acquiring the same index twice built two views")
	}

	h1.Release()
	h1.Release()
	if c.Idle() != 0 {
		t.Errorf("Idle() = %d with a handle outstanding, want 0", c.Idle())
	}
	h2.Release()
	if c.Idle() != 1 || c.Len() != 1 {
		t.Errorf("Idle(), Len() = %d, %d, want 1, 1", c.Idle(), c.Len())
	}
}

func TestCache_IdleViewsStayLive(t *testing.T) {
	db, _ := testutil.NewTestDatabase(t)
	work := createFolder(t, db, "Work", indexer.ViewConfig{})
	c := view.NewCache(db, 1, nil)
	defer c.Close()

	h, err := c.Acquire(work.ID)
	testutil.MustNoErr(t, err, "acquire")
	v := h.View()
	h.Release()

	testutil.AddMessages(t, db, testutil.NewMessage("a").WithFolder(work.ID).Build())
	if v.Len() != 1 {
		t.Errorf("idle view Len() = %d, want 1", v.Len())
	}

	h, err = c.Acquire(work.ID)
	testutil.MustNoErr(t, err, "reacquire")
	if h.View() != v {
		t.Error("reacquire built a new view")
	}
	h.Release()
}

func TestCache_EvictsLeastRecentlyReleased(t *testing.T) {
	db, _ := testutil.NewTestDatabase(t)
	a := createFolder(t, db, "A", indexer.ViewConfig{})
	b := createFolder(t, db, "B", indexer.ViewConfig{})
	c := view.NewCache(db, 1, nil)
	defer c.Close()

	ha, err := c.Acquire(a.ID)
	testutil.MustNoErr(t, err, "acquire a")
	hb, err := c.Acquire(b.ID)
	testutil.MustNoErr(t, err, "acquire b")
	va := ha.View()

	ha.Release()
	hb.Release()

	if c.Cached(a.ID) {
		t.Error("view of A still cached after eviction")
	}
	if !c.Cached(b.ID) {
		t.Error("view of B evicted")
	}

	testutil.AddMessages(t, db, testutil.NewMessage("a").WithFolder(a.ID).Build())
	if va.Len() != 0 {
		t.Errorf("evicted view Len() = %d, want 0", va.Len())
	}
}

func TestCache_UnknownIndex(t *testing.T) {
	db, _ := testutil.NewTestDatabase(t)
	c := view.NewCache(db, 1, nil)
	defer c.Close()

	if _, err := c.Acquire(9999); err == nil {
		t.Error("expected error for unknown index")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}
