package view

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wesm/msgdb/internal/indexer"
	"github.com/wesm/msgdb/internal/loop"
	"github.com/wesm/msgdb/internal/testutil"
)

func newTestThrottle(clock *loop.Virtual, limit, batch, capacity int) (*throttle, *[]uint32) {
	var resolved []uint32
	opts := DefaultOptions()
	opts.FetchLimit = limit
	opts.FetchBatch = batch
	opts.FetchQueue = capacity
	t := newThrottle(clock, opts, func(gid uint32) { resolved = append(resolved, gid) })
	return t, &resolved
}

func TestThrottle_WindowResets(t *testing.T) {
	clock := loop.NewVirtual(time.Date(2024, 6, 14, 10, 0, 0, 0, time.UTC))
	th, _ := newTestThrottle(clock, 2, 20, 100)

	for i, want := range []bool{true, true, false, false} {
		if got := th.allow(); got != want {
			t.Errorf("allow() #%d = %v, want %v", i, got, want)
		}
	}
	clock.Advance(time.Second)
	if !th.allow() {
		t.Error("allow() after window = false, want true")
	}
}

func TestThrottle_ResolvesMostRecentFirst(t *testing.T) {
	clock := loop.NewVirtual(time.Date(2024, 6, 14, 10, 0, 0, 0, time.UTC))
	th, resolved := newTestThrottle(clock, 0, 2, 100)

	for _, gid := range []uint32{1, 2, 3, 2} {
		th.deferFetch(gid)
	}
	if th.queued() != 3 {
		t.Fatalf("queued() = %d, want 3", th.queued())
	}

	// 2 was asked for again, so it is now the most recent request.
	clock.Advance(100 * time.Millisecond)
	if diff := cmp.Diff([]uint32{2, 3}, *resolved); diff != "" {
		t.Errorf("first tick mismatch (-want +got):\n%s", diff)
	}
	clock.Advance(100 * time.Millisecond)
	if diff := cmp.Diff([]uint32{2, 3, 1}, *resolved); diff != "" {
		t.Errorf("second tick mismatch (-want +got):\n%s", diff)
	}
	if clock.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0 once drained", clock.Pending())
	}
}

func TestThrottle_DropsOldestWhenFull(t *testing.T) {
	clock := loop.NewVirtual(time.Date(2024, 6, 14, 10, 0, 0, 0, time.UTC))
	th, resolved := newTestThrottle(clock, 0, 20, 3)

	for gid := uint32(1); gid <= 5; gid++ {
		th.deferFetch(gid)
	}
	th.forget(4)
	clock.Advance(100 * time.Millisecond)
	if diff := cmp.Diff([]uint32{5, 3}, *resolved); diff != "" {
		t.Errorf("resolved mismatch (-want +got):\n%s", diff)
	}
}

func TestThrottle_StopCancelsTick(t *testing.T) {
	clock := loop.NewVirtual(time.Date(2024, 6, 14, 10, 0, 0, 0, time.UTC))
	th, resolved := newTestThrottle(clock, 0, 20, 100)
	th.deferFetch(1)
	th.stop()
	clock.Advance(time.Second)
	if len(*resolved) != 0 {
		t.Errorf("resolved = %v after stop, want none", *resolved)
	}
}

func TestView_RepeatedRowRequestsAreNotCharged(t *testing.T) {
	db, _ := testutil.NewTestDatabase(t)
	work, err := db.Indexer().CreateIndex(indexer.Info{Name: "Work", Kind: indexer.KindFolder, Visible: true})
	testutil.MustNoErr(t, err, "create folder")
	for i := range 60 {
		testutil.AddMessages(t, db, testutil.NewMessage(fmt.Sprintf("m%d", i)).WithFolder(work.ID).Build())
	}
	v, err := New(db, work.ID, nil)
	testutil.MustNoErr(t, err, "New")
	defer v.Close()

	roots := v.Roots()
	for _, ref := range roots {
		v.Row(ref)
	}
	if v.fetch.count != 60 || v.fetch.queued() != 10 {
		t.Fatalf("count = %d, queued = %d; want 60 and 10", v.fetch.count, v.fetch.queued())
	}

	oldest := v.message(roots[50]).GID
	if v.fetch.queue[0] != oldest {
		t.Fatalf("queue head = %d, want %d", v.fetch.queue[0], oldest)
	}
	for range 3 {
		if row, _ := v.Row(roots[50]); row.State != StateLoading {
			t.Fatalf("state = %v, want loading", row.State)
		}
	}
	if v.fetch.count != 60 {
		t.Errorf("count = %d after repeated requests, want 60", v.fetch.count)
	}
	if v.fetch.queued() != 10 {
		t.Errorf("queued = %d, want 10", v.fetch.queued())
	}
	if last := v.fetch.queue[len(v.fetch.queue)-1]; last != oldest {
		t.Errorf("most recent request = %d, want %d", last, oldest)
	}
}
