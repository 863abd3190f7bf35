package notify

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRegistry_DispatchOrder(t *testing.T) {
	var r Registry[string]
	r.Add("a")
	r.Add("b")
	r.Add("c")

	var got []string
	r.Each(func(s string) { got = append(got, s) })
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Errorf("dispatch order mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistry_CloseDuringDispatch(t *testing.T) {
	var r Registry[func()]
	var got []string
	var second *Subscription
	r.Add(func() {
		got = append(got, "first")
		second.Close()
	})
	second = r.Add(func() { got = append(got, "second") })
	r.Add(func() { got = append(got, "third") })

	r.Each(func(fn func()) { fn() })
	if diff := cmp.Diff([]string{"first", "third"}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestRegistry_AddDuringDispatch(t *testing.T) {
	var r Registry[func()]
	calls := 0
	r.Add(func() {
		calls++
		r.Add(func() { calls += 10 })
	})

	r.Each(func(fn func()) { fn() })
	if calls != 1 {
		t.Fatalf("calls after first dispatch = %d, want 1", calls)
	}
	r.Each(func(fn func()) { fn() })
	if calls != 12 {
		t.Errorf("calls after second dispatch = %d, want 12", calls)
	}
}

func TestSubscription_CloseTwice(t *testing.T) {
	var r Registry[int]
	s := r.Add(1)
	s.Close()
	s.Close()
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
	var nilSub *Subscription
	nilSub.Close()
}
