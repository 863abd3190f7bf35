package lexicon_test

import (
	"path/filepath"
	"testing"

	"github.com/wesm/msgdb/internal/lexicon"
	"github.com/wesm/msgdb/internal/search"
	"github.com/wesm/msgdb/internal/testutil"
)

func openLexicon(t *testing.T) *lexicon.Lexicon {
	t.Helper()
	lx, err := lexicon.Open(filepath.Join(t.TempDir(), "lexicon.db"))
	testutil.MustNoErr(t, err, "Open")
	t.Cleanup(func() { lx.Close() })
	return lx
}

func mustSearch(t *testing.T, lx *lexicon.Lexicon, q string) []uint32 {
	t.Helper()
	gids, err := lx.Search(search.Parse(q), 0)
	testutil.MustNoErr(t, err, "Search "+q)
	return gids
}

func TestLexicon_InsertAndSearch(t *testing.T) {
	lx := openLexicon(t)

	testutil.MustNoErr(t, lx.Insert(1, lexicon.Document{
		Subject: "Quarterly budget review",
		Sender:  "alice@example.com",
		Body:    "Please find the spreadsheet attached.",
	}, false), "Insert 1")
	testutil.MustNoErr(t, lx.Insert(2, lexicon.Document{
		Subject: "Lunch",
		Sender:  "bob@example.com",
		Body:    "Budget for lunch is fine.",
	}, false), "Insert 2")
	testutil.MustNoErr(t, lx.Insert(3, lexicon.Document{
		Subject: "Holiday plans",
		Sender:  "carol@example.com",
		Body:    "Nothing to see here.",
	}, false), "Insert 3")

	testutil.AssertEqualSlices(t, mustSearch(t, lx, "budget"), 1, 2)
	testutil.AssertEqualSlices(t, mustSearch(t, lx, "subject:budget"), 1)
	testutil.AssertEqualSlices(t, mustSearch(t, lx, "from:bob"), 2)
	testutil.AssertEqualSlices(t, mustSearch(t, lx, "budget spreadsheet"), 1)
	if got := mustSearch(t, lx, "nonexistent"); len(got) != 0 {
		t.Errorf("search nonexistent = %v, want none", got)
	}
}

func TestLexicon_SearchLimit(t *testing.T) {
	lx := openLexicon(t)
	for gid := uint32(1); gid <= 5; gid++ {
		testutil.MustNoErr(t, lx.Insert(gid, lexicon.Document{Subject: "weekly report"}, false), "Insert")
	}
	gids, err := lx.Search(search.Parse("report"), 2)
	testutil.MustNoErr(t, err, "Search")
	testutil.AssertEqualSlices(t, gids, 1, 2)
}

func TestLexicon_MetadataOnlyQuery(t *testing.T) {
	lx := openLexicon(t)
	testutil.MustNoErr(t, lx.Insert(1, lexicon.Document{Subject: "x"}, false), "Insert")

	gids, err := lx.Search(search.Parse("is:unread"), 0)
	testutil.MustNoErr(t, err, "Search")
	if gids != nil {
		t.Errorf("metadata-only query = %v, want nil", gids)
	}
}

func TestLexicon_SpamDropsBody(t *testing.T) {
	lx := openLexicon(t)
	doc := lexicon.Document{
		Subject: "Cheap watches",
		Sender:  "spammer@example.net",
		Body:    "unbelievable discount",
	}
	testutil.MustNoErr(t, lx.Insert(9, doc, true), "Insert spam")

	if got := mustSearch(t, lx, "unbelievable"); len(got) != 0 {
		t.Errorf("spam body searchable: %v", got)
	}
	testutil.AssertEqualSlices(t, mustSearch(t, lx, "watches"), 9)

	spam, err := lx.IsSpam(9)
	testutil.MustNoErr(t, err, "IsSpam")
	if !spam {
		t.Error("IsSpam(9) = false, want true")
	}

	// Re-inserting as ham restores the body.
	testutil.MustNoErr(t, lx.Insert(9, doc, false), "Insert ham")
	testutil.AssertEqualSlices(t, mustSearch(t, lx, "unbelievable"), 9)
	spam, err = lx.IsSpam(9)
	testutil.MustNoErr(t, err, "IsSpam")
	if spam {
		t.Error("IsSpam(9) = true after ham insert")
	}
}

func TestLexicon_ReplaceAndRemove(t *testing.T) {
	lx := openLexicon(t)
	testutil.MustNoErr(t, lx.Insert(4, lexicon.Document{Subject: "draft agenda"}, false), "Insert")
	testutil.MustNoErr(t, lx.Insert(4, lexicon.Document{Subject: "final agenda"}, false), "Insert again")

	if got := mustSearch(t, lx, "draft"); len(got) != 0 {
		t.Errorf("stale entry still searchable: %v", got)
	}
	testutil.AssertEqualSlices(t, mustSearch(t, lx, "final"), 4)

	n, err := lx.Count()
	testutil.MustNoErr(t, err, "Count")
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}

	testutil.MustNoErr(t, lx.Remove(4), "Remove")
	testutil.MustNoErr(t, lx.Remove(4), "Remove again")
	ok, err := lx.Contains(4)
	testutil.MustNoErr(t, err, "Contains")
	if ok {
		t.Error("Contains(4) after Remove")
	}
	if got := mustSearch(t, lx, "agenda"); len(got) != 0 {
		t.Errorf("removed entry searchable: %v", got)
	}
}

func TestLexicon_InvalidUTF8(t *testing.T) {
	lx := openLexicon(t)
	testutil.MustNoErr(t, lx.Insert(1, lexicon.Document{Subject: "Caf\xe9 menu"}, false), "Insert")
	testutil.AssertEqualSlices(t, mustSearch(t, lx, "menu"), 1)
}

func TestLexicon_Commit(t *testing.T) {
	lx := openLexicon(t)
	if !lx.FullyCommitted() {
		t.Fatal("fresh lexicon should be fully committed")
	}
	testutil.MustNoErr(t, lx.Insert(1, lexicon.Document{Subject: "x"}, false), "Insert")
	if lx.FullyCommitted() {
		t.Error("FullyCommitted after Insert, want false")
	}
	testutil.MustNoErr(t, lx.Commit(), "Commit")
	if !lx.FullyCommitted() {
		t.Error("FullyCommitted after Commit, want true")
	}

	// Removing an unknown gid leaves nothing to commit.
	testutil.MustNoErr(t, lx.Remove(42), "Remove unknown")
	if !lx.FullyCommitted() {
		t.Error("Remove of unknown gid dirtied the lexicon")
	}
}

func TestLexicon_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexicon.db")
	lx, err := lexicon.Open(path)
	testutil.MustNoErr(t, err, "Open")
	testutil.MustNoErr(t, lx.Insert(7, lexicon.Document{Subject: "persistent"}, false), "Insert")
	testutil.MustNoErr(t, lx.Commit(), "Commit")
	testutil.MustNoErr(t, lx.Close(), "Close")

	lx, err = lexicon.Open(path)
	testutil.MustNoErr(t, err, "Reopen")
	defer lx.Close()
	testutil.AssertEqualSlices(t, mustSearch(t, lx, "persistent"), 7)
}
