package view

import (
	"time"

	"github.com/wesm/msgdb/internal/indexer"
	"github.com/wesm/msgdb/internal/store"
)

// summary condenses a thread (or a single message in flat views) into
// the values headers group by.
type summary struct {
	latest  time.Time
	flagged bool
	unread  bool
}

func (s *summary) add(m store.Message) {
	if m.Date.After(s.latest) {
		s.latest = m.Date
	}
	if m.Flags.Has(store.FlagFlagged) {
		s.flagged = true
	}
	if !m.Flags.Has(store.FlagRead) {
		s.unread = true
	}
}

type headerDef struct {
	title string
	match func(summary) bool
}

// headerDefs returns the headers of a grouping. Header 0 is the catch-all;
// the rest are tried last to first, so later headers are narrower.
func headerDefs(g indexer.Grouping, now time.Time) []headerDef {
	switch g {
	case indexer.GroupDate:
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		before := func(t time.Time) func(summary) bool {
			return func(s summary) bool { return s.latest.Before(t) }
		}
		return []headerDef{
			{title: "Today"},
			{title: "Yesterday", match: before(today)},
			{title: "Last 7 days", match: before(today.AddDate(0, 0, -1))},
			{title: "Last 30 days", match: before(today.AddDate(0, 0, -7))},
			{title: "Older", match: before(today.AddDate(0, 0, -30))},
		}
	case indexer.GroupFlag:
		return []headerDef{
			{title: "Not flagged"},
			{title: "Flagged", match: func(s summary) bool { return s.flagged }},
		}
	case indexer.GroupRead:
		return []headerDef{
			{title: "Read"},
			{title: "Unread", match: func(s summary) bool { return s.unread }},
		}
	}
	return nil
}

// groupOf returns the header a summary belongs to.
func groupOf(headers []*HeaderItem, s summary) int {
	for i := len(headers) - 1; i > 0; i-- {
		if headers[i].match(s) {
			return i
		}
	}
	return 0
}
