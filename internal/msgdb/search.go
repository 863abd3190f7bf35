package msgdb

import (
	"errors"
	"fmt"
	"slices"

	"github.com/wesm/msgdb/internal/indexer"
	"github.com/wesm/msgdb/internal/search"
	"github.com/wesm/msgdb/internal/store"
)

// ErrEmptyQuery is returned for queries without any criteria.
var ErrEmptyQuery = errors.New("empty search query")

func (db *Database) parseQuery(query string) *search.Query {
	p := &search.Parser{Now: db.sched.Now}
	return p.Parse(query)
}

// Search returns the live gids matching query in ascending order. Text
// terms are answered by the lexicon, the rest by message metadata.
func (db *Database) Search(query string) ([]uint32, error) {
	q := db.parseQuery(query)
	if q.IsEmpty() {
		return nil, ErrEmptyQuery
	}
	return db.match(q)
}

func (db *Database) match(q *search.Query) ([]uint32, error) {
	var out []uint32
	if q.HasTextTerms() {
		gids, err := db.Lexicon().Search(q, 0)
		if err != nil {
			return nil, err
		}
		for _, gid := range gids {
			m, err := db.store.Get(gid)
			if err != nil {
				continue
			}
			if q.MatchesMetadata(m) {
				out = append(out, gid)
			}
		}
		return out, nil
	}
	db.store.All(func(m store.Message) bool {
		if q.MatchesMetadata(m) {
			out = append(out, m.GID)
		}
		return true
	})
	return out, nil
}

// CreateSearchIndex stores the result of query as a new search index.
func (db *Database) CreateSearchIndex(name, query string) (*indexer.Index, error) {
	q := db.parseQuery(query)
	if q.IsEmpty() {
		return nil, ErrEmptyQuery
	}
	gids, err := db.match(q)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}

	idx, err := db.ix.CreateIndex(indexer.Info{
		Name:    name,
		Kind:    indexer.KindSearch,
		Query:   query,
		Visible: true,
		View:    indexer.ViewConfig{Sort: indexer.SortDate, SortDesc: true},
	})
	if err != nil {
		return nil, err
	}

	batch := db.BeginBatch(len(gids))
	defer batch.End()
	for _, gid := range gids {
		if err := db.ix.AddToIndex(idx.ID, gid); err != nil {
			return idx, err
		}
	}
	db.RequestCommit()
	return idx, nil
}

// RefreshSearchIndex re-runs a search index's query, adding new matches
// and dropping members that no longer match. It returns the number of
// members added and removed.
func (db *Database) RefreshSearchIndex(id uint32) (added, removed int, err error) {
	idx, err := db.ix.Index(id)
	if err != nil {
		return 0, 0, err
	}
	if idx.Kind != indexer.KindSearch {
		return 0, 0, fmt.Errorf("refresh %s: not a search index", idx.Name)
	}
	gids, err := db.match(db.parseQuery(idx.Query))
	if err != nil {
		return 0, 0, fmt.Errorf("search %q: %w", idx.Query, err)
	}

	current := idx.Gids()
	var toAdd, toRemove []uint32
	for _, gid := range gids {
		if _, found := slices.BinarySearch(current, gid); !found {
			toAdd = append(toAdd, gid)
		}
	}
	for _, gid := range current {
		if _, found := slices.BinarySearch(gids, gid); !found {
			toRemove = append(toRemove, gid)
		}
	}

	batch := db.BeginBatch(len(toAdd) + len(toRemove))
	defer batch.End()
	for _, gid := range toAdd {
		if err := db.ix.AddToIndex(id, gid); err != nil {
			return added, removed, err
		}
		added++
	}
	for _, gid := range toRemove {
		if err := db.ix.RemoveFromIndex(id, gid); err != nil {
			return added, removed, err
		}
		removed++
	}
	if added > 0 || removed > 0 {
		db.RequestCommit()
	}
	return added, removed, nil
}
