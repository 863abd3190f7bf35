package lexicon

import (
	"fmt"
	"strings"

	"github.com/wesm/msgdb/internal/search"
	"github.com/wesm/msgdb/internal/textutil"
)

// Search returns the gids whose entries match every text, from: and
// subject: term of q, in ascending gid order. limit <= 0 means no limit.
// Terms the lexicon does not index (dates, sizes) are ignored here.
func (l *Lexicon) Search(q *search.Query, limit int) ([]uint32, error) {
	if len(q.TextTerms) == 0 && len(q.FromAddrs) == 0 && len(q.SubjectTerms) == 0 {
		return nil, nil
	}

	var query string
	var args []any
	if l.fts5 {
		query = `SELECT rowid FROM lexicon_fts WHERE lexicon_fts MATCH ? ORDER BY rowid`
		args = append(args, matchExpr(q))
	} else {
		var conds []string
		for _, term := range q.TextTerms {
			conds = append(conds, "(subject LIKE ? OR sender LIKE ? OR body LIKE ?)")
			p := likePattern(term)
			args = append(args, p, p, p)
		}
		for _, addr := range q.FromAddrs {
			conds = append(conds, "sender LIKE ?")
			args = append(args, likePattern(addr))
		}
		for _, term := range q.SubjectTerms {
			conds = append(conds, "subject LIKE ?")
			args = append(args, likePattern(term))
		}
		query = `SELECT gid FROM lexicon_plain WHERE ` + strings.Join(conds, " AND ") + ` ORDER BY gid`
	}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("search lexicon: %w", err)
	}
	defer rows.Close()

	var gids []uint32
	for rows.Next() {
		var gid int64
		if err := rows.Scan(&gid); err != nil {
			return nil, err
		}
		gids = append(gids, uint32(gid))
	}
	return gids, rows.Err()
}

// matchExpr builds an FTS5 query with every term as a quoted phrase.
func matchExpr(q *search.Query) string {
	var parts []string
	for _, term := range q.TextTerms {
		parts = append(parts, quotePhrase(term))
	}
	for _, addr := range q.FromAddrs {
		parts = append(parts, "sender : "+quotePhrase(addr))
	}
	for _, term := range q.SubjectTerms {
		parts = append(parts, "subject : "+quotePhrase(term))
	}
	return strings.Join(parts, " AND ")
}

func quotePhrase(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func likePattern(term string) string {
	return "%" + textutil.Fold(term) + "%"
}
