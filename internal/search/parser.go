// Package search parses the query language used to build search indexes.
package search

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wesm/msgdb/internal/store"
)

// Query is a parsed search query. Text, from: and subject: terms are
// answered by the lexicon; the remaining filters apply to message metadata.
type Query struct {
	TextTerms    []string   // Full-text search terms
	FromAddrs    []string   // from: filters
	SubjectTerms []string   // subject: filters
	BeforeDate   *time.Time // before: filter
	AfterDate    *time.Time // after: filter
	LargerThan   *int64     // larger: filter (bytes)
	SmallerThan  *int64     // smaller: filter (bytes)
	AccountID    *int64     // account: filter
	Unread       *bool      // is:unread / is:read
	Flagged      *bool      // is:flagged / is:unflagged
}

// IsEmpty returns true if the query has no search criteria.
func (q *Query) IsEmpty() bool {
	return !q.HasTextTerms() && !q.HasMetadataFilters()
}

// HasTextTerms reports whether the query needs the lexicon.
func (q *Query) HasTextTerms() bool {
	return len(q.TextTerms) > 0 || len(q.FromAddrs) > 0 || len(q.SubjectTerms) > 0
}

// HasMetadataFilters reports whether the query filters on metadata.
func (q *Query) HasMetadataFilters() bool {
	return q.BeforeDate != nil ||
		q.AfterDate != nil ||
		q.LargerThan != nil ||
		q.SmallerThan != nil ||
		q.AccountID != nil ||
		q.Unread != nil ||
		q.Flagged != nil
}

// MatchesMetadata reports whether m passes every metadata filter.
func (q *Query) MatchesMetadata(m store.Message) bool {
	if q.BeforeDate != nil && !m.Date.Before(*q.BeforeDate) {
		return false
	}
	if q.AfterDate != nil && m.Date.Before(*q.AfterDate) {
		return false
	}
	if q.LargerThan != nil && m.Size <= *q.LargerThan {
		return false
	}
	if q.SmallerThan != nil && m.Size >= *q.SmallerThan {
		return false
	}
	if q.AccountID != nil && m.AccountID != *q.AccountID {
		return false
	}
	if q.Unread != nil && m.Flags.Has(store.FlagRead) == *q.Unread {
		return false
	}
	if q.Flagged != nil && m.Flags.Has(store.FlagFlagged) != *q.Flagged {
		return false
	}
	return true
}

// operatorFn handles a parsed operator:value pair by applying it to the query.
// It reports false when the value is not understood.
type operatorFn func(q *Query, value string, now time.Time) bool

func setBool(p **bool, v bool) bool {
	*p = &v
	return true
}

var operators = map[string]operatorFn{
	"from": func(q *Query, v string, _ time.Time) bool {
		q.FromAddrs = append(q.FromAddrs, strings.ToLower(v))
		return true
	},
	"subject": func(q *Query, v string, _ time.Time) bool {
		q.SubjectTerms = append(q.SubjectTerms, v)
		return true
	},
	"is": func(q *Query, v string, _ time.Time) bool {
		switch strings.ToLower(v) {
		case "unread":
			return setBool(&q.Unread, true)
		case "read":
			return setBool(&q.Unread, false)
		case "flagged", "starred":
			return setBool(&q.Flagged, true)
		case "unflagged":
			return setBool(&q.Flagged, false)
		}
		return false
	},
	"account": func(q *Query, v string, _ time.Time) bool {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return false
		}
		q.AccountID = &id
		return true
	},
	"before": func(q *Query, v string, _ time.Time) bool {
		t := parseDate(v)
		q.BeforeDate = t
		return t != nil
	},
	"after": func(q *Query, v string, _ time.Time) bool {
		t := parseDate(v)
		q.AfterDate = t
		return t != nil
	},
	"older_than": func(q *Query, v string, now time.Time) bool {
		t := parseRelativeDate(v, now)
		q.BeforeDate = t
		return t != nil
	},
	"newer_than": func(q *Query, v string, now time.Time) bool {
		t := parseRelativeDate(v, now)
		q.AfterDate = t
		return t != nil
	},
	"larger": func(q *Query, v string, _ time.Time) bool {
		size := parseSize(v)
		q.LargerThan = size
		return size != nil
	},
	"smaller": func(q *Query, v string, _ time.Time) bool {
		size := parseSize(v)
		q.SmallerThan = size
		return size != nil
	},
}

// Parser holds configuration for query parsing.
type Parser struct {
	Now func() time.Time // Time source (mockable for testing)
}

// NewParser creates a Parser with default settings.
func NewParser() *Parser {
	return &Parser{Now: func() time.Time { return time.Now().UTC() }}
}

// Parse parses a query string.
//
// Supported operators:
//   - from:, subject: - sender and subject text
//   - is:unread, is:read, is:flagged, is:unflagged - status filters
//   - account: - account id filter
//   - before:, after: - date filters (YYYY-MM-DD)
//   - older_than:, newer_than: - relative date filters (e.g., 7d, 2w, 1m, 1y)
//   - larger:, smaller: - size filters (e.g., 5M, 100K)
//   - Bare words and "quoted phrases" - full-text search
//
// Unknown operators and unparseable values are kept as text terms.
func (p *Parser) Parse(queryStr string) *Query {
	q := &Query{}
	now := time.Now().UTC()
	if p.Now != nil {
		now = p.Now()
	}

	for _, token := range tokenize(queryStr) {
		if isQuotedPhrase(token) {
			q.TextTerms = append(q.TextTerms, unquote(token))
			continue
		}
		if idx := strings.Index(token, ":"); idx > 0 {
			op := strings.ToLower(token[:idx])
			value := unquote(token[idx+1:])
			if handler, ok := operators[op]; ok && handler(q, value, now) {
				continue
			}
		}
		q.TextTerms = append(q.TextTerms, token)
	}
	return q
}

// Parse is a convenience function that parses using default settings.
func Parse(queryStr string) *Query {
	return NewParser().Parse(queryStr)
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func isQuotedPhrase(token string) bool {
	return len(token) > 2 && token[0] == '"' && token[len(token)-1] == '"'
}

// tokenize splits a query string, preserving quoted phrases and operator:value
// pairs such as subject:"foo bar".
func tokenize(queryStr string) []string {
	var tokens []string
	var current strings.Builder
	inQuotes := false
	quoteChar := rune(0)
	afterColon := false
	// op:"value" keeps its operator and quotes in one token
	opQuoted := false

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, char := range queryStr {
		switch {
		case (char == '"' || char == '\'') && !inQuotes:
			inQuotes = true
			quoteChar = char
			opQuoted = afterColon
			if afterColon {
				current.WriteRune('"')
			} else {
				flush()
			}
			afterColon = false
		case char == quoteChar && inQuotes:
			inQuotes = false
			if opQuoted {
				current.WriteRune('"')
				flush()
			} else if current.Len() > 0 {
				tokens = append(tokens, "\""+current.String()+"\"")
				current.Reset()
			}
			quoteChar = 0
			opQuoted = false
		case (char == ' ' || char == '\t') && !inQuotes:
			flush()
			afterColon = false
		default:
			current.WriteRune(char)
			afterColon = char == ':'
		}
	}
	flush()
	return tokens
}

func parseDate(value string) *time.Time {
	formats := []string{
		"2006-01-02",
		"2006/01/02",
		"01/02/2006",
	}
	value = strings.TrimSpace(value)
	for _, format := range formats {
		if t, err := time.Parse(format, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

var relativeDateRe = regexp.MustCompile(`^(\d+)([dwmy])$`)

func parseRelativeDate(value string, now time.Time) *time.Time {
	match := relativeDateRe.FindStringSubmatch(strings.TrimSpace(strings.ToLower(value)))
	if match == nil {
		return nil
	}
	amount, _ := strconv.Atoi(match[1])

	var result time.Time
	switch match[2] {
	case "d":
		result = now.AddDate(0, 0, -amount)
	case "w":
		result = now.AddDate(0, 0, -amount*7)
	case "m":
		result = now.AddDate(0, -amount, 0)
	case "y":
		result = now.AddDate(-amount, 0, 0)
	}
	return &result
}

var sizeSuffixes = []struct {
	suffix string
	mult   int64
}{
	{"KB", 1024},
	{"MB", 1024 * 1024},
	{"GB", 1024 * 1024 * 1024},
	{"K", 1024},
	{"M", 1024 * 1024},
	{"G", 1024 * 1024 * 1024},
}

// parseSize parses size strings like 5M, 100K, 1G into bytes.
func parseSize(value string) *int64 {
	value = strings.TrimSpace(strings.ToUpper(value))
	for _, s := range sizeSuffixes {
		if strings.HasSuffix(value, s.suffix) {
			num, err := strconv.ParseFloat(value[:len(value)-len(s.suffix)], 64)
			if err != nil {
				return nil
			}
			result := int64(num * float64(s.mult))
			return &result
		}
	}
	if num, err := strconv.ParseInt(value, 10, 64); err == nil {
		return &num
	}
	return nil
}
