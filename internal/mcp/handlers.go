package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/wesm/msgdb/internal/indexer"
	"github.com/wesm/msgdb/internal/mime"
	"github.com/wesm/msgdb/internal/msgdb"
	"github.com/wesm/msgdb/internal/store"
	"github.com/wesm/msgdb/internal/view"
)

const maxLimit = 1000

type handlers struct {
	call  Caller
	db    *msgdb.Database
	views *view.Cache
}

type messageSummary struct {
	GID      uint32   `json:"gid"`
	Subject  string   `json:"subject"`
	From     string   `json:"from"`
	SentAt   string   `json:"sent_at,omitempty"`
	Flags    []string `json:"flags,omitempty"`
	ParentID uint32   `json:"parent_id,omitempty"`
}

type messageDetail struct {
	messageSummary
	MessageID   string   `json:"message_id,omitempty"`
	To          []string `json:"to,omitempty"`
	Cc          []string `json:"cc,omitempty"`
	Body        string   `json:"body,omitempty"`
	Attachments int      `json:"attachments,omitempty"`
	Duplicates  []uint32 `json:"duplicates,omitempty"`
	Indexes     []string `json:"indexes"`
}

type indexSummary struct {
	ID         uint32 `json:"id"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	SpecialUse string `json:"special_use,omitempty"`
	Count      int    `json:"count"`
	Query      string `json:"query,omitempty"`
}

type viewRow struct {
	GID     uint32 `json:"gid,omitempty"`
	Depth   int    `json:"depth"`
	Header  string `json:"header,omitempty"`
	Group   string `json:"group,omitempty"`
	Subject string `json:"subject,omitempty"`
	From    string `json:"from,omitempty"`
	SentAt  string `json:"sent_at,omitempty"`
	Unread  bool   `json:"unread,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

type viewPage struct {
	IndexID  uint32    `json:"index_id"`
	Name     string    `json:"name"`
	Messages int       `json:"messages"`
	Rows     []viewRow `json:"rows"`
	Total    int       `json:"total_rows"`
}

// getIDArg extracts a required positive 32-bit ID from the arguments map.
func getIDArg(args map[string]any, key string) (uint32, error) {
	v, ok := args[key].(float64)
	if !ok {
		return 0, fmt.Errorf("%s parameter is required", key)
	}
	if v != math.Trunc(v) || v < 1 || v > math.MaxUint32 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return uint32(v), nil
}

// toolError turns an engine error into a tool result the model can read.
func toolError(op string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return mcp.NewToolResultError("message not found")
	case errors.Is(err, indexer.ErrUnknownIndex):
		return mcp.NewToolResultError("index not found")
	case errors.Is(err, store.ErrNotLoaded):
		return mcp.NewToolResultError("database is still loading, try again shortly")
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", op, err))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func flagNames(f store.Flags) []string {
	if f == 0 {
		return nil
	}
	return strings.Split(f.String(), "|")
}

func summarize(m store.Message) messageSummary {
	return messageSummary{
		GID:      m.GID,
		Subject:  m.Subject,
		From:     m.Sender,
		SentAt:   formatTime(m.Date),
		Flags:    flagNames(m.Flags),
		ParentID: m.ParentID,
	}
}

func (h *handlers) searchMessages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	queryStr, _ := args["query"].(string)
	if strings.TrimSpace(queryStr) == "" {
		return mcp.NewToolResultError("query parameter is required"), nil
	}
	limit := limitArg(args, "limit", 20)
	offset := limitArg(args, "offset", 0)

	results := []messageSummary{}
	err := h.call.Call(ctx, func() error {
		gids, err := h.db.Search(queryStr)
		if err != nil {
			return err
		}
		if offset >= len(gids) {
			return nil
		}
		gids = gids[offset:]
		if len(gids) > limit {
			gids = gids[:limit]
		}
		for _, gid := range gids {
			m, err := h.db.Get(gid)
			if err != nil {
				continue
			}
			results = append(results, summarize(m))
		}
		return nil
	})
	if errors.Is(err, msgdb.ErrEmptyQuery) {
		return mcp.NewToolResultError("query has no search terms"), nil
	}
	if err != nil {
		return toolError("search", err), nil
	}

	return jsonResult(results)
}

func (h *handlers) getMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	gid, err := getIDArg(req.GetArguments(), "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var (
		detail messageDetail
		body   []byte
	)
	err = h.call.Call(ctx, func() error {
		m, err := h.db.Get(gid)
		if err != nil {
			return err
		}
		detail = messageDetail{
			messageSummary: summarize(m),
			MessageID:      m.MessageIDHeader,
			Indexes:        []string{},
		}
		if chain := h.db.DupChain(gid); len(chain) > 1 {
			detail.Duplicates = chain
		}
		for _, idx := range h.db.Indexer().Indexes() {
			if idx.IsStored() && idx.Contains(gid) {
				detail.Indexes = append(detail.Indexes, idx.Name)
			}
		}
		body, err = h.db.GetBody(gid)
		if errors.Is(err, store.ErrNoBody) {
			err = nil
		}
		return err
	})
	if err != nil {
		return toolError("get message", err), nil
	}

	if body != nil {
		if p, err := mime.Parse(body); err == nil {
			detail.Body = p.GetBodyText()
			detail.Attachments = p.AttachmentCount
			for _, a := range p.To {
				detail.To = append(detail.To, a.String())
			}
			for _, a := range p.Cc {
				detail.Cc = append(detail.Cc, a.String())
			}
		}
	}

	return jsonResult(detail)
}

func (h *handlers) listIndexes(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var out []indexSummary
	err := h.call.Call(ctx, func() error {
		for _, idx := range h.db.Indexer().Indexes() {
			s := indexSummary{
				ID:    idx.ID,
				Name:  idx.Name,
				Kind:  idx.Kind.String(),
				Count: idx.Len(),
				Query: idx.Query,
			}
			if idx.SpecialUse != indexer.UseNone {
				s.SpecialUse = idx.SpecialUse.String()
			}
			out = append(out, s)
		}
		return nil
	})
	if err != nil {
		return toolError("list indexes", err), nil
	}
	return jsonResult(out)
}

func (h *handlers) viewIndex(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	id, err := getIDArg(args, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := limitArg(args, "limit", 50)
	offset := limitArg(args, "offset", 0)

	page := viewPage{IndexID: id, Rows: []viewRow{}}
	err = h.call.Call(ctx, func() error {
		idx, err := h.db.Index(id)
		if err != nil {
			return err
		}
		page.Name = idx.Name

		handle, err := h.views.Acquire(id)
		if err != nil {
			return err
		}
		defer handle.Release()
		v := handle.View()
		page.Messages = v.Len()

		i := 0
		v.Walk(func(ref view.Ref, depth int) bool {
			if i >= offset && i < offset+limit {
				if row, ok := v.Row(ref); ok {
					page.Rows = append(page.Rows, toViewRow(row))
				}
			}
			i++
			return true
		})
		page.Total = i
		return nil
	})
	if err != nil {
		return toolError("view index", err), nil
	}
	return jsonResult(page)
}

func toViewRow(row view.Row) viewRow {
	if row.Header {
		return viewRow{Header: row.Title}
	}
	return viewRow{
		GID:     row.GID,
		Depth:   row.Depth,
		Group:   row.Group,
		Subject: row.Subject,
		From:    row.Sender,
		SentAt:  formatTime(row.Date),
		Unread:  row.State == view.StateFetched && !row.Flags.Has(store.FlagRead),
		Snippet: row.Snippet,
	}
}

func (h *handlers) getStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var stats *msgdb.Stats
	err := h.call.Call(ctx, func() error {
		var err error
		stats, err = h.db.GetStats()
		return err
	})
	if err != nil {
		return toolError("stats", err), nil
	}

	resp := struct {
		Messages       int64 `json:"messages"`
		Duplicates     int64 `json:"duplicates"`
		Indexes        int   `json:"indexes"`
		Memberships    int   `json:"memberships"`
		LexiconEntries int64 `json:"lexicon_entries"`
		CommitPending  bool  `json:"commit_pending"`
		Loaded         bool  `json:"loaded"`
	}{
		Messages:       stats.Store.MessageCount,
		Duplicates:     stats.Store.DuplicateCount,
		Indexes:        stats.Indexes.Indexes,
		Memberships:    stats.Indexes.Memberships,
		LexiconEntries: stats.LexiconCount,
		CommitPending:  stats.CommitPending,
		Loaded:         stats.Store.Loaded,
	}
	return jsonResult(resp)
}

// limitArg extracts a non-negative integer limit from a map, with a default.
// JSON numbers arrive as float64. Clamps to maxLimit to prevent excessive
// result sets.
func limitArg(args map[string]any, key string, def int) int {
	v, ok := args[key].(float64)
	if !ok {
		return def
	}
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if math.IsInf(v, 1) || v > float64(maxLimit) {
		return maxLimit
	}
	return int(v)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal error: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
