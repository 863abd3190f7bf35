package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wesm/msgdb/internal/indexer"
	"github.com/wesm/msgdb/internal/mime"
	"github.com/wesm/msgdb/internal/msgdb"
	"github.com/wesm/msgdb/internal/store"
	"github.com/wesm/msgdb/internal/view"
)

const timeFormat = "2006-01-02T15:04:05Z07:00"

// StatsResponse represents database statistics.
type StatsResponse struct {
	TotalMessages  int64 `json:"total_messages"`
	Removed        int64 `json:"removed_messages"`
	Bodies         int64 `json:"bodies"`
	Duplicates     int64 `json:"duplicates"`
	Indexes        int   `json:"indexes"`
	Memberships    int   `json:"memberships"`
	LexiconEntries int64 `json:"lexicon_entries"`
	FTS5           bool  `json:"fts5"`
	CommitPending  bool  `json:"commit_pending"`
	DatabaseSize   int64 `json:"database_size_bytes"`
	Loaded         bool  `json:"loaded"`
}

// IndexInfo represents an index in list responses.
type IndexInfo struct {
	ID         uint32   `json:"id"`
	ParentID   uint32   `json:"parent_id,omitempty"`
	Name       string   `json:"name"`
	Kind       string   `json:"kind"`
	SpecialUse string   `json:"special_use,omitempty"`
	Visible    bool     `json:"visible"`
	Count      int      `json:"count"`
	Members    []uint32 `json:"members,omitempty"`
	Query      string   `json:"query,omitempty"`
}

// MessageSummary represents a message in list responses.
type MessageSummary struct {
	GID       uint32   `json:"gid"`
	Subject   string   `json:"subject"`
	From      string   `json:"from"`
	SentAt    string   `json:"sent_at,omitempty"`
	Flags     []string `json:"flags"`
	SizeBytes int64    `json:"size_bytes"`
	ParentID  uint32   `json:"parent_id,omitempty"`
	FolderID  uint32   `json:"folder_id"`
}

// MessageDetail represents a full message response.
type MessageDetail struct {
	MessageSummary
	MessageID   string   `json:"message_id,omitempty"`
	InReplyTo   string   `json:"in_reply_to,omitempty"`
	To          []string `json:"to,omitempty"`
	Cc          []string `json:"cc,omitempty"`
	Body        string   `json:"body,omitempty"`
	Attachments int      `json:"attachments"`
	Duplicates  []uint32 `json:"duplicates,omitempty"`
}

// RowInfo is one row of a rendered view.
type RowInfo struct {
	GID         uint32   `json:"gid,omitempty"`
	State       string   `json:"state,omitempty"`
	Depth       int      `json:"depth"`
	Header      bool     `json:"header,omitempty"`
	Title       string   `json:"title,omitempty"`
	Unread      int      `json:"unread,omitempty"`
	Group       string   `json:"group,omitempty"`
	Subject     string   `json:"subject,omitempty"`
	From        string   `json:"from,omitempty"`
	SentAt      string   `json:"sent_at,omitempty"`
	Flags       []string `json:"flags,omitempty"`
	Snippet     string   `json:"snippet,omitempty"`
	HasChildren bool     `json:"has_children,omitempty"`
}

// ViewResponse is a page of a view's rows in display order.
type ViewResponse struct {
	IndexID  uint32    `json:"index_id"`
	Messages int       `json:"messages"`
	Total    int       `json:"total_rows"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
	Rows     []RowInfo `json:"rows"`
}

// SearchResult represents search results.
type SearchResult struct {
	Query    string           `json:"query"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Messages []MessageSummary `json:"messages"`
}

// FlagsRequest sets and clears message flags by name.
type FlagsRequest struct {
	Set   []string `json:"set"`
	Clear []string `json:"clear"`
}

// MoveRequest files a message into an index.
type MoveRequest struct {
	IndexID uint32 `json:"index_id"`
}

// SchedulerStatusResponse represents scheduler status.
type SchedulerStatusResponse struct {
	Running bool        `json:"running"`
	Jobs    []JobStatus `json:"jobs"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// writeEngineError maps database errors onto HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Message not found")
	case errors.Is(err, indexer.ErrUnknownIndex):
		writeError(w, http.StatusNotFound, "not_found", "Index not found")
	case errors.Is(err, store.ErrNotLoaded):
		writeError(w, http.StatusServiceUnavailable, "loading", "Database is still loading")
	case errors.Is(err, msgdb.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, "missing_query", err.Error())
	case errors.Is(err, indexer.ErrComputedIndex), errors.Is(err, indexer.ErrSpecialIndex):
		writeError(w, http.StatusConflict, "invalid_target", err.Error())
	default:
		s.logger.Error("request failed", "op", op, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to "+op)
	}
}

func pageParams(r *http.Request) (page, pageSize, offset int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize, (page - 1) * pageSize
}

func parseID(w http.ResponseWriter, raw, what string) (uint32, bool) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid_id", what+" must be a positive number")
		return 0, false
	}
	return uint32(id), true
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeFormat)
}

func flagNames(f store.Flags) []string {
	if f == 0 {
		return []string{}
	}
	return strings.Split(f.String(), "|")
}

func summarize(m store.Message) MessageSummary {
	return MessageSummary{
		GID:       m.GID,
		Subject:   m.Subject,
		From:      m.Sender,
		SentAt:    formatTime(m.Date),
		Flags:     flagNames(m.Flags),
		SizeBytes: m.Size,
		ParentID:  m.ParentID,
		FolderID:  m.FolderID,
	}
}

// handleStats returns database statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var stats *msgdb.Stats
	err := s.call.Call(r.Context(), func() error {
		var err error
		stats, err = s.db.GetStats()
		return err
	})
	if err != nil {
		s.writeEngineError(w, "retrieve statistics", err)
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		TotalMessages:  stats.Store.MessageCount,
		Removed:        stats.Store.RemovedCount,
		Bodies:         stats.Store.BodyCount,
		Duplicates:     stats.Store.DuplicateCount,
		Indexes:        stats.Indexes.Indexes,
		Memberships:    stats.Indexes.Memberships,
		LexiconEntries: stats.LexiconCount,
		FTS5:           stats.FTS5,
		CommitPending:  stats.CommitPending,
		DatabaseSize:   stats.Store.DatabaseSize,
		Loaded:         stats.Store.Loaded,
	})
}

// handleListIndexes returns every index with its member count.
func (s *Server) handleListIndexes(w http.ResponseWriter, r *http.Request) {
	var indexes []IndexInfo
	err := s.call.Call(r.Context(), func() error {
		for _, idx := range s.db.Indexer().Indexes() {
			info := IndexInfo{
				ID:       idx.ID,
				ParentID: idx.ParentID,
				Name:     idx.Name,
				Kind:     idx.Kind.String(),
				Visible:  idx.Visible,
				Count:    idx.Len(),
				Members:  idx.Members,
				Query:    idx.Query,
			}
			if idx.SpecialUse != indexer.UseNone {
				info.SpecialUse = idx.SpecialUse.String()
			}
			indexes = append(indexes, info)
		}
		return nil
	})
	if err != nil {
		s.writeEngineError(w, "list indexes", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"indexes": indexes,
	})
}

// handleGetView renders a page of an index's view.
func (s *Server) handleGetView(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "Index ID")
	if !ok {
		return
	}
	page, pageSize, offset := pageParams(r)

	resp := ViewResponse{IndexID: id, Page: page, PageSize: pageSize, Rows: []RowInfo{}}
	err := s.call.Call(r.Context(), func() error {
		h, err := s.views.Acquire(id)
		if err != nil {
			return err
		}
		defer h.Release()
		v := h.View()
		resp.Messages = v.Len()

		i := 0
		v.Walk(func(ref view.Ref, depth int) bool {
			if i >= offset && i < offset+pageSize {
				if row, ok := v.Row(ref); ok {
					resp.Rows = append(resp.Rows, rowInfo(row))
				}
			}
			i++
			return true
		})
		resp.Total = i
		return nil
	})
	if err != nil {
		s.writeEngineError(w, "render view", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func rowInfo(row view.Row) RowInfo {
	if row.Header {
		return RowInfo{
			Header:      true,
			Title:       row.Title,
			Unread:      row.Unread,
			HasChildren: row.HasChildren,
		}
	}
	info := RowInfo{
		GID:         row.GID,
		State:       row.State.String(),
		Depth:       row.Depth,
		Subject:     row.Subject,
		From:        row.Sender,
		SentAt:      formatTime(row.Date),
		Group:       row.Group,
		Snippet:     row.Snippet,
		HasChildren: row.HasChildren,
	}
	if row.State != view.StateLoading {
		info.Flags = flagNames(row.Flags)
	}
	return info
}

// handleGetMessage returns a single message by gid.
func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	gid, ok := parseID(w, chi.URLParam(r, "gid"), "Message gid")
	if !ok {
		return
	}

	var (
		m     store.Message
		body  []byte
		chain []uint32
	)
	err := s.call.Call(r.Context(), func() error {
		var err error
		if m, err = s.db.Get(gid); err != nil {
			return err
		}
		body, err = s.db.GetBody(gid)
		if errors.Is(err, store.ErrNoBody) {
			err = nil
		}
		chain = s.db.DupChain(gid)
		return err
	})
	if err != nil {
		s.writeEngineError(w, "retrieve message", err)
		return
	}

	detail := MessageDetail{
		MessageSummary: summarize(m),
		MessageID:      m.MessageIDHeader,
		InReplyTo:      m.InReplyTo,
	}
	if len(chain) > 1 {
		detail.Duplicates = chain
	}
	if body != nil {
		if p, err := mime.Parse(body); err != nil {
			s.logger.Warn("parse stored body failed", "gid", gid, "error", err)
		} else {
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

	writeJSON(w, http.StatusOK, detail)
}

// mutate runs op against the message named in the URL and replies with
// its updated summary, or 204 when op removed it.
func (s *Server) mutate(w http.ResponseWriter, r *http.Request, name string, op func(gid uint32) error) {
	gid, ok := parseID(w, chi.URLParam(r, "gid"), "Message gid")
	if !ok {
		return
	}

	var (
		m       store.Message
		removed bool
	)
	err := s.call.Call(r.Context(), func() error {
		if err := op(gid); err != nil {
			return err
		}
		var err error
		m, err = s.db.Get(gid)
		if errors.Is(err, store.ErrNotFound) {
			removed, err = true, nil
		}
		return err
	})
	if err != nil {
		s.writeEngineError(w, name, err)
		return
	}

	s.logger.Debug("message updated via API", "op", name, "gid", gid)
	if removed {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, summarize(m))
}

func (s *Server) handleSetFlags(w http.ResponseWriter, r *http.Request) {
	var req FlagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Request body must be JSON")
		return
	}
	type change struct {
		flag store.Flags
		on   bool
	}
	var changes []change
	for _, names := range []struct {
		list []string
		on   bool
	}{{req.Set, true}, {req.Clear, false}} {
		for _, name := range names.list {
			f, err := store.ParseFlag(name)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_flag", err.Error())
				return
			}
			changes = append(changes, change{f, names.on})
		}
	}
	if len(changes) == 0 {
		writeError(w, http.StatusBadRequest, "missing_flags", "Nothing to set or clear")
		return
	}

	s.mutate(w, r, "set flags", func(gid uint32) error {
		for _, c := range changes {
			if err := s.db.SetFlag(gid, c.flag, c.on); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Server) handleTrash(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "move to trash", s.db.MoveToTrash)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "restore from trash", s.db.RestoreFromTrash)
}

func (s *Server) handleSpam(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "mark spam", s.db.MarkSpam)
}

func (s *Server) handleNotSpam(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "mark not spam", s.db.MarkNotSpam)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IndexID == 0 {
		writeError(w, http.StatusBadRequest, "invalid_body", "Request body must name an index_id")
		return
	}
	s.mutate(w, r, "move message", func(gid uint32) error {
		return s.db.MoveToFolder(gid, req.IndexID)
	})
}

func (s *Server) handleRemoveMessage(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "remove message", s.db.RemoveMessage)
}

// handleSearch searches messages.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing_query", "Query parameter 'q' is required")
		return
	}
	page, pageSize, offset := pageParams(r)

	result := SearchResult{Query: query, Page: page, PageSize: pageSize, Messages: []MessageSummary{}}
	err := s.call.Call(r.Context(), func() error {
		gids, err := s.db.Search(query)
		if err != nil {
			return err
		}
		result.Total = len(gids)
		if offset >= len(gids) {
			return nil
		}
		end := min(offset+pageSize, len(gids))
		for _, gid := range gids[offset:end] {
			m, err := s.db.Get(gid)
			if err != nil {
				continue
			}
			result.Messages = append(result.Messages, summarize(m))
		}
		return nil
	})
	if err != nil {
		s.writeEngineError(w, "search", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleSchedulerStatus returns the scheduler status.
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeJSON(w, http.StatusOK, SchedulerStatusResponse{Jobs: []JobStatus{}})
		return
	}
	writeJSON(w, http.StatusOK, SchedulerStatusResponse{
		Running: s.scheduler.IsRunning(),
		Jobs:    s.scheduler.Status(),
	})
}

// handleTriggerJob runs a maintenance job now.
func (s *Server) handleTriggerJob(w http.ResponseWriter, r *http.Request) {
	job := chi.URLParam(r, "job")
	if s.scheduler == nil || !s.scheduler.IsScheduled(job) {
		writeError(w, http.StatusNotFound, "not_found", "Job "+job+" is not scheduled")
		return
	}

	if err := s.scheduler.Trigger(job); err != nil {
		s.logger.Error("failed to trigger job", "job", job, "error", err)
		writeError(w, http.StatusConflict, "job_error", err.Error())
		return
	}

	s.logger.Info("job triggered via API", "job", job)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"message": "Started " + job,
	})
}
