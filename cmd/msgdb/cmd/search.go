package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wesm/msgdb/internal/msgdb"
	"github.com/wesm/msgdb/internal/store"
	"github.com/wesm/msgdb/internal/textutil"
)

var (
	searchLimit int
	searchJSON  bool
	searchSave  string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search messages",
	Long: `Search messages with full-text terms and operators.

Supported operators:
  from:        Sender address
  subject:     Subject text
  is:          read, unread, flagged, unflagged
  account:     Account id
  before:      Messages before date (YYYY-MM-DD)
  after:       Messages after date (YYYY-MM-DD)
  older_than:  Relative date (7d, 2w, 1m, 1y)
  newer_than:  Relative date
  larger:      Size filter (5M, 100K)
  smaller:     Size filter

Bare words and "quoted phrases" are answered by the lexicon. Spam is
never returned by text terms.

Examples:
  msgdb search invoice is:unread
  msgdb search from:alice@example.com newer_than:30d
  msgdb search --save "Unread invoices" invoice is:unread`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")

		return withEngine(cmd.Context(), func(db *msgdb.Database) error {
			if searchSave != "" {
				idx, err := db.CreateSearchIndex(searchSave, query)
				if err != nil {
					return err
				}
				fmt.Printf("Saved search %q as index %d (%d messages)\n", idx.Name, idx.ID, idx.Len())
				return nil
			}

			gids, err := db.Search(query)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			total := len(gids)
			if searchLimit > 0 && len(gids) > searchLimit {
				gids = gids[:searchLimit]
			}
			var results []store.Message
			for _, gid := range gids {
				m, err := db.Get(gid)
				if err != nil {
					continue
				}
				results = append(results, m)
			}

			if searchJSON {
				return outputSearchJSON(query, total, results)
			}
			if total == 0 {
				fmt.Println("No messages found.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "GID\tDATE\tFROM\tSUBJECT")
			for _, m := range results {
				date := ""
				if !m.Date.IsZero() {
					date = m.Date.Local().Format("2006-01-02")
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", m.GID, date,
					textutil.TruncateWidth(m.Sender, 30), textutil.TruncateWidth(m.Subject, 60))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("\nShowing %d of %d results\n", len(results), total)
			return nil
		})
	},
}

func outputSearchJSON(query string, total int, results []store.Message) error {
	type result struct {
		GID     uint32   `json:"gid"`
		Subject string   `json:"subject"`
		From    string   `json:"from"`
		Date    string   `json:"date,omitempty"`
		Flags   []string `json:"flags,omitempty"`
	}
	out := struct {
		Query    string   `json:"query"`
		Total    int      `json:"total"`
		Messages []result `json:"messages"`
	}{Query: query, Total: total, Messages: []result{}}
	for _, m := range results {
		r := result{GID: m.GID, Subject: m.Subject, From: m.Sender}
		if !m.Date.IsZero() {
			r.Date = m.Date.UTC().Format("2006-01-02T15:04:05Z")
		}
		if m.Flags != 0 {
			r.Flags = strings.Split(m.Flags.String(), "|")
		}
		out.Messages = append(out.Messages, r)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 50, "maximum number of results (0 = all)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	searchCmd.Flags().StringVar(&searchSave, "save", "", "save the query as a search index with this name")
	rootCmd.AddCommand(searchCmd)
}
