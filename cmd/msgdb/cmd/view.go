package cmd

import (
	"fmt"
	"math"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wesm/msgdb/internal/indexer"
	"github.com/wesm/msgdb/internal/msgdb"
	"github.com/wesm/msgdb/internal/store"
	"github.com/wesm/msgdb/internal/textutil"
	"github.com/wesm/msgdb/internal/view"
)

var (
	viewThreaded bool
	viewFlat     bool
	viewGroup    string
	viewSort     string
	viewDesc     bool
	viewAge      int
)

var viewCmd = &cobra.Command{
	Use:   "view <index>",
	Short: "Render an index as a flat or threaded list",
	Long: `Render the messages of an index the way a mail client lists them.

Presentation options are saved with the index and reused next time:
  --threaded / --flat     reply trees or a flat list
  --group date|flag|read  group threads under headers (none to disable)
  --sort gid|date|subject order of threads, --desc reverses it
  --age N                 only messages from the last N days (0 = all)`,
	Args: cobra.ExactArgs(1),
	RunE: runView,
}

var groupings = map[string]indexer.Grouping{
	"none": indexer.GroupNone,
	"date": indexer.GroupDate,
	"flag": indexer.GroupFlag,
	"read": indexer.GroupRead,
}

var sortKeys = map[string]indexer.SortKey{
	"gid":     indexer.SortGID,
	"date":    indexer.SortDate,
	"subject": indexer.SortSubject,
}

// applyViewFlags folds the flags the user set into cfg. It reports
// whether anything changed.
func applyViewFlags(cmd *cobra.Command, cfg *indexer.ViewConfig) (bool, error) {
	flags := cmd.Flags()
	before := *cfg
	if flags.Changed("threaded") && viewThreaded {
		cfg.Model = indexer.ModelThreaded
	}
	if flags.Changed("flat") && viewFlat {
		cfg.Model = indexer.ModelFlat
	}
	if flags.Changed("group") {
		g, ok := groupings[strings.ToLower(viewGroup)]
		if !ok {
			return false, fmt.Errorf("unknown grouping %q (want none, date, flag or read)", viewGroup)
		}
		cfg.Grouping = g
	}
	if flags.Changed("sort") {
		k, ok := sortKeys[strings.ToLower(viewSort)]
		if !ok {
			return false, fmt.Errorf("unknown sort %q (want gid, date or subject)", viewSort)
		}
		cfg.Sort = k
	}
	if flags.Changed("desc") {
		cfg.SortDesc = viewDesc
	}
	if flags.Changed("age") {
		if viewAge < 0 {
			return false, fmt.Errorf("--age must not be negative")
		}
		cfg.AgeDays = viewAge
	}
	return *cfg != before, nil
}

func runView(cmd *cobra.Command, args []string) error {
	if viewThreaded && viewFlat {
		return fmt.Errorf("--threaded and --flat are mutually exclusive")
	}

	return withEngine(cmd.Context(), func(db *msgdb.Database) error {
		idx, err := resolveIndex(db, args[0])
		if err != nil {
			return err
		}
		vc := idx.View
		changed, err := applyViewFlags(cmd, &vc)
		if err != nil {
			return err
		}
		if changed {
			if err := db.Indexer().UpdateIndex(idx.ID, func(info *indexer.Info) { info.View = vc }); err != nil {
				return err
			}
			db.RequestCommit()
		}

		opts := cfg.ViewOptions()
		// Everything is printed at once, so nothing is deferred.
		opts.FetchLimit = math.MaxInt32
		v, err := view.New(db, idx.ID, opts)
		if err != nil {
			return err
		}
		defer v.Close()
		v.WithLogger(logger)

		fmt.Printf("%s (%d messages)\n", idx.Name, v.Len())
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		v.Walk(func(ref view.Ref, depth int) bool {
			row, ok := v.Row(ref)
			if !ok {
				return false
			}
			if row.Header {
				if row.HasChildren {
					fmt.Fprintf(w, "== %s (%d unread)\t\t\t\n", row.Title, row.Unread)
				}
				return true
			}
			fmt.Fprintf(w, "%d\t%s%s%s\t%s\t%s\n",
				row.GID,
				strings.Repeat("  ", row.Depth),
				rowMarks(row),
				textutil.TruncateWidth(row.Subject, 60),
				textutil.TruncateWidth(row.Sender, 30),
				formatDate(row),
			)
			return true
		})
		return w.Flush()
	})
}

func rowMarks(row view.Row) string {
	var b strings.Builder
	if !row.Flags.Has(store.FlagRead) {
		b.WriteString("* ")
	}
	if row.Flags.Has(store.FlagFlagged) {
		b.WriteString("! ")
	}
	return b.String()
}

func formatDate(row view.Row) string {
	if row.Date.IsZero() {
		return ""
	}
	return row.Date.Local().Format("2006-01-02 15:04")
}

func init() {
	viewCmd.Flags().BoolVar(&viewThreaded, "threaded", false, "show reply trees")
	viewCmd.Flags().BoolVar(&viewFlat, "flat", false, "show a flat list")
	viewCmd.Flags().StringVar(&viewGroup, "group", "", "group by date, flag, read or none")
	viewCmd.Flags().StringVar(&viewSort, "sort", "", "sort by gid, date or subject")
	viewCmd.Flags().BoolVar(&viewDesc, "desc", false, "reverse the sort order")
	viewCmd.Flags().IntVar(&viewAge, "age", 0, "only show messages from the last N days")
	rootCmd.AddCommand(viewCmd)
}
