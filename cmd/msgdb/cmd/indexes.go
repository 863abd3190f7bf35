package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wesm/msgdb/internal/indexer"
	"github.com/wesm/msgdb/internal/msgdb"
)

var indexesCmd = &cobra.Command{
	Use:   "indexes",
	Short: "List folders, special indexes, unions and saved searches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(db *msgdb.Database) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tKIND\tMESSAGES\tDETAIL")
			for _, idx := range db.Indexer().Indexes() {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", idx.ID, idx.Name, idx.Kind, idx.Len(), indexDetail(idx))
			}
			return w.Flush()
		})
	},
}

func indexDetail(idx *indexer.Index) string {
	switch idx.Kind {
	case indexer.KindSpecial:
		return idx.SpecialUse.String()
	case indexer.KindUnion:
		return fmt.Sprintf("members %v", idx.Members)
	case indexer.KindSearch:
		return fmt.Sprintf("query %q", idx.Query)
	}
	if idx.ParentID != 0 {
		return fmt.Sprintf("parent %d", idx.ParentID)
	}
	return ""
}

var (
	mkindexParent  string
	mkindexAccount int64
	mkindexUnion   []uint
	mkindexSearch  string
)

var mkindexCmd = &cobra.Command{
	Use:   "mkindex <name>",
	Short: "Create a folder, union or saved search",
	Long: `Create a new index. Without options a folder is created.

  --union 1,4   a union whose membership is computed from indexes 1 and 4
  --search q    a saved search holding the current matches of q

Examples:
  msgdb mkindex Work
  msgdb mkindex Receipts --parent Work
  msgdb mkindex "All mail" --union 1,7
  msgdb mkindex "Unread invoices" --search "invoice is:unread"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(mkindexUnion) > 0 && mkindexSearch != "" {
			return fmt.Errorf("--union and --search are mutually exclusive")
		}
		name := args[0]

		return withEngine(cmd.Context(), func(db *msgdb.Database) error {
			var (
				idx *indexer.Index
				err error
			)
			switch {
			case mkindexSearch != "":
				idx, err = db.CreateSearchIndex(name, mkindexSearch)
			default:
				info := indexer.Info{
					Name:      name,
					Kind:      indexer.KindFolder,
					AccountID: mkindexAccount,
					Visible:   true,
				}
				if len(mkindexUnion) > 0 {
					info.Kind = indexer.KindUnion
					for _, id := range mkindexUnion {
						info.Members = append(info.Members, uint32(id))
					}
				}
				if mkindexParent != "" {
					parent, perr := resolveIndex(db, mkindexParent)
					if perr != nil {
						return perr
					}
					info.ParentID = parent.ID
				}
				idx, err = db.Indexer().CreateIndex(info)
				db.RequestCommit()
			}
			if err != nil {
				return err
			}
			fmt.Printf("Created %s %q (id %d, %d messages)\n", idx.Kind, idx.Name, idx.ID, idx.Len())
			return nil
		})
	},
}

func init() {
	mkindexCmd.Flags().StringVar(&mkindexParent, "parent", "", "parent index name or id")
	mkindexCmd.Flags().Int64Var(&mkindexAccount, "account", 0, "owning account id")
	mkindexCmd.Flags().UintSliceVar(&mkindexUnion, "union", nil, "member index ids of a union")
	mkindexCmd.Flags().StringVar(&mkindexSearch, "search", "", "query of a saved search")
	rootCmd.AddCommand(indexesCmd)
	rootCmd.AddCommand(mkindexCmd)
}
