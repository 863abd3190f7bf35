package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesm/msgdb/internal/msgdb"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(db *msgdb.Database) error {
			stats, err := db.GetStats()
			if err != nil {
				return fmt.Errorf("get stats: %w", err)
			}

			fmt.Printf("Database: %s\n", cfg.DatabaseDir())
			fmt.Printf("  Messages:    %d\n", stats.Store.MessageCount)
			fmt.Printf("  Removed:     %d\n", stats.Store.RemovedCount)
			fmt.Printf("  Bodies:      %d\n", stats.Store.BodyCount)
			fmt.Printf("  Duplicates:  %d\n", stats.Store.DuplicateCount)
			fmt.Printf("  Indexes:     %d (%d memberships)\n", stats.Indexes.Indexes, stats.Indexes.Memberships)
			fmt.Printf("  Lexicon:     %d entries (fts5: %v)\n", stats.LexiconCount, stats.FTS5)
			fmt.Printf("  Size:        %.2f MB\n", float64(stats.Store.DatabaseSize+stats.Indexes.FileSize)/(1024*1024))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
