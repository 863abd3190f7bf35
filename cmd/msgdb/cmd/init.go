package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesm/msgdb/internal/msgdb"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the message database",
	Long: `Create the message store, the index database with its special indexes,
and the lexicon in the data directory. It is safe to run multiple times;
existing data is left alone.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Info("initializing database", "dir", cfg.DatabaseDir())

		return withEngine(cmd.Context(), func(db *msgdb.Database) error {
			db.RequestCommit()
			fmt.Printf("Database: %s\n", cfg.DatabaseDir())
			fmt.Printf("  Indexes: %d\n", len(db.Indexer().Indexes()))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
