package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesm/msgdb/internal/msgdb"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Repair the database after an unclean shutdown",
	Long: `Finish interrupted removals, drop index entries whose message is gone,
and resubmit messages still waiting for the lexicon. The serve command
also runs this on [maintenance] recover_schedule.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(db *msgdb.Database) error {
			res, err := db.Recover()
			if err != nil {
				return fmt.Errorf("recover: %w", err)
			}
			fmt.Printf("Purged %d, pruned %d, reindexed %d\n", res.Purged, res.Pruned, res.Reindexed)
			return nil
		})
	},
}

var purgeDays int

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Permanently remove old messages from the trash",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		retention := cfg.TrashRetention()
		if cmd.Flags().Changed("days") {
			if purgeDays < 0 {
				return fmt.Errorf("--days must not be negative")
			}
			retention = time.Duration(purgeDays) * 24 * time.Hour
		}
		return withEngine(cmd.Context(), func(db *msgdb.Database) error {
			cutoff := db.Scheduler().Now().Add(-retention)
			n, err := db.PurgeTrash(cutoff)
			if err != nil {
				return err
			}
			fmt.Printf("Purged %d messages trashed before %s\n", n, cutoff.Local().Format("2006-01-02"))
			return nil
		})
	},
}

func init() {
	purgeCmd.Flags().IntVar(&purgeDays, "days", 0, "retention in days (default: [maintenance] trash_retention_days)")
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(purgeCmd)
}
