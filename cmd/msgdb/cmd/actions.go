package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesm/msgdb/internal/msgdb"
	"github.com/wesm/msgdb/internal/store"
)

// messageAction builds a command that applies op to each gid argument.
func messageAction(use, short, done string, op func(db *msgdb.Database, gid uint32) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <gid>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gids := make([]uint32, len(args))
			for i, arg := range args {
				gid, err := parseGID(arg)
				if err != nil {
					return err
				}
				gids[i] = gid
			}
			return withEngine(cmd.Context(), func(db *msgdb.Database) error {
				batch := db.BeginBatch(len(gids))
				defer batch.End()
				for _, gid := range gids {
					if err := op(db, gid); err != nil {
						return fmt.Errorf("message %d: %w", gid, err)
					}
				}
				fmt.Printf("%s %d message(s)\n", done, len(gids))
				return nil
			})
		},
	}
}

var (
	flagRead    bool
	flagFlagged bool
	flagOff     bool
)

var flagCmd = messageAction("flag", "Set or clear the read and flagged flags", "Updated",
	func(db *msgdb.Database, gid uint32) error {
		if flagRead {
			if err := db.SetFlag(gid, store.FlagRead, !flagOff); err != nil {
				return err
			}
		}
		if flagFlagged {
			if err := db.SetFlag(gid, store.FlagFlagged, !flagOff); err != nil {
				return err
			}
		}
		return nil
	})

var moveCmd = &cobra.Command{
	Use:   "move <gid> <index>",
	Short: "File a message into a folder or special index",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		gid, err := parseGID(args[0])
		if err != nil {
			return err
		}
		return withEngine(cmd.Context(), func(db *msgdb.Database) error {
			dest, err := resolveIndex(db, args[1])
			if err != nil {
				return err
			}
			if err := db.MoveToFolder(gid, dest.ID); err != nil {
				return err
			}
			fmt.Printf("Moved %d to %s\n", gid, dest.Name)
			return nil
		})
	},
}

func init() {
	flagCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if !flagRead && !flagFlagged {
			return fmt.Errorf("nothing to change: pass --read and/or --flagged")
		}
		return nil
	}
	flagCmd.Flags().BoolVar(&flagRead, "read", false, "change the read flag")
	flagCmd.Flags().BoolVar(&flagFlagged, "flagged", false, "change the flagged flag")
	flagCmd.Flags().BoolVar(&flagOff, "off", false, "clear instead of set")

	rootCmd.AddCommand(
		flagCmd,
		moveCmd,
		messageAction("trash", "Move messages to the trash", "Trashed",
			(*msgdb.Database).MoveToTrash),
		messageAction("restore", "Restore messages from the trash", "Restored",
			(*msgdb.Database).RestoreFromTrash),
		messageAction("spam", "Mark messages as spam", "Marked spam:",
			(*msgdb.Database).MarkSpam),
		messageAction("notspam", "Mark messages as not spam", "Marked not spam:",
			(*msgdb.Database).MarkNotSpam),
		messageAction("rm", "Permanently remove messages", "Removed",
			(*msgdb.Database).RemoveMessage),
	)
}
