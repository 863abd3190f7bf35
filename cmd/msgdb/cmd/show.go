package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wesm/msgdb/internal/mime"
	"github.com/wesm/msgdb/internal/msgdb"
	"github.com/wesm/msgdb/internal/store"
)

var showHeadersOnly bool

var showCmd = &cobra.Command{
	Use:   "show <gid>",
	Short: "Show a message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gid, err := parseGID(args[0])
		if err != nil {
			return err
		}

		return withEngine(cmd.Context(), func(db *msgdb.Database) error {
			m, err := db.Get(gid)
			if err != nil {
				return fmt.Errorf("message %d: %w", gid, err)
			}

			fmt.Printf("GID:      %d\n", m.GID)
			fmt.Printf("From:     %s\n", m.Sender)
			fmt.Printf("Subject:  %s\n", m.Subject)
			if !m.Date.IsZero() {
				fmt.Printf("Date:     %s\n", m.Date.Local().Format("Mon, 02 Jan 2006 15:04:05 -0700"))
			}
			if m.MessageIDHeader != "" {
				fmt.Printf("Message:  <%s>\n", m.MessageIDHeader)
			}
			if m.ParentID != 0 {
				fmt.Printf("Parent:   %d\n", m.ParentID)
			}
			fmt.Printf("Flags:    %s\n", m.Flags)
			if chain := db.DupChain(gid); len(chain) > 1 {
				fmt.Printf("Copies:   %v\n", chain)
			}
			var filed []string
			for _, idx := range db.Indexer().Indexes() {
				if idx.IsStored() && idx.Contains(gid) {
					filed = append(filed, idx.Name)
				}
			}
			fmt.Printf("Indexes:  %s\n", strings.Join(filed, ", "))

			if showHeadersOnly {
				return nil
			}
			raw, err := db.GetBody(gid)
			if errors.Is(err, store.ErrNoBody) {
				fmt.Println("\n(no body stored)")
				return nil
			}
			if err != nil {
				return fmt.Errorf("read body: %w", err)
			}
			parsed, err := mime.Parse(raw)
			if err != nil {
				return fmt.Errorf("parse body: %w", err)
			}
			fmt.Println()
			fmt.Println(parsed.GetBodyText())
			if parsed.AttachmentCount > 0 {
				fmt.Printf("\n[%d attachments]\n", parsed.AttachmentCount)
			}
			return nil
		})
	},
}

func init() {
	showCmd.Flags().BoolVar(&showHeadersOnly, "headers", false, "only show metadata")
	rootCmd.AddCommand(showCmd)
}
