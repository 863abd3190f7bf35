package cmd

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wesm/msgdb/internal/mailfile"
	"github.com/wesm/msgdb/internal/mime"
	"github.com/wesm/msgdb/internal/msgdb"
	"github.com/wesm/msgdb/internal/store"
)

var (
	importAccount int64
	importFolder  string
	importRead    bool
)

var importCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Import message files and mbox archives",
	Long: `Import raw message files (.eml), Apple Mail .emlx files and mbox
archives. Files are parsed in parallel and added in a single batch, so
open views see one update. Read and flagged status recorded in .emlx
metadata is kept.

Messages are filed into the inbox unless --folder names another index.
Replies are threaded to their parent through In-Reply-To or References.

Examples:
  msgdb import ~/mail/*.eml
  msgdb import --read takeout.mbox
  msgdb import --folder Work --account 2 invoice.eml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImport,
}

// maxImportMessageBytes bounds a single imported message.
const maxImportMessageBytes = 64 << 20

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	perFile := make([][]*store.Message, len(args))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, path := range args {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			abs, err := filepath.Abs(path)
			if err != nil {
				abs = path
			}
			items, err := mailfile.ReadFile(abs, maxImportMessageBytes)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			for _, it := range items {
				parsed, err := mime.Parse(it.Raw)
				if err != nil {
					return fmt.Errorf("parse %s: %w", it.SourceID, err)
				}
				for _, e := range parsed.Errors {
					logger.Warn("parse problem", "source", it.SourceID, "error", e)
				}
				m := parsed.StoreMessage(importAccount, it.SourceID, it.Raw)
				m.Flags |= it.Flags
				if m.Date.IsZero() {
					m.Date = it.Date
				}
				perFile[i] = append(perFile[i], m)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	var msgs []*store.Message
	for _, ms := range perFile {
		msgs = append(msgs, ms...)
	}

	var imported, dups int
	err := withEngine(ctx, func(db *msgdb.Database) error {
		var folder uint32
		if importFolder != "" {
			idx, err := resolveIndex(db, importFolder)
			if err != nil {
				return err
			}
			folder = idx.ID
		}

		batch := db.BeginBatch(len(msgs))
		defer batch.End()
		for _, m := range msgs {
			m.FolderID = folder
			if importRead {
				m.Flags |= store.FlagRead
			}
			gid, err := db.AddMessage(m)
			if err != nil {
				return fmt.Errorf("add %s: %w", m.SourceID, err)
			}
			imported++
			if len(db.DupChain(gid)) > 1 {
				dups++
			}
			logger.Debug("imported message", "gid", gid, "source", m.SourceID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("Imported %d messages (%d duplicates)\n", imported, dups)
	return nil
}

func init() {
	importCmd.Flags().Int64Var(&importAccount, "account", 0, "account id to import into")
	importCmd.Flags().StringVar(&importFolder, "folder", "", "index name or id to file messages into (default: inbox)")
	importCmd.Flags().BoolVar(&importRead, "read", false, "mark imported messages as read")
	rootCmd.AddCommand(importCmd)
}
