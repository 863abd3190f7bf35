package cmd

import (
	"context"

	"github.com/spf13/cobra"

	mcpserver "github.com/wesm/msgdb/internal/mcp"
	"github.com/wesm/msgdb/internal/msgdb"
	"github.com/wesm/msgdb/internal/view"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run an MCP server over stdio",
	Long: `Start an MCP (Model Context Protocol) server over stdio.

MCP clients can then read the database with the search_messages,
get_message, list_indexes, view_index and get_stats tools. The server
answers while the store loads; tools that need the whole store report
that it is still loading.

Example client config:
  {
    "mcpServers": {
      "msgdb": {
        "command": "msgdb",
        "args": ["mcp"]
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := openEngine(ctx, false)
		if err != nil {
			return err
		}
		defer func() {
			if err := e.Close(); err != nil {
				logger.Error("close database", "error", err)
			}
		}()

		var views *view.Cache
		if err := e.Do(ctx, func(db *msgdb.Database) error {
			views = view.NewCache(db, cfg.View.CacheSize, cfg.ViewOptions()).WithLogger(logger)
			return nil
		}); err != nil {
			return err
		}
		defer func() {
			_ = e.Do(context.Background(), func(*msgdb.Database) error {
				views.Close()
				return nil
			})
		}()

		return mcpserver.Serve(ctx, e.loop, e.db, views)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
