package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesm/msgdb/internal/api"
	"github.com/wesm/msgdb/internal/msgdb"
	"github.com/wesm/msgdb/internal/scheduler"
	"github.com/wesm/msgdb/internal/view"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with scheduled maintenance",
	Long: `Run msgdb as a long-running daemon. The daemon performs:
  - HTTP API server on the configured port (default: 8080)
  - Recovery passes on [maintenance] recover_schedule
  - Trash purges on [maintenance] purge_schedule

The API answers while the store is still loading; requests that need the
whole store return 503 until loading finishes.

Cron format: minute hour day-of-month month day-of-week
  Examples:
    0 3 * * *     = 3:00 AM daily
    */15 * * * *  = Every 15 minutes
    0 0 * * 0     = Midnight on Sundays

Use Ctrl+C to stop the daemon gracefully.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Validate security posture before doing any work
	if err := cfg.Server.ValidateSecure(); err != nil {
		return err
	}
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

	sched := scheduler.New().WithLogger(logger)
	count, errs := sched.AddMaintenanceFromConfig(cfg, e.loop, e.db)
	for _, err := range errs {
		logger.Error("failed to schedule job", "error", err)
	}
	sched.Start()

	apiServer := api.NewServer(cfg, e.loop, e.db, views, sched, logger)
	serverErr := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	fmt.Printf("msgdb daemon started\n")
	fmt.Printf("  API server: http://%s\n", cfg.ListenAddr())
	fmt.Printf("  Maintenance jobs: %d\n", count)
	fmt.Printf("  Data directory: %s\n", cfg.DatabaseDir())
	for _, status := range sched.Status() {
		fmt.Printf("  %s: next run at %s\n", status.Name, status.NextRun.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
		fmt.Println("\nShutting down...")
	case runErr = <-serverErr:
		logger.Error("API server error", "error", runErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", "error", err)
	}

	schedCtx := sched.Stop()
	select {
	case <-schedCtx.Done():
	case <-time.After(30 * time.Second):
		logger.Warn("maintenance jobs did not stop in time")
	}
	return runErr
}
