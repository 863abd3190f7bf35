package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wesm/msgdb/internal/config"
	"github.com/wesm/msgdb/internal/msgdb"
)

// Maintenance job names.
const (
	JobRecover = "recover"
	JobPurge   = "purge"
)

// Caller runs fn on the goroutine that owns the database. *loop.Loop
// satisfies it.
type Caller interface {
	Call(ctx context.Context, fn func() error) error
}

// RecoverJob returns a job running a recovery pass over db.
func RecoverJob(c Caller, db *msgdb.Database, logger *slog.Logger) JobFunc {
	return func(ctx context.Context) error {
		return c.Call(ctx, func() error {
			res, err := db.Recover()
			if err != nil {
				return fmt.Errorf("recover: %w", err)
			}
			logger.Info("recovery pass",
				"purged", res.Purged,
				"pruned", res.Pruned,
				"reindexed", res.Reindexed)
			return nil
		})
	}
}

// PurgeJob returns a job permanently removing trash older than retention.
func PurgeJob(c Caller, db *msgdb.Database, retention time.Duration) JobFunc {
	return func(ctx context.Context) error {
		return c.Call(ctx, func() error {
			cutoff := db.Scheduler().Now().Add(-retention)
			if _, err := db.PurgeTrash(cutoff); err != nil {
				return fmt.Errorf("purge trash: %w", err)
			}
			return nil
		})
	}
}

// AddMaintenanceFromConfig schedules the recovery and purge jobs that have
// a schedule in cfg. Returns the number of jobs scheduled and any errors
// encountered.
func (s *Scheduler) AddMaintenanceFromConfig(cfg *config.Config, c Caller, db *msgdb.Database) (int, []error) {
	var errs []error
	scheduled := 0

	jobs := []struct {
		name string
		expr string
		fn   JobFunc
	}{
		{JobRecover, cfg.Maintenance.RecoverSchedule, RecoverJob(c, db, s.logger)},
		{JobPurge, cfg.Maintenance.PurgeSchedule, PurgeJob(c, db, cfg.TrashRetention())},
	}
	for _, j := range jobs {
		if j.expr == "" {
			continue
		}
		if err := s.AddJob(j.name, j.expr, j.fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", j.name, err))
		} else {
			scheduled++
		}
	}
	return scheduled, errs
}
