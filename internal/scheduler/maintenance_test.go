package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/wesm/msgdb/internal/config"
	"github.com/wesm/msgdb/internal/store"
	"github.com/wesm/msgdb/internal/testutil"
)

// inline runs work on the calling goroutine.
type inline struct{ calls int }

func (c *inline) Call(_ context.Context, fn func() error) error {
	c.calls++
	return fn()
}

func TestPurgeJob(t *testing.T) {
	db, _ := testutil.NewTestDatabase(t)
	gids := testutil.AddMessages(t, db,
		testutil.NewMessage("old").WithDate(testutil.Epoch.AddDate(0, -2, 0)).Build(),
		testutil.NewMessage("recent").WithDate(testutil.Epoch).Build(),
	)
	for _, gid := range gids {
		testutil.MustNoErr(t, db.MoveToTrash(gid), "trash")
	}

	c := &inline{}
	job := PurgeJob(c, db, 30*24*time.Hour)
	testutil.MustNoErr(t, job(context.Background()), "purge job")

	if c.calls != 1 {
		t.Errorf("Call invoked %d times, want 1", c.calls)
	}
	if _, err := db.Get(gids[0]); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("old trash still present: %v", err)
	}
	if _, err := db.Get(gids[1]); err != nil {
		t.Errorf("recent trash purged: %v", err)
	}
}

func TestRecoverJob(t *testing.T) {
	db, _ := testutil.NewTestDatabase(t)
	testutil.AddMessages(t, db, testutil.NewMessage("a").Build())

	job := RecoverJob(&inline{}, db, slog.Default())
	testutil.MustNoErr(t, job(context.Background()), "recover job")
}

func TestRecoverJobPropagatesCallError(t *testing.T) {
	db, _ := testutil.NewTestDatabase(t)
	job := RecoverJob(failing{}, db, slog.Default())
	if err := job(context.Background()); !errors.Is(err, context.Canceled) {
		t.Errorf("job() = %v, want context.Canceled", err)
	}
}

type failing struct{}

func (failing) Call(context.Context, func() error) error { return context.Canceled }

func TestAddMaintenanceFromConfig(t *testing.T) {
	db, _ := testutil.NewTestDatabase(t)
	t.Setenv("MSGDB_HOME", t.TempDir())

	tests := []struct {
		name        string
		recoverExpr string
		purgeExpr   string
		scheduled   int
		errs        int
	}{
		{"both", "0 3 * * *", "30 3 * * *", 2, 0},
		{"recover only", "*/15 * * * *", "", 1, 0},
		{"none", "", "", 0, 0},
		{"one invalid", "0 3 * * *", "daily", 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Maintenance.RecoverSchedule = tt.recoverExpr
			cfg.Maintenance.PurgeSchedule = tt.purgeExpr

			s := New()
			n, errs := s.AddMaintenanceFromConfig(cfg, &inline{}, db)
			if n != tt.scheduled {
				t.Errorf("scheduled = %d, want %d", n, tt.scheduled)
			}
			if len(errs) != tt.errs {
				t.Errorf("len(errs) = %d, want %d: %v", len(errs), tt.errs, errs)
			}
			if got := s.IsScheduled(JobRecover); got != (tt.recoverExpr != "") {
				t.Errorf("IsScheduled(recover) = %v", got)
			}
		})
	}
}
