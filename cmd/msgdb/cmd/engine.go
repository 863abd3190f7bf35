package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/wesm/msgdb/internal/indexer"
	"github.com/wesm/msgdb/internal/loop"
	"github.com/wesm/msgdb/internal/msgdb"
)

// engine owns a database and the loop goroutine it runs on.
type engine struct {
	loop   *loop.Loop
	db     *msgdb.Database
	cancel context.CancelFunc
	done   chan error
}

// openEngine starts a loop and opens the configured database on it. With
// wait set the whole store is loaded before returning; otherwise loading
// proceeds in blocks on the loop.
func openEngine(ctx context.Context, wait bool) (*engine, error) {
	l := loop.New().WithLogger(logger)
	// The loop outlives ctx so Close can still flush after an interrupt.
	runCtx, cancel := context.WithCancel(context.Background())
	e := &engine{loop: l, cancel: cancel, done: make(chan error, 1)}
	go func() { e.done <- l.Run(runCtx) }()

	err := l.Call(ctx, func() error {
		db, err := msgdb.Open(cfg.DatabaseDir(), l, cfg.DatabaseOptions())
		if err != nil {
			return err
		}
		e.db = db.WithLogger(logger)
		if wait {
			return db.LoadAll()
		}
		db.StartLoading(func(err error) {
			if err != nil {
				logger.Error("load failed", "error", err)
				return
			}
			logger.Info("database loaded")
		})
		return nil
	})
	if err != nil {
		if e.db != nil {
			_ = l.Call(context.Background(), e.db.Close)
		}
		e.stop()
		return nil, fmt.Errorf("open database %s: %w", cfg.DatabaseDir(), err)
	}
	return e, nil
}

// Do runs fn against the database on the loop goroutine.
func (e *engine) Do(ctx context.Context, fn func(db *msgdb.Database) error) error {
	return e.loop.Call(ctx, func() error { return fn(e.db) })
}

// Close flushes outstanding changes, closes the database and stops the
// loop.
func (e *engine) Close() error {
	err := e.loop.Call(context.Background(), func() error {
		return errors.Join(e.db.Flush(), e.db.Close())
	})
	e.stop()
	return err
}

func (e *engine) stop() {
	e.cancel()
	<-e.done
}

// withEngine opens a fully loaded database, runs fn on its loop and
// closes it again.
func withEngine(ctx context.Context, fn func(db *msgdb.Database) error) (err error) {
	e, err := openEngine(ctx, true)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close database: %w", cerr)
		}
	}()
	return e.Do(ctx, fn)
}

// resolveIndex looks an index up by numeric id, then by name.
func resolveIndex(db *msgdb.Database, arg string) (*indexer.Index, error) {
	if id, err := strconv.ParseUint(arg, 10, 32); err == nil {
		return db.Index(uint32(id))
	}
	return db.Indexer().FindByName(arg)
}

func parseGID(arg string) (uint32, error) {
	gid, err := strconv.ParseUint(arg, 10, 32)
	if err != nil || gid == 0 {
		return 0, fmt.Errorf("invalid gid %q", arg)
	}
	return uint32(gid), nil
}
