// Package tablemanager is the facade that wires schema derivation,
// reconciliation, backfill and live watching into the single startup
// sequence and operational surface described by §4.H: build schemas,
// reconcile, optionally backfill everything, optionally start
// watching.
package tablemanager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/redbco/searchsync/internal/backfill"
	"github.com/redbco/searchsync/internal/esclient"
	"github.com/redbco/searchsync/internal/model"
	"github.com/redbco/searchsync/internal/reconcile"
	"github.com/redbco/searchsync/internal/schema"
	"github.com/redbco/searchsync/internal/store"
	"github.com/redbco/searchsync/internal/watch"
)

// Logger is the leveled logging surface the manager and the
// components it owns need. *logging.Logger satisfies this.
type Logger interface {
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// Options configures which phases Manager.Start runs beyond the
// mandatory build-schemas-then-reconcile step.
type Options struct {
	// BackfillOnStart runs BackfillAll once after reconciliation,
	// before watching begins.
	BackfillOnStart bool
	// Watch starts the live change-stream pipeline after reconciling
	// (and, if requested, backfilling).
	Watch bool
}

// ErrUnknownModel is returned by Reindex and Backfill when asked for a
// document name the registry does not manage.
var ErrUnknownModel = errors.New("unknown model")

// Manager is the single entry point services wire up at startup: it
// owns the reconciler, backfiller and watcher and exposes the handful
// of operations the control surface needs.
type Manager struct {
	reg        *model.Registry
	client     *esclient.Client
	reconciler *reconcile.Reconciler
	backfiller *backfill.Backfiller
	watcher    *watch.Watcher
	log        Logger

	mu      sync.Mutex
	started bool
}

// New builds a Manager over reg's managed models, wiring a single
// concrete *backfill.Backfiller into both the reconciler and the
// watcher so a backfill triggered from either path shares one
// implementation.
func New(reg *model.Registry, client *esclient.Client, primary store.PrimaryStore, log Logger) *Manager {
	warn := schema.WarnFunc(func(format string, args ...interface{}) {
		log.Warn(format, args...)
	})

	bf := backfill.New(reg, client, primary, func(format string, args ...interface{}) {
		log.Error(format, args...)
	})
	rec := reconcile.New(reg, client, bf, warn)
	w := watch.New(reg, client, primary, bf, watchLoggerAdapter{log}, func(format string, args ...interface{}) {
		log.Error("watch: fatal: "+format, args...)
		os.Exit(1)
	})

	return &Manager{
		reg:        reg,
		client:     client,
		reconciler: rec,
		backfiller: bf,
		watcher:    w,
		log:        log,
	}
}

// watchLoggerAdapter adapts Logger to watch.Logger — both are
// structurally identical, but kept as distinct named interfaces per
// package so each package documents only what it needs.
type watchLoggerAdapter struct{ Logger }

// Start runs build-schemas-then-reconcile unconditionally, then the
// phases opts requests, in order: reconcile, optional backfill_all,
// optional watch_tables. Calling Start again after a successful Start
// on the same Manager returns an error.
func (m *Manager) Start(ctx context.Context, opts Options) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("tablemanager: already started")
	}

	m.log.Info("reconciling %d managed indices", len(m.reg.Models()))
	if err := m.reconciler.Reconcile(ctx, false); err != nil {
		return fmt.Errorf("tablemanager: initial reconcile: %w", err)
	}

	if opts.BackfillOnStart {
		m.log.Info("backfilling all managed indices")
		if err := m.backfiller.BackfillAll(ctx); err != nil {
			return fmt.Errorf("tablemanager: initial backfill: %w", err)
		}
	}

	if opts.Watch {
		m.log.Info("starting live change-stream watchers")
		m.watcher.WatchAll(ctx)
	}

	m.started = true
	return nil
}

// Stop gracefully shuts down the watcher, if it was started. Safe to
// call even if Start was never called or watching was never
// requested.
func (m *Manager) Stop() {
	m.watcher.Stop()
}

// Reindex recreates the named model's index with its current derived
// schema, used by the control surface's per-model reindex endpoint.
// Schema derivation still runs against the full registry (a parent
// model's mapping includes its children's properties), only the
// delete-and-recreate is scoped to this one index.
func (m *Manager) Reindex(ctx context.Context, docName string) error {
	mdl, ok := m.reg.Model(docName)
	if !ok {
		return fmt.Errorf("tablemanager: %w: %q", ErrUnknownModel, docName)
	}
	index := mdl.TableName()

	derived, err := schema.Build(m.reg, docName, nil)
	if err != nil {
		return fmt.Errorf("tablemanager: deriving schema for %q: %w", docName, err)
	}
	if err := m.client.Delete(ctx, index); err != nil {
		return fmt.Errorf("tablemanager: deleting index %q: %w", index, err)
	}
	if err := m.client.PutMapping(ctx, index, derived); err != nil {
		return fmt.Errorf("tablemanager: creating index %q: %w", index, err)
	}
	return nil
}

// Backfill repopulates the named model's index from the primary
// store, used by the control surface's per-model backfill endpoint.
func (m *Manager) Backfill(ctx context.Context, docName string) error {
	mdl, ok := m.reg.Model(docName)
	if !ok {
		return fmt.Errorf("tablemanager: %w: %q", ErrUnknownModel, docName)
	}
	return m.backfiller.Backfill(ctx, mdl)
}

// ReindexAll recreates every managed index with its current derived
// schema, used by the control surface's global reindex endpoint.
func (m *Manager) ReindexAll(ctx context.Context) error {
	return m.reconciler.ReindexAll(ctx)
}

// BackfillAll repopulates every managed index from the primary store,
// used by the control surface's global backfill endpoint.
func (m *Manager) BackfillAll(ctx context.Context) error {
	return m.backfiller.BackfillAll(ctx)
}
