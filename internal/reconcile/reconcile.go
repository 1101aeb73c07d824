// Package reconcile compares derived index mappings against what the
// search cluster actually has and repairs drift by recreating every
// managed index, all-or-nothing, per §4.E.
package reconcile

import (
	"context"
	"fmt"
	"sync"

	"github.com/redbco/searchsync/internal/esclient"
	"github.com/redbco/searchsync/internal/model"
	"github.com/redbco/searchsync/internal/schema"
)

// Backfiller is the subset of internal/backfill's API the reconciler
// needs, kept as an interface here to avoid an import cycle between
// reconcile and backfill (backfill does not depend on reconcile).
type Backfiller interface {
	BackfillAll(ctx context.Context) error
}

// Reconciler holds everything needed to compare and repair the managed
// indices against their derived schemas.
type Reconciler struct {
	reg        *model.Registry
	client     *esclient.Client
	backfiller Backfiller
	warn       schema.WarnFunc
}

// New builds a Reconciler over reg's managed models, using client to
// inspect and repair the search cluster. backfiller may be nil if the
// caller never calls Reconcile with backfillAfter=true.
func New(reg *model.Registry, client *esclient.Client, backfiller Backfiller, warn schema.WarnFunc) *Reconciler {
	return &Reconciler{reg: reg, client: client, backfiller: backfiller, warn: warn}
}

// Reconcile checks every managed model's index against its derived
// schema. If any index is missing or drifted, every managed index is
// deleted and recreated (reindex_all) — partial reconciliation would
// leave dangling child documents in parent indices whose schemas have
// diverged, so the sweep is all-or-nothing. When backfillAfter is true
// and a reindex occurred, BackfillAll repopulates every index
// afterwards.
func (r *Reconciler) Reconcile(ctx context.Context, backfillAfter bool) error {
	needsReindex, err := r.anyDrifted(ctx)
	if err != nil {
		return err
	}
	if !needsReindex {
		return nil
	}

	if err := r.reindexAllLocked(ctx); err != nil {
		return err
	}

	if backfillAfter {
		if r.backfiller == nil {
			return fmt.Errorf("reconcile: backfillAfter requested but no backfiller configured")
		}
		return r.backfiller.BackfillAll(ctx)
	}
	return nil
}

// anyDrifted reports whether any managed model's live index is missing
// or not equivalent to its derived schema.
func (r *Reconciler) anyDrifted(ctx context.Context) (bool, error) {
	for _, m := range r.reg.Models() {
		docName := model.DocumentName(m)
		index := m.TableName()

		exists, err := r.client.Exists(ctx, index)
		if err != nil {
			return false, fmt.Errorf("checking %q: %w", index, err)
		}
		if !exists {
			return true, nil
		}

		derived, err := schema.Build(r.reg, docName, r.warn)
		if err != nil {
			return false, fmt.Errorf("deriving schema for %q: %w", docName, err)
		}
		live, err := r.client.GetMapping(ctx, index)
		if err != nil {
			return false, fmt.Errorf("getting live mapping for %q: %w", index, err)
		}
		eq, err := esclient.Equivalent(live, derived)
		if err != nil {
			return false, fmt.Errorf("comparing mapping for %q: %w", index, err)
		}
		if !eq {
			return true, nil
		}
	}
	return false, nil
}

// ReindexAll deletes and recreates every managed index with its derived
// schema, in parallel, joining on all.
func (r *Reconciler) ReindexAll(ctx context.Context) error {
	return r.reindexAllLocked(ctx)
}

func (r *Reconciler) reindexAllLocked(ctx context.Context) error {
	models := r.reg.Models()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, m := range models {
		wg.Add(1)
		go func(m model.Model) {
			defer wg.Done()
			if err := r.reindexOne(ctx, m); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(m)
	}
	wg.Wait()

	if len(errs) > 0 {
		return fmt.Errorf("reindex_all: %d of %d indices failed: %w", len(errs), len(models), errs[0])
	}
	return nil
}

func (r *Reconciler) reindexOne(ctx context.Context, m model.Model) error {
	docName := model.DocumentName(m)
	index := m.TableName()

	derived, err := schema.Build(r.reg, docName, r.warn)
	if err != nil {
		return fmt.Errorf("deriving schema for %q: %w", docName, err)
	}
	if err := r.client.Delete(ctx, index); err != nil {
		return fmt.Errorf("deleting index %q: %w", index, err)
	}
	if err := r.client.PutMapping(ctx, index, derived); err != nil {
		return fmt.Errorf("creating index %q: %w", index, err)
	}
	return nil
}
