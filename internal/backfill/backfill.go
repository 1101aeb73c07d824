// Package backfill streams a model's rows from the primary store and
// emits bulk writes in bounded batches, fanning out across tables.
package backfill

import (
	"context"
	"fmt"
	"sync"

	"github.com/redbco/searchsync/internal/esclient"
	"github.com/redbco/searchsync/internal/model"
	"github.com/redbco/searchsync/internal/store"
)

// chunkSize matches §4.F's "chunk into groups of 100".
const chunkSize = 100

// Backfiller streams models from a PrimaryStore into the search
// cluster.
type Backfiller struct {
	reg     *model.Registry
	client  *esclient.Client
	primary store.PrimaryStore
	log     func(format string, args ...interface{})
}

func noopLog(string, ...interface{}) {}

// New builds a Backfiller over reg's managed models.
func New(reg *model.Registry, client *esclient.Client, primary store.PrimaryStore, log func(format string, args ...interface{})) *Backfiller {
	if log == nil {
		log = noopLog
	}
	return &Backfiller{reg: reg, client: client, primary: primary, log: log}
}

// Backfill streams m's table from the primary store in chunks of 100,
// posting each chunk as its own bulk request concurrently. A failed
// chunk is logged with its size and the model name; other chunks
// proceed — there is no retry at this layer, since the reconciler's
// sweep is idempotent for its own rerun and per-chunk retry is an
// operational concern.
func (b *Backfiller) Backfill(ctx context.Context, m model.Model) error {
	docName := model.DocumentName(m)
	hasChildren := len(b.reg.Children(docName)) > 0
	parents := b.reg.Parents(docName)

	it, err := b.primary.IterateAll(ctx, m.TableName())
	if err != nil {
		return fmt.Errorf("backfill %q: iterating primary store: %w", docName, err)
	}
	defer it.Close()

	var wg sync.WaitGroup
	chunk := make([]map[string]interface{}, 0, chunkSize)

	flush := func(rows []map[string]interface{}) {
		if len(rows) == 0 {
			return
		}
		wg.Add(1)
		go func(rows []map[string]interface{}) {
			defer wg.Done()
			if err := b.postChunk(ctx, docName, m.TableName(), hasChildren, parents, rows); err != nil {
				b.log("backfill %q: chunk of %d rows failed: %v", docName, len(rows), err)
			}
		}(rows)
	}

	for {
		row, ok, err := it.Next(ctx)
		if err != nil {
			wg.Wait()
			return fmt.Errorf("backfill %q: reading row: %w", docName, err)
		}
		if !ok {
			break
		}
		chunk = append(chunk, row)
		if len(chunk) == chunkSize {
			flush(chunk)
			chunk = make([]map[string]interface{}, 0, chunkSize)
		}
	}
	flush(chunk)

	wg.Wait()
	return nil
}

func (b *Backfiller) postChunk(ctx context.Context, docName, index string, hasChildren bool, parents []model.ParentDescriptor, rows []map[string]interface{}) error {
	var body []byte
	for _, row := range rows {
		id, _ := row["id"].(string)
		actions, err := esclient.BuildBulkActions(esclient.DocumentRequest{
			DocName:     docName,
			Index:       index,
			HasChildren: hasChildren,
			Parents:     parents,
			ID:          id,
			Op:          esclient.OpCreate,
			Doc:         row,
		})
		if err != nil {
			return fmt.Errorf("building bulk actions for %q: %w", id, err)
		}
		body = append(body, actions...)
	}
	return b.client.Bulk(ctx, body)
}

// BackfillAll runs Backfill for every managed model in parallel,
// joining on all and collecting per-model errors.
func (b *Backfiller) BackfillAll(ctx context.Context) error {
	models := b.reg.Models()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, m := range models {
		wg.Add(1)
		go func(m model.Model) {
			defer wg.Done()
			if err := b.Backfill(ctx, m); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(m)
	}
	wg.Wait()

	if len(errs) > 0 {
		return fmt.Errorf("backfill_all: %d of %d models failed: %w", len(errs), len(models), errs[0])
	}
	return nil
}
