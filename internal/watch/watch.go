// Package watch maintains the live change-stream to bulk-write pipeline:
// one long-lived goroutine per model cycling through
// Connecting -> Streaming -> Applying, reconnecting with exponential
// backoff and backfilling before it resumes streaming after a dropped
// connection.
package watch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redbco/searchsync/internal/esclient"
	"github.com/redbco/searchsync/internal/model"
	"github.com/redbco/searchsync/internal/store"
)

// Backfiller is the subset of internal/backfill's API the watcher needs
// to repopulate a table after a dropped connection, kept as an
// interface to avoid an import cycle.
type Backfiller interface {
	Backfill(ctx context.Context, m model.Model) error
}

// Logger is the leveled logging surface the watcher needs.
type Logger interface {
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

type stdLogger struct{}

func (stdLogger) Info(format string, args ...interface{})  { log.Printf("INFO "+format, args...) }
func (stdLogger) Warn(format string, args ...interface{})  { log.Printf("WARN "+format, args...) }
func (stdLogger) Error(format string, args ...interface{}) { log.Printf("ERROR "+format, args...) }

// FatalFunc terminates the process. Overridable in tests so the
// "unhandled exceptions escaping the retry window terminate the
// process" rule (§4.G) can be exercised without actually exiting the
// test binary.
type FatalFunc func(format string, args ...interface{})

// Watcher runs one goroutine per model, applying its primary-store
// change stream to the search cluster.
type Watcher struct {
	reg        *model.Registry
	client     *esclient.Client
	primary    store.PrimaryStore
	backfiller Backfiller
	log        Logger
	fatal      FatalFunc

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  int32
}

// New builds a Watcher. log and fatal may be nil to use the package
// defaults (standard log output, and a handler that logs through the
// standard logger and then calls osExit(1), respectively).
func New(reg *model.Registry, client *esclient.Client, primary store.PrimaryStore, backfiller Backfiller, log Logger, fatal FatalFunc) *Watcher {
	if log == nil {
		log = stdLogger{}
	}
	if fatal == nil {
		fatal = func(format string, args ...interface{}) {
			stdLog := stdLogger{}
			stdLog.Error(format, args...)
			osExit(1)
		}
	}
	return &Watcher{
		reg:        reg,
		client:     client,
		primary:    primary,
		backfiller: backfiller,
		log:        log,
		fatal:      fatal,
		stopChan:   make(chan struct{}),
	}
}

// osExit is what the default fatal handler calls after logging. It
// panics rather than calling os.Exit; left unrecovered in a watcher
// goroutine, that panic ends the process with a nonzero status. It is
// a package variable so it can be substituted.
var osExit = func(code int) {
	panic(fmt.Sprintf("watch: fatal exit(%d)", code))
}

// WatchAll starts one watcher goroutine per managed model. It returns
// immediately; call Stop for graceful shutdown.
func (w *Watcher) WatchAll(ctx context.Context) {
	atomic.StoreInt32(&w.running, 1)
	for _, m := range w.reg.Models() {
		w.wg.Add(1)
		go w.run(ctx, m)
	}
}

// Stop closes the stop broadcast channel and waits for every watcher
// goroutine to return. Idempotent and safe to call from any goroutine.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
	w.wg.Wait()
}

func (w *Watcher) run(ctx context.Context, m model.Model) {
	defer w.wg.Done()

	docName := model.DocumentName(m)
	hasChildren := len(w.reg.Children(docName)) > 0
	parents := w.reg.Parents(docName)

	everConnected := false

	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		// One backoff episode per reconnection: base 50ms, capped at
		// ~15s total. A fresh episode starts every time the previous
		// one succeeds in reopening the stream, so a long-lived,
		// healthy connection never exhausts an old budget.
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 50 * time.Millisecond
		bo.MaxElapsedTime = 15 * time.Second

		var streamErr error
		retryErr := backoff.Retry(func() error {
			select {
			case <-w.stopChan:
				return backoff.Permanent(errStopped)
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			default:
			}

			if everConnected && w.backfiller != nil {
				if err := w.backfiller.Backfill(ctx, m); err != nil {
					w.log.Error("watch %q: backfill before resuming stream failed: %v", docName, err)
				}
			}
			everConnected = true

			streamErr = w.streamOnce(ctx, m, docName, m.TableName(), hasChildren, parents)
			if streamErr == errStopped {
				return backoff.Permanent(errStopped)
			}
			if streamErr == nil {
				return nil
			}
			w.log.Warn("watch %q: stream error, retrying: %v", docName, streamErr)
			return streamErr
		}, backoff.WithContext(bo, ctx))

		switch {
		case retryErr == nil && streamErr == nil:
			// The change stream ended on its own rather than erroring;
			// treat that as a deliberate, permanent end rather than
			// something to reconnect from.
			return
		case retryErr == errStopped || ctx.Err() != nil:
			return
		default:
			w.fatal("watch %q: exhausted reconnect retry window: %v", docName, streamErr)
			return
		}
	}
}

var errStopped = fmt.Errorf("watch: stopped")

// streamOnce opens the change stream and applies events until the
// stream ends, an error occurs, or a stop is observed.
func (w *Watcher) streamOnce(ctx context.Context, m model.Model, docName, index string, hasChildren bool, parents []model.ParentDescriptor) error {
	select {
	case <-w.stopChan:
		return errStopped
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// it.Next only honors ctx, not the stop broadcast channel, so derive
	// a context that is also canceled the instant stop is observed —
	// otherwise a watcher idle between change events would never notice
	// Stop() until the next event arrived.
	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()
	go func() {
		select {
		case <-w.stopChan:
			cancelStream()
		case <-streamCtx.Done():
		}
	}()

	it, err := w.primary.Changes(streamCtx, m.TableName())
	if err != nil {
		return fmt.Errorf("opening change stream: %w", err)
	}
	defer it.Close()

	for {
		select {
		case <-w.stopChan:
			return errStopped
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		change, ok, err := it.Next(streamCtx)
		if err != nil {
			return fmt.Errorf("reading change: %w", err)
		}
		if !ok {
			return nil
		}
		if change.Value == nil {
			// A pure tombstone carrying no identity at all; nothing to
			// act on.
			continue
		}

		w.wg.Add(1)
		go func(change store.Change) {
			defer w.wg.Done()
			if err := w.apply(ctx, docName, index, hasChildren, parents, change); err != nil {
				w.log.Error("watch %q: applying event %s failed: %v", docName, change.Event, err)
			}
		}(change)
	}
}

func (w *Watcher) apply(ctx context.Context, docName, index string, hasChildren bool, parents []model.ParentDescriptor, change store.Change) error {
	id, _ := change.Value["id"].(string)

	var op esclient.Op
	switch change.Event {
	case store.Created:
		op = esclient.OpCreate
	case store.Updated:
		op = esclient.OpUpdate
	case store.Deleted:
		op = esclient.OpDelete
	default:
		w.fatal("watch %q: unknown event kind %q", docName, change.Event)
		return fmt.Errorf("unknown event kind %q", change.Event)
	}

	body, err := esclient.BuildBulkActions(esclient.DocumentRequest{
		DocName:     docName,
		Index:       index,
		HasChildren: hasChildren,
		Parents:     parents,
		ID:          id,
		Op:          op,
		Doc:         change.Value,
	})
	if err != nil {
		return fmt.Errorf("building bulk actions: %w", err)
	}

	return w.client.Bulk(ctx, body)
}
