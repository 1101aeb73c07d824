// Package store defines the primary-store interfaces the core consumes:
// an abstract iterator over a table's rows (for backfill) and an
// abstract iterator over a table's change stream (for live sync). The
// primary-store driver itself is external, per spec — this package
// also ships Memory, a reference implementation used by tests and the
// cmd/tablemanager demo.
package store

import "context"

// Event is the kind of mutation a ChangeIterator reports.
type Event string

const (
	Created Event = "created"
	Updated Event = "updated"
	Deleted Event = "deleted"
)

// Change is one entry from a table's change stream. Value is the
// current document for Created, at least the identity ("id") and
// routing fields for Deleted, and changed-fields-only for Updated
// (the core never diffs documents itself; a PrimaryStore
// implementation that supplies full documents on Updated is also
// correct, just less efficient over the wire). Value is nil only for a
// pure tombstone carrying no identity at all, which callers must skip.
type Change struct {
	Event Event
	Value map[string]interface{}
}

// PrimaryStore is the abstract authoritative document store the core
// backfills from and watches for changes. table is a model's TableName.
type PrimaryStore interface {
	IterateAll(ctx context.Context, table string) (RowIterator, error)
	Changes(ctx context.Context, table string) (ChangeIterator, error)
}

// RowIterator streams a table's full contents, in no particular order,
// for backfill.
type RowIterator interface {
	// Next returns the next row, or ok=false once exhausted.
	Next(ctx context.Context) (row map[string]interface{}, ok bool, err error)
	Close() error
}

// ChangeIterator streams a table's change events for live sync. Next
// blocks until an event is available, ctx is done, or the stream ends.
type ChangeIterator interface {
	Next(ctx context.Context) (change Change, ok bool, err error)
	Close() error
}
