package store

import (
	"context"
	"reflect"
	"strings"
	"sync"
)

// Memory is an in-memory PrimaryStore: fixture code for tests and the
// cmd/tablemanager demo, not a production driver. It tracks the last
// written value per row so Updated events can report changed-fields-only,
// and always carries the id and any routing-looking ("*_id") fields on
// every event, since a real driver's change stream is expected to treat
// identity and parent-routing fields as structural rather than
// diffable data (see DESIGN.md's resolution of §9's open question).
type Memory struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]interface{}
	subs   map[string][]chan Change
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		tables: make(map[string]map[string]map[string]interface{}),
		subs:   make(map[string][]chan Change),
	}
}

// Put inserts or updates row (which must carry an "id" string field)
// into table, broadcasting a Created or Updated change to every
// subscriber.
func (m *Memory) Put(table string, row map[string]interface{}) {
	id, _ := row["id"].(string)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tables[table] == nil {
		m.tables[table] = make(map[string]map[string]interface{})
	}
	prior, existed := m.tables[table][id]

	var change Change
	if !existed {
		change = Change{Event: Created, Value: copyRow(row)}
	} else {
		diff := make(map[string]interface{})
		for k, v := range row {
			if isStructuralField(k) || !reflect.DeepEqual(prior[k], v) {
				diff[k] = v
			}
		}
		change = Change{Event: Updated, Value: diff}
	}

	m.tables[table][id] = copyRow(row)
	m.broadcastLocked(table, change)
}

// Delete removes the row with the given id from table, broadcasting a
// Deleted change carrying the deleted row's identity and routing
// fields (so fan-out deletes can still find the parent index).
func (m *Memory) Delete(table, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prior := m.tables[table][id]
	delete(m.tables[table], id)

	value := make(map[string]interface{})
	for k, v := range prior {
		if isStructuralField(k) {
			value[k] = v
		}
	}
	if value["id"] == nil {
		value["id"] = id
	}
	m.broadcastLocked(table, Change{Event: Deleted, Value: value})
}

func isStructuralField(name string) bool {
	return name == "id" || strings.HasSuffix(name, "_id")
}

func copyRow(row map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func (m *Memory) broadcastLocked(table string, change Change) {
	for _, ch := range m.subs[table] {
		select {
		case ch <- change:
		default:
			// A slow subscriber must not stall Put/Delete; the test
			// fixture favors bounded buffering over blocking writers.
		}
	}
}

// IterateAll returns a snapshot RowIterator over table's current rows.
func (m *Memory) IterateAll(ctx context.Context, table string) (RowIterator, error) {
	m.mu.Lock()
	rows := make([]map[string]interface{}, 0, len(m.tables[table]))
	for _, row := range m.tables[table] {
		rows = append(rows, copyRow(row))
	}
	m.mu.Unlock()
	return &sliceRowIterator{rows: rows}, nil
}

type sliceRowIterator struct {
	rows []map[string]interface{}
	pos  int
}

func (it *sliceRowIterator) Next(ctx context.Context) (map[string]interface{}, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if it.pos >= len(it.rows) {
		return nil, false, nil
	}
	row := it.rows[it.pos]
	it.pos++
	return row, true, nil
}

func (it *sliceRowIterator) Close() error { return nil }

// Changes subscribes a new ChangeIterator to table's change stream.
// Each call to Changes registers an independent subscriber; closing the
// iterator unsubscribes it.
func (m *Memory) Changes(ctx context.Context, table string) (ChangeIterator, error) {
	ch := make(chan Change, 256)

	m.mu.Lock()
	m.subs[table] = append(m.subs[table], ch)
	m.mu.Unlock()

	return &chanChangeIterator{store: m, table: table, ch: ch}, nil
}

type chanChangeIterator struct {
	store *Memory
	table string
	ch    chan Change
}

func (it *chanChangeIterator) Next(ctx context.Context) (Change, bool, error) {
	select {
	case change, ok := <-it.ch:
		if !ok {
			return Change{}, false, nil
		}
		return change, true, nil
	case <-ctx.Done():
		return Change{}, false, ctx.Err()
	}
}

func (it *chanChangeIterator) Close() error {
	it.store.mu.Lock()
	defer it.store.mu.Unlock()
	subs := it.store.subs[it.table]
	for i, ch := range subs {
		if ch == it.ch {
			it.store.subs[it.table] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	close(it.ch)
	return nil
}
