package watch_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/redbco/searchsync/internal/esclient"
	"github.com/redbco/searchsync/internal/fixtures"
	"github.com/redbco/searchsync/internal/model"
	"github.com/redbco/searchsync/internal/store"
	"github.com/redbco/searchsync/internal/watch"
)

type fakeCluster struct {
	mu       sync.Mutex
	docCount map[string]int
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{docCount: make(map[string]int)}
}

func (f *fakeCluster) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.Trim(req.URL.Path, "/")
	parts := strings.Split(path, "/")

	if req.Method == http.MethodPost && strings.HasSuffix(path, "_bulk") {
		body, _ := io.ReadAll(req.Body)
		f.applyBulk(body)
		return respond(200, map[string]interface{}{"errors": false, "items": []interface{}{}}), nil
	}
	if len(parts) == 2 && parts[1] == "_count" {
		return respond(200, map[string]interface{}{"count": f.docCount[parts[0]]}), nil
	}
	return respond(404, nil), nil
}

func (f *fakeCluster) applyBulk(body []byte) {
	lines := bytes.Split(bytes.TrimRight(body, "\n"), []byte("\n"))
	for i := 0; i < len(lines); i++ {
		var header map[string]map[string]interface{}
		if err := json.Unmarshal(lines[i], &header); err != nil {
			continue
		}
		for op, meta := range header {
			index, _ := meta["_index"].(string)
			switch op {
			case "create":
				i++
				f.docCount[index]++
			case "delete":
				if f.docCount[index] > 0 {
					f.docCount[index]--
				}
			}
		}
	}
}

func respond(status int, body interface{}) *http.Response {
	b, _ := json.Marshal(body)
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(b)), Header: make(http.Header)}
}

func newTestClient(t *testing.T, transport http.RoundTripper) *esclient.Client {
	t.Helper()
	c, err := esclient.New(elasticsearch.Config{Transport: transport}, esclient.Config{PoolSize: 4})
	if err != nil {
		t.Fatalf("esclient.New: %v", err)
	}
	return c
}

type noopBackfiller struct{}

func (noopBackfiller) Backfill(ctx context.Context, m model.Model) error { return nil }

func waitForCount(t *testing.T, client *esclient.Client, index string, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		count, err := client.Count(context.Background(), index)
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if int(count) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("index %q never reached count %d", index, want)
}

// TestWatcher_LiveSync is spec.md scenario 6.
func TestWatcher_LiveSync(t *testing.T) {
	reg, err := model.NewRegistry([]model.Model{fixtures.Programmer()})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	cluster := newFakeCluster()
	client := newTestClient(t, cluster)
	mem := store.NewMemory()

	w := watch.New(reg, client, mem, noopBackfiller{}, nil, func(format string, args ...interface{}) {
		t.Fatalf("unexpected fatal: "+format, args...)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.WatchAll(ctx)

	mem.Put("programmer", map[string]interface{}{"id": "P1", "name": "Ada"})
	waitForCount(t, client, "programmer", 1)

	mem.Delete("programmer", "P1")
	waitForCount(t, client, "programmer", 0)

	w.Stop()

	mem.Put("programmer", map[string]interface{}{"id": "P2", "name": "Grace"})
	time.Sleep(50 * time.Millisecond)
	count, err := client.Count(context.Background(), "programmer")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no further changes after Stop, got count %d", count)
	}
}

// TestWatcher_UnknownEventIsFatal covers §4.G's "unknown event kinds
// are a fatal programming error" rule.
func TestWatcher_UnknownEventIsFatal(t *testing.T) {
	reg, err := model.NewRegistry([]model.Model{fixtures.Broke()})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	cluster := newFakeCluster()
	client := newTestClient(t, cluster)
	mem := &singleEventStore{
		change: store.Change{Event: store.Event("bogus"), Value: map[string]interface{}{"id": "X"}},
	}

	fatalCalled := make(chan string, 1)
	w := watch.New(reg, client, mem, noopBackfiller{}, nil, func(format string, args ...interface{}) {
		fatalCalled <- fmt.Sprintf(format, args...)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.WatchAll(ctx)

	select {
	case <-fatalCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("expected fatal to be called for an unknown event kind")
	}
}

// singleEventStore emits exactly one change then blocks, for testing a
// single malformed event in isolation.
type singleEventStore struct {
	change store.Change
	once   sync.Once
}

func (s *singleEventStore) IterateAll(ctx context.Context, table string) (store.RowIterator, error) {
	return nil, fmt.Errorf("not used")
}

func (s *singleEventStore) Changes(ctx context.Context, table string) (store.ChangeIterator, error) {
	return &singleEventIterator{store: s}, nil
}

type singleEventIterator struct {
	store *singleEventStore
	sent  bool
	block chan struct{}
}

func (it *singleEventIterator) Next(ctx context.Context) (store.Change, bool, error) {
	if !it.sent {
		it.sent = true
		return it.store.change, true, nil
	}
	if it.block == nil {
		it.block = make(chan struct{})
	}
	select {
	case <-it.block:
		return store.Change{}, false, nil
	case <-ctx.Done():
		return store.Change{}, false, ctx.Err()
	}
}

func (it *singleEventIterator) Close() error { return nil }
