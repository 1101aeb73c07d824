package esclient_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/redbco/searchsync/internal/esclient"
)

// fakeCluster is a minimal in-memory Elasticsearch 7-compatible double,
// grounded on the teacher's own pattern of testing its database
// connectors through the real client driven against a recorded/stubbed
// transport, rather than reimplementing the wire protocol in a mock
// client.
type fakeCluster struct {
	mu       sync.Mutex
	mappings map[string]json.RawMessage
	docCount map[string]int
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		mappings: make(map[string]json.RawMessage),
		docCount: make(map[string]int),
	}
}

func (f *fakeCluster) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.Trim(req.URL.Path, "/")
	parts := strings.Split(path, "/")

	switch {
	case req.Method == http.MethodHead && len(parts) == 1:
		index := parts[0]
		if _, ok := f.mappings[index]; ok {
			return respond(200, nil), nil
		}
		return respond(404, nil), nil

	case req.Method == http.MethodPut && len(parts) == 1:
		index := parts[0]
		body, _ := io.ReadAll(req.Body)
		f.mappings[index] = json.RawMessage(body)
		return respond(200, map[string]interface{}{"acknowledged": true}), nil

	case req.Method == http.MethodDelete && len(parts) == 1:
		index := parts[0]
		if _, ok := f.mappings[index]; !ok {
			return respond(404, map[string]interface{}{"error": "index_not_found_exception"}), nil
		}
		delete(f.mappings, index)
		delete(f.docCount, index)
		return respond(200, map[string]interface{}{"acknowledged": true}), nil

	case req.Method == http.MethodGet && len(parts) == 1:
		index := parts[0]
		schema, ok := f.mappings[index]
		if !ok {
			return respond(404, map[string]interface{}{"error": "index_not_found_exception"}), nil
		}
		var decoded map[string]interface{}
		json.Unmarshal(schema, &decoded)
		return respond(200, map[string]interface{}{index: decoded}), nil

	case len(parts) == 2 && parts[1] == "_count":
		index := parts[0]
		return respond(200, map[string]interface{}{"count": f.docCount[index]}), nil

	case req.Method == http.MethodPost && strings.HasSuffix(path, "_bulk"):
		body, _ := io.ReadAll(req.Body)
		items := f.applyBulk(body)
		return respond(200, map[string]interface{}{"errors": false, "items": items}), nil

	case req.Method == http.MethodPost && strings.HasSuffix(path, "_delete_by_query"):
		index := parts[0]
		f.docCount[index] = 0
		return respond(200, map[string]interface{}{"deleted": 0}), nil
	}

	return respond(404, map[string]interface{}{"error": "unhandled: " + req.Method + " " + path}), nil
}

func (f *fakeCluster) applyBulk(body []byte) []map[string]interface{} {
	lines := bytes.Split(bytes.TrimRight(body, "\n"), []byte("\n"))
	var items []map[string]interface{}
	for i := 0; i < len(lines); i++ {
		var header map[string]map[string]interface{}
		if err := json.Unmarshal(lines[i], &header); err != nil {
			continue
		}
		for op, meta := range header {
			index, _ := meta["_index"].(string)
			switch op {
			case "create":
				i++ // skip source line
				f.docCount[index]++
			case "update":
				i++ // skip source line
			case "delete":
				if f.docCount[index] > 0 {
					f.docCount[index]--
				}
			}
			items = append(items, map[string]interface{}{
				op: map[string]interface{}{"status": 201},
			})
		}
	}
	return items
}

func respond(status int, body interface{}) *http.Response {
	var reader io.ReadCloser
	if body == nil {
		reader = io.NopCloser(bytes.NewReader(nil))
	} else {
		b, _ := json.Marshal(body)
		reader = io.NopCloser(bytes.NewReader(b))
	}
	return &http.Response{
		StatusCode: status,
		Body:       reader,
		Header:     make(http.Header),
	}
}

func newTestClient(t *testing.T, transport http.RoundTripper) *esclient.Client {
	t.Helper()
	c, err := esclient.New(elasticsearch.Config{Transport: transport}, esclient.Config{PoolSize: 2})
	if err != nil {
		t.Fatalf("esclient.New: %v", err)
	}
	return c
}
