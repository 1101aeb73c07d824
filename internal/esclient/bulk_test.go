package esclient_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/redbco/searchsync/internal/esclient"
	"github.com/redbco/searchsync/internal/model"
)

func decodeLines(t *testing.T, raw []byte) []map[string]interface{} {
	t.Helper()
	if len(raw) == 0 || raw[len(raw)-1] != '\n' {
		t.Fatalf("bulk body must end with a trailing newline: %q", raw)
	}
	var lines []map[string]interface{}
	for _, line := range bytes.Split(bytes.TrimSuffix(raw, []byte("\n")), []byte("\n")) {
		if len(line) == 0 {
			t.Fatalf("bulk body contains a blank line: %q", raw)
		}
		var m map[string]interface{}
		if err := json.Unmarshal(line, &m); err != nil {
			t.Fatalf("unmarshal line %q: %v", line, err)
		}
		lines = append(lines, m)
	}
	return lines
}

// TestBuildBulkActions_FanOutWrite is spec.md scenario 3: creating a
// Beverage::Coffee with a non-empty Programmer parent produces two
// actions: one against coffee's own index, one against programmer's
// index, both routed accordingly.
func TestBuildBulkActions_FanOutWrite(t *testing.T) {
	req := esclient.DocumentRequest{
		DocName:     "Coffee",
		Index:       "coffee",
		HasChildren: false,
		Parents: []model.ParentDescriptor{
			{Name: "Programmer", Index: "programmer", RoutingAttr: "programmer_id"},
		},
		ID: "C1",
		Op: esclient.OpCreate,
		Doc: map[string]interface{}{
			"id":            "C1",
			"programmer_id": "P1",
			"roast":         "dark",
		},
	}

	raw, err := esclient.BuildBulkActions(req)
	if err != nil {
		t.Fatalf("BuildBulkActions: %v", err)
	}
	lines := decodeLines(t, raw)
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines (2 actions x header+source), got %d: %s", len(lines), raw)
	}

	ownHeader := lines[0]["create"].(map[string]interface{})
	if ownHeader["_index"] != "coffee" || ownHeader["_id"] != "C1" || ownHeader["routing"] != "C1" {
		t.Fatalf("unexpected own-index header: %v", ownHeader)
	}
	ownSource := lines[1]
	if _, hasJoin := ownSource["join"]; hasJoin {
		t.Errorf("leaf model's own-index action must not carry a join field, got %v", ownSource)
	}
	if ownSource["type"] != "Coffee" {
		t.Errorf("own-index source type = %v, want Coffee", ownSource["type"])
	}

	parentHeader := lines[2]["create"].(map[string]interface{})
	if parentHeader["_index"] != "programmer" || parentHeader["routing"] != "P1" {
		t.Fatalf("unexpected parent-index header: %v", parentHeader)
	}
	parentSource := lines[3]
	join, ok := parentSource["join"].(map[string]interface{})
	if !ok {
		t.Fatalf("parent-index source missing join field: %v", parentSource)
	}
	if join["name"] != "Coffee" || join["parent"] != "P1" {
		t.Fatalf("unexpected join field: %v", join)
	}
}

// TestBuildBulkActions_EmptyParentRoutingSkipped covers §4.D: a parent
// whose routing attribute is empty or absent is skipped silently.
func TestBuildBulkActions_EmptyParentRoutingSkipped(t *testing.T) {
	req := esclient.DocumentRequest{
		DocName: "Coffee",
		Index:   "coffee",
		Parents: []model.ParentDescriptor{
			{Name: "Programmer", Index: "programmer", RoutingAttr: "programmer_id"},
		},
		ID: "C1",
		Op: esclient.OpCreate,
		Doc: map[string]interface{}{
			"id": "C1",
		},
	}
	raw, err := esclient.BuildBulkActions(req)
	if err != nil {
		t.Fatalf("BuildBulkActions: %v", err)
	}
	lines := decodeLines(t, raw)
	if len(lines) != 2 {
		t.Fatalf("expected only the own-index action (2 lines), got %d: %s", len(lines), raw)
	}
}

// TestBuildBulkActions_ParentOwnIndexCarriesJoin covers the own-index
// rule for a model that itself has children: Programmer's own-index
// action must carry join=<doc_name>, since its own index has children.
func TestBuildBulkActions_ParentOwnIndexCarriesJoin(t *testing.T) {
	req := esclient.DocumentRequest{
		DocName:     "Programmer",
		Index:       "programmer",
		HasChildren: true,
		ID:          "P1",
		Op:          esclient.OpCreate,
		Doc:         map[string]interface{}{"id": "P1", "name": "Ada"},
	}
	raw, err := esclient.BuildBulkActions(req)
	if err != nil {
		t.Fatalf("BuildBulkActions: %v", err)
	}
	lines := decodeLines(t, raw)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[1]["join"] != "Programmer" {
		t.Fatalf("expected join=Programmer on parent's own-index action, got %v", lines[1]["join"])
	}
}

func TestBuildBulkActions_Delete(t *testing.T) {
	req := esclient.DocumentRequest{
		DocName: "Broke",
		Index:   "broke",
		ID:      "B1",
		Op:      esclient.OpDelete,
	}
	raw, err := esclient.BuildBulkActions(req)
	if err != nil {
		t.Fatalf("BuildBulkActions: %v", err)
	}
	lines := decodeLines(t, raw)
	if len(lines) != 1 {
		t.Fatalf("delete action must have only a header line, got %d", len(lines))
	}
	if _, ok := lines[0]["delete"]; !ok {
		t.Fatalf("expected a delete header, got %v", lines[0])
	}
}

// TestBuildBulkActions_ConcatenatesWithoutBlankLines mirrors how
// backfill.postChunk and watch.apply build a multi-row bulk body:
// appending each call's raw output directly, with no separator added
// in between. The result must still end in exactly one newline and
// carry no blank lines, or a real cluster would reject it.
func TestBuildBulkActions_ConcatenatesWithoutBlankLines(t *testing.T) {
	var body []byte
	for _, id := range []string{"B1", "B2"} {
		raw, err := esclient.BuildBulkActions(esclient.DocumentRequest{
			DocName: "Broke",
			Index:   "broke",
			ID:      id,
			Op:      esclient.OpCreate,
			Doc:     map[string]interface{}{"id": id},
		})
		if err != nil {
			t.Fatalf("BuildBulkActions: %v", err)
		}
		body = append(body, raw...)
	}

	lines := decodeLines(t, body)
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines (2 rows x header+source), got %d: %s", len(lines), body)
	}
}

func TestBuildBulkActions_Update(t *testing.T) {
	req := esclient.DocumentRequest{
		DocName: "Broke",
		Index:   "broke",
		ID:      "B1",
		Op:      esclient.OpUpdate,
		Doc:     map[string]interface{}{"status": false},
	}
	raw, err := esclient.BuildBulkActions(req)
	if err != nil {
		t.Fatalf("BuildBulkActions: %v", err)
	}
	if !strings.Contains(string(raw), `"doc"`) {
		t.Fatalf("expected update source to wrap partial fields in \"doc\": %s", raw)
	}
}
