package esclient

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/redbco/searchsync/internal/model"
)

// Op is a bulk action's operation type.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// DocumentRequest describes a single document write against the model
// docName lives under, sufficient to derive every fan-out bulk action
// per §4.D.
type DocumentRequest struct {
	DocName     string
	Index       string
	HasChildren bool
	Parents     []model.ParentDescriptor
	ID          string
	Op          Op
	// Doc is the full document for Op == OpCreate, or only the changed
	// fields for Op == OpUpdate. Unused for OpDelete.
	Doc map[string]interface{}
}

// BuildBulkActions renders req's fan-out write as NDJSON bulk actions:
// one action against the document's own index, plus one per parent
// whose routing attribute carries a non-empty value on the document.
// Parents whose routing attribute is empty or absent are skipped
// silently. Every header and source line is written with
// json.Encoder.Encode, which terminates each line with "\n", so the
// returned bytes already end with exactly one trailing newline.
// Concatenate several requests' output directly; the result needs no
// extra "\n" before calling Client.Bulk.
func BuildBulkActions(req DocumentRequest) ([]byte, error) {
	var buf bytes.Buffer

	if err := writeAction(&buf, req, req.Index, req.ID, nil); err != nil {
		return nil, err
	}

	for _, parent := range req.Parents {
		parentID, _ := req.Doc[parent.RoutingAttr].(string)
		if parentID == "" {
			continue
		}
		join := map[string]interface{}{"name": req.DocName, "parent": parentID}
		if err := writeAction(&buf, req, parent.Index, parentID, join); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// writeAction appends one action (header line, plus a source line
// except for delete) to buf. routing is the id to route by; join, when
// non-nil, is this action's join field value (a child-style
// {name,parent} map). When join is nil and the own-index action targets
// a model with children, the own-index action's join value is the bare
// document name, marking this document as the join parent in its own
// index (§4.D's "own index" rule); a leaf model's own-index action
// carries no join field at all.
func writeAction(buf *bytes.Buffer, req DocumentRequest, index, routing string, join interface{}) error {
	header := map[string]interface{}{
		string(req.Op): map[string]interface{}{
			"_index":  index,
			"_id":     req.ID,
			"routing": routing,
		},
	}
	if err := writeLine(buf, header); err != nil {
		return fmt.Errorf("encoding bulk header: %w", err)
	}

	switch req.Op {
	case OpDelete:
		return nil
	case OpCreate:
		source := make(map[string]interface{}, len(req.Doc)+2)
		for k, v := range req.Doc {
			source[k] = v
		}
		source["type"] = req.DocName
		switch {
		case join != nil:
			source["join"] = join
		case index == req.Index && req.HasChildren:
			source["join"] = req.DocName
		}
		if err := writeLine(buf, source); err != nil {
			return fmt.Errorf("encoding bulk source: %w", err)
		}
		return nil
	case OpUpdate:
		if err := writeLine(buf, map[string]interface{}{"doc": req.Doc}); err != nil {
			return fmt.Errorf("encoding bulk source: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown bulk op %q", req.Op)
	}
}

func writeLine(buf *bytes.Buffer, v interface{}) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
