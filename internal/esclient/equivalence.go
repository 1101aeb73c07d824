package esclient

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// Equivalent implements §4.D's mapping-equivalence law: two schemas are
// equivalent iff the sorted key sets of mappings.properties match, every
// non-join property's value is deeply equal, and the join property's
// relations map has identical keys whose values compare equal after
// coercing a single-element list to its scalar and sorting any lists. A
// missing mapping on either side is never equivalent.
func Equivalent(live, derived json.RawMessage) (bool, error) {
	if live == nil || derived == nil {
		return false, nil
	}

	liveProps, err := properties(live)
	if err != nil {
		return false, fmt.Errorf("reading live mapping: %w", err)
	}
	derivedProps, err := properties(derived)
	if err != nil {
		return false, fmt.Errorf("reading derived mapping: %w", err)
	}
	if liveProps == nil || derivedProps == nil {
		return false, nil
	}

	if !sameKeySet(liveProps, derivedProps) {
		return false, nil
	}

	for name, liveVal := range liveProps {
		if name == "join" {
			continue
		}
		if !reflect.DeepEqual(liveVal, derivedProps[name]) {
			return false, nil
		}
	}

	liveJoin, liveHasJoin := liveProps["join"]
	derivedJoin, derivedHasJoin := derivedProps["join"]
	if liveHasJoin != derivedHasJoin {
		return false, nil
	}
	if liveHasJoin {
		return joinEquivalent(liveJoin, derivedJoin), nil
	}
	return true, nil
}

func properties(schema json.RawMessage) (map[string]interface{}, error) {
	var doc struct {
		Mappings struct {
			Properties map[string]interface{} `json:"properties"`
		} `json:"mappings"`
	}
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil, err
	}
	return doc.Mappings.Properties, nil
}

func sameKeySet(a, b map[string]interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func joinEquivalent(live, derived interface{}) bool {
	liveJoin, ok1 := live.(map[string]interface{})
	derivedJoin, ok2 := derived.(map[string]interface{})
	if !ok1 || !ok2 {
		return reflect.DeepEqual(live, derived)
	}
	if liveJoin["type"] != derivedJoin["type"] {
		return false
	}

	liveRel, _ := liveJoin["relations"].(map[string]interface{})
	derivedRel, _ := derivedJoin["relations"].(map[string]interface{})
	if len(liveRel) != len(derivedRel) {
		return false
	}
	for name, liveVal := range liveRel {
		derivedVal, ok := derivedRel[name]
		if !ok {
			return false
		}
		if !relationValueEqual(liveVal, derivedVal) {
			return false
		}
	}
	return true
}

// relationValueEqual compares a join relations value after coercing a
// single-element list to its scalar and sorting any list, so
// {"Programmer": "Migraine"} and {"Programmer": ["Migraine"]} compare
// equal, as do differently-ordered multi-element lists.
func relationValueEqual(a, b interface{}) bool {
	return reflect.DeepEqual(normalizeRelationValue(a), normalizeRelationValue(b))
}

func normalizeRelationValue(v interface{}) interface{} {
	list, ok := v.([]interface{})
	if !ok {
		return v
	}
	if len(list) == 1 {
		return list[0]
	}
	strs := make([]string, 0, len(list))
	for _, item := range list {
		s, _ := item.(string)
		strs = append(strs, s)
	}
	sort.Strings(strs)
	out := make([]interface{}, len(strs))
	for i, s := range strs {
		out[i] = s
	}
	return out
}
