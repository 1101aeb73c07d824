// Package typemap implements the pure mapping from primary-store attribute
// types (plus an optional explicit override tag) to search-cluster field
// types.
package typemap

import (
	"fmt"
	"strings"
)

// FieldType is one of the closed set of Elasticsearch field types the core
// understands.
type FieldType string

const (
	Text        FieldType = "text"
	Keyword     FieldType = "keyword"
	Long        FieldType = "long"
	Integer     FieldType = "integer"
	Short       FieldType = "short"
	Byte        FieldType = "byte"
	Double      FieldType = "double"
	Float       FieldType = "float"
	HalfFloat   FieldType = "half_float"
	ScaledFloat FieldType = "scaled_float"
	Boolean     FieldType = "boolean"
	Date        FieldType = "date"
	Binary      FieldType = "binary"
	Object      FieldType = "object"
	IP          FieldType = "ip"
	Completion  FieldType = "completion"
	GeoPoint    FieldType = "geo_point"
	GeoShape    FieldType = "geo_shape"
)

var validOverrides = map[FieldType]struct{}{
	Text: {}, Keyword: {}, Long: {}, Integer: {}, Short: {}, Byte: {},
	Double: {}, Float: {}, HalfFloat: {}, ScaledFloat: {}, Boolean: {},
	Date: {}, Binary: {}, Object: {}, IP: {}, Completion: {}, GeoPoint: {}, GeoShape: {},
}

// InvalidFieldType is returned when an es_type override does not belong to
// the closed field-type set.
type InvalidFieldType struct {
	Override string
}

func (e *InvalidFieldType) Error() string {
	return fmt.Sprintf("invalid field type override %q", e.Override)
}

// sourceTypeMap handles the unparameterized base types. Collection types
// (array<T>, set<T>) are handled separately in Map by stripping the
// wrapper and recursing.
var sourceTypeMap = map[string]FieldType{
	"bool":    Boolean,
	"boolean": Boolean,

	"int8":  Byte,
	"byte":  Byte,
	"int16": Short,
	"short": Short,
	"int32": Integer,
	"int":   Integer,
	"int64": Long,
	"long":  Long,

	"float32": Float,
	"float":   Float,
	"float64": Double,
	"double":  Double,

	"string": Text,
	"text":   Text,

	"time":      Date,
	"timestamp": Date,
	"date":      Date,

	"json":    Object,
	"object":  Object,
	"map":     Object,
	"hash":    Object,
	"record":  Object,
}

// Map implements §4.B's four-rule contract:
//  1. A present tag override must belong to the closed field-type set.
//  2. Otherwise map by source type name.
//  3. array<T>/set<T> are stripped and recursed on T.
//  4. Anything else returns ok == false; the caller omits the attribute
//     and logs a warning. Mappings are advisory for best-effort indexing:
//     an unknown type must never prevent the rest of the schema from
//     being built.
func Map(sourceTypeName, override string) (FieldType, bool, error) {
	if override != "" {
		ft := FieldType(override)
		if _, ok := validOverrides[ft]; !ok {
			return "", false, &InvalidFieldType{Override: override}
		}
		return ft, true, nil
	}

	name := strings.ToLower(strings.TrimSpace(sourceTypeName))

	if ft, ok := sourceTypeMap[name]; ok {
		return ft, true, nil
	}

	// Parameterized map/hash/record types (e.g. "map<string,string>") are
	// arbitrary objects regardless of their key/value types.
	for _, prefix := range []string{"map<", "hash<", "record<"} {
		if strings.HasPrefix(name, prefix) {
			return Object, true, nil
		}
	}

	if inner, ok := stripCollection(name); ok {
		return Map(inner, "")
	}

	return "", false, nil
}

// stripCollection recognizes "array<T>" and "set<T>" and returns T.
func stripCollection(name string) (string, bool) {
	for _, prefix := range []string{"array<", "set<"} {
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ">") {
			return strings.TrimSuffix(strings.TrimPrefix(name, prefix), ">"), true
		}
	}
	return "", false
}
