// Package schema derives search-cluster index mappings from model
// metadata: own properties, merged child properties, the discriminator
// field, and the optional join field for parent-child indices.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redbco/searchsync/internal/model"
	"github.com/redbco/searchsync/internal/typemap"
)

// Property is one derived (attribute name, field type) pair.
type Property struct {
	Name string
	Type typemap.FieldType
}

// WarnFunc receives a warning message when an attribute's type cannot be
// mapped and is omitted from the schema. The builder stays a pure
// function over its inputs; WarnFunc is an explicit dependency rather
// than a hidden package-level logger.
type WarnFunc func(format string, args ...interface{})

func noopWarn(string, ...interface{}) {}

// OwnProperties derives the property list for a single model, in
// attribute-declaration order, skipping attributes whose type cannot be
// mapped (§4.B rule 4).
func OwnProperties(m model.Model, warn WarnFunc) ([]Property, error) {
	if warn == nil {
		warn = noopWarn
	}
	attrs := m.Attributes()
	props := make([]Property, 0, len(attrs))
	for _, a := range attrs {
		ft, ok, err := typemap.Map(a.SourceTypeName, a.Tags.ESType)
		if err != nil {
			return nil, fmt.Errorf("model %q attribute %q: %w", model.DocumentName(m), a.Name, err)
		}
		if !ok {
			warn("model %q: attribute %q has unmappable type %q, omitting from schema", model.DocumentName(m), a.Name, a.SourceTypeName)
			continue
		}
		props = append(props, Property{Name: a.Name, Type: ft})
	}
	return props, nil
}

// fixedSettings is the analysis configuration every index gets: a
// whitespace tokenizer with lowercasing and an ASCII-folding filter that
// preserves the original token, per §3.
var fixedSettings = map[string]interface{}{
	"analysis": map[string]interface{}{
		"analyzer": map[string]interface{}{
			"default": map[string]interface{}{
				"type":      "custom",
				"tokenizer": "whitespace",
				"filter":    []string{"lowercase", "asciifolding_preserve"},
			},
		},
		"filter": map[string]interface{}{
			"asciifolding_preserve": map[string]interface{}{
				"type":              "asciifolding",
				"preserve_original": true,
			},
		},
	},
}

// Build derives the full index schema (settings + mappings.properties,
// plus an optional join field) for the model named docName, merging in
// the properties of every registered child.
//
// Property name conflicts between a model and its children (or between
// two children) where the field types disagree are a configuration
// error, per §3's "if a parent and a child both declare an attribute of
// the same name, their field types must agree" invariant.
func Build(reg *model.Registry, docName string, warn WarnFunc) ([]byte, error) {
	m, ok := reg.Model(docName)
	if !ok {
		return nil, fmt.Errorf("build schema: unknown model %q", docName)
	}

	properties := make(map[string]typemap.FieldType)

	own, err := OwnProperties(m, warn)
	if err != nil {
		return nil, err
	}
	for _, p := range own {
		properties[p.Name] = p.Type
	}

	for _, childName := range reg.Children(docName) {
		child, _ := reg.Model(childName)
		childProps, err := OwnProperties(child, warn)
		if err != nil {
			return nil, err
		}
		for _, p := range childProps {
			if existing, exists := properties[p.Name]; exists && existing != p.Type {
				return nil, &model.ConfigurationError{Reason: fmt.Sprintf(
					"property %q conflicts between %q and child %q: %s vs %s",
					p.Name, docName, childName, existing, p.Type,
				)}
			}
			properties[p.Name] = p.Type
		}
	}

	properties["type"] = typemap.Keyword

	propsJSON := make(map[string]interface{}, len(properties)+1)
	for name, ft := range properties {
		propsJSON[name] = map[string]interface{}{"type": string(ft)}
	}

	children := reg.Children(docName)
	if len(children) > 0 {
		propsJSON["join"] = map[string]interface{}{
			"type": "join",
			"relations": map[string]interface{}{
				docName: joinRelationsValue(docName, children),
			},
		}
	}

	doc := map[string]interface{}{
		"settings": fixedSettings,
		"mappings": map[string]interface{}{
			"properties": propsJSON,
		},
	}

	return marshalCanonical(doc)
}

// joinRelationsValue returns children[0] when there is exactly one child,
// or the full sorted slice otherwise, per §3's join field determinism
// rule.
func joinRelationsValue(docName string, children []string) interface{} {
	if len(children) == 1 {
		return children[0]
	}
	sorted := make([]string, len(children))
	copy(sorted, children)
	sort.Strings(sorted)
	return sorted
}

// marshalCanonical marshals v with sorted map keys so schema.Build is
// byte-identical across runs for a fixed input, matching §8's "Schema
// determinism" law. The key ordering comes from encoding/json, which
// sorts map[string]interface{} keys when marshaling (so "mappings" is
// emitted before "settings"); no separate sort is done here. HTML
// escaping is disabled so the output stays diff-friendly.
func marshalCanonical(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	out := buf.Bytes()
	// json.Encoder.Encode appends a trailing newline; trim it so callers
	// get a bare JSON document.
	if len(out) > 0 && out[len(out)-1] == '\n' {
		out = out[:len(out)-1]
	}
	return out, nil
}
