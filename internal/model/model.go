// Package model holds the static, process-lifetime registry of managed
// models: their attributes, source types, tags, and parent relationships.
package model

import "fmt"

// Tags carries the attribute-level metadata the schema builder and type
// mapper need. Tags is deliberately a flat struct rather than a
// map[string]string: the only two tags the core understands are es_type
// and parent, and a closed struct makes unknown-tag typos a compile error
// instead of a silent no-op.
type Tags struct {
	// ESType overrides the derived field type. Empty means "no override".
	ESType string
	// Parent names the parent document when this attribute is the
	// routing key into the parent's index. Empty means "not a routing
	// attribute".
	Parent string
}

// AttributeDescriptor describes one attribute of a model.
type AttributeDescriptor struct {
	Name           string
	SourceTypeName string
	Tags           Tags
}

// Model is implemented once per managed table. FullyQualifiedName's last
// path segment (split on "::") is the document name: the polymorphism
// discriminator and the name used in join relations.
type Model interface {
	// FullyQualifiedName returns the model's namespaced name, e.g.
	// "Beverage::Coffee". The document name is its last "::"-delimited
	// segment.
	FullyQualifiedName() string
	// TableName returns the physical table name in the primary store,
	// which is also the index name in the search cluster.
	TableName() string
	// Attributes returns the ordered attribute list.
	Attributes() []AttributeDescriptor
}

// ConfigurationError is returned for any startup-time registry validation
// failure: duplicate document names, unknown parents, cyclic parent
// graphs, or conflicting property types across a parent/child pair.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

func configErrorf(format string, args ...interface{}) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}
