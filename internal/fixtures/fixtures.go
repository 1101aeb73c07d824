// Package fixtures provides the sample model set used by tests and by
// cmd/tablemanager's demo wiring: Programmer, Migraine (child of
// Programmer), Broke, and Beverage::Coffee (child of Programmer). These
// mirror §8's end-to-end scenarios literally and are fixtures, not
// framework code.
package fixtures

import "github.com/redbco/searchsync/internal/model"

type staticModel struct {
	fqn   string
	table string
	attrs []model.AttributeDescriptor
}

func (m staticModel) FullyQualifiedName() string { return m.fqn }
func (m staticModel) TableName() string { return m.table }
func (m staticModel) Attributes() []model.AttributeDescriptor { return m.attrs }

// Broke is spec.md scenario 1: a model with no parents and no children.
func Broke() model.Model {
	return staticModel{
		fqn:   "Broke",
		table: "broke",
		attrs: []model.AttributeDescriptor{
			{Name: "id", SourceTypeName: "string", Tags: model.Tags{ESType: "keyword"}},
			{Name: "breaks", SourceTypeName: "string"},
			{Name: "status", SourceTypeName: "bool"},
			{Name: "hasho", SourceTypeName: "map<string,string>"},
		},
	}
}

// Programmer is a parent model with two children in the fixture set:
// Migraine and Beverage::Coffee.
func Programmer() model.Model {
	return staticModel{
		fqn:   "Programmer",
		table: "programmer",
		attrs: []model.AttributeDescriptor{
			{Name: "id", SourceTypeName: "string", Tags: model.Tags{ESType: "keyword"}},
			{Name: "name", SourceTypeName: "string"},
		},
	}
}

// Migraine is scenario 2: a child of Programmer routed by programmer_id.
func Migraine() model.Model {
	return staticModel{
		fqn:   "Migraine",
		table: "migraine",
		attrs: []model.AttributeDescriptor{
			{Name: "id", SourceTypeName: "string", Tags: model.Tags{ESType: "keyword"}},
			{Name: "programmer_id", SourceTypeName: "string", Tags: model.Tags{Parent: "Programmer"}},
			{Name: "severity", SourceTypeName: "int32"},
		},
	}
}

// Coffee is scenario 3's Beverage::Coffee: a second child of Programmer.
func Coffee() model.Model {
	return staticModel{
		fqn:   "Beverage::Coffee",
		table: "coffee",
		attrs: []model.AttributeDescriptor{
			{Name: "id", SourceTypeName: "string", Tags: model.Tags{ESType: "keyword"}},
			{Name: "programmer_id", SourceTypeName: "string", Tags: model.Tags{Parent: "Programmer"}},
			{Name: "roast", SourceTypeName: "string"},
		},
	}
}

// All returns the full fixture set, registerable as a single Registry.
func All() []model.Model {
	return []model.Model{Broke(), Programmer(), Migraine(), Coffee()}
}
