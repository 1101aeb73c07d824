package model

import (
	"sort"
	"strings"
)

// ParentDescriptor names a parent relation on a child model: the parent's
// document name, the parent's index (table name), and the attribute on
// the child whose value is the parent's id.
type ParentDescriptor struct {
	Name        string
	Index       string
	RoutingAttr string
	ParentModel Model
}

// Registry is the immutable, process-lifetime map from document name to
// model metadata. It is built once at construction and never mutated
// afterwards, so concurrent reads need no locking (§5).
type Registry struct {
	byDocName map[string]Model
	order     []string // document names in registration order, for deterministic iteration

	parents  map[string][]ParentDescriptor // document name -> its parents
	children map[string][]string           // document name -> sorted child document names
}

// DocumentName returns the last "::"-delimited segment of a model's
// fully-qualified name.
func DocumentName(m Model) string {
	fqn := m.FullyQualifiedName()
	if idx := strings.LastIndex(fqn, "::"); idx >= 0 {
		return fqn[idx+2:]
	}
	return fqn
}

// NewRegistry validates and builds a Registry from the given models.
// Validation order follows §3's invariants: duplicate document names,
// then unknown parents, then cyclic parent graphs.
func NewRegistry(models []Model) (*Registry, error) {
	reg := &Registry{
		byDocName: make(map[string]Model, len(models)),
		parents:   make(map[string][]ParentDescriptor),
		children:  make(map[string][]string),
	}

	for _, m := range models {
		name := DocumentName(m)
		if _, exists := reg.byDocName[name]; exists {
			return nil, configErrorf("duplicate document name %q", name)
		}
		reg.byDocName[name] = m
		reg.order = append(reg.order, name)
	}

	// Resolve parent tags to ParentDescriptors, validating unknown parents.
	childrenSet := make(map[string]map[string]struct{})
	for _, name := range reg.order {
		m := reg.byDocName[name]
		for _, attr := range m.Attributes() {
			if attr.Tags.Parent == "" {
				continue
			}
			parentModel, ok := reg.byDocName[attr.Tags.Parent]
			if !ok {
				return nil, configErrorf("model %q declares unknown parent %q on attribute %q", name, attr.Tags.Parent, attr.Name)
			}
			reg.parents[name] = append(reg.parents[name], ParentDescriptor{
				Name:        attr.Tags.Parent,
				Index:       parentModel.TableName(),
				RoutingAttr: attr.Name,
				ParentModel: parentModel,
			})
			if childrenSet[attr.Tags.Parent] == nil {
				childrenSet[attr.Tags.Parent] = make(map[string]struct{})
			}
			childrenSet[attr.Tags.Parent][name] = struct{}{}
		}
	}

	for parentName, set := range childrenSet {
		kids := make([]string, 0, len(set))
		for k := range set {
			kids = append(kids, k)
		}
		sort.Strings(kids)
		reg.children[parentName] = kids
	}

	if err := reg.checkAcyclic(); err != nil {
		return nil, err
	}

	return reg, nil
}

// checkAcyclic rejects cyclic parent graphs via DFS with a recursion-stack
// set, per §3's "Parent relations are a DAG" invariant.
func (r *Registry) checkAcyclic() error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(r.order))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return configErrorf("cyclic parent relation: %s", strings.Join(append(path, name), " -> "))
		}
		state[name] = visiting
		for _, p := range r.parents[name] {
			if err := visit(p.Name, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = done
		return nil
	}

	for _, name := range r.order {
		if err := visit(name, nil); err != nil {
			return err
		}
	}
	return nil
}

// Models returns all registered models in registration order.
func (r *Registry) Models() []Model {
	out := make([]Model, len(r.order))
	for i, name := range r.order {
		out[i] = r.byDocName[name]
	}
	return out
}

// Model looks up a model by document name.
func (r *Registry) Model(docName string) (Model, bool) {
	m, ok := r.byDocName[docName]
	return m, ok
}

// Children returns the sorted document names of every model whose parent
// is docName.
func (r *Registry) Children(docName string) []string {
	return r.children[docName]
}

// Parents returns the parent descriptors for docName.
func (r *Registry) Parents(docName string) []ParentDescriptor {
	return r.parents[docName]
}
