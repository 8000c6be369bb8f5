package model

import (
	"fmt"
	"reflect"

	"github.com/gofhir/kindling"
)

// Kind is the StructureDefinition kind.
type Kind string

const (
	KindPrimitiveType Kind = "primitive-type"
	KindComplexType   Kind = "complex-type"
	KindResource      Kind = "resource"
	KindLogical       Kind = "logical"
)

// Intermediate is the generation-neutral, mutable form a Definition is
// built from. Adapters produce it, conversion rules rewrite it.
type Intermediate struct {
	URL            string
	Name           string
	Title          string
	Version        string
	Status         string
	Type           string
	Kind           Kind
	Abstract       bool
	BaseDefinition string
	Derivation     string
	Generation     kindling.Generation

	// Differential is true when Elements come from the differential
	// rather than the snapshot.
	Differential bool

	Elements    []Element
	Constraints []ProfileConstraint
}

// Definition is an immutable StructureDefinition in canonical form.
// Accessors return copies; a Definition is safe for concurrent reads.
type Definition struct {
	in    Intermediate
	index map[string]int
}

// New validates in and builds a Definition from a deep copy of it.
func New(in Intermediate) (*Definition, error) {
	var problems []Problem
	if in.URL == "" {
		problems = append(problems, Problem{Reason: "missing canonical URL"})
	}

	d := &Definition{in: cloneIntermediate(in), index: make(map[string]int, len(in.Elements))}

	root := ""
	if len(d.in.Elements) > 0 {
		root = PathRoot(d.in.Elements[0].Path)
	}
	for i := range d.in.Elements {
		e := &d.in.Elements[i]
		e.normalize()
		problems = append(problems, checkElement(*e, root)...)
		problems = append(problems, normalizeValues(e)...)
		if e.Path == "" {
			continue
		}
		id := e.ID()
		if _, dup := d.index[id]; dup {
			problems = append(problems, Problem{Path: id, Reason: "duplicate element id"})
			continue
		}
		d.index[id] = i
	}
	d.in.Constraints = cloneSlice(d.in.Constraints)

	if len(problems) > 0 {
		return nil, &MalformedDefinitionError{URL: in.URL, Problems: problems}
	}
	return d, nil
}

func checkElement(e Element, root string) []Problem {
	var problems []Problem
	if e.Path == "" {
		return []Problem{{Reason: "element with empty path"}}
	}
	for _, seg := range PathSegments(e.Path) {
		if seg == "" {
			problems = append(problems, Problem{Path: e.Path, Reason: "empty path segment"})
			break
		}
	}
	if PathRoot(e.Path) != root {
		problems = append(problems, Problem{
			Path:   e.Path,
			Reason: fmt.Sprintf("element is outside the definition root %q", root),
		})
	}
	c := e.Card
	if c.Min < 0 && c.Min != Unset {
		problems = append(problems, Problem{Path: e.ID(), Reason: fmt.Sprintf("negative min %d", c.Min)})
	}
	if c.Max < Unbounded && c.Max != Unset {
		problems = append(problems, Problem{Path: e.ID(), Reason: fmt.Sprintf("invalid max %d", c.Max)})
	}
	if c.Min >= 0 && c.Max >= 0 && c.Min > c.Max {
		problems = append(problems, Problem{Path: e.ID(), Reason: fmt.Sprintf("min %d exceeds max %d", c.Min, c.Max)})
	}
	return problems
}

func normalizeValues(e *Element) []Problem {
	var problems []Problem
	for _, v := range []*Value{e.Fixed, e.Pattern} {
		if v == nil {
			continue
		}
		d, err := normalizeData(v.Type, v.Data)
		if err != nil {
			problems = append(problems, Problem{Path: e.ID(), Reason: fmt.Sprintf("value[%s]: %v", v.Type, err)})
			continue
		}
		v.Data = d
	}
	return problems
}

// MustNew is like New but panics on error. Intended for tests and
// package-level fixtures.
func MustNew(in Intermediate) *Definition {
	d, err := New(in)
	if err != nil {
		panic(err)
	}
	return d
}

func cloneIntermediate(in Intermediate) Intermediate {
	out := in
	out.Elements = nil
	if len(in.Elements) > 0 {
		out.Elements = make([]Element, len(in.Elements))
		for i, e := range in.Elements {
			out.Elements[i] = e.Clone()
		}
	}
	out.Constraints = cloneSlice(in.Constraints)
	return out
}

func (d *Definition) URL() string                     { return d.in.URL }
func (d *Definition) Name() string                    { return d.in.Name }
func (d *Definition) Title() string                   { return d.in.Title }
func (d *Definition) Version() string                 { return d.in.Version }
func (d *Definition) Status() string                  { return d.in.Status }
func (d *Definition) Type() string                    { return d.in.Type }
func (d *Definition) Kind() Kind                      { return d.in.Kind }
func (d *Definition) Abstract() bool                  { return d.in.Abstract }
func (d *Definition) BaseDefinition() string          { return d.in.BaseDefinition }
func (d *Definition) Derivation() string              { return d.in.Derivation }
func (d *Definition) Generation() kindling.Generation { return d.in.Generation }
func (d *Definition) Differential() bool              { return d.in.Differential }

// Len returns the number of elements.
func (d *Definition) Len() int {
	return len(d.in.Elements)
}

// Root returns the first path segment shared by all elements.
func (d *Definition) Root() string {
	if len(d.in.Elements) == 0 {
		return ""
	}
	return PathRoot(d.in.Elements[0].Path)
}

// Elements returns deep copies of the elements in declaration order.
func (d *Definition) Elements() []Element {
	out := make([]Element, len(d.in.Elements))
	for i, e := range d.in.Elements {
		out[i] = e.Clone()
	}
	return out
}

// Element returns the element with the given id (path or path:slice).
func (d *Definition) Element(id string) (Element, bool) {
	i, ok := d.index[id]
	if !ok {
		return Element{}, false
	}
	return d.in.Elements[i].Clone(), true
}

// HasElement reports whether an element with the given id exists.
func (d *Definition) HasElement(id string) bool {
	_, ok := d.index[id]
	return ok
}

// Constraints returns the definition-level profile constraints.
func (d *Definition) Constraints() []ProfileConstraint {
	return cloneSlice(d.in.Constraints)
}

// Intermediate returns a deep, mutable copy of the definition's data.
func (d *Definition) Intermediate() Intermediate {
	return cloneIntermediate(d.in)
}

// Clone returns a deep copy.
func (d *Definition) Clone() *Definition {
	index := make(map[string]int, len(d.index))
	for k, v := range d.index {
		index[k] = v
	}
	return &Definition{in: cloneIntermediate(d.in), index: index}
}

// Equal reports structural equality.
func (d *Definition) Equal(o *Definition) bool {
	if d == nil || o == nil {
		return d == o
	}
	return reflect.DeepEqual(d.in, o.in)
}

// Diff lists the fields that differ between d and o, in element order.
// It is empty when Equal is true.
func (d *Definition) Diff(o *Definition) []string {
	var out []string
	field := func(name string, a, b any) {
		if !reflect.DeepEqual(a, b) {
			out = append(out, fmt.Sprintf("%s: %v != %v", name, a, b))
		}
	}
	field("url", d.in.URL, o.in.URL)
	field("name", d.in.Name, o.in.Name)
	field("title", d.in.Title, o.in.Title)
	field("version", d.in.Version, o.in.Version)
	field("status", d.in.Status, o.in.Status)
	field("type", d.in.Type, o.in.Type)
	field("kind", d.in.Kind, o.in.Kind)
	field("abstract", d.in.Abstract, o.in.Abstract)
	field("baseDefinition", d.in.BaseDefinition, o.in.BaseDefinition)
	field("derivation", d.in.Derivation, o.in.Derivation)
	field("generation", d.in.Generation, o.in.Generation)
	field("differential", d.in.Differential, o.in.Differential)
	field("constraints", d.in.Constraints, o.in.Constraints)

	for i, e := range d.in.Elements {
		oe, ok := o.Element(e.ID())
		if !ok {
			out = append(out, fmt.Sprintf("element %s: missing in other", e.ID()))
			continue
		}
		if j := o.index[e.ID()]; j != i {
			out = append(out, fmt.Sprintf("element %s: position %d != %d", e.ID(), i, j))
		}
		out = append(out, diffElement(e, oe)...)
	}
	for _, e := range o.in.Elements {
		if !d.HasElement(e.ID()) {
			out = append(out, fmt.Sprintf("element %s: missing in this", e.ID()))
		}
	}
	return out
}

func diffElement(a, b Element) []string {
	var out []string
	field := func(name string, x, y any) {
		if !reflect.DeepEqual(x, y) {
			out = append(out, fmt.Sprintf("element %s %s: %v != %v", a.ID(), name, x, y))
		}
	}
	field("short", a.Short, b.Short)
	field("card", a.Card.String(), b.Card.String())
	field("types", a.Types, b.Types)
	field("binding", a.Binding, b.Binding)
	field("fixed", a.Fixed.String(), b.Fixed.String())
	field("pattern", a.Pattern.String(), b.Pattern.String())
	field("constraints", a.Constraints, b.Constraints)
	field("mustSupport", a.MustSupport, b.MustSupport)
	field("isModifier", a.IsModifier, b.IsModifier)
	field("isSummary", a.IsSummary, b.IsSummary)
	return out
}
