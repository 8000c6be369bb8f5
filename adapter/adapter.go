// Package adapter parses and serializes StructureDefinitions for each
// schema generation.
package adapter

import (
	"fmt"
	"sort"

	"github.com/gofhir/kindling"
	"github.com/gofhir/kindling/model"
)

// Adapter parses and serializes definitions of one generation.
// Implementations are stateless and safe for concurrent use.
type Adapter interface {
	// Generation returns the generation handled by the adapter.
	Generation() kindling.Generation

	// Parse decodes raw bytes. Malformed input yields a *ParseError;
	// input that breaks model invariants yields a
	// *model.MalformedDefinitionError.
	Parse(raw []byte) (*model.Definition, error)

	// Serialize encodes d. Constructs the generation cannot hold yield an
	// *UnsupportedFeatureError.
	Serialize(d *model.Definition) ([]byte, error)

	// Represent reports whether e can be written in this generation.
	Represent(e model.Element) error
}

// representer implements Represent for a generation and dialect.
type representer struct {
	gen     kindling.Generation
	gens    *kindling.GenerationSet
	dialect Dialect
}

func (r representer) Generation() kindling.Generation {
	return r.gen
}

func (r representer) release() string {
	spec, _ := r.gens.Spec(r.gen)
	return spec.Release
}

func (r representer) Represent(e model.Element) error {
	unsupported := func(feature string) error {
		return &UnsupportedFeatureError{Generation: r.gen, Path: e.ID(), Feature: feature}
	}
	seen := make(map[string]bool, len(e.Types))
	for _, t := range e.Types {
		if !r.gens.HasType(r.gen, t.Code) {
			return unsupported(fmt.Sprintf("type %q", t.Code))
		}
		if r.dialect.SingleProfile && seen[t.Code] {
			return unsupported(fmt.Sprintf("repeated type %q", t.Code))
		}
		seen[t.Code] = true
	}
	if e.Binding != nil && len(e.Binding.Additional) > 0 && !r.dialect.AdditionalBindings {
		return unsupported("binding.additional")
	}
	for _, c := range e.Constraints {
		if c.XPath != "" && !r.dialect.XPath {
			return unsupported("constraint.xpath (" + c.Key + ")")
		}
		if c.Suppress && !r.dialect.Suppress {
			return unsupported("constraint.suppress (" + c.Key + ")")
		}
	}
	for _, v := range []*model.Value{e.Fixed, e.Pattern} {
		if v != nil && !r.gens.HasType(r.gen, v.Type) {
			return unsupported(fmt.Sprintf("value of type %q", v.Type))
		}
	}
	return nil
}

func (r representer) representAll(d *model.Definition) error {
	if d.Generation() != r.gen {
		return fmt.Errorf("serialize %s definition %s with the %s adapter", d.Generation(), d.URL(), r.gen)
	}
	for _, e := range d.Elements() {
		if err := r.Represent(e); err != nil {
			return err
		}
	}
	return nil
}

// Set is an immutable collection of adapters keyed by generation.
type Set struct {
	adapters map[kindling.Generation]Adapter
}

// NewSet builds a Set. Two adapters for one generation are an error.
func NewSet(adapters ...Adapter) (*Set, error) {
	s := &Set{adapters: make(map[kindling.Generation]Adapter, len(adapters))}
	for _, a := range adapters {
		g := a.Generation()
		if _, dup := s.adapters[g]; dup {
			return nil, fmt.Errorf("two adapters for generation %s", g)
		}
		s.adapters[g] = a
	}
	return s, nil
}

// Get returns the adapter for g.
func (s *Set) Get(g kindling.Generation) (Adapter, bool) {
	a, ok := s.adapters[g]
	return a, ok
}

// Generations returns the covered generations in sorted order.
func (s *Set) Generations() []kindling.Generation {
	out := make([]kindling.Generation, 0, len(s.adapters))
	for g := range s.adapters {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultSet returns adapters for the built-in generations: the gofhir R4
// model for R4 and R4B, dialect JSON for STU3 and R5.
func DefaultSet() *Set {
	return ForGenerations(kindling.DefaultGenerations())
}

// ForGenerations returns a Set with one adapter per generation of gens:
// the gofhir R4 model for R4/R4B and dialect JSON for the rest.
func ForGenerations(gens *kindling.GenerationSet) *Set {
	var adapters []Adapter
	for _, g := range gens.All() {
		switch g {
		case kindling.R4, kindling.R4B:
			adapters = append(adapters, NewR4(gens, g))
		default:
			adapters = append(adapters, NewJSON(gens, g, DialectFor(g)))
		}
	}
	s, _ := NewSet(adapters...)
	return s
}
