package rules

import (
	"fmt"
	"strings"

	"github.com/gofhir/kindling"
	"github.com/gofhir/kindling/model"
)

// Effect is what a transform did to an element.
type Effect int

const (
	// Unchanged means the transform did not apply to the element.
	Unchanged Effect = iota
	// Changed means the element was rewritten.
	Changed
	// Dropped means the element (and its descendants) leave the definition.
	Dropped
	// Rejected means the element cannot be carried across the hop.
	Rejected
)

func (e Effect) String() string {
	switch e {
	case Changed:
		return "changed"
	case Dropped:
		return "dropped"
	case Rejected:
		return "rejected"
	default:
		return "unchanged"
	}
}

// Transform rewrites one element in place. The element is always a private
// copy owned by the conversion in progress. The returned message describes
// the change and is empty when the effect is Unchanged.
type Transform interface {
	Name() string
	Apply(e *model.Element) (Effect, string)
}

// Identity claims an element without changing it. It shadows less specific
// rules for the matched paths.
type Identity struct{}

func (Identity) Name() string { return "identity" }

func (Identity) Apply(*model.Element) (Effect, string) { return Unchanged, "" }

// RenameType replaces a type code, including the type of fixed and pattern
// values.
type RenameType struct {
	From string
	To   string
}

func (t RenameType) Name() string { return "rename-type" }

func (t RenameType) Apply(e *model.Element) (Effect, string) {
	changed := false
	for i := range e.Types {
		if e.Types[i].Code == t.From {
			e.Types[i].Code = t.To
			changed = true
		}
	}
	for _, v := range []*model.Value{e.Fixed, e.Pattern} {
		if v != nil && v.Type == t.From {
			v.Type = t.To
			changed = true
		}
	}
	if !changed {
		return Unchanged, ""
	}
	if len(e.Types) > 1 {
		e.Types = mergeTypes(e.Types)
	}
	return Changed, fmt.Sprintf("type %s renamed to %s", t.From, t.To)
}

// systemPrimitives maps FHIRPath system type names to the primitive that
// carries them where system type codes do not exist.
var systemPrimitives = map[string]string{
	"String":   "string",
	"Boolean":  "boolean",
	"Integer":  "integer",
	"Decimal":  "decimal",
	"Date":     "date",
	"DateTime": "dateTime",
	"Time":     "time",
}

// MapSystemTypes replaces http://hl7.org/fhirpath/System.* type codes,
// used for element ids and extension urls from R4 on, with primitives.
type MapSystemTypes struct{}

func (MapSystemTypes) Name() string { return "map-system-types" }

func (MapSystemTypes) Apply(e *model.Element) (Effect, string) {
	var mapped []string
	for i := range e.Types {
		name, ok := strings.CutPrefix(e.Types[i].Code, kindling.SystemTypePrefix)
		if !ok {
			continue
		}
		prim, ok := systemPrimitives[name]
		if !ok {
			continue
		}
		mapped = append(mapped, fmt.Sprintf("System.%s to %s", name, prim))
		e.Types[i].Code = prim
	}
	if len(mapped) == 0 {
		return Unchanged, ""
	}
	if len(e.Types) > 1 {
		e.Types = mergeTypes(e.Types)
	}
	return Changed, "type " + strings.Join(mapped, ", ")
}

// DropXPath removes XPath expressions from constraints.
type DropXPath struct{}

func (DropXPath) Name() string { return "drop-xpath" }

func (DropXPath) Apply(e *model.Element) (Effect, string) {
	var keys []string
	for i := range e.Constraints {
		if e.Constraints[i].XPath != "" {
			e.Constraints[i].XPath = ""
			keys = append(keys, e.Constraints[i].Key)
		}
	}
	if len(keys) == 0 {
		return Unchanged, ""
	}
	return Changed, "xpath dropped from " + strings.Join(keys, ", ")
}

// DropAdditionalBindings removes additional bindings, keeping the primary one.
type DropAdditionalBindings struct{}

func (DropAdditionalBindings) Name() string { return "drop-additional-bindings" }

func (DropAdditionalBindings) Apply(e *model.Element) (Effect, string) {
	if e.Binding == nil || len(e.Binding.Additional) == 0 {
		return Unchanged, ""
	}
	n := len(e.Binding.Additional)
	e.Binding.Additional = nil
	return Changed, fmt.Sprintf("%d additional binding(s) dropped", n)
}

// DropSuppress clears the suppress flag on constraints.
type DropSuppress struct{}

func (DropSuppress) Name() string { return "drop-suppress" }

func (DropSuppress) Apply(e *model.Element) (Effect, string) {
	var keys []string
	for i := range e.Constraints {
		if e.Constraints[i].Suppress {
			e.Constraints[i].Suppress = false
			keys = append(keys, e.Constraints[i].Key)
		}
	}
	if len(keys) == 0 {
		return Unchanged, ""
	}
	return Changed, "suppress dropped from " + strings.Join(keys, ", ")
}

// MergeProfiles folds repeated type codes into one type entry.
type MergeProfiles struct{}

func (MergeProfiles) Name() string { return "merge-profiles" }

func (MergeProfiles) Apply(e *model.Element) (Effect, string) {
	merged := mergeTypes(e.Types)
	if len(merged) == len(e.Types) {
		return Unchanged, ""
	}
	e.Types = merged
	return Changed, "repeated type codes merged"
}

// SplitProfiles gives every profile of a type its own type entry.
type SplitProfiles struct{}

func (SplitProfiles) Name() string { return "split-profiles" }

func (SplitProfiles) Apply(e *model.Element) (Effect, string) {
	var out []model.TypeRef
	split := false
	for _, t := range e.Types {
		if len(t.Profiles) < 2 {
			out = append(out, t)
			continue
		}
		split = true
		for _, p := range t.Profiles {
			out = append(out, model.TypeRef{
				Code:           t.Code,
				Profiles:       []string{p},
				TargetProfiles: append([]string(nil), t.TargetProfiles...),
			})
		}
	}
	if !split {
		return Unchanged, ""
	}
	e.Types = out
	return Changed, "profiles split into separate type entries"
}

// MapBindingStrength replaces one binding strength with another.
type MapBindingStrength struct {
	From model.BindingStrength
	To   model.BindingStrength
}

func (t MapBindingStrength) Name() string { return "map-binding-strength" }

func (t MapBindingStrength) Apply(e *model.Element) (Effect, string) {
	if e.Binding == nil || e.Binding.Strength != t.From {
		return Unchanged, ""
	}
	e.Binding.Strength = t.To
	return Changed, fmt.Sprintf("binding strength %s mapped to %s", t.From, t.To)
}

// SetCardinality overwrites min and/or max. A nil bound is left alone.
type SetCardinality struct {
	Min *int
	Max *int
}

func (t SetCardinality) Name() string { return "set-cardinality" }

func (t SetCardinality) Apply(e *model.Element) (Effect, string) {
	before := e.Card
	if t.Min != nil {
		e.Card.Min = *t.Min
	}
	if t.Max != nil {
		e.Card.Max = *t.Max
	}
	if e.Card == before {
		return Unchanged, ""
	}
	return Changed, fmt.Sprintf("cardinality %s changed to %s", before, e.Card)
}

// RenamePath moves an element from one path prefix to another. The engine
// carries the move down to descendants the rule does not match.
type RenamePath struct {
	From string
	To   string
}

func (t RenamePath) Name() string { return "rename-path" }

func (t RenamePath) Apply(e *model.Element) (Effect, string) {
	if t.From == t.To || !e.Move(t.From, t.To) {
		return Unchanged, ""
	}
	return Changed, fmt.Sprintf("path %s renamed to %s", t.From, t.To)
}

// Remove drops the element.
type Remove struct{}

func (Remove) Name() string { return "remove" }

func (Remove) Apply(*model.Element) (Effect, string) {
	return Dropped, "element removed"
}

// Reject refuses to convert the element.
type Reject struct {
	Reason string
}

func (Reject) Name() string { return "reject" }

func (t Reject) Apply(*model.Element) (Effect, string) {
	if t.Reason == "" {
		return Rejected, "no conversion defined"
	}
	return Rejected, t.Reason
}

func mergeTypes(types []model.TypeRef) []model.TypeRef {
	var out []model.TypeRef
	index := make(map[string]int, len(types))
	for _, t := range types {
		i, ok := index[t.Code]
		if !ok {
			index[t.Code] = len(out)
			out = append(out, model.TypeRef{Code: t.Code})
			i = len(out) - 1
		}
		out[i].Profiles = appendMissing(out[i].Profiles, t.Profiles)
		out[i].TargetProfiles = appendMissing(out[i].TargetProfiles, t.TargetProfiles)
	}
	return out
}

func appendMissing(dst, values []string) []string {
outer:
	for _, v := range values {
		for _, have := range dst {
			if have == v {
				continue outer
			}
		}
		dst = append(dst, v)
	}
	return dst
}
