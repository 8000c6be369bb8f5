// Package model holds the generation-neutral representation of a
// StructureDefinition used by conversion and validation.
package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Cardinality sentinels.
const (
	// Unbounded is the Max of a "*" cardinality.
	Unbounded = -1
	// Unset marks a Min or Max that the definition does not declare.
	// Only differential definitions leave cardinality unset.
	Unset = -2
)

// Cardinality is the min..max occurrence range of an element.
type Cardinality struct {
	Min int
	Max int
}

// Card returns a Cardinality. Use Unbounded for "*".
func Card(min, max int) Cardinality {
	return Cardinality{Min: min, Max: max}
}

// ParseMax parses a max cardinality ("*" or a non-negative integer).
func ParseMax(s string) (int, error) {
	if s == "*" {
		return Unbounded, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid max cardinality %q", s)
	}
	return n, nil
}

// FormatMax renders a max cardinality. Unset renders as "".
func FormatMax(max int) string {
	switch max {
	case Unbounded:
		return "*"
	case Unset:
		return ""
	default:
		return strconv.Itoa(max)
	}
}

// IsBounded reports whether Max is a number.
func (c Cardinality) IsBounded() bool {
	return c.Max >= 0
}

// Declared reports whether both bounds are declared.
func (c Cardinality) Declared() bool {
	return c.Min != Unset && c.Max != Unset
}

// Effective fills unset bounds with 0 and "*".
func (c Cardinality) Effective() Cardinality {
	if c.Min == Unset {
		c.Min = 0
	}
	if c.Max == Unset {
		c.Max = Unbounded
	}
	return c
}

// Allows reports whether n occurrences satisfy the range.
func (c Cardinality) Allows(n int) bool {
	e := c.Effective()
	if n < e.Min {
		return false
	}
	return !e.IsBounded() || n <= e.Max
}

// String returns "min..max".
func (c Cardinality) String() string {
	min := ""
	if c.Min != Unset {
		min = strconv.Itoa(c.Min)
	}
	return min + ".." + FormatMax(c.Max)
}

// TypeRef is one permitted type of an element.
type TypeRef struct {
	Code           string
	Profiles       []string
	TargetProfiles []string
}

// BindingStrength is the strength of a terminology binding.
type BindingStrength string

const (
	BindingRequired   BindingStrength = "required"
	BindingExtensible BindingStrength = "extensible"
	BindingPreferred  BindingStrength = "preferred"
	BindingExample    BindingStrength = "example"
)

// IsValid reports whether s is one of the four binding strengths.
func (s BindingStrength) IsValid() bool {
	switch s {
	case BindingRequired, BindingExtensible, BindingPreferred, BindingExample:
		return true
	}
	return false
}

// AdditionalBinding is an extra value set binding (R5 binding.additional).
type AdditionalBinding struct {
	Purpose  string
	ValueSet string
}

// Binding links an element to a value set.
type Binding struct {
	Strength    BindingStrength
	ValueSet    string
	Description string
	Additional  []AdditionalBinding
}

// Constraint is an element-level invariant.
type Constraint struct {
	Key        string
	Severity   string
	Human      string
	Expression string
	XPath      string
	Source     string
	Suppress   bool
}

// ProfileConstraint is a definition-level shape rule, evaluated with
// FHIRPath against the definition's JSON projection.
type ProfileConstraint struct {
	Key        string
	Severity   string
	Human      string
	Expression string
}

// Element is one structural field of a Definition.
type Element struct {
	// ElementID is the declared element id. Empty means the id derived
	// from Path and SliceName.
	ElementID   string
	Path        string
	SliceName   string
	Short       string
	Card        Cardinality
	Types       []TypeRef
	Binding     *Binding
	Fixed       *Value
	Pattern     *Value
	Constraints []Constraint
	MustSupport bool
	IsModifier  bool
	IsSummary   bool
}

// ID returns the element id. Without a declared id it is the path, plus
// ":sliceName" for slices.
func (e Element) ID() string {
	if e.ElementID != "" {
		return e.ElementID
	}
	return e.derivedID()
}

func (e Element) derivedID() string {
	if e.SliceName == "" {
		return e.Path
	}
	return e.Path + ":" + e.SliceName
}

// Move rewrites the path prefix from to to, in the path and the declared
// id. It reports whether e was at or below from.
func (e *Element) Move(from, to string) bool {
	if e.Path != from && !strings.HasPrefix(e.Path, from+".") {
		return false
	}
	e.Path = to + e.Path[len(from):]
	if rest, ok := strings.CutPrefix(e.ElementID, from); ok && (rest == "" || rest[0] == '.' || rest[0] == ':') {
		e.ElementID = to + rest
	}
	return true
}

// TypeCodes returns the type codes in declaration order.
func (e Element) TypeCodes() []string {
	codes := make([]string, len(e.Types))
	for i, t := range e.Types {
		codes[i] = t.Code
	}
	return codes
}

// HasType reports whether code is one of the element types.
func (e Element) HasType(code string) bool {
	for _, t := range e.Types {
		if t.Code == code {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the element.
func (e Element) Clone() Element {
	out := e
	out.Types = cloneTypes(e.Types)
	if e.Binding != nil {
		b := *e.Binding
		b.Additional = cloneSlice(e.Binding.Additional)
		out.Binding = &b
	}
	out.Fixed = e.Fixed.Clone()
	out.Pattern = e.Pattern.Clone()
	out.Constraints = cloneSlice(e.Constraints)
	return out
}

func cloneTypes(in []TypeRef) []TypeRef {
	if in == nil {
		return nil
	}
	out := make([]TypeRef, len(in))
	for i, t := range in {
		out[i] = TypeRef{
			Code:           t.Code,
			Profiles:       cloneSlice(t.Profiles),
			TargetProfiles: cloneSlice(t.TargetProfiles),
		}
	}
	return out
}

func cloneSlice[T any](in []T) []T {
	if len(in) == 0 {
		return nil
	}
	return append([]T(nil), in...)
}

// normalize replaces empty slices with nil so that structural equality
// does not depend on how an element was built.
func (e *Element) normalize() {
	e.Types = cloneTypes(e.Types)
	for i := range e.Types {
		e.Types[i].Profiles = cloneSlice(e.Types[i].Profiles)
		e.Types[i].TargetProfiles = cloneSlice(e.Types[i].TargetProfiles)
	}
	if len(e.Types) == 0 {
		e.Types = nil
	}
	if e.Binding != nil {
		b := *e.Binding
		b.Additional = cloneSlice(b.Additional)
		e.Binding = &b
	}
	e.Constraints = cloneSlice(e.Constraints)
	if e.ElementID == e.derivedID() {
		e.ElementID = ""
	}
}

// String renders the element as "path card types".
func (e Element) String() string {
	return fmt.Sprintf("%s %s %s", e.ID(), e.Card, strings.Join(e.TypeCodes(), "|"))
}
