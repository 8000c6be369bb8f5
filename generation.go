package kindling

import (
	"fmt"
	"sort"
	"strings"
)

// Generation identifies one release of the structure definition schema.
type Generation string

// Built-in generations, oldest first.
const (
	// STU3 is FHIR Release 3 (3.0.2)
	STU3 Generation = "STU3"
	// R4 is FHIR Release 4 (4.0.1)
	R4 Generation = "R4"
	// R4B is FHIR Release 4B (4.3.0)
	R4B Generation = "R4B"
	// R5 is FHIR Release 5 (5.0.0)
	R5 Generation = "R5"
)

// String returns the generation identifier.
func (g Generation) String() string {
	return string(g)
}

// SystemTypePrefix marks FHIRPath system types used as element type codes
// from R4 onwards (e.g. http://hl7.org/fhirpath/System.String).
const SystemTypePrefix = "http://hl7.org/fhirpath/System."

// GenerationSpec describes a generation: its identifier, the release string
// written to fhirVersion, and the fixed type system used by validation.
type GenerationSpec struct {
	ID      Generation
	Release string
	Types   []string

	// SystemTypes allows http://hl7.org/fhirpath/System.* type codes.
	SystemTypes bool
}

// GenerationSet is an immutable, ordered catalogue of generations.
// Construct it once at startup and share it by reference.
type GenerationSet struct {
	order []Generation
	specs map[Generation]*generationInfo
}

type generationInfo struct {
	spec  GenerationSpec
	index int
	types map[string]struct{}
}

// NewGenerationSet builds a catalogue from the given specs. The order of the
// specs defines the generation order (oldest first), which is used to break
// ties between equally short conversion paths.
func NewGenerationSet(specs ...GenerationSpec) (*GenerationSet, error) {
	set := &GenerationSet{
		order: make([]Generation, 0, len(specs)),
		specs: make(map[Generation]*generationInfo, len(specs)),
	}
	for i, spec := range specs {
		if strings.TrimSpace(string(spec.ID)) == "" {
			return nil, fmt.Errorf("generation %d: empty identifier", i)
		}
		if _, dup := set.specs[spec.ID]; dup {
			return nil, fmt.Errorf("generation %s declared twice", spec.ID)
		}
		types := make(map[string]struct{}, len(spec.Types))
		for _, t := range spec.Types {
			types[t] = struct{}{}
		}
		spec.Types = append([]string(nil), spec.Types...)
		sort.Strings(spec.Types)
		set.specs[spec.ID] = &generationInfo{spec: spec, index: i, types: types}
		set.order = append(set.order, spec.ID)
	}
	return set, nil
}

// MustGenerationSet is like NewGenerationSet but panics on error.
// Intended for package-level defaults and tests.
func MustGenerationSet(specs ...GenerationSpec) *GenerationSet {
	set, err := NewGenerationSet(specs...)
	if err != nil {
		panic(err)
	}
	return set
}

// All returns the generations in declaration order.
func (s *GenerationSet) All() []Generation {
	return append([]Generation(nil), s.order...)
}

// Has reports whether g is part of the catalogue.
func (s *GenerationSet) Has(g Generation) bool {
	_, ok := s.specs[g]
	return ok
}

// Spec returns the spec for g.
func (s *GenerationSet) Spec(g Generation) (GenerationSpec, bool) {
	info, ok := s.specs[g]
	if !ok {
		return GenerationSpec{}, false
	}
	return info.spec, true
}

// Index returns the position of g in the catalogue, or -1.
func (s *GenerationSet) Index(g Generation) int {
	info, ok := s.specs[g]
	if !ok {
		return -1
	}
	return info.index
}

// HasType reports whether the type code is part of g's type system.
func (s *GenerationSet) HasType(g Generation, code string) bool {
	info, ok := s.specs[g]
	if !ok {
		return false
	}
	if _, ok := info.types[code]; ok {
		return true
	}
	return info.spec.SystemTypes && strings.HasPrefix(code, SystemTypePrefix)
}

// Parse resolves a generation from an identifier or a release string
// ("R4", "r4", "4.0.1", "4.0").
func (s *GenerationSet) Parse(v string) (Generation, bool) {
	v = strings.TrimSpace(v)
	for _, g := range s.order {
		spec := s.specs[g].spec
		if strings.EqualFold(v, string(g)) || v == spec.Release {
			return g, true
		}
		if spec.Release != "" && strings.HasPrefix(spec.Release, v+".") {
			return g, true
		}
	}
	return "", false
}

// Type codes shared by every built-in generation.
var commonTypes = []string{
	// primitives
	"base64Binary", "boolean", "code", "date", "dateTime", "decimal", "id",
	"instant", "integer", "markdown", "oid", "positiveInt", "string", "time",
	"unsignedInt", "uri", "xhtml",
	// general purpose
	"Address", "Age", "Annotation", "Attachment", "CodeableConcept", "Coding",
	"ContactPoint", "Count", "Distance", "Duration", "HumanName", "Identifier",
	"Money", "Period", "Quantity", "Range", "Ratio", "Reference", "SampledData",
	"Signature", "Timing", "SimpleQuantity",
	// metadata
	"ContactDetail", "DataRequirement", "ParameterDefinition", "RelatedArtifact",
	"TriggerDefinition", "UsageContext",
	// special purpose
	"Dosage", "Meta", "Narrative", "Extension", "ElementDefinition",
	"BackboneElement", "Element", "Resource", "DomainResource",
}

func withTypes(extra ...string) []string {
	out := make([]string, 0, len(commonTypes)+len(extra))
	out = append(out, commonTypes...)
	return append(out, extra...)
}

var (
	stu3Types = withTypes("Contributor")
	r4Types   = withTypes(
		"canonical", "url", "uuid", "Contributor", "Expression", "MoneyQuantity",
		"MarketingStatus", "Population", "ProdCharacteristic", "ProductShelfLife",
		"SubstanceAmount",
	)
	r4bTypes = withTypes(
		"canonical", "url", "uuid", "Contributor", "Expression", "MoneyQuantity",
		"MarketingStatus", "Population", "ProdCharacteristic", "ProductShelfLife",
		"SubstanceAmount", "CodeableReference", "RatioRange",
	)
	r5Types = withTypes(
		"canonical", "url", "uuid", "integer64", "Expression", "MoneyQuantity",
		"MarketingStatus", "ProductShelfLife", "CodeableReference", "RatioRange",
		"Availability", "ExtendedContactDetail", "VirtualServiceDetail",
		"MonetaryComponent",
	)
)

// BuiltinSpecs returns the specs of the built-in generations.
func BuiltinSpecs() []GenerationSpec {
	return []GenerationSpec{
		{ID: STU3, Release: "3.0.2", Types: stu3Types},
		{ID: R4, Release: "4.0.1", Types: r4Types, SystemTypes: true},
		{ID: R4B, Release: "4.3.0", Types: r4bTypes, SystemTypes: true},
		{ID: R5, Release: "5.0.0", Types: r5Types, SystemTypes: true},
	}
}

var defaultGenerations = MustGenerationSet(BuiltinSpecs()...)

// DefaultGenerations returns the built-in catalogue (STU3, R4, R4B, R5).
func DefaultGenerations() *GenerationSet {
	return defaultGenerations
}
