package adapter

import (
	"github.com/gofhir/kindling"
)

// Dialect describes how a generation writes a StructureDefinition on the
// wire where generations disagree.
type Dialect struct {
	// SingleProfile: type.profile and type.targetProfile are single
	// strings, and a type code repeats once per profile (STU3).
	SingleProfile bool

	// ValueSetReference: binding.valueSetUri / binding.valueSetReference
	// instead of binding.valueSet (STU3).
	ValueSetReference bool

	// XPath allows constraint.xpath.
	XPath bool

	// AdditionalBindings allows binding.additional (R5).
	AdditionalBindings bool

	// Suppress allows constraint.suppress (R5).
	Suppress bool
}

// Built-in dialects.
var (
	STU3Dialect = Dialect{SingleProfile: true, ValueSetReference: true, XPath: true}
	R4Dialect   = Dialect{XPath: true}
	R5Dialect   = Dialect{AdditionalBindings: true, Suppress: true}
)

// DialectFor returns the dialect of a built-in generation. Unknown
// generations get the R4 dialect.
func DialectFor(g kindling.Generation) Dialect {
	switch g {
	case kindling.STU3:
		return STU3Dialect
	case kindling.R5:
		return R5Dialect
	default:
		return R4Dialect
	}
}
