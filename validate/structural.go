package validate

import (
	"fmt"
	"strings"

	"github.com/gofhir/kindling"
	"github.com/gofhir/kindling/model"
)

const fhirpathTypePrefix = "http://hl7.org/fhirpath/"

func structuralIssue(rule string, code kindling.IssueType) *kindling.IssueBuilder {
	return kindling.Error(code).Rule(rule).Phase(kindling.PhaseStructural)
}

// structural is pass 1. Every issue it raises is an error.
func (s *session) structural() {
	gen := s.def.Generation()
	knownGen := s.v.gens.Has(gen)
	if !knownGen {
		s.add(structuralIssue(RuleGeneration, kindling.IssueTypeNotSupported).
			Diagnosticf("unknown generation %q; type membership not checked", gen).
			Build())
	}

	root := s.def.Root()
	seen := make(map[string]bool, len(s.elements))
	for _, e := range s.elements {
		id := e.ID()
		if seen[id] {
			s.add(structuralIssue(RulePath, kindling.IssueTypeDuplicate).
				At(id).Diagnostics("duplicate element path").Build())
			continue
		}
		seen[id] = true

		s.checkPath(e, root)
		s.checkCardinality(e)
		if knownGen {
			s.checkTypes(e, gen)
		}
		s.checkChoice(e)
		s.checkParent(e)
		s.checkConstraintKeys(e)
	}
}

func (s *session) checkPath(e model.Element, root string) {
	if e.Path == "" {
		s.add(structuralIssue(RulePath, kindling.IssueTypeStructure).Diagnostics("element with empty path").Build())
		return
	}
	for _, seg := range model.PathSegments(e.Path) {
		if seg == "" {
			s.add(structuralIssue(RulePath, kindling.IssueTypeStructure).
				At(e.ID()).Diagnostics("empty path segment").Build())
			return
		}
	}
	if model.PathRoot(e.Path) != root {
		s.add(structuralIssue(RulePath, kindling.IssueTypeStructure).
			At(e.ID()).Diagnosticf("element is outside the definition root %q", root).Build())
	}
}

func (s *session) checkCardinality(e model.Element) {
	c := e.Card
	bad := func(msg string, args ...any) {
		s.add(structuralIssue(RuleCardinality, kindling.IssueTypeStructure).
			At(e.ID()).Diagnosticf(msg, args...).Build())
	}
	if !s.def.Differential() && !c.Declared() {
		bad("cardinality %s is incomplete in a snapshot", c)
		return
	}
	if c.Min < 0 && c.Min != model.Unset {
		bad("min %d is negative", c.Min)
	}
	if c.Max < model.Unbounded && c.Max != model.Unset {
		bad("max %d is invalid", c.Max)
	}
	if c.Min >= 0 && c.Max >= 0 && c.Min > c.Max {
		bad("min %d exceeds max %d", c.Min, c.Max)
	}
}

func (s *session) checkTypes(e model.Element, gen kindling.Generation) {
	codes := make(map[string]bool, len(e.Types))
	for _, t := range e.Types {
		if codes[t.Code] {
			s.add(structuralIssue(RuleTypeDuplicate, kindling.IssueTypeDuplicate).
				At(e.ID()).Diagnosticf("type %q is listed more than once", t.Code).Build())
			continue
		}
		codes[t.Code] = true
		if !s.knownType(gen, t.Code) {
			s.add(structuralIssue(RuleType, kindling.IssueTypeValue).
				At(e.ID()).Diagnosticf("type %q is not part of %s", t.Code, gen).Build())
		}
	}

	if len(e.Types) == 0 && !s.def.Differential() && !model.IsRoot(e.Path) && s.children[e.Path] == 0 {
		s.add(structuralIssue(RuleTypeRequired, kindling.IssueTypeRequired).
			At(e.ID()).Diagnostics("element has no type and no children").Build())
	}
}

// knownType accepts the generation's type system, resource types defined
// by the run (the definition's own type) and logical model type URLs.
func (s *session) knownType(gen kindling.Generation, code string) bool {
	if s.v.gens.HasType(gen, code) {
		return true
	}
	if code != "" && code == s.def.Type() {
		return true
	}
	if strings.HasPrefix(code, fhirpathTypePrefix) {
		return false
	}
	return strings.Contains(code, "://")
}

func (s *session) checkChoice(e model.Element) {
	choice := model.IsChoicePath(e.Path)
	if len(e.Types) > 1 && !choice {
		s.add(structuralIssue(RuleChoice, kindling.IssueTypeStructure).
			At(e.ID()).Diagnosticf("%d types require a choice path ending in [x]", len(e.Types)).Build())
	}
	if choice && e.Card.Max == model.Unbounded {
		s.add(structuralIssue(RuleChoice, kindling.IssueTypeStructure).
			At(e.ID()).Diagnostics("choice elements cannot repeat").Build())
	}
}

func (s *session) checkParent(e model.Element) {
	if s.def.Differential() {
		return
	}
	parent := model.PathParent(e.Path)
	if parent == "" || s.paths[parent] {
		return
	}
	s.add(structuralIssue(RuleParent, kindling.IssueTypeStructure).
		At(e.ID()).Diagnosticf("parent element %q is not declared", parent).Build())
}

func (s *session) checkConstraintKeys(e model.Element) {
	keys := make(map[string]bool, len(e.Constraints))
	for _, c := range e.Constraints {
		if keys[c.Key] {
			s.add(structuralIssue(RuleConstraintKey, kindling.IssueTypeDuplicate).
				At(e.ID()).Diagnosticf("constraint key %q is declared more than once", c.Key).Build())
			continue
		}
		keys[c.Key] = true
	}
}

// CheckCount checks an observed number of occurrences of the element at
// path against card. It returns no issue when the count is allowed.
func CheckCount(path string, card model.Cardinality, observed int) []kindling.Issue {
	c := card.Effective()
	var issues []kindling.Issue
	if observed < c.Min {
		issues = append(issues, kindling.Error(kindling.IssueTypeRequired).
			Rule(RuleInstanceCardinal).Phase(kindling.PhaseStructural).At(path).
			Diagnostics(fmt.Sprintf("minimum required = %d, but only found %d", c.Min, observed)).
			Build())
	}
	if c.IsBounded() && observed > c.Max {
		issues = append(issues, kindling.Error(kindling.IssueTypeStructure).
			Rule(RuleInstanceCardinal).Phase(kindling.PhaseStructural).At(path).
			Diagnostics(fmt.Sprintf("maximum allowed = %d, but found %d", c.Max, observed)).
			Build())
	}
	return issues
}
