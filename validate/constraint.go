package validate

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofhir/kindling"
	"github.com/gofhir/kindling/model"
	"github.com/gofhir/kindling/terminology"
)

// codedTypes may carry a terminology binding.
var codedTypes = map[string]bool{
	"code":              true,
	"Coding":            true,
	"CodeableConcept":   true,
	"CodeableReference": true,
	"Quantity":          true,
	"string":            true,
	"uri":               true,
}

func constraintIssue(severity kindling.IssueSeverity, rule string, code kindling.IssueType) *kindling.IssueBuilder {
	return kindling.NewIssue(severity, code).Rule(rule).Phase(kindling.PhaseConstraint)
}

// degraded builds a warning for a check that could not be completed.
func degraded(rule string, code kindling.IssueType) *kindling.IssueBuilder {
	return constraintIssue(kindling.SeverityWarning, rule, code)
}

// constraint is pass 2.
func (s *session) constraint(ctx context.Context) {
	s.checkBase()
	for _, e := range s.elements {
		s.checkTypeProfiles(e)
		s.checkBinding(e)
		s.checkValues(ctx, e)
	}
	if s.v.constraints {
		s.checkExpressions()
		s.evaluateProfileConstraints()
	}
}

// checkBase resolves the base definition and, for constraints (profiles),
// checks that no element loosens its base element.
func (s *session) checkBase() {
	url := s.def.BaseDefinition()
	if url == "" {
		return
	}
	base, ok := s.lookup(url)
	if !ok {
		s.add(degraded(RuleBase, kindling.IssueTypeNotFound).
			Diagnosticf("base definition %s is not loaded; profile consistency not checked", url).Build())
		return
	}
	if s.def.Derivation() != "constraint" {
		return
	}
	for _, e := range s.elements {
		be, ok := baseElement(base, e)
		if !ok {
			continue
		}
		s.compareToBase(e, be)
	}
}

// baseElement finds the element of base that e constrains: the same id,
// or for slices the unsliced element at the same path.
func baseElement(base *model.Definition, e model.Element) (model.Element, bool) {
	if be, ok := base.Element(e.ID()); ok {
		return be, true
	}
	if e.SliceName != "" {
		return base.Element(e.Path)
	}
	return model.Element{}, false
}

func (s *session) compareToBase(e, be model.Element) {
	err := func(rule, msg string, args ...any) {
		s.add(constraintIssue(kindling.SeverityError, rule, kindling.IssueTypeBusinessRule).
			At(e.ID()).Diagnosticf(msg, args...).Build())
	}
	c, bc := e.Card.Effective(), be.Card.Effective()
	if e.Card.Min != model.Unset && c.Min < bc.Min {
		err(RuleBaseCardinality, "min %d is lower than the base min %d", c.Min, bc.Min)
	}
	if e.Card.Max != model.Unset && bc.IsBounded() && (!c.IsBounded() || c.Max > bc.Max) {
		err(RuleBaseCardinality, "max %s is higher than the base max %s", model.FormatMax(c.Max), model.FormatMax(bc.Max))
	}
	if len(be.Types) == 0 {
		return
	}
	for _, t := range e.Types {
		if !be.HasType(t.Code) && !be.HasType("*") {
			err(RuleBaseType, "type %q is not allowed by the base element", t.Code)
		}
	}
}

// checkTypeProfiles resolves type profiles and reference targets.
func (s *session) checkTypeProfiles(e model.Element) {
	for _, t := range e.Types {
		for _, p := range t.Profiles {
			s.checkProfileConforms(e, t.Code, p)
		}
		for _, p := range t.TargetProfiles {
			target, ok := s.lookup(p)
			if !ok {
				s.add(degraded(RuleTargetProfile, kindling.IssueTypeNotFound).
					At(e.ID()).Diagnosticf("target profile %s is not loaded", p).Build())
				continue
			}
			if k := target.Kind(); k != model.KindResource && k != model.KindLogical {
				s.add(constraintIssue(kindling.SeverityError, RuleTargetProfile, kindling.IssueTypeBusinessRule).
					At(e.ID()).Diagnosticf("target profile %s has kind %s, not a resource", p, k).Build())
			}
		}
	}
}

// checkProfileConforms follows the profile's base chain until it reaches a
// definition of type code. An unloaded link ends the check with a warning.
func (s *session) checkProfileConforms(e model.Element, code, url string) {
	seen := make(map[string]bool)
	current := url
	for {
		p, ok := s.lookup(current)
		if !ok {
			msg := fmt.Sprintf("profile %s is not loaded", url)
			if current != url {
				msg = fmt.Sprintf("profile %s: base %s is not loaded", url, current)
			}
			s.add(degraded(RuleTypeProfile, kindling.IssueTypeNotFound).At(e.ID()).Diagnostics(msg).Build())
			return
		}
		if p.Type() == code {
			return
		}
		seen[current] = true
		next := p.BaseDefinition()
		if next == "" || seen[next] {
			s.add(constraintIssue(kindling.SeverityError, RuleTypeProfile, kindling.IssueTypeBusinessRule).
				At(e.ID()).Diagnosticf("profile %s constrains %q, not %q", url, p.Type(), code).Build())
			return
		}
		current = next
	}
}

func (s *session) checkBinding(e model.Element) {
	if e.Binding == nil {
		if !s.def.Differential() && len(e.Types) == 1 && e.Types[0].Code == "code" {
			s.add(constraintIssue(kindling.SeverityError, RuleBindingMissing, kindling.IssueTypeRequired).
				At(e.ID()).Diagnostics("elements of type code must have a binding").Build())
		}
		return
	}
	if len(e.Types) > 0 {
		coded := false
		for _, t := range e.Types {
			if codedTypes[t.Code] {
				coded = true
				break
			}
		}
		if !coded {
			s.add(constraintIssue(kindling.SeverityError, RuleBindingType, kindling.IssueTypeBusinessRule).
				At(e.ID()).Diagnosticf("binding on non-coded type %v", e.TypeCodes()).Build())
		}
	}
	if !e.Binding.Strength.IsValid() {
		s.add(constraintIssue(kindling.SeverityError, RuleBindingStrength, kindling.IssueTypeValue).
			At(e.ID()).Diagnosticf("invalid binding strength %q", e.Binding.Strength).Build())
	}
}

func (s *session) checkValues(ctx context.Context, e model.Element) {
	for _, v := range []struct {
		kind  string
		value *model.Value
	}{{"fixed", e.Fixed}, {"pattern", e.Pattern}} {
		if v.value == nil {
			continue
		}
		if len(e.Types) > 0 && !e.HasType(v.value.Type) {
			s.add(constraintIssue(kindling.SeverityError, RuleValueType, kindling.IssueTypeValue).
				At(e.ID()).Diagnosticf("%s value type %q is not one of %v", v.kind, v.value.Type, e.TypeCodes()).Build())
		}
		s.checkCodes(ctx, e, v.kind, v.value)
	}
}

// checkCodes resolves every (system, code) pair of a value. Failures are
// warnings: terminology is best-effort.
func (s *session) checkCodes(ctx context.Context, e model.Element, kind string, v *model.Value) {
	if s.v.terminology == nil {
		return
	}
	for _, pair := range v.Codes() {
		system, code := pair[0], pair[1]
		if system == "" {
			continue
		}
		err := s.resolve(ctx, system, code)
		switch {
		case err == nil:
		case errors.Is(err, terminology.ErrNotFound):
			s.add(degraded(RuleValueCode, kindling.IssueTypeCodeInvalid).
				At(e.ID()).Diagnosticf("%s code %s#%s was not found", kind, system, code).Build())
		case errors.Is(err, context.DeadlineExceeded):
			s.add(degraded(RuleValueCode, kindling.IssueTypeTimeout).
				At(e.ID()).Diagnosticf("%s code %s#%s could not be checked: lookup timed out", kind, system, code).Build())
		default:
			s.add(degraded(RuleValueCode, kindling.IssueTypeProcessing).
				At(e.ID()).Diagnosticf("%s code %s#%s could not be checked: %v", kind, system, code, err).Build())
		}
	}
}

func (s *session) resolve(ctx context.Context, system, code string) error {
	if s.v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.v.timeout)
		defer cancel()
	}
	_, err := s.v.terminology.ResolveBinding(ctx, system, code)
	return err
}
