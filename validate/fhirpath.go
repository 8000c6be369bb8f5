package validate

import (
	"fmt"

	"github.com/gofhir/fhirpath"
	"github.com/gofhir/fhirpath/types"

	"github.com/gofhir/kindling"
)

// compile returns a cached compiled expression. Compile errors are cached
// with the expression.
func (s *session) compile(expr string) (*fhirpath.Expression, error) {
	compiled := false
	e, err := s.v.exprs.GetOrCompute(expr, func() (*fhirpath.Expression, error) {
		compiled = true
		return fhirpath.Compile(expr)
	})
	if s.metrics != nil {
		if compiled {
			s.metrics.RecordCacheMiss()
		} else {
			s.metrics.RecordCacheHit()
		}
	}
	return e, err
}

// checkExpressions compiles every element constraint.
func (s *session) checkExpressions() {
	for _, e := range s.elements {
		for _, c := range e.Constraints {
			if c.Expression == "" {
				continue
			}
			if _, err := s.compile(c.Expression); err != nil {
				s.add(constraintIssue(kindling.SeverityError, RuleExpression, kindling.IssueTypeInvariant).
					At(e.ID()).Diagnosticf("constraint %s: expression does not compile: %v", c.Key, err).Build())
			}
		}
	}
}

// evaluateProfileConstraints evaluates the definition-level constraints
// against the definition's JSON projection.
func (s *session) evaluateProfileConstraints() {
	constraints := s.def.Constraints()
	if len(constraints) == 0 {
		return
	}
	doc, err := s.def.MarshalJSON()
	if err != nil {
		s.add(constraintIssue(kindling.SeverityWarning, RuleProfileEvaluate, kindling.IssueTypeProcessing).
			Diagnosticf("definition could not be rendered for constraint evaluation: %v", err).Build())
		return
	}
	for _, c := range constraints {
		expr, err := s.compile(c.Expression)
		if err != nil {
			s.add(constraintIssue(kindling.SeverityError, RuleExpression, kindling.IssueTypeInvariant).
				Diagnosticf("constraint %s: expression does not compile: %v", c.Key, err).Build())
			continue
		}
		result, err := expr.Evaluate(doc)
		if err != nil {
			s.add(constraintIssue(kindling.SeverityWarning, RuleProfileEvaluate, kindling.IssueTypeProcessing).
				Diagnosticf("constraint %s: evaluation failed: %v", c.Key, err).Build())
			continue
		}
		if satisfied(result) {
			continue
		}
		severity := kindling.SeverityError
		if c.Severity == "warning" {
			severity = kindling.SeverityWarning
		}
		msg := fmt.Sprintf("constraint %s violated", c.Key)
		if c.Human != "" {
			msg += ": " + c.Human
		}
		s.add(constraintIssue(severity, c.Key, kindling.IssueTypeInvariant).Diagnostics(msg).Build())
	}
}

// satisfied applies the invariant reading of a result: an empty collection
// passes, a single boolean is its value, anything else passes.
func satisfied(result types.Collection) bool {
	if len(result) == 0 {
		return true
	}
	if len(result) == 1 {
		if b, ok := result[0].(types.Boolean); ok {
			return b.Bool()
		}
	}
	return true
}
