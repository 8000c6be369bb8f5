// Package validate checks a Definition in two passes.
//
// The structural pass checks cardinality bounds, type membership against
// the generation type system, path uniqueness and element naming rules.
// The constraint pass checks the definition against its base and the
// profiles it references, bindings, fixed and pattern values, and FHIRPath
// constraints. Constraint-pass checks that depend on something the run does
// not have (a definition missing from the registry, a terminology lookup
// that fails) are reported as warnings.
//
// A Validator is safe for concurrent use. Validation never modifies the
// definition or the registry.
package validate

import (
	"context"
	"time"

	"github.com/gofhir/fhirpath"

	"github.com/gofhir/kindling"
	"github.com/gofhir/kindling/cache"
	"github.com/gofhir/kindling/model"
	"github.com/gofhir/kindling/terminology"
)

// Rule identifiers attached to issues.
const (
	RuleGeneration       = "struct-generation"
	RuleCardinality      = "struct-card"
	RuleType             = "struct-type"
	RuleTypeRequired     = "struct-type-required"
	RuleTypeDuplicate    = "struct-type-duplicate"
	RulePath             = "struct-path"
	RuleChoice           = "struct-choice"
	RuleParent           = "struct-parent"
	RuleConstraintKey    = "struct-constraint-key"
	RuleBase             = "base-resolve"
	RuleBaseCardinality  = "base-card"
	RuleBaseType         = "base-type"
	RuleTypeProfile      = "type-profile"
	RuleTargetProfile    = "type-target"
	RuleBindingType      = "binding-type"
	RuleBindingMissing   = "binding-missing"
	RuleBindingStrength  = "binding-strength"
	RuleValueType        = "value-type"
	RuleValueCode        = "value-code"
	RuleExpression       = "constraint-compile"
	RuleProfileEvaluate  = "constraint-eval"
	RuleInstanceCardinal = "instance-card"
)

// Lookup resolves canonical URLs to definitions. *registry.Registry
// implements it.
type Lookup interface {
	Get(url string) (*model.Definition, bool)
}

// Validator runs the structural and constraint passes.
type Validator struct {
	gens        *kindling.GenerationSet
	terminology terminology.Resolver
	exprs       *cache.Cache[string, *fhirpath.Expression]

	timeout     time.Duration
	constraints bool
	maxIssues   int
}

// Option configures a Validator.
type Option func(*Validator)

// WithTerminology sets the terminology collaborator used to check fixed
// and pattern codes. Without one those checks are skipped.
func WithTerminology(r terminology.Resolver) Option {
	return func(v *Validator) {
		v.terminology = r
	}
}

// WithOptions applies the run options: collaborator timeout, FHIRPath
// evaluation, expression cache size and the issue cap.
func WithOptions(o *kindling.Options) Option {
	return func(v *Validator) {
		if o == nil {
			return
		}
		v.timeout = o.CollaboratorTimeout
		v.constraints = o.ValidateConstraints
		v.maxIssues = o.MaxIssues
		if o.ExpressionCacheSize > 0 {
			v.exprs = cache.New[string, *fhirpath.Expression](o.ExpressionCacheSize)
		}
	}
}

// New creates a Validator for the generations in gens. A nil gens means
// kindling.DefaultGenerations().
func New(gens *kindling.GenerationSet, opts ...Option) *Validator {
	if gens == nil {
		gens = kindling.DefaultGenerations()
	}
	d := kindling.DefaultOptions()
	v := &Validator{
		gens:        gens,
		timeout:     d.CollaboratorTimeout,
		constraints: d.ValidateConstraints,
		maxIssues:   d.MaxIssues,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.exprs == nil {
		v.exprs = cache.New[string, *fhirpath.Expression](d.ExpressionCacheSize)
	}
	return v
}

// Validate runs both passes over def and returns the issues found,
// de-duplicated and ordered by path, severity and rule. reg may be nil,
// in which case every reference is treated as unresolved.
//
// ctx bounds terminology lookups only; the passes themselves always run
// to completion. Expression cache hits and misses are recorded in the
// kindling.Metrics carried by ctx, if any.
func (v *Validator) Validate(ctx context.Context, def *model.Definition, reg Lookup) []kindling.Issue {
	if def == nil {
		return nil
	}
	s := &session{v: v, metrics: kindling.MetricsFromContext(ctx), def: def, reg: reg, elements: def.Elements()}
	s.index()
	s.structural()
	s.constraint(ctx)

	issues := kindling.NormalizeIssues(s.issues)
	if v.maxIssues > 0 && len(issues) > v.maxIssues {
		issues = issues[:v.maxIssues]
	}
	return issues
}

// ExpressionCacheStats returns the compiled FHIRPath cache statistics.
func (v *Validator) ExpressionCacheStats() cache.Stats {
	return v.exprs.Stats()
}

// session is the per-call state of Validate.
type session struct {
	v        *Validator
	metrics  *kindling.Metrics
	def      *model.Definition
	reg      Lookup
	elements []model.Element

	// paths holds every element path (slices share their path).
	paths map[string]bool
	// children counts direct children per path.
	children map[string]int

	issues []kindling.Issue
}

func (s *session) index() {
	s.paths = make(map[string]bool, len(s.elements))
	s.children = make(map[string]int)
	for _, e := range s.elements {
		if s.paths[e.Path] {
			continue
		}
		s.paths[e.Path] = true
		if parent := model.PathParent(e.Path); parent != "" {
			s.children[parent]++
		}
	}
}

func (s *session) add(is kindling.Issue) {
	s.issues = append(s.issues, is)
}

func (s *session) lookup(url string) (*model.Definition, bool) {
	if s.reg == nil || url == "" {
		return nil, false
	}
	return s.reg.Get(url)
}
