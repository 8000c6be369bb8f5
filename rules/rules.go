// Package rules holds the conversion rule set: per-hop rules keyed by
// element path pattern, and the generation graph they induce.
//
// A RuleSet is built once with Compile (or loaded from YAML) and is
// read-only afterwards, so one instance can be shared by every conversion.
package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gofhir/kindling"
	"github.com/gofhir/kindling/model"
)

var (
	// ErrAmbiguousRule is wrapped by *AmbiguousRuleError.
	ErrAmbiguousRule = errors.New("ambiguous conversion rule")
	// ErrInvalidRule reports a rule set that cannot be compiled.
	ErrInvalidRule = errors.New("invalid conversion rule")
)

// AmbiguousRuleError reports two rules of one hop with equal specificity
// whose patterns can match the same path.
type AmbiguousRuleError struct {
	Hop    kindling.Hop
	First  string
	Second string
	// Patterns of First and Second.
	FirstPattern  string
	SecondPattern string
}

func (e *AmbiguousRuleError) Error() string {
	return fmt.Sprintf("hop %s: rules %s (%s) and %s (%s) have equal specificity and overlap",
		e.Hop, e.First, e.FirstPattern, e.Second, e.SecondPattern)
}

func (e *AmbiguousRuleError) Unwrap() error {
	return ErrAmbiguousRule
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRule, fmt.Sprintf(format, args...))
}

// Step is one transform of a rule. An empty Lossiness inherits the rule's.
type Step struct {
	Transform Transform
	Lossiness kindling.Lossiness
}

// Rule converts the elements matching Pattern across one hop.
type Rule struct {
	ID        string
	Pattern   Pattern
	Lossiness kindling.Lossiness
	Steps     []Step
}

// Application is the outcome of running a rule on one element.
type Application struct {
	Effect    Effect
	Lossiness kindling.Lossiness
	Message   string
}

// Apply runs the steps of r on e in order. The lossiness of the
// application is the worst lossiness among the steps that had an effect.
// A step with an effect and unsupported lossiness rejects the element.
func (r *Rule) Apply(e *model.Element) Application {
	app := Application{Lossiness: kindling.Lossless}
	var messages []string
	for _, s := range r.Steps {
		effect, msg := s.Transform.Apply(e)
		if effect == Unchanged {
			continue
		}
		l := s.Lossiness
		if l == "" {
			l = r.Lossiness
		}
		if l == kindling.Unsupported {
			effect = Rejected
		}
		app.Lossiness = app.Lossiness.Max(l)
		if msg != "" {
			messages = append(messages, msg)
		}
		if effect > app.Effect {
			app.Effect = effect
		}
		if effect == Dropped || effect == Rejected {
			break
		}
	}
	if app.Effect == Rejected {
		app.Lossiness = kindling.Unsupported
	}
	app.Message = strings.Join(messages, "; ")
	return app
}

// HopRules declares a hop of the generation graph and its rules. A hop
// with no rules still exists: its elements pass through unchanged.
type HopRules struct {
	From  kindling.Generation
	To    kindling.Generation
	Rules []Rule
}

// RuleSet is a compiled, immutable rule set.
type RuleSet struct {
	gens  *kindling.GenerationSet
	hops  map[kindling.Hop][]Rule
	order []kindling.Hop
	paths map[kindling.Hop][]kindling.Generation
}

// Compile validates the hops and their rules, rejects ambiguous rules and
// precomputes the shortest conversion path between every pair of
// generations. A nil gens means the built-in generations.
func Compile(gens *kindling.GenerationSet, hops ...HopRules) (*RuleSet, error) {
	if gens == nil {
		gens = kindling.DefaultGenerations()
	}
	rs := &RuleSet{
		gens: gens,
		hops: make(map[kindling.Hop][]Rule, len(hops)),
	}
	ids := make(map[string]kindling.Hop)

	for _, hr := range hops {
		hop := kindling.Hop{From: hr.From, To: hr.To}
		if !gens.Has(hr.From) || !gens.Has(hr.To) {
			return nil, invalid("hop %s: unknown generation", hop)
		}
		if hr.From == hr.To {
			return nil, invalid("hop %s: source and target are the same generation", hop)
		}
		if _, dup := rs.hops[hop]; dup {
			return nil, invalid("hop %s declared twice", hop)
		}

		rules := make([]Rule, len(hr.Rules))
		for i, r := range hr.Rules {
			if err := checkRule(hop, r); err != nil {
				return nil, err
			}
			if other, dup := ids[r.ID]; dup {
				return nil, invalid("rule id %s used in %s and %s", r.ID, other, hop)
			}
			ids[r.ID] = hop
			r.Steps = append([]Step(nil), r.Steps...)
			rules[i] = r
		}
		if err := checkAmbiguity(hop, rules); err != nil {
			return nil, err
		}
		sort.SliceStable(rules, func(i, j int) bool {
			return rules[i].Pattern.Specificity().Compare(rules[j].Pattern.Specificity()) > 0
		})
		rs.hops[hop] = rules
		rs.order = append(rs.order, hop)
	}

	sort.Slice(rs.order, func(i, j int) bool {
		a, b := rs.order[i], rs.order[j]
		if a.From != b.From {
			return gens.Index(a.From) < gens.Index(b.From)
		}
		return gens.Index(a.To) < gens.Index(b.To)
	})
	rs.paths = shortestPaths(gens, rs.order)
	return rs, nil
}

func checkRule(hop kindling.Hop, r Rule) error {
	if r.ID == "" {
		return invalid("hop %s: rule without id", hop)
	}
	if r.Pattern.String() == "" {
		return invalid("hop %s: rule %s has no pattern", hop, r.ID)
	}
	if !r.Lossiness.IsValid() {
		return invalid("hop %s: rule %s: unknown lossiness %q", hop, r.ID, r.Lossiness)
	}
	for i, s := range r.Steps {
		if s.Transform == nil {
			return invalid("hop %s: rule %s: step %d has no transform", hop, r.ID, i)
		}
		if s.Lossiness != "" && !s.Lossiness.IsValid() {
			return invalid("hop %s: rule %s: step %d: unknown lossiness %q", hop, r.ID, i, s.Lossiness)
		}
	}
	return nil
}

func checkAmbiguity(hop kindling.Hop, rules []Rule) error {
	for i := range rules {
		for j := i + 1; j < len(rules); j++ {
			a, b := rules[i], rules[j]
			if a.Pattern.Specificity().Compare(b.Pattern.Specificity()) != 0 {
				continue
			}
			if a.Pattern.Overlaps(b.Pattern) {
				return &AmbiguousRuleError{
					Hop:           hop,
					First:         a.ID,
					Second:        b.ID,
					FirstPattern:  a.Pattern.String(),
					SecondPattern: b.Pattern.String(),
				}
			}
		}
	}
	return nil
}

// Generations returns the generation catalogue the set was compiled for.
func (rs *RuleSet) Generations() *kindling.GenerationSet {
	return rs.gens
}

// Hops returns the declared hops ordered by source, then target generation.
func (rs *RuleSet) Hops() []kindling.Hop {
	return append([]kindling.Hop(nil), rs.order...)
}

// HasHop reports whether h is declared.
func (rs *RuleSet) HasHop(h kindling.Hop) bool {
	_, ok := rs.hops[h]
	return ok
}

// Rules returns the rules of h, most specific first.
func (rs *RuleSet) Rules(h kindling.Hop) []Rule {
	return append([]Rule(nil), rs.hops[h]...)
}

// Len returns the number of rules across all hops.
func (rs *RuleSet) Len() int {
	n := 0
	for _, rules := range rs.hops {
		n += len(rules)
	}
	return n
}

// Match returns the most specific rule of h whose pattern matches path.
func (rs *RuleSet) Match(h kindling.Hop, path string) (*Rule, bool) {
	rules := rs.hops[h]
	for i := range rules {
		if rules[i].Pattern.Match(path) {
			return &rules[i], true
		}
	}
	return nil, false
}

// Path returns the generations visited when converting from one generation
// to another, both ends included. A conversion to the same generation is
// the one-element path.
func (rs *RuleSet) Path(from, to kindling.Generation) ([]kindling.Generation, bool) {
	if from == to {
		if !rs.gens.Has(from) {
			return nil, false
		}
		return []kindling.Generation{from}, true
	}
	p, ok := rs.paths[kindling.Hop{From: from, To: to}]
	if !ok {
		return nil, false
	}
	return append([]kindling.Generation(nil), p...), true
}
