package rules

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/gofhir/kindling"
	"github.com/gofhir/kindling/model"
)

//go:embed default.yaml
var defaultYAML []byte

// File is the YAML form of a rule set.
type File struct {
	Hops []HopFile `yaml:"hops"`
}

// HopFile is the YAML form of one hop.
type HopFile struct {
	From  string     `yaml:"from"`
	To    string     `yaml:"to"`
	Rules []RuleFile `yaml:"rules"`
}

// RuleFile is the YAML form of one rule.
type RuleFile struct {
	ID        string     `yaml:"id"`
	Pattern   string     `yaml:"pattern"`
	Lossiness string     `yaml:"lossiness"`
	Steps     []StepFile `yaml:"steps"`
}

// StepFile is the YAML form of one transform step. Which argument fields
// are read depends on the transform.
type StepFile struct {
	Transform string `yaml:"transform"`
	From      string `yaml:"from"`
	To        string `yaml:"to"`
	Min       *int   `yaml:"min"`
	Max       string `yaml:"max"`
	Reason    string `yaml:"reason"`
	Lossiness string `yaml:"lossiness"`
}

// ParseYAML decodes a rule file into hop declarations. Generation names
// are resolved against gens (nil means the built-ins), so releases such as
// "4.0.1" are accepted.
func ParseYAML(r io.Reader, gens *kindling.GenerationSet) ([]HopRules, error) {
	if gens == nil {
		gens = kindling.DefaultGenerations()
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode rule file: %w", err)
	}

	hops := make([]HopRules, 0, len(f.Hops))
	for i, hf := range f.Hops {
		from, ok := gens.Parse(hf.From)
		if !ok {
			return nil, invalid("hops[%d]: unknown generation %q", i, hf.From)
		}
		to, ok := gens.Parse(hf.To)
		if !ok {
			return nil, invalid("hops[%d]: unknown generation %q", i, hf.To)
		}
		hr := HopRules{From: from, To: to}
		for j, rf := range hf.Rules {
			rule, err := rf.build()
			if err != nil {
				return nil, fmt.Errorf("hops[%d].rules[%d]: %w", i, j, err)
			}
			hr.Rules = append(hr.Rules, rule)
		}
		hops = append(hops, hr)
	}
	return hops, nil
}

// LoadYAML decodes and compiles a rule file.
func LoadYAML(r io.Reader, gens *kindling.GenerationSet) (*RuleSet, error) {
	hops, err := ParseYAML(r, gens)
	if err != nil {
		return nil, err
	}
	return Compile(gens, hops...)
}

func (rf RuleFile) build() (Rule, error) {
	pattern, err := ParsePattern(rf.Pattern)
	if err != nil {
		return Rule{}, invalid("rule %s: %v", rf.ID, err)
	}
	lossiness, err := kindling.ParseLossiness(rf.Lossiness)
	if err != nil {
		return Rule{}, invalid("rule %s: %v", rf.ID, err)
	}
	rule := Rule{ID: rf.ID, Pattern: pattern, Lossiness: lossiness}
	for k, sf := range rf.Steps {
		step, err := sf.build()
		if err != nil {
			return Rule{}, invalid("rule %s: steps[%d]: %v", rf.ID, k, err)
		}
		rule.Steps = append(rule.Steps, step)
	}
	return rule, nil
}

func (sf StepFile) build() (Step, error) {
	var step Step
	if sf.Lossiness != "" {
		l, err := kindling.ParseLossiness(sf.Lossiness)
		if err != nil {
			return step, err
		}
		step.Lossiness = l
	}
	needs := func(fields ...string) error {
		for _, f := range fields {
			if (f == "from" && sf.From == "") || (f == "to" && sf.To == "") {
				return fmt.Errorf("%s needs %q", sf.Transform, f)
			}
		}
		return nil
	}

	switch sf.Transform {
	case "identity":
		step.Transform = Identity{}
	case "rename-type":
		if err := needs("from", "to"); err != nil {
			return step, err
		}
		step.Transform = RenameType{From: sf.From, To: sf.To}
	case "rename-path":
		if err := needs("from", "to"); err != nil {
			return step, err
		}
		step.Transform = RenamePath{From: sf.From, To: sf.To}
	case "map-binding-strength":
		if err := needs("from", "to"); err != nil {
			return step, err
		}
		from, to := model.BindingStrength(sf.From), model.BindingStrength(sf.To)
		if !from.IsValid() || !to.IsValid() {
			return step, fmt.Errorf("unknown binding strength in %s -> %s", sf.From, sf.To)
		}
		step.Transform = MapBindingStrength{From: from, To: to}
	case "set-cardinality":
		t := SetCardinality{Min: sf.Min}
		if sf.Max != "" {
			m, err := model.ParseMax(sf.Max)
			if err != nil {
				return step, err
			}
			t.Max = &m
		}
		if t.Min == nil && t.Max == nil {
			return step, fmt.Errorf("set-cardinality needs min or max")
		}
		step.Transform = t
	case "map-system-types":
		step.Transform = MapSystemTypes{}
	case "drop-xpath":
		step.Transform = DropXPath{}
	case "drop-additional-bindings":
		step.Transform = DropAdditionalBindings{}
	case "drop-suppress":
		step.Transform = DropSuppress{}
	case "merge-profiles":
		step.Transform = MergeProfiles{}
	case "split-profiles":
		step.Transform = SplitProfiles{}
	case "remove":
		step.Transform = Remove{}
	case "reject":
		step.Transform = Reject{Reason: sf.Reason}
	case "":
		return step, fmt.Errorf("missing transform")
	default:
		return step, fmt.Errorf("unknown transform %q", sf.Transform)
	}
	return step, nil
}

var (
	defaultOnce sync.Once
	defaultSet  *RuleSet
)

// DefaultHops returns the built-in STU3/R4/R4B/R5 matrix as hop
// declarations, for callers that extend it before compiling.
func DefaultHops() []HopRules {
	hops, err := ParseYAML(bytes.NewReader(defaultYAML), kindling.DefaultGenerations())
	if err != nil {
		panic(fmt.Sprintf("rules: built-in matrix: %v", err))
	}
	return hops
}

// Default returns the compiled built-in matrix.
func Default() *RuleSet {
	defaultOnce.Do(func() {
		rs, err := Compile(kindling.DefaultGenerations(), DefaultHops()...)
		if err != nil {
			panic(fmt.Sprintf("rules: built-in matrix: %v", err))
		}
		defaultSet = rs
	})
	return defaultSet
}
