package validate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/gofhir/kindling"
	"github.com/gofhir/kindling/model"
	"github.com/gofhir/kindling/registry"
	"github.com/gofhir/kindling/terminology"
)

const (
	genderSystem   = "http://hl7.org/fhir/administrative-gender"
	genderValueSet = "http://hl7.org/fhir/ValueSet/administrative-gender"
	profileURL     = "http://example.org/StructureDefinition/test-patient"
)

func el(path string, min, max int, types ...string) model.Element {
	e := model.Element{Path: path, Card: model.Card(min, max)}
	for _, t := range types {
		e.Types = append(e.Types, model.TypeRef{Code: t})
	}
	return e
}

func genderBinding() *model.Binding {
	return &model.Binding{Strength: model.BindingRequired, ValueSet: genderValueSet}
}

func patientElements() []model.Element {
	gender := el("Patient.gender", 0, 1, "code")
	gender.Binding = genderBinding()
	return []model.Element{
		el("Patient", 0, model.Unbounded),
		el("Patient.name", 0, model.Unbounded, "HumanName"),
		gender,
		el("Patient.active", 0, 1, "boolean"),
	}
}

type defOption func(*model.Intermediate)

func withBase(url, derivation string) defOption {
	return func(in *model.Intermediate) {
		in.BaseDefinition = url
		in.Derivation = derivation
	}
}

func withGeneration(g kindling.Generation) defOption {
	return func(in *model.Intermediate) { in.Generation = g }
}

func withURL(url string) defOption {
	return func(in *model.Intermediate) { in.URL = url }
}

func differential() defOption {
	return func(in *model.Intermediate) { in.Differential = true }
}

func withConstraints(cs ...model.ProfileConstraint) defOption {
	return func(in *model.Intermediate) { in.Constraints = cs }
}

func definition(t testing.TB, elements []model.Element, opts ...defOption) *model.Definition {
	t.Helper()
	in := model.Intermediate{
		URL:        profileURL,
		Name:       "TestPatient",
		Status:     "active",
		Type:       "Patient",
		Kind:       model.KindResource,
		Generation: kindling.R4,
		Elements:   elements,
	}
	for _, opt := range opts {
		opt(&in)
	}
	d, err := model.New(in)
	require.NoError(t, err)
	return d
}

func withRule(issues []kindling.Issue, rule string) []kindling.Issue {
	var out []kindling.Issue
	for _, is := range issues {
		if is.Rule == rule {
			out = append(out, is)
		}
	}
	return out
}

func TestValidate_Clean(t *testing.T) {
	d := definition(t, patientElements())
	issues := New(nil).Validate(context.Background(), d, registry.New())
	assert.Empty(t, issues)
}

func TestValidate_Structural(t *testing.T) {
	tests := []struct {
		name string
		add  model.Element
		rule string
		path string
	}{
		{"unknown type", el("Patient.x", 0, 1, "Foo"), RuleType, "Patient.x"},
		{"several types without choice path", el("Patient.y", 0, 1, "string", "boolean"), RuleChoice, "Patient.y"},
		{"repeating choice", el("Patient.value[x]", 0, model.Unbounded, "string"), RuleChoice, "Patient.value[x]"},
		{"undeclared parent", el("Patient.contact.name", 0, 1, "HumanName"), RuleParent, "Patient.contact.name"},
		{"no type and no children", el("Patient.z", 0, 1), RuleTypeRequired, "Patient.z"},
		{"duplicate type", el("Patient.w[x]", 0, 1, "string", "string"), RuleTypeDuplicate, "Patient.w[x]"},
		{"incomplete snapshot cardinality", model.Element{
			Path: "Patient.birthDate", Card: model.Cardinality{Min: model.Unset, Max: 1},
			Types: []model.TypeRef{{Code: "date"}},
		}, RuleCardinality, "Patient.birthDate"},
		{"duplicate constraint key", model.Element{
			Path: "Patient.photo", Card: model.Card(0, model.Unbounded),
			Types: []model.TypeRef{{Code: "Attachment"}},
			Constraints: []model.Constraint{
				{Key: "k-1", Severity: "error", Expression: "true"},
				{Key: "k-1", Severity: "error", Expression: "true"},
			},
		}, RuleConstraintKey, "Patient.photo"},
	}

	v := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := definition(t, append(patientElements(), tt.add))
			issues := v.Validate(context.Background(), d, nil)
			require.Len(t, issues, 1, "%v", issues)
			assert.Equal(t, tt.rule, issues[0].Rule)
			assert.Equal(t, tt.path, issues[0].Path)
			assert.Equal(t, kindling.SeverityError, issues[0].Severity)
			assert.Equal(t, kindling.PhaseStructural, issues[0].Phase)
		})
	}
}

func TestValidate_TypeSystemPerGeneration(t *testing.T) {
	elements := append(patientElements(), el("Patient.link", 0, 1, "canonical"))

	r4 := definition(t, elements)
	assert.Empty(t, New(nil).Validate(context.Background(), r4, nil))

	stu3 := definition(t, elements, withGeneration(kindling.STU3))
	issues := New(nil).Validate(context.Background(), stu3, nil)
	require.Len(t, issues, 1)
	assert.Equal(t, RuleType, issues[0].Rule)
	assert.Contains(t, issues[0].Diagnostics, `"canonical"`)

	unknown := definition(t, patientElements(), withGeneration("R9"))
	issues = New(nil).Validate(context.Background(), unknown, nil)
	require.Len(t, issues, 1)
	assert.Equal(t, RuleGeneration, issues[0].Rule)
}

func TestValidate_DifferentialRelaxations(t *testing.T) {
	d := definition(t, []model.Element{
		el("Patient", 0, model.Unbounded),
		{Path: "Patient.contact.name", Card: model.Cardinality{Min: 1, Max: model.Unset}},
		el("Patient.gender", 1, 1),
	}, differential())
	assert.Empty(t, New(nil).Validate(context.Background(), d, nil))
}

func TestValidate_AbsentBaseIsSingleWarning(t *testing.T) {
	d := definition(t, patientElements(), withBase("http://example.org/StructureDefinition/missing-base", "constraint"))

	issues := New(nil).Validate(context.Background(), d, registry.New())
	require.Len(t, issues, 1)
	assert.Equal(t, kindling.SeverityWarning, issues[0].Severity)
	assert.Equal(t, RuleBase, issues[0].Rule)
	assert.Equal(t, kindling.PhaseConstraint, issues[0].Phase)
}

func TestValidate_ProfileAgainstBase(t *testing.T) {
	baseElements := patientElements()
	baseElements[1].Card = model.Card(1, model.Unbounded)
	base := definition(t, baseElements, withURL(registry.CoreURL("Patient")))
	reg := registry.New()
	require.NoError(t, reg.Add(base))
	reg.Freeze()

	elements := patientElements()
	elements[1].Card = model.Card(0, 1)
	elements[2].Types = []model.TypeRef{{Code: "string"}}
	elements[3].Card = model.Card(0, model.Unbounded)
	// the slice is compared with the unsliced base element
	nameSlice := el("Patient.name", 1, 1, "HumanName")
	nameSlice.SliceName = "official"
	elements = append(elements, nameSlice)

	d := definition(t, elements, withBase(registry.CoreURL("Patient"), "constraint"))
	issues := New(nil).Validate(context.Background(), d, reg)

	card := withRule(issues, RuleBaseCardinality)
	require.Len(t, card, 2, "%v", issues)
	assert.Equal(t, "Patient.active", card[0].Path)
	assert.Contains(t, card[0].Diagnostics, "max * is higher than the base max 1")
	assert.Equal(t, "Patient.name", card[1].Path)
	assert.Contains(t, card[1].Diagnostics, "min 0 is lower than the base min 1")

	types := withRule(issues, RuleBaseType)
	require.Len(t, types, 1)
	assert.Equal(t, "Patient.gender", types[0].Path)
	assert.Len(t, issues, 3)

	// specializations may differ from their base freely
	spec := definition(t, elements, withBase(registry.CoreURL("Patient"), "specialization"))
	assert.Empty(t, New(nil).Validate(context.Background(), spec, reg))
}

func TestValidate_TypeProfiles(t *testing.T) {
	reg := registry.New()
	name := model.MustNew(model.Intermediate{
		URL: "http://example.org/sd/my-name", Type: "HumanName", Kind: model.KindComplexType,
		Derivation: "constraint", Generation: kindling.R4,
		Elements: []model.Element{el("HumanName", 0, model.Unbounded)},
	})
	variant := model.MustNew(model.Intermediate{
		URL: "http://example.org/sd/name-variant", Type: "NameVariant", Kind: model.KindLogical,
		BaseDefinition: "http://example.org/sd/my-name", Generation: kindling.R4,
		Elements: []model.Element{el("NameVariant", 0, model.Unbounded)},
	})
	broken := model.MustNew(model.Intermediate{
		URL: "http://example.org/sd/broken-chain", Type: "Other", Kind: model.KindLogical,
		BaseDefinition: "http://example.org/sd/gone", Generation: kindling.R4,
		Elements: []model.Element{el("Other", 0, model.Unbounded)},
	})
	patient := model.MustNew(model.Intermediate{
		URL: registry.CoreURL("Patient"), Type: "Patient", Kind: model.KindResource, Generation: kindling.R4,
		Elements: []model.Element{el("Patient", 0, model.Unbounded)},
	})
	for _, d := range []*model.Definition{name, variant, broken, patient} {
		require.NoError(t, reg.Add(d))
	}
	reg.Freeze()

	withProfile := func(path, code string, profiles, targets []string) model.Element {
		e := el(path, 0, 1)
		e.Types = []model.TypeRef{{Code: code, Profiles: profiles, TargetProfiles: targets}}
		return e
	}
	elements := append(patientElements(),
		withProfile("Patient.n1", "HumanName", []string{"http://example.org/sd/my-name"}, nil),
		withProfile("Patient.n2", "HumanName", []string{"http://example.org/sd/name-variant"}, nil),
		withProfile("Patient.n3", "Address", []string{"http://example.org/sd/my-name"}, nil),
		withProfile("Patient.n4", "ContactPoint", []string{"http://example.org/sd/unknown"}, nil),
		withProfile("Patient.n5", "Address", []string{"http://example.org/sd/broken-chain"}, nil),
		withProfile("Patient.r1", "Reference", nil, []string{registry.CoreURL("Patient")}),
		withProfile("Patient.r2", "Reference", nil, []string{"http://example.org/sd/my-name"}),
		withProfile("Patient.r3", "Reference", nil, []string{registry.CoreURL("Organization")}),
	)
	issues := New(nil).Validate(context.Background(), definition(t, elements), reg)

	byPath := make(map[string]kindling.Issue)
	for _, is := range issues {
		byPath[is.Path] = is
	}
	require.Len(t, issues, 5, "%v", issues)

	assert.Equal(t, kindling.SeverityError, byPath["Patient.n3"].Severity)
	assert.Equal(t, RuleTypeProfile, byPath["Patient.n3"].Rule)
	assert.Equal(t, kindling.SeverityWarning, byPath["Patient.n4"].Severity)
	assert.Equal(t, kindling.SeverityWarning, byPath["Patient.n5"].Severity)
	assert.Contains(t, byPath["Patient.n5"].Diagnostics, "base http://example.org/sd/gone is not loaded")
	assert.Equal(t, kindling.SeverityError, byPath["Patient.r2"].Severity)
	assert.Equal(t, RuleTargetProfile, byPath["Patient.r2"].Rule)
	assert.Equal(t, kindling.SeverityWarning, byPath["Patient.r3"].Severity)
}

func TestValidate_Bindings(t *testing.T) {
	active := el("Patient.active", 0, 1, "boolean")
	active.Binding = genderBinding()
	status := el("Patient.status", 0, 1, "code")
	kind := el("Patient.kind", 0, 1, "code")
	kind.Binding = &model.Binding{Strength: "mandatory", ValueSet: genderValueSet}

	elements := patientElements()
	elements[3] = active
	elements = append(elements, status, kind)
	issues := New(nil).Validate(context.Background(), definition(t, elements), nil)
	require.Len(t, issues, 3, "%v", issues)

	assert.Len(t, withRule(issues, RuleBindingType), 1)
	assert.Len(t, withRule(issues, RuleBindingMissing), 1)
	assert.Len(t, withRule(issues, RuleBindingStrength), 1)

	// an unbound code is fine in a differential
	diff := definition(t, []model.Element{el("Patient", 0, model.Unbounded), status}, differential())
	assert.Empty(t, New(nil).Validate(context.Background(), diff, nil))
}

func codeableConcept(system, code string) *model.Value {
	v, err := model.NewValue("CodeableConcept", map[string]any{
		"coding": []any{map[string]any{"system": system, "code": code}},
	})
	if err != nil {
		panic(err)
	}
	return v
}

func TestValidate_FixedAndPatternValues(t *testing.T) {
	slow := "http://example.org/slow"
	resolver := terminology.ResolverFunc(func(ctx context.Context, system, code string) (*terminology.Resolution, error) {
		if system == slow {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return terminology.NewMemory().ResolveBinding(ctx, system, code)
	})

	fixed, err := model.NewValue("string", "yes")
	require.NoError(t, err)
	active := el("Patient.active", 0, 1, "boolean")
	active.Fixed = fixed

	known := el("Patient.c1", 0, 1, "CodeableConcept")
	known.Pattern = codeableConcept(genderSystem, "female")
	unknown := el("Patient.c2", 0, 1, "CodeableConcept")
	unknown.Pattern = codeableConcept(genderSystem, "robot")
	timeout := el("Patient.c3", 0, 1, "CodeableConcept")
	timeout.Pattern = codeableConcept(slow, "x")

	elements := patientElements()
	elements[3] = active
	elements = append(elements, known, unknown, timeout)

	opts := kindling.Apply(kindling.WithCollaboratorTimeout(20 * time.Millisecond))
	v := New(nil, WithOptions(opts), WithTerminology(resolver))
	issues := v.Validate(context.Background(), definition(t, elements), nil)
	require.Len(t, issues, 3, "%v", issues)

	vt := withRule(issues, RuleValueType)
	require.Len(t, vt, 1)
	assert.Equal(t, "Patient.active", vt[0].Path)
	assert.Equal(t, kindling.SeverityError, vt[0].Severity)

	codes := withRule(issues, RuleValueCode)
	require.Len(t, codes, 2)
	assert.Equal(t, "Patient.c2", codes[0].Path)
	assert.Equal(t, kindling.IssueTypeCodeInvalid, codes[0].Code)
	assert.Equal(t, "Patient.c3", codes[1].Path)
	assert.Equal(t, kindling.IssueTypeTimeout, codes[1].Code)
	for _, is := range codes {
		assert.Equal(t, kindling.SeverityWarning, is.Severity)
	}

	// without a collaborator the codes are not checked
	issues = New(nil).Validate(context.Background(), definition(t, elements), nil)
	assert.Len(t, issues, 1)
}

func TestValidate_FHIRPath(t *testing.T) {
	elements := patientElements()
	elements[1].Constraints = []model.Constraint{{Key: "bad-1", Severity: "error", Expression: "name.where("}}
	elements[3].Constraints = []model.Constraint{{Key: "ok-1", Severity: "error", Expression: "active.exists() or active.empty()"}}
	d := definition(t, elements, withConstraints(
		model.ProfileConstraint{Key: "sd-url", Severity: "error", Human: "url is required", Expression: "url.exists()"},
		model.ProfileConstraint{Key: "sd-big", Severity: "error", Human: "needs many elements", Expression: "snapshot.element.count() > 10"},
		model.ProfileConstraint{Key: "sd-warn", Severity: "warning", Expression: "snapshot.element.count() > 20"},
	))

	v := New(nil)
	issues := v.Validate(context.Background(), d, nil)
	require.Len(t, issues, 3, "%v", issues)

	compile := withRule(issues, RuleExpression)
	require.Len(t, compile, 1)
	assert.Equal(t, "Patient.name", compile[0].Path)
	assert.Contains(t, compile[0].Diagnostics, "bad-1")

	big := withRule(issues, "sd-big")
	require.Len(t, big, 1)
	assert.Equal(t, kindling.SeverityError, big[0].Severity)
	assert.Equal(t, kindling.IssueTypeInvariant, big[0].Code)
	assert.Contains(t, big[0].Diagnostics, "needs many elements")

	warn := withRule(issues, "sd-warn")
	require.Len(t, warn, 1)
	assert.Equal(t, kindling.SeverityWarning, warn[0].Severity)

	// second run is served from the expression cache
	metrics := kindling.NewMetrics()
	again := v.Validate(kindling.ContextWithMetrics(context.Background(), metrics), d, nil)
	assert.Equal(t, issues, again)
	assert.Positive(t, v.ExpressionCacheStats().Hits)
	snap := metrics.Snapshot()
	assert.Positive(t, snap.CacheHits)
	assert.Zero(t, snap.CacheMisses)

	off := New(nil, WithOptions(kindling.Apply(kindling.WithConstraints(false))))
	assert.Empty(t, off.Validate(context.Background(), d, nil))
}

func TestValidate_MaxIssues(t *testing.T) {
	elements := append(patientElements(), el("Patient.x", 0, 1, "Foo"), el("Patient.y", 0, 1, "Bar"))
	v := New(nil, WithOptions(kindling.Apply(kindling.WithMaxIssues(1))))

	issues := v.Validate(context.Background(), definition(t, elements), nil)
	require.Len(t, issues, 1)
	assert.Equal(t, "Patient.x", issues[0].Path)
}

func TestValidate_DoesNotMutate(t *testing.T) {
	d := definition(t, patientElements(), withBase("http://example.org/missing", "constraint"))
	before := d.Clone()
	New(nil).Validate(context.Background(), d, nil)
	assert.True(t, before.Equal(d))
}

func TestCheckCount(t *testing.T) {
	tests := []struct {
		name     string
		card     model.Cardinality
		observed int
		want     int
	}{
		{"optional unbounded empty", model.Card(0, model.Unbounded), 0, 0},
		{"optional unbounded many", model.Card(0, model.Unbounded), 1000, 0},
		{"required missing", model.Card(1, 1), 0, 1},
		{"required present", model.Card(1, 1), 1, 0},
		{"too many", model.Card(0, 2), 3, 1},
		{"unset bounds", model.Cardinality{Min: model.Unset, Max: model.Unset}, 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := CheckCount("Patient.name", tt.card, tt.observed)
			assert.Len(t, issues, tt.want)
			for _, is := range issues {
				assert.Equal(t, RuleInstanceCardinal, is.Rule)
				assert.Equal(t, "Patient.name", is.Path)
			}
		})
	}
}

func TestCheckCount_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		min := rapid.IntRange(0, 5).Draw(rt, "min")
		max := model.Unbounded
		if rapid.Bool().Draw(rt, "bounded") {
			max = min + rapid.IntRange(0, 5).Draw(rt, "extra")
		}
		observed := rapid.IntRange(0, 15).Draw(rt, "observed")
		card := model.Card(min, max)

		issues := CheckCount("X.y", card, observed)
		if card.Allows(observed) != (len(issues) == 0) {
			rt.Fatalf("%s with %d occurrences: %v", card, observed, issues)
		}
		if min == 0 && max == model.Unbounded && len(issues) > 0 {
			rt.Fatalf("0..* reported %v", issues)
		}
	})
}

func TestValidate_CardinalityProperty(t *testing.T) {
	v := New(nil)
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(rt, "elements")
		elements := []model.Element{el("Basic", 0, model.Unbounded)}
		for i := 0; i < n; i++ {
			min := rapid.IntRange(0, 3).Draw(rt, "min")
			max := model.Unbounded
			if rapid.Bool().Draw(rt, "bounded") {
				max = min + rapid.IntRange(0, 3).Draw(rt, "extra")
			}
			path := "Basic.e" + string(rune('a'+i))
			elements = append(elements, el(path, min, max, "string"))
		}
		d, err := model.New(model.Intermediate{
			URL: "http://example.org/b", Type: "Basic", Kind: model.KindResource,
			Generation: kindling.R4, Elements: elements,
		})
		if err != nil {
			rt.Fatal(err)
		}
		if issues := withRule(v.Validate(context.Background(), d, nil), RuleCardinality); len(issues) > 0 {
			rt.Fatalf("satisfiable cardinalities reported: %v", issues)
		}
	})
}
