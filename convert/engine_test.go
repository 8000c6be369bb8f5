package convert

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/gofhir/kindling"
	"github.com/gofhir/kindling/adapter"
	"github.com/gofhir/kindling/model"
	"github.com/gofhir/kindling/rules"
)

func defaultEngine() *Engine {
	return New(rules.Default(), adapter.DefaultSet())
}

func definition(t testing.TB, gen kindling.Generation, elements ...model.Element) *model.Definition {
	t.Helper()
	d, err := model.New(model.Intermediate{
		URL:        "http://example.org/StructureDefinition/test",
		Name:       "Test",
		Type:       "Patient",
		Kind:       model.KindResource,
		Generation: gen,
		Elements:   append([]model.Element{{Path: "Patient", Card: model.Card(0, model.Unbounded)}}, elements...),
	})
	require.NoError(t, err)
	return d
}

func TestConvert_Identity(t *testing.T) {
	d := definition(t, kindling.R4, model.Element{
		Path: "Patient.name", Card: model.Card(0, model.Unbounded), Types: []model.TypeRef{{Code: "HumanName"}},
	})

	res, err := defaultEngine().Convert(d, kindling.R4)
	require.NoError(t, err)
	assert.Empty(t, res.Notes)
	assert.False(t, res.Lossy)
	assert.Equal(t, []kindling.Generation{kindling.R4}, res.Path)
	assert.True(t, d.Equal(res.Definition))
	assert.NotSame(t, d, res.Definition)
}

func TestConvert_RenameScenario(t *testing.T) {
	gens, err := kindling.NewGenerationSet(
		kindling.GenerationSpec{ID: "A", Types: []string{"HumanName", "string"}},
		kindling.GenerationSpec{ID: "B", Types: []string{"Name", "string"}},
	)
	require.NoError(t, err)
	rs, err := rules.Compile(gens, rules.HopRules{From: "A", To: "B", Rules: []rules.Rule{{
		ID:        "a-b-name",
		Pattern:   rules.MustPattern("**"),
		Lossiness: kindling.Lossless,
		Steps:     []rules.Step{{Transform: rules.RenameType{From: "HumanName", To: "Name"}}},
	}}})
	require.NoError(t, err)
	engine := New(rs, adapter.ForGenerations(gens))

	d := definition(t, "A", model.Element{
		Path: "Patient.name", Card: model.Card(0, model.Unbounded), Types: []model.TypeRef{{Code: "HumanName"}},
	})
	res, err := engine.Convert(d, "B")
	require.NoError(t, err)

	require.Len(t, res.Notes, 1)
	note := res.Notes[0]
	assert.Equal(t, "Patient.name", note.Path)
	assert.Equal(t, "a-b-name", note.Rule)
	assert.Equal(t, kindling.Lossless, note.Lossiness)
	assert.Equal(t, kindling.Hop{From: "A", To: "B"}, note.Hop)
	assert.False(t, res.Lossy)

	name, ok := res.Definition.Element("Patient.name")
	require.True(t, ok)
	assert.Equal(t, []string{"Name"}, name.TypeCodes())
	assert.Equal(t, model.Card(0, model.Unbounded), name.Card)
	assert.Equal(t, kindling.Generation("B"), res.Definition.Generation())

	// the source is untouched
	src, _ := d.Element("Patient.name")
	assert.Equal(t, []string{"HumanName"}, src.TypeCodes())
}

func TestConvert_NoPath(t *testing.T) {
	gens, err := kindling.NewGenerationSet(kindling.GenerationSpec{ID: "A"}, kindling.GenerationSpec{ID: "B"})
	require.NoError(t, err)
	rs, err := rules.Compile(gens, rules.HopRules{From: "A", To: "B"})
	require.NoError(t, err)

	_, err = New(rs, adapter.ForGenerations(gens)).Convert(definition(t, "B"), "A")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConversionUnsupported))
	assert.True(t, errors.Is(err, ErrNoPath))
}

func TestConvert_NoAdapter(t *testing.T) {
	gens, err := kindling.NewGenerationSet(kindling.GenerationSpec{ID: "A"}, kindling.GenerationSpec{ID: "B"})
	require.NoError(t, err)
	rs, err := rules.Compile(gens, rules.HopRules{From: "A", To: "B"})
	require.NoError(t, err)
	only, err := adapter.NewSet(adapter.NewJSON(gens, "A", adapter.R4Dialect))
	require.NoError(t, err)

	_, err = New(rs, only).Convert(definition(t, "A"), "B")
	assert.True(t, errors.Is(err, ErrNoAdapter))
}

func TestConvert_UnrepresentablePassThrough(t *testing.T) {
	d := definition(t, kindling.R5, model.Element{
		Path: "Patient.hours", Card: model.Card(0, 1), Types: []model.TypeRef{{Code: "Availability"}},
	})

	_, err := defaultEngine().Convert(d, kindling.R4)
	require.Error(t, err)
	var ue *UnsupportedError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "Patient.hours", ue.Path)
	assert.Equal(t, kindling.Hop{From: kindling.R5, To: kindling.R4}, ue.Hop)
	assert.Equal(t, kindling.R5, ue.Source)
	assert.Equal(t, kindling.R4, ue.Target)
	assert.True(t, errors.Is(err, adapter.ErrUnsupportedFeature))
}

func TestConvert_LossyDisclosure(t *testing.T) {
	d := definition(t, kindling.R5,
		model.Element{
			Path: "Patient.gender", Card: model.Card(0, 1), Types: []model.TypeRef{{Code: "code"}},
			Binding: &model.Binding{
				Strength:   model.BindingRequired,
				ValueSet:   "http://hl7.org/fhir/ValueSet/administrative-gender",
				Additional: []model.AdditionalBinding{{Purpose: "ui", ValueSet: "http://example.org/vs"}},
			},
		},
		model.Element{Path: "Patient.reason", Card: model.Card(0, model.Unbounded), Types: []model.TypeRef{{Code: "CodeableReference"}}},
	)

	res, err := defaultEngine().Convert(d, kindling.STU3)
	require.NoError(t, err)
	assert.True(t, res.Lossy)
	assert.Equal(t, []kindling.Generation{kindling.R5, kindling.R4, kindling.STU3}, res.Path)
	require.Len(t, res.Notes, 2)
	for _, n := range res.Notes {
		assert.Equal(t, kindling.LossyWithDefault, n.Lossiness)
		assert.Equal(t, "r5-r4", n.Rule)
	}
	assert.Equal(t, "Patient.gender", res.Notes[0].Path)
	assert.Equal(t, "Patient.reason", res.Notes[1].Path)

	reason, _ := res.Definition.Element("Patient.reason")
	assert.Equal(t, []string{"CodeableConcept"}, reason.TypeCodes())
	gender, _ := res.Definition.Element("Patient.gender")
	assert.Empty(t, gender.Binding.Additional)
}

func TestConvert_LosslessHopsHaveNoLossyNotes(t *testing.T) {
	d := definition(t, kindling.R4,
		model.Element{Path: "Patient.link", Card: model.Card(0, 1), Types: []model.TypeRef{{Code: "url"}}},
	)
	res, err := defaultEngine().Convert(d, kindling.STU3)
	require.NoError(t, err)
	require.Len(t, res.Notes, 1)
	assert.Equal(t, kindling.Lossless, res.Notes[0].Lossiness)
	assert.False(t, res.Lossy)
}

func TestConvert_RemoveDropsDescendants(t *testing.T) {
	rs, err := rules.Compile(nil, rules.HopRules{From: kindling.R4, To: kindling.R5, Rules: []rules.Rule{
		{ID: "drop-contact", Pattern: rules.MustPattern("Patient.contact"), Lossiness: kindling.LossyWithDefault,
			Steps: []rules.Step{{Transform: rules.Remove{}}}},
	}})
	require.NoError(t, err)
	d := definition(t, kindling.R4,
		model.Element{Path: "Patient.contact", Card: model.Card(0, model.Unbounded), Types: []model.TypeRef{{Code: "BackboneElement"}}},
		model.Element{Path: "Patient.contact.name", Card: model.Card(0, 1), Types: []model.TypeRef{{Code: "HumanName"}}},
		model.Element{Path: "Patient.contacts", Card: model.Card(0, 1), Types: []model.TypeRef{{Code: "string"}}},
	)

	res, err := New(rs, adapter.DefaultSet()).Convert(d, kindling.R5)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Definition.Len())
	assert.True(t, res.Definition.HasElement("Patient.contacts"))
	require.Len(t, res.Notes, 1)
	assert.Equal(t, "element removed", res.Notes[0].Message)
	assert.True(t, res.Lossy)
}

func TestConvert_RejectRule(t *testing.T) {
	rs, err := rules.Compile(nil, rules.HopRules{From: kindling.R4, To: kindling.R5, Rules: []rules.Rule{
		{ID: "no-animal", Pattern: rules.MustPattern("Patient.animal.**"), Lossiness: kindling.Unsupported,
			Steps: []rules.Step{{Transform: rules.Reject{Reason: "animal was removed"}}}},
	}})
	require.NoError(t, err)
	d := definition(t, kindling.R4,
		model.Element{Path: "Patient.animal", Card: model.Card(0, 1), Types: []model.TypeRef{{Code: "BackboneElement"}}},
	)

	_, err = New(rs, adapter.DefaultSet()).Convert(d, kindling.R5)
	var ue *UnsupportedError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "no-animal", ue.Rule)
	assert.Equal(t, "animal was removed", ue.Reason)
}

func TestConvert_RenameCollisionFails(t *testing.T) {
	rs, err := rules.Compile(nil, rules.HopRules{From: kindling.R4, To: kindling.R5, Rules: []rules.Rule{
		{ID: "move", Pattern: rules.MustPattern("Patient.a"), Lossiness: kindling.Lossless,
			Steps: []rules.Step{{Transform: rules.RenamePath{From: "Patient.a", To: "Patient.b"}}}},
	}})
	require.NoError(t, err)
	d := definition(t, kindling.R4,
		model.Element{Path: "Patient.a", Card: model.Card(0, 1), Types: []model.TypeRef{{Code: "string"}}},
		model.Element{Path: "Patient.b", Card: model.Card(0, 1), Types: []model.TypeRef{{Code: "string"}}},
	)
	_, err = New(rs, adapter.DefaultSet()).Convert(d, kindling.R5)
	assert.True(t, errors.Is(err, ErrConversionUnsupported))
	assert.True(t, errors.Is(err, model.ErrMalformed))
}

func TestConvert_RenameCarriesDescendants(t *testing.T) {
	rs, err := rules.Compile(nil, rules.HopRules{From: kindling.R4, To: kindling.R5, Rules: []rules.Rule{
		{ID: "move-name", Pattern: rules.MustPattern("Patient.name"), Lossiness: kindling.Lossless,
			Steps: []rules.Step{{Transform: rules.RenamePath{From: "Patient.name", To: "Patient.fullName"}}}},
	}})
	require.NoError(t, err)
	d := definition(t, kindling.R4,
		model.Element{Path: "Patient.name", Card: model.Card(0, model.Unbounded), Types: []model.TypeRef{{Code: "HumanName"}}},
		model.Element{Path: "Patient.name.given", Card: model.Card(0, model.Unbounded), Types: []model.TypeRef{{Code: "string"}}},
		model.Element{Path: "Patient.name", SliceName: "official", Card: model.Card(0, 1), Types: []model.TypeRef{{Code: "HumanName"}}},
		model.Element{ElementID: "Patient.name:official.given", Path: "Patient.name.given", Card: model.Card(1, 1), Types: []model.TypeRef{{Code: "string"}}},
		model.Element{Path: "Patient.nameSuffix", Card: model.Card(0, 1), Types: []model.TypeRef{{Code: "string"}}},
	)

	res, err := New(rs, adapter.DefaultSet()).Convert(d, kindling.R5)
	require.NoError(t, err)

	var ids []string
	for _, e := range res.Definition.Elements() {
		ids = append(ids, e.ID())
	}
	assert.Equal(t, []string{
		"Patient",
		"Patient.fullName",
		"Patient.fullName.given",
		"Patient.fullName:official",
		"Patient.fullName:official.given",
		"Patient.nameSuffix",
	}, ids)

	require.Len(t, res.Notes, 4)
	assert.Equal(t, "Patient.name.given", res.Notes[1].Path)
	assert.Equal(t, "move-name", res.Notes[1].Rule)
	assert.Equal(t, kindling.Lossless, res.Notes[1].Lossiness)
	assert.Equal(t, "Patient.name:official.given", res.Notes[3].Path)
	assert.False(t, res.Lossy)

	given, ok := res.Definition.Element("Patient.fullName:official.given")
	require.True(t, ok)
	assert.Equal(t, "Patient.fullName.given", given.Path)
}

// r4PatientSnapshot is trimmed from the R4 core Patient snapshot: element
// ids and extension urls are typed with FHIRPath system types.
const r4PatientSnapshot = `{
  "resourceType": "StructureDefinition",
  "url": "http://example.org/StructureDefinition/core-patient",
  "name": "CorePatient",
  "status": "active",
  "fhirVersion": "4.0.1",
  "kind": "resource",
  "abstract": false,
  "type": "Patient",
  "baseDefinition": "http://hl7.org/fhir/StructureDefinition/DomainResource",
  "derivation": "specialization",
  "snapshot": {"element": [
    {"id": "Patient", "path": "Patient", "short": "Information about an individual or animal receiving health care services", "min": 0, "max": "*",
     "constraint": [{"key": "dom-2", "severity": "error", "human": "If the resource is contained in another resource, it SHALL NOT contain nested Resources",
       "expression": "contained.contained.empty()", "xpath": "not(parent::f:contained and f:contained)",
       "source": "http://hl7.org/fhir/StructureDefinition/DomainResource"}]},
    {"id": "Patient.id", "path": "Patient.id", "short": "Logical id of this artifact", "min": 0, "max": "1",
     "type": [{"extension": [{"url": "http://hl7.org/fhir/StructureDefinition/structuredefinition-fhir-type", "valueUrl": "string"}],
       "code": "http://hl7.org/fhirpath/System.String"}], "isModifier": false, "isSummary": true},
    {"id": "Patient.meta", "path": "Patient.meta", "min": 0, "max": "1", "type": [{"code": "Meta"}], "isSummary": true},
    {"id": "Patient.extension", "path": "Patient.extension", "min": 0, "max": "*", "type": [{"code": "Extension"}]},
    {"id": "Patient.extension.url", "path": "Patient.extension.url", "min": 1, "max": "1",
     "type": [{"extension": [{"url": "http://hl7.org/fhir/StructureDefinition/structuredefinition-fhir-type", "valueUrl": "uri"}],
       "code": "http://hl7.org/fhirpath/System.String"}]},
    {"id": "Patient.active", "path": "Patient.active", "min": 0, "max": "1", "type": [{"code": "boolean"}], "isModifier": true, "isSummary": true},
    {"id": "Patient.name", "path": "Patient.name", "min": 0, "max": "*", "type": [{"code": "HumanName"}], "isSummary": true}
  ]}
}`

func TestConvert_DefaultMatrixR4SnapshotToSTU3(t *testing.T) {
	adapters := adapter.DefaultSet()
	r4Adapter, ok := adapters.Get(kindling.R4)
	require.True(t, ok)
	d, err := r4Adapter.Parse([]byte(r4PatientSnapshot))
	require.NoError(t, err)

	res, err := New(rules.Default(), adapters).Convert(d, kindling.STU3)
	require.NoError(t, err)
	assert.Equal(t, []kindling.Generation{kindling.R4, kindling.STU3}, res.Path)

	id, ok := res.Definition.Element("Patient.id")
	require.True(t, ok)
	assert.Equal(t, []string{"string"}, id.TypeCodes())
	url, ok := res.Definition.Element("Patient.extension.url")
	require.True(t, ok)
	assert.Equal(t, []string{"string"}, url.TypeCodes())

	require.Len(t, res.Notes, 2)
	for _, n := range res.Notes {
		assert.Equal(t, "r4-stu3", n.Rule)
		assert.Equal(t, kindling.Lossless, n.Lossiness)
	}
	assert.False(t, res.Lossy)

	stu3Adapter, ok := adapters.Get(kindling.STU3)
	require.True(t, ok)
	out, err := stu3Adapter.Serialize(res.Definition)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "fhirpath/System")
}

var r4Codes = []string{"string", "code", "canonical", "url", "HumanName", "Reference", "CodeableConcept", "MoneyQuantity"}

func genR4Definition(rt *rapid.T) *model.Definition {
	in := model.Intermediate{
		URL:        "http://example.org/sd",
		Type:       "Thing",
		Generation: kindling.R4,
		Elements:   []model.Element{{Path: "Thing", Card: model.Card(0, model.Unbounded)}},
	}
	n := rapid.IntRange(0, 8).Draw(rt, "n")
	for i := 0; i < n; i++ {
		e := model.Element{
			Path:  fmt.Sprintf("Thing.e%d", i),
			Card:  model.Card(rapid.IntRange(0, 1).Draw(rt, "min"), model.Unbounded),
			Types: []model.TypeRef{{Code: rapid.SampledFrom(r4Codes).Draw(rt, "type")}},
		}
		if rapid.Bool().Draw(rt, "xpath") {
			e.Constraints = []model.Constraint{{Key: fmt.Sprintf("c-%d", i), Severity: "error", Expression: "true", XPath: "f:x"}}
		}
		in.Elements = append(in.Elements, e)
	}
	return model.MustNew(in)
}

// Converting along a multi-hop path equals converting hop by hop.
func TestConvert_PathComposition(t *testing.T) {
	engine := defaultEngine()
	rapid.Check(t, func(rt *rapid.T) {
		d := genR4Definition(rt)
		via := rapid.SampledFrom([][3]kindling.Generation{
			{kindling.R4B, kindling.R4, kindling.STU3},
			{kindling.STU3, kindling.R4, kindling.R4B},
			{kindling.R5, kindling.R4, kindling.STU3},
		}).Draw(rt, "via")

		start, err := engine.Convert(d, via[0])
		if err != nil {
			rt.Fatalf("Convert(%s) error = %v", via[0], err)
		}
		direct, errDirect := engine.Convert(start.Definition, via[2])
		first, err := engine.Convert(start.Definition, via[1])
		if err != nil {
			rt.Fatalf("Convert(%s) error = %v", via[1], err)
		}
		second, errSecond := engine.Convert(first.Definition, via[2])

		if (errDirect == nil) != (errSecond == nil) {
			rt.Fatalf("direct error %v, stepwise error %v", errDirect, errSecond)
		}
		if errDirect != nil {
			return
		}
		if len(direct.Path) != 3 {
			return
		}
		if !direct.Definition.Equal(second.Definition) {
			rt.Fatalf("direct and stepwise differ: %v", direct.Definition.Diff(second.Definition))
		}
		if len(direct.Notes) != len(first.Notes)+len(second.Notes) {
			rt.Fatalf("notes: direct %d, stepwise %d+%d", len(direct.Notes), len(first.Notes), len(second.Notes))
		}
	})
}

// Identity conversion never changes anything, whatever the generation.
func TestConvert_IdentityProperty(t *testing.T) {
	engine := defaultEngine()
	rapid.Check(t, func(rt *rapid.T) {
		d := genR4Definition(rt)
		res, err := engine.Convert(d, kindling.R4)
		if err != nil {
			rt.Fatalf("Convert() error = %v", err)
		}
		if len(res.Notes) != 0 || !res.Definition.Equal(d) {
			rt.Fatalf("identity conversion changed the definition")
		}
	})
}

func TestConvert_Deterministic(t *testing.T) {
	engine := defaultEngine()
	a, _ := adapter.DefaultSet().Get(kindling.STU3)
	rapid.Check(t, func(rt *rapid.T) {
		d := genR4Definition(rt)
		r1, err1 := engine.Convert(d, kindling.STU3)
		r2, err2 := engine.Convert(d, kindling.STU3)
		if (err1 == nil) != (err2 == nil) {
			rt.Fatalf("errors differ: %v / %v", err1, err2)
		}
		if err1 != nil {
			return
		}
		b1, err := a.Serialize(r1.Definition)
		if err != nil {
			rt.Fatalf("Serialize() error = %v", err)
		}
		b2, _ := a.Serialize(r2.Definition)
		if string(b1) != string(b2) {
			rt.Fatalf("output differs between runs")
		}
	})
}
