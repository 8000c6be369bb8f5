package adapter

import (
	"encoding/json"
	"fmt"

	"github.com/gofhir/fhir/r4"

	"github.com/gofhir/kindling"
	"github.com/gofhir/kindling/model"
)

// R4Adapter reads and writes R4-shaped StructureDefinitions through the
// gofhir R4 model. It also serves R4B, whose StructureDefinition wire
// format is unchanged.
type R4Adapter struct {
	representer
}

// NewR4 creates the adapter for gen (R4 or R4B).
func NewR4(gens *kindling.GenerationSet, gen kindling.Generation) *R4Adapter {
	return &R4Adapter{representer{gen: gen, gens: gens, dialect: R4Dialect}}
}

// Parse implements Adapter.
func (a *R4Adapter) Parse(raw []byte) (*model.Definition, error) {
	if err := checkEnvelope(a.gen, raw); err != nil {
		return nil, err
	}
	h, err := decodeHeader(a.gen, a.release(), raw)
	if err != nil {
		return nil, err
	}

	var sd r4.StructureDefinition
	if err := json.Unmarshal(raw, &sd); err != nil {
		return nil, parseErr(a.gen, "", "invalid R4 StructureDefinition", err)
	}

	in := h.intermediate(a.gen)
	in.URL = derefString(sd.Url)
	in.Name = derefString(sd.Name)
	in.Type = derefString(sd.Type)
	in.Abstract = derefBool(sd.Abstract)
	in.BaseDefinition = derefString(sd.BaseDefinition)
	if sd.Kind != nil {
		in.Kind = model.Kind(*sd.Kind)
	}

	rawElements, at, differential := h.elements()
	in.Differential = differential
	var elements []r4.ElementDefinition
	switch {
	case sd.Snapshot != nil:
		elements = sd.Snapshot.Element
	case sd.Differential != nil:
		elements = sd.Differential.Element
	}
	if len(elements) != len(rawElements) {
		return nil, parseErr(a.gen, at, "element list could not be decoded", nil)
	}

	dec := elementDecoder{gen: a.gen, dialect: a.dialect}
	for i := range elements {
		eat := fmt.Sprintf("%s/%d", at, i)
		e, err := a.convertElement(&elements[i], rawElements[i], dec, eat)
		if err != nil {
			return nil, err
		}
		in.Elements = append(in.Elements, e)
	}
	return model.New(in)
}

// convertElement reads the typed fields from the gofhir model and the
// fields it does not carry (short, every fixed[x] / pattern[x]) from the
// raw JSON.
func (a *R4Adapter) convertElement(ed *r4.ElementDefinition, raw json.RawMessage, dec elementDecoder, at string) (model.Element, error) {
	props, err := rawProps(raw)
	if err != nil {
		return model.Element{}, parseErr(a.gen, at, "invalid element", err)
	}
	var wire struct {
		Short      string           `json:"short"`
		Constraint []wireConstraint `json:"constraint"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return model.Element{}, parseErr(a.gen, at, "invalid element", err)
	}
	if err := dec.checkDialect(props, &wireElement{Constraint: wire.Constraint}, at); err != nil {
		return model.Element{}, err
	}

	e := model.Element{
		ElementID:   derefString(ed.Id),
		Path:        derefString(ed.Path),
		SliceName:   derefString(ed.SliceName),
		Short:       wire.Short,
		Card:        a.convertCard(ed.Min, ed.Max),
		Types:       a.convertTypes(ed.Type),
		Binding:     a.convertBinding(ed.Binding),
		Constraints: a.convertConstraints(ed.Constraint),
		MustSupport: derefBool(ed.MustSupport),
		IsModifier:  derefBool(ed.IsModifier),
		IsSummary:   derefBool(ed.IsSummary),
	}
	if e.Card.Max == model.Unset && ed.Max != nil {
		return model.Element{}, parseErr(a.gen, at+"/max", fmt.Sprintf("invalid max %q", *ed.Max), nil)
	}
	e.Fixed, e.Pattern, err = decodeValues(a.gen, props, at)
	if err != nil {
		return model.Element{}, err
	}
	return e, nil
}

func (a *R4Adapter) convertCard(minVal *uint32, maxVal *string) model.Cardinality {
	c := model.Card(model.Unset, model.Unset)
	if minVal != nil {
		c.Min = int(*minVal)
	}
	if maxVal != nil {
		if m, err := model.ParseMax(*maxVal); err == nil {
			c.Max = m
		}
	}
	return c
}

func (a *R4Adapter) convertTypes(types []r4.ElementDefinitionType) []model.TypeRef {
	if len(types) == 0 {
		return nil
	}
	result := make([]model.TypeRef, 0, len(types))
	for i := range types {
		t := &types[i]
		result = append(result, model.TypeRef{
			Code:           derefString(t.Code),
			Profiles:       t.Profile,
			TargetProfiles: t.TargetProfile,
		})
	}
	return result
}

func (a *R4Adapter) convertBinding(binding *r4.ElementDefinitionBinding) *model.Binding {
	if binding == nil {
		return nil
	}
	b := &model.Binding{
		ValueSet:    derefString(binding.ValueSet),
		Description: derefString(binding.Description),
	}
	if binding.Strength != nil {
		b.Strength = model.BindingStrength(*binding.Strength)
	}
	return b
}

func (a *R4Adapter) convertConstraints(constraints []r4.ElementDefinitionConstraint) []model.Constraint {
	if len(constraints) == 0 {
		return nil
	}
	result := make([]model.Constraint, 0, len(constraints))
	for i := range constraints {
		con := &constraints[i]
		c := model.Constraint{
			Key:        derefString(con.Key),
			Human:      derefString(con.Human),
			Expression: derefString(con.Expression),
			XPath:      derefString(con.Xpath),
			Source:     derefString(con.Source),
		}
		if con.Severity != nil {
			c.Severity = string(*con.Severity)
		}
		result = append(result, c)
	}
	return result
}

// Serialize implements Adapter.
func (a *R4Adapter) Serialize(d *model.Definition) ([]byte, error) {
	if err := a.representAll(d); err != nil {
		return nil, err
	}

	els := d.Elements()
	sd := r4.StructureDefinition{
		Url:            optString(d.URL()),
		Name:           optString(d.Name()),
		Type:           optString(d.Type()),
		Abstract:       ptr(d.Abstract()),
		BaseDefinition: optString(d.BaseDefinition()),
	}
	if d.Kind() != "" {
		sd.Kind = ptr(r4.StructureDefinitionKind(d.Kind()))
	}
	if release := a.release(); release != "" {
		sd.FhirVersion = ptr(r4.FHIRVersion(release))
	}
	elements := make([]r4.ElementDefinition, len(els))
	for i, e := range els {
		elements[i] = a.elementDefinition(e)
	}
	if d.Differential() {
		sd.Differential = &r4.StructureDefinitionDifferential{Element: elements}
	} else {
		sd.Snapshot = &r4.StructureDefinitionSnapshot{Element: elements}
	}

	typed, err := json.Marshal(&sd)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", d.URL(), err)
	}
	var doc map[string]any
	if err := json.Unmarshal(typed, &doc); err != nil {
		return nil, fmt.Errorf("marshal %s: %w", d.URL(), err)
	}

	// properties the gofhir model does not carry for us
	for k, v := range encodeHeader(d, a.release()) {
		switch k {
		case "resourceType", "title", "version", "status", "derivation", "extension":
			doc[k] = v
		}
	}
	container := "snapshot"
	if d.Differential() {
		container = "differential"
	}
	wrapper, _ := doc[container].(map[string]any)
	list, _ := wrapper["element"].([]any)
	if len(list) != len(els) {
		return nil, fmt.Errorf("marshal %s: element list lost in encoding", d.URL())
	}
	for i, e := range els {
		m, ok := list[i].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("marshal %s: element %d has unexpected shape", d.URL(), i)
		}
		putString(m, "short", e.Short)
		if e.Fixed != nil {
			m[model.ValueKey("fixed", e.Fixed.Type)] = e.Fixed.Data
		}
		if e.Pattern != nil {
			m[model.ValueKey("pattern", e.Pattern.Type)] = e.Pattern.Data
		}
	}
	return json.MarshalIndent(doc, "", "  ")
}

func (a *R4Adapter) elementDefinition(e model.Element) r4.ElementDefinition {
	ed := r4.ElementDefinition{
		Id:        optString(e.ID()),
		Path:      optString(e.Path),
		SliceName: optString(e.SliceName),
	}
	if e.Card.Min != model.Unset {
		ed.Min = ptr(uint32(e.Card.Min)) //nolint:gosec // min is non-negative by construction
	}
	if e.Card.Max != model.Unset {
		ed.Max = ptr(model.FormatMax(e.Card.Max))
	}
	for _, t := range e.Types {
		ed.Type = append(ed.Type, r4.ElementDefinitionType{
			Code:          optString(t.Code),
			Profile:       t.Profiles,
			TargetProfile: t.TargetProfiles,
		})
	}
	if b := e.Binding; b != nil {
		ed.Binding = &r4.ElementDefinitionBinding{
			ValueSet:    optString(b.ValueSet),
			Description: optString(b.Description),
		}
		if b.Strength != "" {
			ed.Binding.Strength = ptr(r4.BindingStrength(b.Strength))
		}
	}
	for _, c := range e.Constraints {
		con := r4.ElementDefinitionConstraint{
			Key:        optString(c.Key),
			Human:      optString(c.Human),
			Expression: optString(c.Expression),
			Xpath:      optString(c.XPath),
			Source:     optString(c.Source),
		}
		if c.Severity != "" {
			con.Severity = ptr(r4.ConstraintSeverity(c.Severity))
		}
		ed.Constraint = append(ed.Constraint, con)
	}
	if e.MustSupport {
		ed.MustSupport = ptr(true)
	}
	if e.IsModifier {
		ed.IsModifier = ptr(true)
	}
	if e.IsSummary {
		ed.IsSummary = ptr(true)
	}
	return ed
}

// Generic helpers

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefBool(b *bool) bool {
	if b == nil {
		return false
	}
	return *b
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func ptr[T any](v T) *T {
	return &v
}
