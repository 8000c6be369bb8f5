package adapter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gofhir/kindling"
	"github.com/gofhir/kindling/model"
)

// wireHeader is the generation-independent part of a StructureDefinition.
type wireHeader struct {
	ResourceType   string          `json:"resourceType"`
	URL            string          `json:"url"`
	Name           string          `json:"name"`
	Title          string          `json:"title"`
	Version        string          `json:"version"`
	Status         string          `json:"status"`
	Type           string          `json:"type"`
	Kind           string          `json:"kind"`
	Abstract       bool            `json:"abstract"`
	BaseDefinition string          `json:"baseDefinition"`
	Derivation     string          `json:"derivation"`
	FhirVersion    string          `json:"fhirVersion"`
	Extension      []wireExtension `json:"extension"`
	Snapshot       *wireElements   `json:"snapshot"`
	Differential   *wireElements   `json:"differential"`
}

type wireElements struct {
	Element []json.RawMessage `json:"element"`
}

// elements returns the raw elements, the JSON pointer of the container and
// whether they come from the differential. The snapshot wins when both are
// present.
func (h *wireHeader) elements() ([]json.RawMessage, string, bool) {
	if h.Snapshot != nil {
		return h.Snapshot.Element, "/snapshot/element", false
	}
	if h.Differential != nil {
		return h.Differential.Element, "/differential/element", true
	}
	return nil, "", false
}

func decodeHeader(gen kindling.Generation, release string, raw []byte) (*wireHeader, error) {
	var h wireHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, parseErr(gen, "", "invalid StructureDefinition", err)
	}
	if release != "" && h.FhirVersion != "" && !sameRelease(release, h.FhirVersion) {
		return nil, parseErr(gen, "/fhirVersion",
			fmt.Sprintf("fhirVersion %s does not belong to %s (%s)", h.FhirVersion, gen, release), nil)
	}
	return &h, nil
}

// sameRelease compares major.minor of two release strings.
func sameRelease(a, b string) bool {
	return majorMinor(a) == majorMinor(b)
}

func majorMinor(v string) string {
	parts := strings.SplitN(v, ".", 3)
	if len(parts) < 2 {
		return v
	}
	return parts[0] + "." + parts[1]
}

func (h *wireHeader) intermediate(gen kindling.Generation) model.Intermediate {
	return model.Intermediate{
		URL:            h.URL,
		Name:           h.Name,
		Title:          h.Title,
		Version:        h.Version,
		Status:         h.Status,
		Type:           h.Type,
		Kind:           model.Kind(h.Kind),
		Abstract:       h.Abstract,
		BaseDefinition: h.BaseDefinition,
		Derivation:     h.Derivation,
		Generation:     gen,
		Constraints:    decodeShapeConstraints(h.Extension),
	}
}

// wireElement is an ElementDefinition in any generation. Fields whose
// shape depends on the dialect are kept raw.
type wireElement struct {
	ID          string           `json:"id"`
	Path        string           `json:"path"`
	SliceName   string           `json:"sliceName"`
	Short       string           `json:"short"`
	Min         *int             `json:"min"`
	Max         *string          `json:"max"`
	Type        []wireType       `json:"type"`
	Binding     *wireBinding     `json:"binding"`
	Constraint  []wireConstraint `json:"constraint"`
	MustSupport bool             `json:"mustSupport"`
	IsModifier  bool             `json:"isModifier"`
	IsSummary   bool             `json:"isSummary"`
}

type wireType struct {
	Code          string          `json:"code"`
	Profile       json.RawMessage `json:"profile"`
	TargetProfile json.RawMessage `json:"targetProfile"`
}

type wireBinding struct {
	Strength          string `json:"strength"`
	Description       string `json:"description"`
	ValueSet          string `json:"valueSet"`
	ValueSetURI       string `json:"valueSetUri"`
	ValueSetReference *struct {
		Reference string `json:"reference"`
	} `json:"valueSetReference"`
	Additional []struct {
		Purpose  string `json:"purpose"`
		ValueSet string `json:"valueSet"`
	} `json:"additional"`
}

type wireConstraint struct {
	Key        string `json:"key"`
	Severity   string `json:"severity"`
	Human      string `json:"human"`
	Expression string `json:"expression"`
	XPath      string `json:"xpath"`
	Source     string `json:"source"`
	Suppress   bool   `json:"suppress"`
}

// elementDecoder turns raw ElementDefinitions into model elements under one
// dialect.
type elementDecoder struct {
	gen     kindling.Generation
	dialect Dialect
}

func (d elementDecoder) decode(raw json.RawMessage, at string) (model.Element, error) {
	var we wireElement
	if err := json.Unmarshal(raw, &we); err != nil {
		return model.Element{}, parseErr(d.gen, at, "invalid element", err)
	}
	props, err := rawProps(raw)
	if err != nil {
		return model.Element{}, parseErr(d.gen, at, "invalid element", err)
	}
	if err := d.checkDialect(props, &we, at); err != nil {
		return model.Element{}, err
	}

	e := model.Element{
		ElementID:   we.ID,
		Path:        we.Path,
		SliceName:   we.SliceName,
		Short:       we.Short,
		MustSupport: we.MustSupport,
		IsModifier:  we.IsModifier,
		IsSummary:   we.IsSummary,
	}
	e.Card, err = decodeCard(we.Min, we.Max)
	if err != nil {
		return model.Element{}, parseErr(d.gen, at+"/max", "invalid cardinality", err)
	}

	for i, wt := range we.Type {
		tat := fmt.Sprintf("%s/type/%d", at, i)
		profiles, err := d.canonicals(wt.Profile, tat+"/profile")
		if err != nil {
			return model.Element{}, err
		}
		targets, err := d.canonicals(wt.TargetProfile, tat+"/targetProfile")
		if err != nil {
			return model.Element{}, err
		}
		e.Types = append(e.Types, model.TypeRef{Code: wt.Code, Profiles: profiles, TargetProfiles: targets})
	}
	if d.dialect.SingleProfile {
		e.Types = mergeProfiles(e.Types)
	}

	if wb := we.Binding; wb != nil {
		b := &model.Binding{
			Strength:    model.BindingStrength(wb.Strength),
			Description: wb.Description,
			ValueSet:    wb.ValueSet,
		}
		if d.dialect.ValueSetReference {
			b.ValueSet = wb.ValueSetURI
			if wb.ValueSetReference != nil {
				b.ValueSet = wb.ValueSetReference.Reference
			}
		}
		for _, ab := range wb.Additional {
			b.Additional = append(b.Additional, model.AdditionalBinding{Purpose: ab.Purpose, ValueSet: ab.ValueSet})
		}
		e.Binding = b
	}

	for _, wc := range we.Constraint {
		e.Constraints = append(e.Constraints, model.Constraint{
			Key:        wc.Key,
			Severity:   wc.Severity,
			Human:      wc.Human,
			Expression: wc.Expression,
			XPath:      wc.XPath,
			Source:     wc.Source,
			Suppress:   wc.Suppress,
		})
	}

	e.Fixed, e.Pattern, err = decodeValues(d.gen, props, at)
	if err != nil {
		return model.Element{}, err
	}
	return e, nil
}

// checkDialect rejects wire constructs the generation does not define.
func (d elementDecoder) checkDialect(props map[string]json.RawMessage, we *wireElement, at string) error {
	if b, ok := props["binding"]; ok {
		bp, err := rawProps(b)
		if err != nil {
			return parseErr(d.gen, at+"/binding", "invalid binding", err)
		}
		for _, key := range []string{"valueSetUri", "valueSetReference"} {
			if _, has := bp[key]; has && !d.dialect.ValueSetReference {
				return parseErr(d.gen, at+"/binding/"+key, "not defined in "+string(d.gen), nil)
			}
		}
		if _, has := bp["valueSet"]; has && d.dialect.ValueSetReference {
			return parseErr(d.gen, at+"/binding/valueSet", "not defined in "+string(d.gen), nil)
		}
		if _, has := bp["additional"]; has && !d.dialect.AdditionalBindings {
			return parseErr(d.gen, at+"/binding/additional", "not defined in "+string(d.gen), nil)
		}
	}
	for i, c := range we.Constraint {
		if c.XPath != "" && !d.dialect.XPath {
			return parseErr(d.gen, fmt.Sprintf("%s/constraint/%d/xpath", at, i), "not defined in "+string(d.gen), nil)
		}
		if c.Suppress && !d.dialect.Suppress {
			return parseErr(d.gen, fmt.Sprintf("%s/constraint/%d/suppress", at, i), "not defined in "+string(d.gen), nil)
		}
	}
	return nil
}

// canonicals decodes a profile list: a single string in single-profile
// dialects, an array otherwise.
func (d elementDecoder) canonicals(raw json.RawMessage, at string) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if d.dialect.SingleProfile {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, parseErr(d.gen, at, "expected a single canonical", err)
		}
		return []string{s}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, parseErr(d.gen, at, "expected an array of canonicals", err)
	}
	return list, nil
}

// mergeProfiles folds repeated type codes into one TypeRef, keeping the
// order of first appearance and dropping duplicate canonicals.
func mergeProfiles(types []model.TypeRef) []model.TypeRef {
	if len(types) < 2 {
		return types
	}
	var out []model.TypeRef
	index := make(map[string]int)
	for _, t := range types {
		i, ok := index[t.Code]
		if !ok {
			index[t.Code] = len(out)
			out = append(out, model.TypeRef{Code: t.Code})
			i = len(out) - 1
		}
		out[i].Profiles = appendUnique(out[i].Profiles, t.Profiles...)
		out[i].TargetProfiles = appendUnique(out[i].TargetProfiles, t.TargetProfiles...)
	}
	return out
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		dup := false
		for _, have := range dst {
			if have == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}

// splitProfiles is the inverse of mergeProfiles: one wire entry per
// profile / targetProfile combination.
func splitProfiles(t model.TypeRef) []map[string]any {
	profiles := t.Profiles
	if len(profiles) == 0 {
		profiles = []string{""}
	}
	targets := t.TargetProfiles
	if len(targets) == 0 {
		targets = []string{""}
	}
	out := make([]map[string]any, 0, len(profiles)*len(targets))
	for _, p := range profiles {
		for _, tp := range targets {
			m := map[string]any{"code": t.Code}
			if p != "" {
				m["profile"] = p
			}
			if tp != "" {
				m["targetProfile"] = tp
			}
			out = append(out, m)
		}
	}
	return out
}

func decodeCard(min *int, max *string) (model.Cardinality, error) {
	c := model.Card(model.Unset, model.Unset)
	if min != nil {
		c.Min = *min
	}
	if max != nil {
		m, err := model.ParseMax(*max)
		if err != nil {
			return c, err
		}
		c.Max = m
	}
	return c, nil
}

func rawProps(raw json.RawMessage) (map[string]json.RawMessage, error) {
	var props map[string]json.RawMessage
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil, err
	}
	return props, nil
}

// decodeValues finds the fixed[x] and pattern[x] properties of an element.
func decodeValues(gen kindling.Generation, props map[string]json.RawMessage, at string) (fixed, pattern *model.Value, err error) {
	for key, raw := range props {
		for _, prefix := range []string{"fixed", "pattern"} {
			typ, ok := model.ValueType(prefix, key)
			if !ok {
				continue
			}
			var data any
			if err := json.Unmarshal(raw, &data); err != nil {
				return nil, nil, parseErr(gen, at+"/"+key, "invalid value", err)
			}
			v, err := model.NewValue(typ, data)
			if err != nil {
				return nil, nil, parseErr(gen, at+"/"+key, "invalid value", err)
			}
			slot := &fixed
			if prefix == "pattern" {
				slot = &pattern
			}
			if *slot != nil {
				return nil, nil, parseErr(gen, at+"/"+key, "more than one "+prefix+"[x] value", nil)
			}
			*slot = v
		}
	}
	return fixed, pattern, nil
}

// elementEncoder renders model elements under one dialect.
type elementEncoder struct {
	dialect Dialect
}

func (enc elementEncoder) encode(e model.Element) map[string]any {
	m := map[string]any{
		"id":   e.ID(),
		"path": e.Path,
	}
	putString(m, "sliceName", e.SliceName)
	putString(m, "short", e.Short)
	if e.Card.Min != model.Unset {
		m["min"] = e.Card.Min
	}
	if e.Card.Max != model.Unset {
		m["max"] = model.FormatMax(e.Card.Max)
	}
	if len(e.Types) > 0 {
		var types []any
		for _, t := range e.Types {
			if enc.dialect.SingleProfile {
				for _, entry := range splitProfiles(t) {
					types = append(types, entry)
				}
				continue
			}
			tm := map[string]any{"code": t.Code}
			if len(t.Profiles) > 0 {
				tm["profile"] = t.Profiles
			}
			if len(t.TargetProfiles) > 0 {
				tm["targetProfile"] = t.TargetProfiles
			}
			types = append(types, tm)
		}
		m["type"] = types
	}
	if e.Binding != nil {
		m["binding"] = enc.binding(e.Binding)
	}
	if e.Fixed != nil {
		m[model.ValueKey("fixed", e.Fixed.Type)] = e.Fixed.Data
	}
	if e.Pattern != nil {
		m[model.ValueKey("pattern", e.Pattern.Type)] = e.Pattern.Data
	}
	if len(e.Constraints) > 0 {
		cs := make([]any, len(e.Constraints))
		for i, c := range e.Constraints {
			cm := map[string]any{"key": c.Key}
			putString(cm, "severity", c.Severity)
			putString(cm, "human", c.Human)
			putString(cm, "expression", c.Expression)
			putString(cm, "xpath", c.XPath)
			putString(cm, "source", c.Source)
			if c.Suppress {
				cm["suppress"] = true
			}
			cs[i] = cm
		}
		m["constraint"] = cs
	}
	putBool(m, "mustSupport", e.MustSupport)
	putBool(m, "isModifier", e.IsModifier)
	putBool(m, "isSummary", e.IsSummary)
	return m
}

func (enc elementEncoder) binding(b *model.Binding) map[string]any {
	bm := map[string]any{}
	putString(bm, "strength", string(b.Strength))
	putString(bm, "description", b.Description)
	if b.ValueSet != "" {
		if enc.dialect.ValueSetReference {
			bm["valueSetReference"] = map[string]any{"reference": b.ValueSet}
		} else {
			bm["valueSet"] = b.ValueSet
		}
	}
	if len(b.Additional) > 0 {
		add := make([]any, len(b.Additional))
		for i, ab := range b.Additional {
			am := map[string]any{"valueSet": ab.ValueSet}
			putString(am, "purpose", ab.Purpose)
			add[i] = am
		}
		bm["additional"] = add
	}
	return bm
}

// encodeHeader renders the definition-level properties.
func encodeHeader(d *model.Definition, release string) map[string]any {
	doc := map[string]any{
		"resourceType": "StructureDefinition",
		"url":          d.URL(),
		"abstract":     d.Abstract(),
	}
	putString(doc, "name", d.Name())
	putString(doc, "title", d.Title())
	putString(doc, "version", d.Version())
	putString(doc, "status", d.Status())
	putString(doc, "type", d.Type())
	putString(doc, "kind", string(d.Kind()))
	putString(doc, "baseDefinition", d.BaseDefinition())
	putString(doc, "derivation", d.Derivation())
	putString(doc, "fhirVersion", release)
	if exts := encodeShapeConstraints(d.Constraints()); exts != nil {
		doc["extension"] = exts
	}
	return doc
}

func putString(m map[string]any, key, v string) {
	if v != "" {
		m[key] = v
	}
}

func putBool(m map[string]any, key string, v bool) {
	if v {
		m[key] = true
	}
}
