package model

import (
	"encoding/json"
)

// MarshalJSON renders the definition as a StructureDefinition-shaped JSON
// object with R4 field names. It is the document profile constraints are
// evaluated against; it is not the wire format of any generation.
func (d *Definition) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Projection())
}

// Projection returns the JSON tree rendered by MarshalJSON.
func (d *Definition) Projection() map[string]any {
	doc := map[string]any{
		"resourceType": "StructureDefinition",
		"url":          d.in.URL,
		"abstract":     d.in.Abstract,
	}
	setString(doc, "name", d.in.Name)
	setString(doc, "title", d.in.Title)
	setString(doc, "version", d.in.Version)
	setString(doc, "status", d.in.Status)
	setString(doc, "type", d.in.Type)
	setString(doc, "kind", string(d.in.Kind))
	setString(doc, "baseDefinition", d.in.BaseDefinition)
	setString(doc, "derivation", d.in.Derivation)

	elements := make([]any, len(d.in.Elements))
	for i, e := range d.in.Elements {
		elements[i] = elementProjection(e)
	}
	container := "snapshot"
	if d.in.Differential {
		container = "differential"
	}
	doc[container] = map[string]any{"element": elements}
	return doc
}

func elementProjection(e Element) map[string]any {
	m := map[string]any{
		"id":   e.ID(),
		"path": e.Path,
	}
	setString(m, "sliceName", e.SliceName)
	setString(m, "short", e.Short)
	if e.Card.Min != Unset {
		m["min"] = e.Card.Min
	}
	if e.Card.Max != Unset {
		m["max"] = FormatMax(e.Card.Max)
	}
	if len(e.Types) > 0 {
		types := make([]any, len(e.Types))
		for i, t := range e.Types {
			tm := map[string]any{"code": t.Code}
			if len(t.Profiles) > 0 {
				tm["profile"] = stringsToAny(t.Profiles)
			}
			if len(t.TargetProfiles) > 0 {
				tm["targetProfile"] = stringsToAny(t.TargetProfiles)
			}
			types[i] = tm
		}
		m["type"] = types
	}
	if e.Binding != nil {
		b := map[string]any{}
		setString(b, "strength", string(e.Binding.Strength))
		setString(b, "valueSet", e.Binding.ValueSet)
		setString(b, "description", e.Binding.Description)
		m["binding"] = b
	}
	if e.Fixed != nil {
		m[ValueKey("fixed", e.Fixed.Type)] = e.Fixed.Data
	}
	if e.Pattern != nil {
		m[ValueKey("pattern", e.Pattern.Type)] = e.Pattern.Data
	}
	if len(e.Constraints) > 0 {
		cs := make([]any, len(e.Constraints))
		for i, c := range e.Constraints {
			cm := map[string]any{"key": c.Key}
			setString(cm, "severity", c.Severity)
			setString(cm, "human", c.Human)
			setString(cm, "expression", c.Expression)
			cs[i] = cm
		}
		m["constraint"] = cs
	}
	if e.MustSupport {
		m["mustSupport"] = true
	}
	if e.IsModifier {
		m["isModifier"] = true
	}
	if e.IsSummary {
		m["isSummary"] = true
	}
	return m
}

func setString(m map[string]any, key, v string) {
	if v != "" {
		m[key] = v
	}
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
