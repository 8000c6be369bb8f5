package adapter

import (
	"github.com/gofhir/kindling/model"
)

// ShapeConstraintExtension carries a definition-level shape constraint on
// the StructureDefinition itself. Sub-extensions: key, severity, human,
// expression.
const ShapeConstraintExtension = "http://hl7.org/fhir/tools/StructureDefinition/shape-constraint"

type wireExtension struct {
	URL         string          `json:"url"`
	ValueID     string          `json:"valueId,omitempty"`
	ValueCode   string          `json:"valueCode,omitempty"`
	ValueString string          `json:"valueString,omitempty"`
	Extension   []wireExtension `json:"extension,omitempty"`
}

func decodeShapeConstraints(exts []wireExtension) []model.ProfileConstraint {
	var out []model.ProfileConstraint
	for _, ext := range exts {
		if ext.URL != ShapeConstraintExtension {
			continue
		}
		var pc model.ProfileConstraint
		for _, sub := range ext.Extension {
			switch sub.URL {
			case "key":
				pc.Key = sub.ValueID
			case "severity":
				pc.Severity = sub.ValueCode
			case "human":
				pc.Human = sub.ValueString
			case "expression":
				pc.Expression = sub.ValueString
			}
		}
		out = append(out, pc)
	}
	return out
}

func encodeShapeConstraints(pcs []model.ProfileConstraint) []any {
	if len(pcs) == 0 {
		return nil
	}
	out := make([]any, 0, len(pcs))
	for _, pc := range pcs {
		var subs []any
		if pc.Key != "" {
			subs = append(subs, map[string]any{"url": "key", "valueId": pc.Key})
		}
		if pc.Severity != "" {
			subs = append(subs, map[string]any{"url": "severity", "valueCode": pc.Severity})
		}
		if pc.Human != "" {
			subs = append(subs, map[string]any{"url": "human", "valueString": pc.Human})
		}
		if pc.Expression != "" {
			subs = append(subs, map[string]any{"url": "expression", "valueString": pc.Expression})
		}
		ext := map[string]any{"url": ShapeConstraintExtension}
		if len(subs) > 0 {
			ext["extension"] = subs
		}
		out = append(out, ext)
	}
	return out
}
