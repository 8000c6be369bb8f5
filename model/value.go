package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode"
)

// Value is a fixed or pattern value: a type code and its JSON-shaped data.
//
// Data holds a string, bool, int64 (integer types), float64 (decimal), or
// for complex types a map[string]any / []any tree whose numbers are float64.
type Value struct {
	Type string
	Data any
}

var integerTypes = map[string]bool{
	"integer":     true,
	"positiveInt": true,
	"unsignedInt": true,
	"integer64":   true,
}

// IsPrimitiveType reports whether code names a primitive type (lower-case
// first letter, the FHIR naming convention).
func IsPrimitiveType(code string) bool {
	if code == "" {
		return false
	}
	return unicode.IsLower(rune(code[0]))
}

// NewValue builds a normalised Value. Integer types accept any Go integer
// or an integral float64.
func NewValue(typ string, data any) (*Value, error) {
	if typ == "" {
		return nil, fmt.Errorf("value without type")
	}
	d, err := normalizeData(typ, data)
	if err != nil {
		return nil, fmt.Errorf("value[%s]: %w", typ, err)
	}
	return &Value{Type: typ, Data: d}, nil
}

func normalizeData(typ string, data any) (any, error) {
	if integerTypes[typ] {
		switch v := data.(type) {
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int64:
			return v, nil
		case uint32:
			return int64(v), nil
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("non-integral number %v", v)
			}
			return int64(v), nil
		case json.Number:
			return v.Int64()
		default:
			return nil, fmt.Errorf("unexpected %T", data)
		}
	}
	if typ == "decimal" {
		switch v := data.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case json.Number:
			return v.Float64()
		default:
			return nil, fmt.Errorf("unexpected %T", data)
		}
	}
	if typ == "boolean" {
		b, ok := data.(bool)
		if !ok {
			return nil, fmt.Errorf("unexpected %T", data)
		}
		return b, nil
	}
	if IsPrimitiveType(typ) {
		s, ok := data.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected %T", data)
		}
		return s, nil
	}
	return normalizeTree(data)
}

// normalizeTree converts a complex value to map[string]any / []any with
// float64 numbers.
func normalizeTree(data any) (any, error) {
	switch v := data.(type) {
	case nil, string, bool, float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			n, err := normalizeTree(e)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			n, err := normalizeTree(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	default:
		// structs from typed models: round-trip through JSON
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		var tree any
		if err := json.Unmarshal(raw, &tree); err != nil {
			return nil, err
		}
		return tree, nil
	}
}

// Clone returns a deep copy of v. Clone of nil is nil.
func (v *Value) Clone() *Value {
	if v == nil {
		return nil
	}
	return &Value{Type: v.Type, Data: deepCopy(v.Data)}
}

func deepCopy(data any) any {
	switch v := data.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}

// String returns a compact textual form of the value.
func (v *Value) String() string {
	if v == nil {
		return ""
	}
	raw, err := json.Marshal(v.Data)
	if err != nil {
		return fmt.Sprintf("%s(%v)", v.Type, v.Data)
	}
	return v.Type + "(" + string(raw) + ")"
}

// Codes returns the (system, code) pairs carried by a code, Coding or
// CodeableConcept value. A plain code has an empty system.
func (v *Value) Codes() [][2]string {
	if v == nil {
		return nil
	}
	switch v.Type {
	case "code":
		if s, ok := v.Data.(string); ok {
			return [][2]string{{"", s}}
		}
	case "Coding":
		if c, ok := v.Data.(map[string]any); ok {
			return codingPair(c)
		}
	case "CodeableConcept":
		cc, ok := v.Data.(map[string]any)
		if !ok {
			return nil
		}
		codings, _ := cc["coding"].([]any)
		var out [][2]string
		for _, c := range codings {
			if m, ok := c.(map[string]any); ok {
				out = append(out, codingPair(m)...)
			}
		}
		return out
	}
	return nil
}

func codingPair(c map[string]any) [][2]string {
	code, _ := c["code"].(string)
	if code == "" {
		return nil
	}
	system, _ := c["system"].(string)
	return [][2]string{{system, code}}
}

// ValueKey returns the JSON property carrying a typed value, e.g.
// ValueKey("fixed", "CodeableConcept") = "fixedCodeableConcept".
func ValueKey(prefix, typ string) string {
	if typ == "" {
		return prefix
	}
	return prefix + strings.ToUpper(typ[:1]) + typ[1:]
}

// ValueType extracts the type code from a typed JSON property name.
// ValueType("fixed", "fixedUri") = "uri". The second result is false
// when key does not start with prefix.
func ValueType(prefix, key string) (string, bool) {
	if !strings.HasPrefix(key, prefix) || len(key) == len(prefix) {
		return "", false
	}
	rest := key[len(prefix):]
	if !unicode.IsUpper(rune(rest[0])) {
		return "", false
	}
	// primitive types are lower-camel, complex types keep their case
	if isPrimitiveSuffix(rest) {
		return strings.ToLower(rest[:1]) + rest[1:], true
	}
	return rest, true
}

var primitiveSuffixes = map[string]bool{
	"Base64Binary": true, "Boolean": true, "Canonical": true, "Code": true,
	"Date": true, "DateTime": true, "Decimal": true, "Id": true, "Instant": true,
	"Integer": true, "Integer64": true, "Markdown": true, "Oid": true,
	"PositiveInt": true, "String": true, "Time": true, "UnsignedInt": true,
	"Uri": true, "Url": true, "Uuid": true,
}

func isPrimitiveSuffix(s string) bool {
	return primitiveSuffixes[s]
}
