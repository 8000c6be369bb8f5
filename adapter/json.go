package adapter

import (
	"encoding/json"
	"fmt"

	"github.com/gofhir/kindling"
	"github.com/gofhir/kindling/model"
)

// JSONAdapter reads and writes StructureDefinition JSON directly, with the
// wire differences of its generation described by a Dialect.
type JSONAdapter struct {
	representer
}

// NewJSON creates a dialect-driven adapter for gen.
func NewJSON(gens *kindling.GenerationSet, gen kindling.Generation, dialect Dialect) *JSONAdapter {
	return &JSONAdapter{representer{gen: gen, gens: gens, dialect: dialect}}
}

// Parse implements Adapter.
func (a *JSONAdapter) Parse(raw []byte) (*model.Definition, error) {
	if err := checkEnvelope(a.gen, raw); err != nil {
		return nil, err
	}
	h, err := decodeHeader(a.gen, a.release(), raw)
	if err != nil {
		return nil, err
	}
	in := h.intermediate(a.gen)
	elements, at, differential := h.elements()
	in.Differential = differential

	dec := elementDecoder{gen: a.gen, dialect: a.dialect}
	for i, re := range elements {
		e, err := dec.decode(re, fmt.Sprintf("%s/%d", at, i))
		if err != nil {
			return nil, err
		}
		in.Elements = append(in.Elements, e)
	}
	return model.New(in)
}

// Serialize implements Adapter.
func (a *JSONAdapter) Serialize(d *model.Definition) ([]byte, error) {
	if err := a.representAll(d); err != nil {
		return nil, err
	}
	doc := encodeHeader(d, a.release())
	enc := elementEncoder{dialect: a.dialect}
	els := d.Elements()
	elements := make([]any, len(els))
	for i, e := range els {
		elements[i] = enc.encode(e)
	}
	container := "snapshot"
	if d.Differential() {
		container = "differential"
	}
	doc[container] = map[string]any{"element": elements}
	return json.MarshalIndent(doc, "", "  ")
}
