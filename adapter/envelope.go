package adapter

import (
	"bytes"
	_ "embed"
	"errors"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/gofhir/kindling"
)

//go:embed schema/envelope.json
var envelopeSchema []byte

const envelopeURL = "https://gofhir.dev/kindling/envelope.schema.json"

var (
	envelopeOnce sync.Once
	envelope     *jsonschema.Schema
	envelopeErr  error
)

func compiledEnvelope() (*jsonschema.Schema, error) {
	envelopeOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(envelopeSchema))
		if err != nil {
			envelopeErr = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(envelopeURL, doc); err != nil {
			envelopeErr = err
			return
		}
		envelope, envelopeErr = c.Compile(envelopeURL)
	})
	return envelope, envelopeErr
}

// checkEnvelope validates raw against the shared StructureDefinition
// envelope.
func checkEnvelope(gen kindling.Generation, raw []byte) error {
	sch, err := compiledEnvelope()
	if err != nil {
		return parseErr(gen, "", "envelope schema unavailable", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return parseErr(gen, "", "invalid JSON", err)
	}
	if err := sch.Validate(inst); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			leaf := deepestCause(ve)
			return parseErr(gen, pointer(leaf.InstanceLocation), "does not match StructureDefinition envelope", leaf)
		}
		return parseErr(gen, "", "does not match StructureDefinition envelope", err)
	}
	return nil
}

// deepestCause follows the first cause chain to the most specific error.
func deepestCause(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}

func pointer(loc []string) string {
	if len(loc) == 0 {
		return ""
	}
	escaped := make([]string, len(loc))
	for i, s := range loc {
		s = strings.ReplaceAll(s, "~", "~0")
		escaped[i] = strings.ReplaceAll(s, "/", "~1")
	}
	return "/" + strings.Join(escaped, "/")
}
