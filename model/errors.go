package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed is wrapped by every MalformedDefinitionError.
var ErrMalformed = errors.New("malformed definition")

// Problem is one invariant violation found while building a Definition.
type Problem struct {
	Path   string
	Reason string
}

func (p Problem) String() string {
	if p.Path == "" {
		return p.Reason
	}
	return p.Path + ": " + p.Reason
}

// MalformedDefinitionError reports definition data that breaks the model
// invariants. It signals upstream corruption and is not recoverable.
type MalformedDefinitionError struct {
	URL      string
	Problems []Problem
}

func (e *MalformedDefinitionError) Error() string {
	var b strings.Builder
	b.WriteString("malformed definition")
	if e.URL != "" {
		b.WriteString(" ")
		b.WriteString(e.URL)
	}
	if len(e.Problems) > 0 {
		b.WriteString(": ")
		b.WriteString(e.Problems[0].String())
	}
	if n := len(e.Problems) - 1; n > 0 {
		fmt.Fprintf(&b, " (and %d more)", n)
	}
	return b.String()
}

func (e *MalformedDefinitionError) Unwrap() error {
	return ErrMalformed
}
