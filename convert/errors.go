package convert

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofhir/kindling"
)

var (
	// ErrConversionUnsupported is wrapped by every *UnsupportedError.
	ErrConversionUnsupported = errors.New("conversion unsupported")
	// ErrNoPath means the rule set declares no hops between two generations.
	ErrNoPath = errors.New("no conversion path")
	// ErrNoAdapter means a generation on the path has no adapter to check
	// representability against.
	ErrNoAdapter = errors.New("no adapter for generation")
)

// UnsupportedError reports a definition that cannot be converted to a
// target generation. Path is empty when the failure is not tied to one
// element.
type UnsupportedError struct {
	URL    string
	Source kindling.Generation
	Target kindling.Generation
	Hop    kindling.Hop
	Path   string
	Rule   string
	Reason string
	Err    error
}

func (e *UnsupportedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "convert %s from %s to %s", e.URL, e.Source, e.Target)
	if e.Hop.From != "" {
		fmt.Fprintf(&b, ": hop %s", e.Hop)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, ": %s", e.Path)
	}
	if e.Rule != "" {
		fmt.Fprintf(&b, " [%s]", e.Rule)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *UnsupportedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConversionUnsupported}
	}
	return []error{ErrConversionUnsupported, e.Err}
}
