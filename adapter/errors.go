package adapter

import (
	"errors"
	"fmt"

	"github.com/gofhir/kindling"
)

var (
	// ErrParse is wrapped by every ParseError.
	ErrParse = errors.New("adapter parse error")
	// ErrUnsupportedFeature is wrapped by every UnsupportedFeatureError.
	ErrUnsupportedFeature = errors.New("unsupported feature")
)

// ParseError reports malformed input. Fragment is a JSON pointer to the
// offending location ("/snapshot/element/3/max").
type ParseError struct {
	Generation kindling.Generation
	Fragment   string
	Reason     string
	Err        error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse %s definition", e.Generation)
	if e.Fragment != "" {
		msg += " at " + e.Fragment
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrParse, e.Err}
	}
	return []error{ErrParse}
}

func parseErr(gen kindling.Generation, fragment, reason string, err error) *ParseError {
	return &ParseError{Generation: gen, Fragment: fragment, Reason: reason, Err: err}
}

// UnsupportedFeatureError reports a construct the target generation cannot
// represent at all.
type UnsupportedFeatureError struct {
	Generation kindling.Generation
	Path       string
	Feature    string
}

func (e *UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("%s cannot represent %s at %s", e.Generation, e.Feature, e.Path)
}

func (e *UnsupportedFeatureError) Unwrap() error {
	return ErrUnsupportedFeature
}
