package kindling

import "fmt"

// Lossiness classifies how much source meaning a conversion step keeps.
type Lossiness string

const (
	// Lossless steps keep the full meaning of the element.
	Lossless Lossiness = "lossless"
	// LossyWithDefault steps degrade the element to the closest construct
	// the target can hold.
	LossyWithDefault Lossiness = "lossy-with-default"
	// Unsupported steps cannot be carried into the target at all.
	Unsupported Lossiness = "unsupported"
)

// IsValid reports whether l is one of the known lossiness classes.
func (l Lossiness) IsValid() bool {
	switch l {
	case Lossless, LossyWithDefault, Unsupported:
		return true
	}
	return false
}

// IsLossy reports whether l loses source meaning.
func (l Lossiness) IsLossy() bool {
	return l == LossyWithDefault || l == Unsupported
}

// Max returns the worse of two lossiness classes.
func (l Lossiness) Max(o Lossiness) Lossiness {
	if l.rank() >= o.rank() {
		return l
	}
	return o
}

func (l Lossiness) rank() int {
	switch l {
	case Unsupported:
		return 2
	case LossyWithDefault:
		return 1
	default:
		return 0
	}
}

// ParseLossiness parses a lossiness class name.
func ParseLossiness(s string) (Lossiness, error) {
	l := Lossiness(s)
	if s == "" {
		return Lossless, nil
	}
	if !l.IsValid() {
		return "", fmt.Errorf("unknown lossiness %q", s)
	}
	return l, nil
}

// Hop is one directed edge of a conversion path.
type Hop struct {
	From Generation `json:"from"`
	To   Generation `json:"to"`
}

// String returns "From->To".
func (h Hop) String() string {
	return string(h.From) + "->" + string(h.To)
}

// ConversionNote records one conversion rule applied to one element.
type ConversionNote struct {
	Path      string    `json:"path"`
	Rule      string    `json:"rule"`
	Hop       Hop       `json:"hop"`
	Lossiness Lossiness `json:"lossiness"`
	Message   string    `json:"message,omitempty"`
}

// String returns a human-readable representation of the note.
func (n ConversionNote) String() string {
	s := fmt.Sprintf("%s %s [%s] %s", n.Hop, n.Lossiness, n.Rule, n.Path)
	if n.Message != "" {
		s += ": " + n.Message
	}
	return s
}
