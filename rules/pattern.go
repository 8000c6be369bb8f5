package rules

import (
	"fmt"
	"strings"
)

// Wildcard segments.
const (
	AnySegment  = "*"
	AnySegments = "**"
)

// Pattern matches element paths segment by segment. A segment is a literal,
// "*" (exactly one segment) or "**" (zero or more segments).
type Pattern struct {
	raw      string
	segments []string
}

// ParsePattern parses a dot-separated path pattern.
func ParsePattern(s string) (Pattern, error) {
	if s == "" {
		return Pattern{}, fmt.Errorf("empty pattern")
	}
	segments := strings.Split(s, ".")
	for i, seg := range segments {
		switch {
		case seg == "":
			return Pattern{}, fmt.Errorf("pattern %q: empty segment %d", s, i)
		case seg == AnySegment || seg == AnySegments:
		case strings.Contains(seg, "*"):
			return Pattern{}, fmt.Errorf("pattern %q: wildcard must fill segment %d", s, i)
		}
	}
	return Pattern{raw: s, segments: segments}, nil
}

// MustPattern is like ParsePattern but panics on error.
func MustPattern(s string) Pattern {
	p, err := ParsePattern(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the pattern as written.
func (p Pattern) String() string {
	return p.raw
}

// Match reports whether the element path matches p.
func (p Pattern) Match(path string) bool {
	return matchSegments(p.segments, strings.Split(path, "."))
}

func matchSegments(pat, path []string) bool {
	for len(pat) > 0 {
		switch pat[0] {
		case AnySegments:
			for i := 0; i <= len(path); i++ {
				if matchSegments(pat[1:], path[i:]) {
					return true
				}
			}
			return false
		case AnySegment:
			if len(path) == 0 {
				return false
			}
		default:
			if len(path) == 0 || path[0] != pat[0] {
				return false
			}
		}
		pat, path = pat[1:], path[1:]
	}
	return len(path) == 0
}

// Overlaps reports whether some path matches both p and q.
func (p Pattern) Overlaps(q Pattern) bool {
	return overlap(p.segments, q.segments)
}

func overlap(p, q []string) bool {
	switch {
	case len(p) == 0 && len(q) == 0:
		return true
	case len(p) > 0 && p[0] == AnySegments:
		return overlap(p[1:], q) || (len(q) > 0 && overlap(p, q[1:]))
	case len(q) > 0 && q[0] == AnySegments:
		return overlap(p, q[1:]) || (len(p) > 0 && overlap(p[1:], q))
	case len(p) == 0 || len(q) == 0:
		return false
	case p[0] == AnySegment || q[0] == AnySegment || p[0] == q[0]:
		return overlap(p[1:], q[1:])
	default:
		return false
	}
}

// Specificity ranks patterns: more literal segments wins, then more single
// wildcards, then fewer deep wildcards.
type Specificity struct {
	Literals int
	Singles  int
	Deep     int
}

// Specificity returns the rank of p.
func (p Pattern) Specificity() Specificity {
	var s Specificity
	for _, seg := range p.segments {
		switch seg {
		case AnySegments:
			s.Deep++
		case AnySegment:
			s.Singles++
		default:
			s.Literals++
		}
	}
	return s
}

// Compare returns a positive number when s is more specific than o,
// negative when less, and zero when equal.
func (s Specificity) Compare(o Specificity) int {
	if s.Literals != o.Literals {
		return s.Literals - o.Literals
	}
	if s.Singles != o.Singles {
		return s.Singles - o.Singles
	}
	return o.Deep - s.Deep
}

func (s Specificity) String() string {
	return fmt.Sprintf("%d literal, %d single, %d deep", s.Literals, s.Singles, s.Deep)
}
