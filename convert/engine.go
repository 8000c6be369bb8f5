// Package convert maps definitions between generations along the shortest
// path of a compiled rule set.
package convert

import (
	"strings"

	"github.com/gofhir/kindling"
	"github.com/gofhir/kindling/adapter"
	"github.com/gofhir/kindling/model"
	"github.com/gofhir/kindling/rules"
)

// Result is the outcome of one conversion.
type Result struct {
	Definition *model.Definition
	Notes      []kindling.ConversionNote
	// Lossy is set when at least one note is lossy.
	Lossy bool
	// Path lists the generations visited, source and target included.
	Path []kindling.Generation
}

// Engine converts definitions. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	rules    *rules.RuleSet
	adapters *adapter.Set
}

// New creates an engine over a compiled rule set. The adapters decide
// whether elements no rule touched can enter each generation on the path.
func New(rs *rules.RuleSet, adapters *adapter.Set) *Engine {
	return &Engine{rules: rs, adapters: adapters}
}

// Rules returns the rule set of the engine.
func (e *Engine) Rules() *rules.RuleSet {
	return e.rules
}

// Convert maps def to target. def is never modified. Converting to the
// definition's own generation returns a copy and no notes.
func (e *Engine) Convert(def *model.Definition, target kindling.Generation) (*Result, error) {
	source := def.Generation()
	fail := func(hop kindling.Hop, err error) *UnsupportedError {
		return &UnsupportedError{URL: def.URL(), Source: source, Target: target, Hop: hop, Err: err}
	}

	path, ok := e.rules.Path(source, target)
	if !ok {
		return nil, fail(kindling.Hop{}, ErrNoPath)
	}
	res := &Result{Path: path}
	if len(path) == 1 {
		res.Definition = def.Clone()
		return res, nil
	}

	in := def.Intermediate()
	var out *model.Definition
	for i := 0; i+1 < len(path); i++ {
		hop := kindling.Hop{From: path[i], To: path[i+1]}
		a, ok := e.adapters.Get(hop.To)
		if !ok {
			return nil, fail(hop, ErrNoAdapter)
		}
		elements, notes, err := e.hop(in.Elements, hop, a)
		if err != nil {
			err.URL, err.Source, err.Target = def.URL(), source, target
			return nil, err
		}
		in.Elements = elements
		in.Generation = hop.To
		built, buildErr := model.New(in)
		if buildErr != nil {
			return nil, fail(hop, buildErr)
		}
		out = built
		res.Notes = append(res.Notes, notes...)
	}

	res.Definition = out
	for _, n := range res.Notes {
		if n.Lossiness.IsLossy() {
			res.Lossy = true
			break
		}
	}
	return res, nil
}

// hop runs one hop over the elements in order. Each element is claimed by
// its most specific matching rule; elements no rule changed must be
// representable in the target as they are. An element moved by a rule takes
// its descendants along unless their own rule moves them.
func (e *Engine) hop(elements []model.Element, hop kindling.Hop, target adapter.Adapter) ([]model.Element, []kindling.ConversionNote, *UnsupportedError) {
	var (
		out     = make([]model.Element, 0, len(elements))
		notes   []kindling.ConversionNote
		dropped []string
		moved   []move
	)
	for _, el := range elements {
		id := el.ID()
		path := el.Path
		if underAny(path, dropped) {
			continue
		}

		if r, ok := e.rules.Match(hop, path); ok {
			app := r.Apply(&el)
			switch app.Effect {
			case rules.Rejected:
				return nil, nil, &UnsupportedError{Hop: hop, Path: id, Rule: r.ID, Reason: app.Message}
			case rules.Unchanged:
			default:
				notes = append(notes, kindling.ConversionNote{
					Path:      id,
					Rule:      r.ID,
					Hop:       hop,
					Lossiness: app.Lossiness,
					Message:   app.Message,
				})
			}
			if app.Effect == rules.Dropped {
				if el.SliceName == "" {
					dropped = append(dropped, path)
				}
				continue
			}
			if el.Path != path {
				moved = append(moved, move{from: path, to: el.Path, rule: r.ID, lossiness: app.Lossiness})
			}
		}

		if el.Path == path {
			if m, ok := ancestorMove(path, moved); ok && el.Move(m.from, m.to) {
				notes = append(notes, kindling.ConversionNote{
					Path:      id,
					Rule:      m.rule,
					Hop:       hop,
					Lossiness: m.lossiness,
					Message:   "moved with " + m.from + " to " + el.Path,
				})
			}
		}

		if err := target.Represent(el); err != nil {
			return nil, nil, &UnsupportedError{Hop: hop, Path: id, Err: err}
		}
		out = append(out, el)
	}
	return out, notes, nil
}

// move is a path rename applied by a rule during one hop.
type move struct {
	from, to  string
	rule      string
	lossiness kindling.Lossiness
}

// ancestorMove returns the move of the closest ancestor of path.
func ancestorMove(path string, moved []move) (move, bool) {
	var best move
	found := false
	for _, m := range moved {
		if strings.HasPrefix(path, m.from+".") && (!found || len(m.from) > len(best.from)) {
			best, found = m, true
		}
	}
	return best, found
}

// underAny reports whether path lies below one of the dropped paths.
func underAny(path string, dropped []string) bool {
	for _, d := range dropped {
		if strings.HasPrefix(path, d+".") {
			return true
		}
	}
	return false
}
