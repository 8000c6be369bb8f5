package pipeline

import (
	"context"

	"github.com/gofhir/kindling"
)

// Stage names used in metrics and spans.
const (
	StageLoad     = "load"
	StageConvert  = "convert"
	StageValidate = "validate"
)

// stage is one step of a run. Stages run in order; the run enters state
// before the stage starts. fn returns the number of issues it recorded;
// an error fails the run.
type stage struct {
	name  string
	state kindling.State
	fn    func(r *run, ctx context.Context) (int, error)
}

var stages = []stage{
	{name: StageLoad, state: kindling.StateLoading, fn: (*run).load},
	{name: StageConvert, state: kindling.StateConverting, fn: (*run).convert},
	{name: StageValidate, state: kindling.StateValidating, fn: (*run).validate},
}
