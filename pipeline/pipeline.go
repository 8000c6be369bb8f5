// Package pipeline runs definition sets through loading, conversion and
// validation and collects the outcome of every definition in a report.
//
// A run moves through Loading, Converting and Validating to Complete.
// Failures local to one definition are recorded against it and the run
// goes on; only a malformed definition fails the whole run. Invalid
// configuration, including ambiguous conversion rules, is rejected by New
// before any run starts.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gofhir/kindling"
	"github.com/gofhir/kindling/adapter"
	"github.com/gofhir/kindling/convert"
	"github.com/gofhir/kindling/pkg/logger"
	"github.com/gofhir/kindling/pkg/tracing"
	"github.com/gofhir/kindling/rules"
	"github.com/gofhir/kindling/terminology"
	"github.com/gofhir/kindling/validate"
)

// Config configures a Coordinator. Zero fields take defaults.
type Config struct {
	// Generations is the generation catalogue. Defaults to
	// kindling.DefaultGenerations().
	Generations *kindling.GenerationSet

	// Rules is a compiled rule set. When nil, Hops is compiled instead.
	Rules *rules.RuleSet

	// Hops are compiled by New when Rules is nil. Nil Hops with the
	// default generations means the built-in matrix.
	Hops []rules.HopRules

	// Adapters defaults to adapter.ForGenerations(Generations).
	Adapters *adapter.Set

	// Terminology is the optional terminology collaborator. Lookups are
	// cached for Options.TerminologyCacheTTL.
	Terminology terminology.Resolver

	Options []kindling.Option

	// Logger defaults to logger.Default().
	Logger *logger.Logger

	// Tracer defaults to a no-op tracer.
	Tracer trace.Tracer
}

// Coordinator runs pipelines. It holds only immutable configuration and
// the validator, and is safe for concurrent use.
type Coordinator struct {
	gens      *kindling.GenerationSet
	rules     *rules.RuleSet
	adapters  *adapter.Set
	engine    *convert.Engine
	validator *validate.Validator
	opts      *kindling.Options
	log       *logger.Logger
	tracer    trace.Tracer
}

// New validates cfg and builds a Coordinator. Rule compilation errors,
// including *rules.AmbiguousRuleError, are returned here.
func New(cfg Config) (*Coordinator, error) {
	gens := cfg.Generations
	if gens == nil {
		gens = kindling.DefaultGenerations()
	}

	rs := cfg.Rules
	if rs == nil {
		hops := cfg.Hops
		if hops == nil && gens == kindling.DefaultGenerations() {
			hops = rules.DefaultHops()
		}
		compiled, err := rules.Compile(gens, hops...)
		if err != nil {
			return nil, fmt.Errorf("compile conversion rules: %w", err)
		}
		rs = compiled
	}

	adapters := cfg.Adapters
	if adapters == nil {
		adapters = adapter.ForGenerations(gens)
	}

	opts := kindling.Apply(cfg.Options...)
	for _, t := range opts.Targets {
		if !gens.Has(t) {
			return nil, fmt.Errorf("target generation %q is not defined", t)
		}
		if _, ok := adapters.Get(t); !ok {
			return nil, fmt.Errorf("no adapter for target generation %s", t)
		}
	}

	vopts := []validate.Option{validate.WithOptions(opts)}
	if cfg.Terminology != nil {
		vopts = append(vopts, validate.WithTerminology(terminology.NewCached(cfg.Terminology, opts.TerminologyCacheTTL)))
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = tracing.Noop().Tracer()
	}

	return &Coordinator{
		gens:      gens,
		rules:     rs,
		adapters:  adapters,
		engine:    convert.New(rs, adapters),
		validator: validate.New(gens, vopts...),
		opts:      opts,
		log:       log,
		tracer:    tracer,
	}, nil
}

// Options returns the run options of the coordinator.
func (c *Coordinator) Options() *kindling.Options {
	return c.opts
}

// Rules returns the compiled rule set.
func (c *Coordinator) Rules() *rules.RuleSet {
	return c.rules
}

// Run processes sources and returns the report. A report is returned in
// every case. The error is non-nil when the run failed (the report is then
// in StateFailed) or when ctx was cancelled; a cancelled run still
// completes, with the definitions it did not reach marked incomplete.
func (c *Coordinator) Run(ctx context.Context, sources []Source) (*kindling.Report, error) {
	r := c.newRun()
	ctx, span := c.tracer.Start(ctx, "kindling.run", trace.WithAttributes(
		attribute.String("kindling.run_id", r.report.RunID),
		attribute.Int("kindling.sources", len(sources)),
	))
	defer span.End()
	ctx = kindling.ContextWithMetrics(ctx, r.metrics)

	r.sources = sources
	r.log.Info("run started", "sources", len(sources), "targets", len(c.opts.Targets))

	for _, st := range stages {
		if err := r.runStage(ctx, st); err != nil {
			r.fail(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return r.finish(), err
		}
	}

	r.report.State = kindling.StateComplete
	report := r.finish()
	span.SetAttributes(
		attribute.Int("kindling.definitions", len(report.Outcomes)),
		attribute.Int("kindling.errors", report.CountIssues(kindling.SeverityError)+report.CountIssues(kindling.SeverityFatal)),
	)
	r.log.Info("run complete",
		"definitions", len(report.Outcomes),
		"errors", report.CountIssues(kindling.SeverityError)+report.CountIssues(kindling.SeverityFatal),
		"warnings", report.CountIssues(kindling.SeverityWarning),
		"duration", report.Finished.Sub(report.Started))
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("run cancelled: %w", err)
	}
	return report, nil
}

func (c *Coordinator) newRun() *run {
	id := uuid.NewString()
	return &run{
		c:       c,
		log:     c.log.With("run", id[:8]),
		metrics: kindling.NewMetrics(),
		report: &kindling.Report{
			RunID:    id,
			State:    kindling.StateLoading,
			Started:  time.Now(),
			Outcomes: make(map[string]*kindling.Outcome),
		},
	}
}

func (r *run) runStage(ctx context.Context, st stage) error {
	r.report.State = st.state
	ctx, span := r.c.tracer.Start(ctx, "kindling."+st.name)
	defer span.End()

	start := time.Now()
	issues, err := st.fn(r, ctx)
	d := time.Since(start)
	r.metrics.RecordStage(st.name, d, issues)
	span.SetAttributes(attribute.Int("kindling.issues", issues))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	r.log.Debug("stage done", "stage", st.name, "issues", issues, "duration", d)
	return nil
}

func (r *run) fail(err error) {
	r.report.Error = err.Error()
	r.log.Error("run failed", "state", r.report.State, "err", err)
	r.report.State = kindling.StateFailed
}

func (r *run) finish() *kindling.Report {
	for _, o := range r.report.Outcomes {
		o.Finalize(r.c.opts.StrictMode, r.c.opts.MaxIssues)
		r.metrics.RecordIssues(o.Issues)
	}
	r.report.Finished = time.Now()
	r.report.Metrics = r.metrics.Snapshot()
	return r.report
}
