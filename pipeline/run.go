package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/gofhir/kindling"
	"github.com/gofhir/kindling/adapter"
	"github.com/gofhir/kindling/convert"
	"github.com/gofhir/kindling/model"
	"github.com/gofhir/kindling/registry"
	"github.com/gofhir/kindling/worker"
)

// Rule identifiers of issues raised by the pipeline itself.
const (
	RuleGeneration = "load-generation"
	RuleParse      = "load-parse"
	RuleURL        = "load-url"
	RuleDuplicate  = "load-duplicate"
	RuleConvert    = "convert-unsupported"
	RuleSerialize  = "serialize-unsupported"
	RuleIncomplete = "run-incomplete"
)

// run is the state of one Coordinator.Run call. Stages run one at a time;
// outcomes are only touched between worker batches, so they need no lock.
type run struct {
	c       *Coordinator
	log     *charmlog.Logger
	metrics *kindling.Metrics
	report  *kindling.Report
	sources []Source

	// Filled by load.
	reg  *registry.Registry
	defs []*model.Definition

	// Filled by convert: converted definitions per target, and a registry
	// of them per target for validating converted output.
	converted []convertedDef
	targets   map[kindling.Generation]*registry.Registry
}

type convertedDef struct {
	def    *model.Definition
	target kindling.Generation
}

func (r *run) outcome(key string) *kindling.Outcome {
	o, ok := r.report.Outcomes[key]
	if !ok {
		o = &kindling.Outcome{URL: key}
		r.report.Outcomes[key] = o
	}
	return o
}

// incomplete marks work that was never started because the run was
// cancelled.
func (r *run) incomplete(key, what string, target kindling.Generation) {
	o := r.outcome(key)
	o.Status = kindling.StatusSkipped
	o.Issues = append(o.Issues, kindling.Warning(kindling.IssueTypeIncomplete).
		Rule(RuleIncomplete).Target(target).
		Diagnosticf("%s not started: run cancelled", what).Build())
}

// --- Loading ---

type loaded struct {
	def       *model.Definition
	issue     *kindling.Issue
	cancelled bool
}

// load parses the sources concurrently and registers them in source
// order. A malformed definition fails the run.
func (r *run) load(ctx context.Context) (int, error) {
	parsed := make([]loaded, len(r.sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.c.opts.Concurrency)
	for i := range r.sources {
		g.Go(func() error {
			if gctx.Err() != nil {
				parsed[i].cancelled = true
				return nil
			}
			res, err := r.parse(r.sources[i])
			if err != nil {
				return err
			}
			parsed[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	r.reg = registry.New()
	issues := 0
	for i, p := range parsed {
		src := r.sources[i]
		switch {
		case p.cancelled:
			r.incomplete(src.key(i), "loading", "")
			r.outcome(src.key(i)).Source = src.Name
			r.metrics.RecordLoad(false)
			issues++
		case p.issue != nil:
			o := r.outcome(src.key(i))
			o.Source = src.Name
			o.Generation = src.Generation
			o.Status = kindling.StatusSkipped
			o.Issues = append(o.Issues, *p.issue)
			r.metrics.RecordLoad(false)
			r.log.Warn("source skipped", "source", src.Name, "err", p.issue.Diagnostics)
			issues++
		default:
			if err := r.reg.Add(p.def); err != nil {
				if !errors.Is(err, registry.ErrDuplicate) {
					return issues, fmt.Errorf("register %s: %w", src.Name, err)
				}
				kept, _ := r.reg.Get(p.def.URL())
				first := r.outcome(kept.URL())
				first.Issues = append(first.Issues, kindling.Error(kindling.IssueTypeDuplicate).
					Rule(RuleDuplicate).Phase(kindling.PhaseLoad).
					Diagnosticf("source %s defines %s again; the definition from %s is kept", src.Name, p.def.URL(), first.Source).
					Build())
				r.metrics.RecordLoad(false)
				issues++
				continue
			}
			o := r.outcome(p.def.URL())
			o.Source = src.Name
			o.Generation = p.def.Generation()
			r.defs = append(r.defs, p.def)
			r.metrics.RecordLoad(true)
		}
	}
	r.reg.Freeze()
	r.log.Info("definitions loaded", "loaded", r.reg.Len(), "sources", len(r.sources))
	return issues, nil
}

// parse turns one source into a definition or an issue. Only a
// malformed definition is returned as an error.
func (r *run) parse(src Source) (loaded, error) {
	reject := func(rule string, code kindling.IssueType, format string, args ...any) loaded {
		is := kindling.Error(code).Rule(rule).Phase(kindling.PhaseLoad).Diagnosticf(format, args...).Build()
		return loaded{issue: &is}
	}

	if !r.c.gens.Has(src.Generation) {
		return reject(RuleGeneration, kindling.IssueTypeNotSupported, "unknown generation %q", src.Generation), nil
	}
	a, ok := r.c.adapters.Get(src.Generation)
	if !ok {
		return reject(RuleGeneration, kindling.IssueTypeNotSupported, "no adapter for generation %s", src.Generation), nil
	}

	def, err := a.Parse(src.Data)
	if err != nil {
		var malformed *model.MalformedDefinitionError
		if errors.As(err, &malformed) {
			return loaded{}, fmt.Errorf("load %s: %w", src.Name, err)
		}
		var pe *adapter.ParseError
		if errors.As(err, &pe) {
			return reject(RuleParse, kindling.IssueTypeStructure, "%v", pe), nil
		}
		return reject(RuleParse, kindling.IssueTypeProcessing, "parse %s: %v", src.Name, err), nil
	}

	if src.URL != "" && !sameURL(src.URL, def.URL()) {
		return reject(RuleURL, kindling.IssueTypeInvalid, "source is tagged %s but declares %s", src.URL, def.URL()), nil
	}
	return loaded{def: def}, nil
}

// sameURL compares canonical URLs ignoring a "|version" suffix.
func sameURL(a, b string) bool {
	a, _, _ = strings.Cut(a, "|")
	b, _, _ = strings.Cut(b, "|")
	return a == b
}

// --- Converting ---

type conversion struct {
	def    *model.Definition
	target kindling.Generation
}

type conversionOut struct {
	res      *convert.Result
	artifact kindling.Artifact
	issue    *kindling.Issue
}

// convert maps every registered definition to every target on the
// worker pool.
func (r *run) convert(ctx context.Context) (int, error) {
	targets := r.c.opts.Targets
	r.targets = make(map[kindling.Generation]*registry.Registry, len(targets))
	if len(targets) == 0 || len(r.defs) == 0 {
		return 0, nil
	}
	for _, t := range targets {
		r.targets[t] = registry.New()
	}

	jobs := make([]worker.Job[conversion], 0, len(r.defs)*len(targets))
	for _, def := range r.defs {
		for _, t := range targets {
			jobs = append(jobs, worker.Job[conversion]{
				ID:    def.URL(),
				Index: len(jobs),
				Input: conversion{def: def, target: t},
			})
		}
	}

	batch := worker.Process(ctx, r.convertOne, r.c.opts.Concurrency, jobs)

	issues := 0
	for _, res := range batch.Results {
		in := jobs[res.Index].Input
		o := r.outcome(in.def.URL())
		out := res.Output
		if out.issue != nil {
			o.Issues = append(o.Issues, *out.issue)
			r.metrics.RecordConversion(0, 0, false, true)
			r.log.Warn("conversion failed", "url", in.def.URL(), "target", in.target, "err", out.issue.Diagnostics)
			issues++
			continue
		}
		o.Notes = append(o.Notes, out.res.Notes...)
		o.Artifacts = append(o.Artifacts, out.artifact)
		r.metrics.RecordConversion(len(out.res.Path)-1, len(out.res.Notes), out.res.Lossy, false)
		if err := r.targets[in.target].Add(out.res.Definition); err != nil {
			r.log.Debug("converted definition not indexed", "url", in.def.URL(), "target", in.target, "err", err)
		}
		if in.target != in.def.Generation() {
			r.converted = append(r.converted, convertedDef{def: out.res.Definition, target: in.target})
		}
	}
	for _, job := range batch.Unsubmitted {
		r.incomplete(job.ID, "conversion to "+string(job.Input.target), job.Input.target)
		issues++
	}
	for _, reg := range r.targets {
		reg.Freeze()
	}
	return issues, nil
}

func (r *run) convertOne(_ context.Context, in conversion) (conversionOut, error) {
	fatal := func(rule, phase string, code kindling.IssueType, err error) (conversionOut, error) {
		is := kindling.Fatal(code).Rule(rule).Phase(phase).Target(in.target).Diagnostics(err.Error())
		var ue *convert.UnsupportedError
		if errors.As(err, &ue) && ue.Path != "" {
			is = is.At(ue.Path)
		}
		var fe *adapter.UnsupportedFeatureError
		if errors.As(err, &fe) && fe.Path != "" {
			is = is.At(fe.Path)
		}
		built := is.Build()
		return conversionOut{issue: &built}, nil
	}

	res, err := r.c.engine.Convert(in.def, in.target)
	if err != nil {
		return fatal(RuleConvert, kindling.PhaseConvert, kindling.IssueTypeNotSupported, err)
	}
	a, _ := r.c.adapters.Get(in.target)
	data, err := a.Serialize(res.Definition)
	if err != nil {
		return fatal(RuleSerialize, kindling.PhaseSerialize, kindling.IssueTypeNotSupported, err)
	}
	return conversionOut{
		res: res,
		artifact: kindling.Artifact{
			Generation: in.target,
			Path:       res.Path,
			Lossy:      res.Lossy,
			Data:       data,
		},
	}, nil
}

// --- Validating ---

type validation struct {
	def    *model.Definition
	lookup *registry.Registry
	// target is set for converted definitions.
	target kindling.Generation
}

// validate checks every registered definition against the registry and,
// when enabled, every converted definition against the definitions
// converted to the same target.
func (r *run) validate(ctx context.Context) (int, error) {
	jobs := make([]worker.Job[validation], 0, len(r.defs)+len(r.converted))
	for _, def := range r.defs {
		jobs = append(jobs, worker.Job[validation]{
			ID: def.URL(), Index: len(jobs), Input: validation{def: def, lookup: r.reg},
		})
	}
	if r.c.opts.ValidateConverted {
		for _, cd := range r.converted {
			jobs = append(jobs, worker.Job[validation]{
				ID: cd.def.URL(), Index: len(jobs),
				Input: validation{def: cd.def, lookup: r.targets[cd.target], target: cd.target},
			})
		}
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	batch := worker.Process(ctx, r.validateOne, r.c.opts.Concurrency, jobs)

	issues := 0
	for _, res := range batch.Results {
		o := r.outcome(res.ID)
		o.Issues = append(o.Issues, res.Output...)
		issues += len(res.Output)
	}
	for _, job := range batch.Unsubmitted {
		what := "validation"
		if job.Input.target != "" {
			what = "validation of " + string(job.Input.target) + " output"
		}
		r.incomplete(job.ID, what, job.Input.target)
		issues++
	}
	return issues, nil
}

func (r *run) validateOne(ctx context.Context, in validation) ([]kindling.Issue, error) {
	start := time.Now()
	issues := r.c.validator.Validate(ctx, in.def, in.lookup)
	clean := true
	for i := range issues {
		if issues[i].IsError() {
			clean = false
		}
		if in.target != "" {
			issues[i].Target = in.target
		}
	}
	r.metrics.RecordValidation(time.Since(start), clean)
	return issues, nil
}
