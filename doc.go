// Package kindling converts FHIR StructureDefinitions between schema
// generations (STU3, R4, R4B, R5) and validates the result.
//
// The root package holds the shared vocabulary: generations and their type
// systems, issues, conversion notes, options, metrics and the run report.
// The work is done by the sub-packages:
//
//   - model: generation-neutral Definition and Element
//   - adapter: parse and serialize per generation
//   - rules: conversion rules and the generation graph
//   - convert: the conversion engine
//   - validate: the two-pass constraint validator
//   - registry: URL to Definition lookup shared by a run
//   - pipeline: load, convert, validate and report
//
// # Quick Start
//
//	import (
//	    "github.com/gofhir/kindling"
//	    "github.com/gofhir/kindling/pipeline"
//	)
//
//	coord, err := pipeline.New(pipeline.Config{
//	    Options: []kindling.Option{
//	        kindling.WithTargets(kindling.R5, kindling.STU3),
//	        kindling.WithConcurrency(4),
//	    },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	report, err := coord.Run(ctx, []pipeline.Source{
//	    {Name: "patient.json", Generation: kindling.R4, Data: raw},
//	})
//	for _, d := range report.Diagnostics() {
//	    fmt.Println(d.URL, d.Path())
//	}
//
// # Conversions
//
// Conversion follows the shortest path of declared hops between two
// generations. Every rule that changes an element records a ConversionNote,
// and a conversion is reported as lossy whenever one of its notes is.
//
// # Validation
//
// Validation runs a structural pass followed by a constraint pass. Constraint
// issues that depend on a definition missing from the registry, or on a
// terminology lookup that failed, are reported as warnings.
package kindling
