package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gofhir/kindling"
	"github.com/gofhir/kindling/pipeline"
	"github.com/gofhir/kindling/pkg/logger"
	"github.com/gofhir/kindling/pkg/tracing"
	"github.com/gofhir/kindling/rules"
	"github.com/gofhir/kindling/terminology"
)

// errFindings reports that the command ran but found errors. main exits
// non-zero without printing it again.
var errFindings = errors.New("errors found")

// app carries what every command needs.
type app struct {
	configFile string
	cfg        *cliConfig
	gens       *kindling.GenerationSet
	log        *logger.Logger
	tracer     *tracing.Provider
}

func newRootCmd() *cobra.Command {
	a := &app{gens: kindling.DefaultGenerations()}

	root := &cobra.Command{
		Use:   "kindling",
		Short: "Convert and validate StructureDefinitions across FHIR generations",
		Long: `kindling loads StructureDefinitions written for one FHIR generation
(STU3, R4, R4B, R5), converts them to other generations under a declared
conversion matrix and validates both the sources and the converted output.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a.tracer == nil {
				return nil
			}
			return a.tracer.Shutdown(context.WithoutCancel(cmd.Context()))
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configFile, "config", "c", "", "config file (default: ./"+defaultConfigFile+")")
	pf.String("from", string(kindling.R4), "generation of the input definitions")
	pf.StringP("output", "o", outputText, "output format: text, json")
	pf.Int("concurrency", 0, "worker count (default: number of CPUs)")
	pf.Duration("timeout", 0, "per-call terminology timeout")
	pf.Bool("strict", false, "treat warnings as errors")
	pf.Int("max-issues", 0, "maximum issues kept per definition (0 = unlimited)")
	pf.Bool("constraints", true, "compile and evaluate FHIRPath constraints")
	pf.String("rules", "", "conversion rule file (default: built-in matrix)")
	pf.String("terminology", "", "directory of CodeSystem JSON files")
	pf.String("log-level", "warn", "log level: debug, info, warn, error, none")
	pf.Bool("trace", false, "export OpenTelemetry spans to stderr")

	root.AddCommand(newValidateCmd(a), newConvertCmd(a), newRoundTripCmd(a))
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd, a.configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level, ok := logger.ParseLevel(cfg.LogLevel)
	if !ok {
		return fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
	a.log = logger.New(cmd.ErrOrStderr(), level)

	tc := cfg.Tracing
	tc.Writer = cmd.ErrOrStderr()
	provider, err := tracing.NewProvider(tc)
	if err != nil {
		return err
	}
	a.tracer = provider
	return nil
}

// coordinator builds a pipeline from the configuration.
func (a *app) coordinator() (*pipeline.Coordinator, error) {
	opts, err := a.cfg.options(a.gens)
	if err != nil {
		return nil, err
	}
	rs, err := a.ruleSet()
	if err != nil {
		return nil, err
	}
	pc := pipeline.Config{
		Generations: a.gens,
		Rules:       rs,
		Options:     opts,
		Logger:      a.log,
		Tracer:      a.tracer.Tracer(),
	}
	if a.cfg.Terminology != "" {
		mem := terminology.NewMemory()
		stats, err := mem.LoadDirectory(a.cfg.Terminology)
		if err != nil {
			return nil, err
		}
		a.log.Info("terminology loaded from %s: %d code systems", a.cfg.Terminology, stats.CodeSystemsLoaded)
		pc.Terminology = mem
	}
	return pipeline.New(pc)
}

func (a *app) ruleSet() (*rules.RuleSet, error) {
	if a.cfg.Rules == "" {
		return rules.Default(), nil
	}
	f, err := os.Open(a.cfg.Rules)
	if err != nil {
		return nil, fmt.Errorf("open rule file: %w", err)
	}
	defer f.Close()
	rs, err := rules.LoadYAML(f, a.gens)
	if err != nil {
		return nil, fmt.Errorf("rule file %s: %w", a.cfg.Rules, err)
	}
	return rs, nil
}

// sources expands the arguments: directories are read as packages, other
// arguments are globs, "-" is stdin.
func (a *app) sources(cmd *cobra.Command, args []string) ([]pipeline.Source, error) {
	gen, err := generation(a.gens, a.cfg.From)
	if err != nil {
		return nil, err
	}

	var out []pipeline.Source
	for _, arg := range args {
		if arg == "-" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return nil, fmt.Errorf("read stdin: %w", err)
			}
			out = append(out, pipeline.Source{Name: "stdin", Generation: gen, Data: data})
			continue
		}
		if fi, err := os.Stat(arg); err == nil && fi.IsDir() {
			dir, err := pipeline.SourcesFromDir(arg, gen)
			if err != nil {
				return nil, err
			}
			out = append(out, dir...)
			continue
		}
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", arg, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match %s", arg)
		}
		for _, m := range matches {
			data, err := os.ReadFile(m)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", m, err)
			}
			out = append(out, pipeline.Source{Name: m, Generation: gen, Data: data})
		}
	}
	return out, nil
}
