package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gofhir/kindling"
	"github.com/gofhir/kindling/pkg/tracing"
)

// defaultConfigFile is read from the working directory when --config is
// not given.
const defaultConfigFile = "kindling.yaml"

// Output formats.
const (
	outputText = "text"
	outputJSON = "json"
)

// cliConfig is the merged configuration: defaults, then kindling.yaml,
// then KINDLING_* environment variables, then flags.
type cliConfig struct {
	From        string         `mapstructure:"from"`
	To          []string       `mapstructure:"to"`
	Via         string         `mapstructure:"via"`
	Output      string         `mapstructure:"output"`
	OutDir      string         `mapstructure:"out-dir"`
	Concurrency int            `mapstructure:"concurrency"`
	Timeout     time.Duration  `mapstructure:"timeout"`
	Strict      bool           `mapstructure:"strict"`
	MaxIssues   int            `mapstructure:"max-issues"`
	Constraints bool           `mapstructure:"constraints"`
	Rules       string         `mapstructure:"rules"`
	Terminology string         `mapstructure:"terminology"`
	LogLevel    string         `mapstructure:"log-level"`
	Tracing     tracing.Config `mapstructure:"tracing"`
}

func setDefaults(v *viper.Viper) {
	d := kindling.DefaultOptions()
	v.SetDefault("from", string(kindling.R4))
	v.SetDefault("output", outputText)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("timeout", d.CollaboratorTimeout)
	v.SetDefault("strict", false)
	v.SetDefault("max-issues", d.MaxIssues)
	v.SetDefault("constraints", d.ValidateConstraints)
	v.SetDefault("log-level", "warn")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.service_name", tracing.DefaultServiceName)
}

// loadConfig merges every configuration source for cmd.
func loadConfig(cmd *cobra.Command, configFile string) (*cliConfig, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else if _, err := os.Stat(defaultConfigFile); err == nil {
		v.SetConfigFile(defaultConfigFile)
	}
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", v.ConfigFileUsed(), err)
			}
		}
	}

	v.SetEnvPrefix("KINDLING")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	if f := cmd.Flags().Lookup("trace"); f != nil {
		if err := v.BindPFlag("tracing.enabled", f); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	cfg := &cliConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Output != outputText && cfg.Output != outputJSON {
		return nil, fmt.Errorf("unknown output format %q (text, json)", cfg.Output)
	}
	return cfg, nil
}

// generation resolves a generation flag value ("R4", "4.0.1").
func generation(gens *kindling.GenerationSet, v string) (kindling.Generation, error) {
	g, ok := gens.Parse(v)
	if !ok {
		return "", fmt.Errorf("unknown generation %q", v)
	}
	return g, nil
}

// options maps the configuration to run options.
func (c *cliConfig) options(gens *kindling.GenerationSet) ([]kindling.Option, error) {
	targets := make([]kindling.Generation, 0, len(c.To))
	for _, t := range c.To {
		g, err := generation(gens, t)
		if err != nil {
			return nil, err
		}
		targets = append(targets, g)
	}
	return []kindling.Option{
		kindling.WithTargets(targets...),
		kindling.WithConcurrency(c.Concurrency),
		kindling.WithCollaboratorTimeout(c.Timeout),
		kindling.WithStrictMode(c.Strict),
		kindling.WithMaxIssues(c.MaxIssues),
		kindling.WithConstraints(c.Constraints),
	}, nil
}
