package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"

	"github.com/gofhir/kindling"
	"github.com/gofhir/kindling/adapter"
	"github.com/gofhir/kindling/convert"
)

func newValidateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <path>...",
		Short: "Validate definitions, and their conversions when --to is set",
		Example: `  kindling validate profiles/
  kindling validate --from STU3 --output json StructureDefinition-*.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.run(cmd, args)
			if err != nil {
				return err
			}
			return a.print(cmd, report)
		},
	}
	// --to also validates the converted output without writing it.
	addTargetsFlag(cmd)
	return cmd
}

func newConvertCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert --to <generation> <path>...",
		Short: "Convert definitions to other generations",
		Example: `  kindling convert --from R4 --to R5 --out-dir out/ profiles/
  kindling convert --from STU3 --to R4,R5 StructureDefinition-my-patient.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(a.cfg.To) == 0 {
				return fmt.Errorf("convert needs at least one --to generation")
			}
			report, err := a.run(cmd, args)
			if err != nil {
				return err
			}
			if a.cfg.OutDir != "" {
				n, err := writeArtifacts(a.cfg.OutDir, report)
				if err != nil {
					return err
				}
				a.log.Info("wrote %d artifacts to %s", n, a.cfg.OutDir)
			}
			return a.print(cmd, report)
		},
	}
	cmd.Flags().String("out-dir", "", "directory the converted definitions are written to")
	addTargetsFlag(cmd)
	return cmd
}

func addTargetsFlag(cmd *cobra.Command) {
	cmd.Flags().StringSlice("to", nil, "target generations (repeatable or comma-separated)")
}

func newRoundTripCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "roundtrip --via <generation> <path>...",
		Short:   "Convert definitions to a generation and back, and diff the result",
		Example: `  kindling roundtrip --from R4 --via R5 profiles/`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.roundTrip(cmd, args)
		},
	}
	cmd.Flags().String("via", "", "intermediate generation")
	return cmd
}

// run executes the pipeline over args.
func (a *app) run(cmd *cobra.Command, args []string) (*kindling.Report, error) {
	sources, err := a.sources(cmd, args)
	if err != nil {
		return nil, err
	}
	c, err := a.coordinator()
	if err != nil {
		return nil, err
	}
	report, err := c.Run(cmd.Context(), sources)
	if err != nil && report == nil {
		return nil, err
	}
	if err != nil {
		a.log.Error("%v", err)
	}
	return report, nil
}

// writeArtifacts writes every converted definition as
// <source stem>.<generation>.json.
func writeArtifacts(dir string, report *kindling.Report) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create output directory: %w", err)
	}
	n := 0
	for _, url := range report.URLs() {
		o := report.Outcomes[url]
		stem := artifactStem(o)
		for _, art := range o.Artifacts {
			path := filepath.Join(dir, fmt.Sprintf("%s.%s.json", stem, art.Generation))
			if err := os.WriteFile(path, art.Data, 0o644); err != nil { //nolint:gosec // artifacts are meant to be shared
				return n, fmt.Errorf("write %s: %w", path, err)
			}
			n++
		}
	}
	return n, nil
}

func artifactStem(o *kindling.Outcome) string {
	if o.Source != "" && o.Source != "stdin" {
		return strings.TrimSuffix(filepath.Base(o.Source), filepath.Ext(o.Source))
	}
	url := strings.TrimRight(o.URL, "/")
	if i := strings.LastIndex(url, "/"); i >= 0 {
		url = url[i+1:]
	}
	return url
}

// roundTrip converts each definition to --via and back to --from and
// reports the differences.
func (a *app) roundTrip(cmd *cobra.Command, args []string) error {
	from, err := generation(a.gens, a.cfg.From)
	if err != nil {
		return err
	}
	if a.cfg.Via == "" {
		return fmt.Errorf("roundtrip needs --via")
	}
	via, err := generation(a.gens, a.cfg.Via)
	if err != nil {
		return err
	}
	sources, err := a.sources(cmd, args)
	if err != nil {
		return err
	}
	rs, err := a.ruleSet()
	if err != nil {
		return err
	}
	adapters := adapter.ForGenerations(a.gens)
	engine := convert.New(rs, adapters)
	ad, _ := adapters.Get(from)

	out := cmd.OutOrStdout()
	changed := 0
	for _, src := range sources {
		def, err := ad.Parse(src.Data)
		if err != nil {
			fmt.Fprintf(out, "== %s ==\nERROR %v\n\n", src.Name, err)
			changed++
			continue
		}
		there, err := engine.Convert(def, via)
		if err != nil {
			fmt.Fprintf(out, "== %s ==\nERROR %v\n\n", src.Name, err)
			changed++
			continue
		}
		back, err := engine.Convert(there.Definition, from)
		if err != nil {
			fmt.Fprintf(out, "== %s ==\nERROR %v\n\n", src.Name, err)
			changed++
			continue
		}

		fmt.Fprintf(out, "== %s ==\n", src.Name)
		for _, n := range append(there.Notes, back.Notes...) {
			fmt.Fprintf(out, "  NOTE  %s\n", n)
		}
		if def.Equal(back.Definition) {
			fmt.Fprintf(out, "Round trip %s -> %s -> %s: identical\n\n", from, via, from)
			continue
		}
		changed++
		fmt.Fprintf(out, "Round trip %s -> %s -> %s: changed\n", from, via, from)
		for _, d := range def.Diff(back.Definition) {
			fmt.Fprintf(out, "  DIFF  %s\n", d)
		}
		before, err1 := ad.Serialize(def)
		after, err2 := ad.Serialize(back.Definition)
		if err1 == nil && err2 == nil {
			fmt.Fprint(out, lineDiff(string(before), string(after)))
		}
		fmt.Fprintln(out)
	}
	if changed > 0 {
		return errFindings
	}
	return nil
}

// lineDiff renders a unified-style line diff of two documents.
func lineDiff(before, after string) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var sb strings.Builder
	for _, d := range diffs {
		var prefix string
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		default:
			continue
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			sb.WriteString(prefix)
			sb.WriteString(line)
			if !strings.HasSuffix(line, "\n") {
				sb.WriteString("\n")
			}
		}
	}
	return sb.String()
}
