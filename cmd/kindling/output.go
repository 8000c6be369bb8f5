package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/gofhir/kindling"
)

// print writes the report in the configured format and returns
// errFindings when any definition failed.
func (a *app) print(cmd *cobra.Command, report *kindling.Report) error {
	out := cmd.OutOrStdout()
	if a.cfg.Output == outputJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
	} else {
		printText(out, report)
	}

	if report.State == kindling.StateFailed {
		return errFindings
	}
	for _, o := range report.Outcomes {
		if o.Status == kindling.StatusFailed {
			return errFindings
		}
	}
	return nil
}

func printText(w io.Writer, report *kindling.Report) {
	for _, url := range report.URLs() {
		o := report.Outcomes[url]
		fmt.Fprintf(w, "== %s ==\n", url)
		if o.Source != "" && o.Source != url {
			fmt.Fprintf(w, "Source: %s (%s)\n", o.Source, o.Generation)
		}
		fmt.Fprintf(w, "Status: %s\n", statusLabel(o.Status))
		fmt.Fprintf(w, "Errors: %d, Warnings: %d, Info: %d\n",
			kindling.CountBySeverity(o.Issues, kindling.SeverityError)+kindling.CountBySeverity(o.Issues, kindling.SeverityFatal),
			kindling.CountBySeverity(o.Issues, kindling.SeverityWarning),
			kindling.CountBySeverity(o.Issues, kindling.SeverityInformation))
		for _, art := range o.Artifacts {
			lossy := ""
			if art.Lossy {
				lossy = " (lossy)"
			}
			fmt.Fprintf(w, "Converted: %s via %v%s\n", art.Generation, art.Path, lossy)
		}

		if len(o.Issues) > 0 {
			fmt.Fprintln(w, "\nIssues:")
			for _, is := range o.Issues {
				location := ""
				if is.Path != "" {
					location = " @ " + is.Path
				}
				target := ""
				if is.Target != "" {
					target = " -> " + string(is.Target)
				}
				fmt.Fprintf(w, "  %s [%s%s] %s%s\n", severityIcon(is.Severity), is.Rule, target, is.Diagnostics, location)
			}
		}
		if len(o.Notes) > 0 {
			fmt.Fprintln(w, "\nNotes:")
			for _, n := range o.Notes {
				fmt.Fprintf(w, "  NOTE  %s\n", n)
			}
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Run %s: %s, %d definitions", report.RunID, report.State, len(report.Outcomes))
	if !report.Finished.IsZero() {
		fmt.Fprintf(w, " in %s", report.Finished.Sub(report.Started).Round(time.Millisecond))
	}
	fmt.Fprintln(w)
	if report.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", report.Error)
	}
}

func statusLabel(s kindling.Status) string {
	switch s {
	case kindling.StatusOK:
		return "VALID"
	case kindling.StatusFailed:
		return "INVALID"
	default:
		return "SKIPPED"
	}
}

func severityIcon(severity kindling.IssueSeverity) string {
	switch severity {
	case kindling.SeverityFatal:
		return "FATAL"
	case kindling.SeverityError:
		return "ERROR"
	case kindling.SeverityWarning:
		return "WARN "
	case kindling.SeverityInformation:
		return "INFO "
	default:
		return "     "
	}
}
