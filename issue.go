package kindling

import (
	"fmt"
	"sort"
	"strings"
)

// IssueSeverity represents the severity of a validation issue.
// Maps to OperationOutcome.issue.severity in FHIR.
type IssueSeverity string

const (
	// SeverityFatal marks a condition that stopped processing of the definition.
	SeverityFatal IssueSeverity = "fatal"
	// SeverityError marks a definition that is invalid.
	SeverityError IssueSeverity = "error"
	// SeverityWarning marks a potential problem, or a best-effort check that
	// could not be completed.
	SeverityWarning IssueSeverity = "warning"
	// SeverityInformation marks informational feedback.
	SeverityInformation IssueSeverity = "information"
)

// Rank orders severities from most to least severe (fatal = 0).
func (s IssueSeverity) Rank() int {
	switch s {
	case SeverityFatal:
		return 0
	case SeverityError:
		return 1
	case SeverityWarning:
		return 2
	case SeverityInformation:
		return 3
	default:
		return 4
	}
}

// IssueType represents the type of validation issue.
// Maps to OperationOutcome.issue.code in FHIR.
type IssueType string

const (
	IssueTypeInvalid      IssueType = "invalid"
	IssueTypeStructure    IssueType = "structure"
	IssueTypeRequired     IssueType = "required"
	IssueTypeValue        IssueType = "value"
	IssueTypeInvariant    IssueType = "invariant"
	IssueTypeProcessing   IssueType = "processing"
	IssueTypeNotFound     IssueType = "not-found"
	IssueTypeCodeInvalid  IssueType = "code-invalid"
	IssueTypeBusinessRule IssueType = "business-rule"
	IssueTypeTimeout      IssueType = "timeout"
	IssueTypeNotSupported IssueType = "not-supported"
	IssueTypeIncomplete   IssueType = "incomplete"
	IssueTypeDuplicate    IssueType = "duplicate"
)

// Phase names attached to issues.
const (
	PhaseLoad       = "load"
	PhaseConvert    = "convert"
	PhaseStructural = "structural"
	PhaseConstraint = "constraint"
	PhaseSerialize  = "serialize"
)

// Issue represents a single validation issue raised against a definition.
type Issue struct {
	// Severity of the issue (fatal, error, warning, information)
	Severity IssueSeverity `json:"severity"`

	// Code identifying the type of issue
	Code IssueType `json:"code"`

	// Diagnostics contains human-readable details about the issue
	Diagnostics string `json:"diagnostics,omitempty"`

	// Path is the element path the issue applies to. Empty for
	// definition-level issues.
	Path string `json:"path,omitempty"`

	// Rule identifies the check that raised the issue (e.g. "struct-card",
	// "ele-1", "eld-13").
	Rule string `json:"rule,omitempty"`

	// Phase is the stage that generated this issue
	Phase string `json:"phase,omitempty"`

	// Target is the target generation for issues raised while converting
	// or serializing into a specific generation.
	Target Generation `json:"target,omitempty"`
}

// IsError returns true if this is an error or fatal issue.
func (i Issue) IsError() bool {
	return i.Severity == SeverityError || i.Severity == SeverityFatal
}

// IsWarning returns true if this is a warning.
func (i Issue) IsWarning() bool {
	return i.Severity == SeverityWarning
}

// String returns a human-readable representation of the issue.
func (i Issue) String() string {
	var b strings.Builder
	b.WriteString(string(i.Severity))
	if i.Rule != "" {
		b.WriteString(" [")
		b.WriteString(i.Rule)
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(i.Diagnostics)
	if i.Path != "" {
		b.WriteString(" at ")
		b.WriteString(i.Path)
	}
	return b.String()
}

// Downgrade returns a copy of the issue with error or fatal severity
// lowered to warning.
func (i Issue) Downgrade() Issue {
	if i.IsError() {
		i.Severity = SeverityWarning
	}
	return i
}

func (i Issue) key() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s", i.Path, i.Severity, i.Rule, i.Code, i.Target, i.Diagnostics)
}

// less is the stable issue order: path, severity (most severe first),
// rule id, then diagnostics.
func (i Issue) less(o Issue) bool {
	if i.Path != o.Path {
		return i.Path < o.Path
	}
	if i.Severity.Rank() != o.Severity.Rank() {
		return i.Severity.Rank() < o.Severity.Rank()
	}
	if i.Rule != o.Rule {
		return i.Rule < o.Rule
	}
	if i.Target != o.Target {
		return i.Target < o.Target
	}
	return i.Diagnostics < o.Diagnostics
}

// SortIssues sorts issues in place by path, severity, rule id.
func SortIssues(issues []Issue) {
	sort.SliceStable(issues, func(a, b int) bool {
		return issues[a].less(issues[b])
	})
}

// NormalizeIssues removes exact duplicates and returns the remaining
// issues in stable order. The input slice is not modified.
func NormalizeIssues(issues []Issue) []Issue {
	if len(issues) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(issues))
	out := make([]Issue, 0, len(issues))
	for _, is := range issues {
		k := is.key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, is)
	}
	SortIssues(out)
	return out
}

// CountBySeverity returns how many issues carry the given severity.
func CountBySeverity(issues []Issue, severity IssueSeverity) int {
	n := 0
	for _, is := range issues {
		if is.Severity == severity {
			n++
		}
	}
	return n
}

// IssueBuilder provides a fluent API for building issues.
type IssueBuilder struct {
	issue Issue
}

// NewIssue creates a new IssueBuilder.
func NewIssue(severity IssueSeverity, code IssueType) *IssueBuilder {
	return &IssueBuilder{
		issue: Issue{
			Severity: severity,
			Code:     code,
		},
	}
}

// Fatal creates a fatal issue.
func Fatal(code IssueType) *IssueBuilder {
	return NewIssue(SeverityFatal, code)
}

// Error creates an error issue.
func Error(code IssueType) *IssueBuilder {
	return NewIssue(SeverityError, code)
}

// Warning creates a warning issue.
func Warning(code IssueType) *IssueBuilder {
	return NewIssue(SeverityWarning, code)
}

// Info creates an informational issue.
func Info(code IssueType) *IssueBuilder {
	return NewIssue(SeverityInformation, code)
}

// Diagnostics sets the diagnostic message.
func (b *IssueBuilder) Diagnostics(msg string) *IssueBuilder {
	b.issue.Diagnostics = msg
	return b
}

// Diagnosticf sets a formatted diagnostic message.
func (b *IssueBuilder) Diagnosticf(format string, args ...any) *IssueBuilder {
	b.issue.Diagnostics = fmt.Sprintf(format, args...)
	return b
}

// At sets the element path.
func (b *IssueBuilder) At(path string) *IssueBuilder {
	b.issue.Path = path
	return b
}

// Phase sets the stage.
func (b *IssueBuilder) Phase(phase string) *IssueBuilder {
	b.issue.Phase = phase
	return b
}

// Rule sets the rule identifier.
func (b *IssueBuilder) Rule(id string) *IssueBuilder {
	b.issue.Rule = id
	return b
}

// Target sets the target generation.
func (b *IssueBuilder) Target(g Generation) *IssueBuilder {
	b.issue.Target = g
	return b
}

// Build returns the constructed issue.
func (b *IssueBuilder) Build() Issue {
	return b.issue
}
