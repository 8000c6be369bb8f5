package kindling

import (
	"testing"
)

func TestIssue_IsError(t *testing.T) {
	tests := []struct {
		severity IssueSeverity
		want     bool
	}{
		{SeverityFatal, true},
		{SeverityError, true},
		{SeverityWarning, false},
		{SeverityInformation, false},
	}

	for _, tt := range tests {
		issue := Issue{Severity: tt.severity}
		if got := issue.IsError(); got != tt.want {
			t.Errorf("Issue{Severity: %s}.IsError() = %v; want %v", tt.severity, got, tt.want)
		}
	}
}

func TestIssue_String(t *testing.T) {
	tests := []struct {
		issue Issue
		want  string
	}{
		{
			issue: Issue{Severity: SeverityError, Diagnostics: "Invalid value"},
			want:  "error: Invalid value",
		},
		{
			issue: Issue{
				Severity:    SeverityWarning,
				Diagnostics: "base not loaded",
				Path:        "Patient",
				Rule:        "base-resolve",
			},
			want: "warning [base-resolve]: base not loaded at Patient",
		},
	}

	for _, tt := range tests {
		if got := tt.issue.String(); got != tt.want {
			t.Errorf("Issue.String() = %q; want %q", got, tt.want)
		}
	}
}

func TestIssue_Downgrade(t *testing.T) {
	tests := []struct {
		in   IssueSeverity
		want IssueSeverity
	}{
		{SeverityFatal, SeverityWarning},
		{SeverityError, SeverityWarning},
		{SeverityWarning, SeverityWarning},
		{SeverityInformation, SeverityInformation},
	}
	for _, tt := range tests {
		got := Issue{Severity: tt.in}.Downgrade().Severity
		if got != tt.want {
			t.Errorf("Downgrade(%s) = %s; want %s", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeIssues(t *testing.T) {
	in := []Issue{
		{Severity: SeverityWarning, Path: "Patient.name", Rule: "b"},
		{Severity: SeverityError, Path: "Patient.name", Rule: "z"},
		{Severity: SeverityError, Path: "Patient", Rule: "a"},
		{Severity: SeverityError, Path: "Patient.name", Rule: "c"},
		{Severity: SeverityWarning, Path: "Patient.name", Rule: "b"},
	}

	got := NormalizeIssues(in)

	want := []struct {
		path string
		rule string
	}{
		{"Patient", "a"},
		{"Patient.name", "c"},
		{"Patient.name", "z"},
		{"Patient.name", "b"},
	}
	if len(got) != len(want) {
		t.Fatalf("NormalizeIssues() returned %d issues; want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Path != w.path || got[i].Rule != w.rule {
			t.Errorf("issue[%d] = %s/%s; want %s/%s", i, got[i].Path, got[i].Rule, w.path, w.rule)
		}
	}
	if len(in) != 5 {
		t.Error("input slice was modified")
	}
}

func TestNormalizeIssues_Empty(t *testing.T) {
	if got := NormalizeIssues(nil); got != nil {
		t.Errorf("NormalizeIssues(nil) = %v; want nil", got)
	}
}

func TestIssueBuilder(t *testing.T) {
	issue := Error(IssueTypeStructure).
		Diagnosticf("min %d exceeds max %d", 2, 1).
		At("Patient.name").
		Phase(PhaseStructural).
		Rule("struct-card").
		Target(R5).
		Build()

	if issue.Severity != SeverityError {
		t.Errorf("Severity = %s; want error", issue.Severity)
	}
	if issue.Code != IssueTypeStructure {
		t.Errorf("Code = %s; want structure", issue.Code)
	}
	if issue.Diagnostics != "min 2 exceeds max 1" {
		t.Errorf("Diagnostics = %q", issue.Diagnostics)
	}
	if issue.Path != "Patient.name" || issue.Phase != PhaseStructural || issue.Rule != "struct-card" || issue.Target != R5 {
		t.Errorf("unexpected issue %+v", issue)
	}
}

func TestBuilderShortcuts(t *testing.T) {
	tests := []struct {
		b    *IssueBuilder
		want IssueSeverity
	}{
		{Fatal(IssueTypeProcessing), SeverityFatal},
		{Error(IssueTypeValue), SeverityError},
		{Warning(IssueTypeNotFound), SeverityWarning},
		{Info(IssueTypeInvariant), SeverityInformation},
	}
	for _, tt := range tests {
		if got := tt.b.Build().Severity; got != tt.want {
			t.Errorf("Severity = %s; want %s", got, tt.want)
		}
	}
}

func TestCountBySeverity(t *testing.T) {
	issues := []Issue{
		{Severity: SeverityError},
		{Severity: SeverityWarning},
		{Severity: SeverityError},
	}
	if n := CountBySeverity(issues, SeverityError); n != 2 {
		t.Errorf("CountBySeverity(error) = %d; want 2", n)
	}
	if n := CountBySeverity(issues, SeverityFatal); n != 0 {
		t.Errorf("CountBySeverity(fatal) = %d; want 0", n)
	}
}
