package kindling

import (
	"sort"
	"time"
)

// State is the state of a pipeline run.
type State string

const (
	StateLoading    State = "loading"
	StateConverting State = "converting"
	StateValidating State = "validating"
	StateComplete   State = "complete"
	StateFailed     State = "failed"
)

// IsTerminal reports whether no further transitions can follow s.
func (s State) IsTerminal() bool {
	return s == StateComplete || s == StateFailed
}

// Status summarises the outcome of a single definition.
type Status string

const (
	// StatusOK means no errors were recorded.
	StatusOK Status = "ok"
	// StatusFailed means at least one error or fatal issue was recorded
	// (or a warning in strict mode).
	StatusFailed Status = "failed"
	// StatusSkipped means the definition never reached the registry or
	// was not processed before cancellation.
	StatusSkipped Status = "skipped"
)

// Artifact is a definition converted to, and serialized for, one target.
type Artifact struct {
	Generation Generation   `json:"generation"`
	Path       []Generation `json:"path"`
	Lossy      bool         `json:"lossy"`
	Data       []byte       `json:"data"`
}

// Outcome collects everything recorded against one definition.
type Outcome struct {
	URL        string           `json:"url"`
	Source     string           `json:"source,omitempty"`
	Generation Generation       `json:"generation,omitempty"`
	Status     Status           `json:"status"`
	Issues     []Issue          `json:"issues,omitempty"`
	Notes      []ConversionNote `json:"notes,omitempty"`
	Artifacts  []Artifact       `json:"artifacts,omitempty"`
}

// HasErrors returns true if any error or fatal issue was recorded.
func (o *Outcome) HasErrors() bool {
	for _, is := range o.Issues {
		if is.IsError() {
			return true
		}
	}
	return false
}

// Artifact returns the artifact for generation g.
func (o *Outcome) Artifact(g Generation) (Artifact, bool) {
	for _, a := range o.Artifacts {
		if a.Generation == g {
			return a, true
		}
	}
	return Artifact{}, false
}

// Finalize normalises the recorded issues and notes and sets Status.
// Skipped outcomes keep their status.
func (o *Outcome) Finalize(strict bool, maxIssues int) {
	o.Issues = NormalizeIssues(o.Issues)
	if maxIssues > 0 && len(o.Issues) > maxIssues {
		o.Issues = o.Issues[:maxIssues]
	}
	sort.SliceStable(o.Artifacts, func(i, j int) bool {
		return o.Artifacts[i].Generation < o.Artifacts[j].Generation
	})
	if o.Status == StatusSkipped {
		return
	}
	o.Status = StatusOK
	for _, is := range o.Issues {
		if is.IsError() || (strict && is.IsWarning()) {
			o.Status = StatusFailed
			return
		}
	}
}

// Report is the result of a pipeline run. A run always produces a report,
// including when it fails.
type Report struct {
	RunID    string              `json:"run_id"`
	State    State               `json:"state"`
	Started  time.Time           `json:"started"`
	Finished time.Time           `json:"finished"`
	Error    string              `json:"error,omitempty"`
	Outcomes map[string]*Outcome `json:"outcomes"`
	Metrics  Snapshot            `json:"metrics"`
}

// URLs returns the outcome keys in sorted order.
func (r *Report) URLs() []string {
	urls := make([]string, 0, len(r.Outcomes))
	for u := range r.Outcomes {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

// Outcome returns the outcome recorded for url.
func (r *Report) Outcome(url string) (*Outcome, bool) {
	o, ok := r.Outcomes[url]
	return o, ok
}

// Diagnostic is one entry of the flattened diagnostics list: either an
// issue or a conversion note.
type Diagnostic struct {
	URL   string          `json:"url"`
	Issue *Issue          `json:"issue,omitempty"`
	Note  *ConversionNote `json:"note,omitempty"`
}

// Path returns the element path of the entry.
func (d Diagnostic) Path() string {
	if d.Issue != nil {
		return d.Issue.Path
	}
	if d.Note != nil {
		return d.Note.Path
	}
	return ""
}

// Diagnostics flattens all issues and notes ordered by URL then path.
// Within a path, issues precede notes and keep their recorded order.
func (r *Report) Diagnostics() []Diagnostic {
	var out []Diagnostic
	for _, url := range r.URLs() {
		o := r.Outcomes[url]
		start := len(out)
		for i := range o.Issues {
			out = append(out, Diagnostic{URL: url, Issue: &o.Issues[i]})
		}
		for i := range o.Notes {
			out = append(out, Diagnostic{URL: url, Note: &o.Notes[i]})
		}
		group := out[start:]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Path() < group[j].Path()
		})
	}
	return out
}

// HasErrors returns true if any outcome holds an error.
func (r *Report) HasErrors() bool {
	for _, o := range r.Outcomes {
		if o.HasErrors() {
			return true
		}
	}
	return false
}

// CountIssues returns the number of issues of the given severity across
// all outcomes.
func (r *Report) CountIssues(severity IssueSeverity) int {
	n := 0
	for _, o := range r.Outcomes {
		n += CountBySeverity(o.Issues, severity)
	}
	return n
}
