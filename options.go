package kindling

import (
	"runtime"
	"time"
)

// Option configures a pipeline run.
type Option func(*Options)

// Options holds all configuration for a run.
type Options struct {
	// Targets are the generations every loaded definition is converted to.
	Targets []Generation

	// Validation flags
	ValidateConverted   bool
	ValidateConstraints bool
	StrictMode          bool

	// Performance
	Concurrency         int
	CollaboratorTimeout time.Duration
	MaxIssues           int

	// Cache sizes
	ExpressionCacheSize int
	TerminologyCacheTTL time.Duration
}

// DefaultOptions returns the default configuration.
func DefaultOptions() *Options {
	return &Options{
		ValidateConverted:   true,
		ValidateConstraints: true,

		Concurrency:         runtime.NumCPU(),
		CollaboratorTimeout: 2 * time.Second,
		MaxIssues:           0, // unlimited

		ExpressionCacheSize: 2000,
		TerminologyCacheTTL: 10 * time.Minute,
	}
}

// Apply returns DefaultOptions with opts applied in order.
func Apply(opts ...Option) *Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// --- Conversion Options ---

// WithTargets sets the generations each definition is converted to.
// Duplicates are dropped; order is preserved.
func WithTargets(targets ...Generation) Option {
	return func(o *Options) {
		seen := make(map[Generation]bool, len(targets))
		o.Targets = o.Targets[:0:0]
		for _, t := range targets {
			if seen[t] {
				continue
			}
			seen[t] = true
			o.Targets = append(o.Targets, t)
		}
	}
}

// --- Validation Options ---

// WithValidateConverted also validates every converted definition against
// its target generation.
func WithValidateConverted(enable bool) Option {
	return func(o *Options) {
		o.ValidateConverted = enable
	}
}

// WithConstraints enables FHIRPath constraint evaluation in the constraint pass.
func WithConstraints(enable bool) Option {
	return func(o *Options) {
		o.ValidateConstraints = enable
	}
}

// WithStrictMode treats warnings as errors when deciding outcome status.
func WithStrictMode(enable bool) Option {
	return func(o *Options) {
		o.StrictMode = enable
	}
}

// --- Performance Options ---

// WithConcurrency sets the number of workers for conversion and validation.
// Defaults to runtime.NumCPU().
func WithConcurrency(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.Concurrency = n
		}
	}
}

// WithCollaboratorTimeout sets the per-call timeout for terminology lookups.
// Use 0 for no timeout.
func WithCollaboratorTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		if timeout >= 0 {
			o.CollaboratorTimeout = timeout
		}
	}
}

// WithMaxIssues caps the issues kept per definition. Use 0 for unlimited.
func WithMaxIssues(limit int) Option {
	return func(o *Options) {
		if limit >= 0 {
			o.MaxIssues = limit
		}
	}
}

// --- Cache Options ---

// WithExpressionCache sets the compiled FHIRPath expression cache size.
func WithExpressionCache(size int) Option {
	return func(o *Options) {
		if size > 0 {
			o.ExpressionCacheSize = size
		}
	}
}

// WithTerminologyCacheTTL sets how long terminology lookups are cached.
func WithTerminologyCacheTTL(ttl time.Duration) Option {
	return func(o *Options) {
		if ttl > 0 {
			o.TerminologyCacheTTL = ttl
		}
	}
}

// --- Presets ---

// FastOptions skips constraint evaluation and converted-output validation.
func FastOptions() []Option {
	return []Option{
		WithConstraints(false),
		WithValidateConverted(false),
		WithExpressionCache(5000),
	}
}

// StrictOptions enables every check and treats warnings as errors.
func StrictOptions() []Option {
	return []Option{
		WithConstraints(true),
		WithValidateConverted(true),
		WithStrictMode(true),
	}
}
