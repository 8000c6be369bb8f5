package terminology

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gofhir/fhir/r4"
)

// ErrNotFound means the code system or the code is unknown to the resolver.
var ErrNotFound = errors.New("terminology: not found")

// Resolution describes a resolved code.
type Resolution struct {
	System  string
	Code    string
	Display string
}

// Resolver looks codes up in code systems. Implementations must be safe for
// concurrent use and honour context cancellation.
type Resolver interface {
	// ResolveBinding returns the resolution of code in system, or an error
	// wrapping ErrNotFound.
	ResolveBinding(ctx context.Context, system, code string) (*Resolution, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, system, code string) (*Resolution, error)

// ResolveBinding implements Resolver.
func (f ResolverFunc) ResolveBinding(ctx context.Context, system, code string) (*Resolution, error) {
	return f(ctx, system, code)
}

// Memory implements Resolver over code systems held in memory.
type Memory struct {
	mu      sync.RWMutex
	systems map[string]*codeSystem
}

type codeSystem struct {
	url   string
	codes map[string]string // code -> display
}

// NewMemory creates a resolver seeded with common FHIR code systems.
func NewMemory() *Memory {
	m := NewEmptyMemory()
	m.loadCommonCodeSystems()
	return m
}

// NewEmptyMemory creates a resolver with no code systems.
func NewEmptyMemory() *Memory {
	return &Memory{systems: make(map[string]*codeSystem)}
}

// LoadR4CodeSystem adds (or replaces) a code system, nested concepts
// included.
func (m *Memory) LoadR4CodeSystem(cs *r4.CodeSystem) error {
	if cs == nil || cs.Url == nil {
		return fmt.Errorf("codesystem is nil or has no URL")
	}
	data := &codeSystem{url: *cs.Url, codes: make(map[string]string)}
	extractConcepts(cs.Concept, data)

	m.mu.Lock()
	m.systems[data.url] = data
	m.mu.Unlock()
	return nil
}

func extractConcepts(concepts []r4.CodeSystemConcept, cs *codeSystem) {
	for i := range concepts {
		concept := &concepts[i]
		if concept.Code == nil {
			continue
		}
		display := ""
		if concept.Display != nil {
			display = *concept.Display
		}
		cs.codes[*concept.Code] = display
		if len(concept.Concept) > 0 {
			extractConcepts(concept.Concept, cs)
		}
	}
}

// AddCodeSystem adds a code system from a code -> display map.
func (m *Memory) AddCodeSystem(url string, codes map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addCodeSystem(url, codes)
}

func (m *Memory) addCodeSystem(url string, codes map[string]string) {
	data := &codeSystem{url: url, codes: make(map[string]string, len(codes))}
	for code, display := range codes {
		data.codes[code] = display
	}
	m.systems[url] = data
}

// ResolveBinding implements Resolver.
func (m *Memory) ResolveBinding(ctx context.Context, system, code string) (*Resolution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	system = stripVersionFromURL(system)

	m.mu.RLock()
	defer m.mu.RUnlock()
	cs, ok := m.systems[system]
	if !ok {
		return nil, fmt.Errorf("code system %s: %w", system, ErrNotFound)
	}
	display, ok := cs.codes[code]
	if !ok {
		return nil, fmt.Errorf("code %q in %s: %w", code, system, ErrNotFound)
	}
	return &Resolution{System: system, Code: code, Display: display}, nil
}

// Systems returns the URLs of the loaded code systems, sorted.
func (m *Memory) Systems() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.systems))
	for url := range m.systems {
		out = append(out, url)
	}
	sort.Strings(out)
	return out
}

// stripVersionFromURL removes the version suffix from a canonical URL
// ("url|version").
func stripVersionFromURL(url string) string {
	if idx := strings.LastIndex(url, "|"); idx != -1 {
		return url[:idx]
	}
	return url
}

var _ Resolver = (*Memory)(nil)
