// Package registry provides the definition registry: canonical URL to
// Definition, plus an index of the types the definitions declare.
//
// A Registry is filled during loading and frozen afterwards. Once frozen
// it is read-only and reads take no lock.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofhir/kindling/model"
)

var (
	// ErrDuplicate is returned by Add when the URL is already registered.
	ErrDuplicate = errors.New("duplicate definition")
	// ErrFrozen is returned by Add after Freeze.
	ErrFrozen = errors.New("registry is frozen")
)

// Registry holds loaded definitions indexed by URL.
type Registry struct {
	mu     sync.RWMutex
	frozen atomic.Bool

	byURL  map[string]*model.Definition
	byType map[string]*model.Definition // base types like "Patient", "HumanName"
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byURL:  make(map[string]*model.Definition),
		byType: make(map[string]*model.Definition),
	}
}

// Add registers def. The first definition of a type that is not a
// constraint (profile) becomes the type's base definition.
func (r *Registry) Add(def *model.Definition) error {
	if def == nil {
		return errors.New("nil definition")
	}
	if r.frozen.Load() {
		return fmt.Errorf("add %s: %w", def.URL(), ErrFrozen)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	url := stripVersion(def.URL())
	if _, exists := r.byURL[url]; exists {
		return fmt.Errorf("%s: %w", def.URL(), ErrDuplicate)
	}
	r.byURL[url] = def

	if def.Type() != "" && def.Derivation() != "constraint" {
		if _, exists := r.byType[def.Type()]; !exists {
			r.byType[def.Type()] = def
		}
	}
	return nil
}

// Freeze makes the registry read-only. It is idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen.Store(true)
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

func (r *Registry) rlock() func() {
	if r.frozen.Load() {
		return func() {}
	}
	r.mu.RLock()
	return r.mu.RUnlock
}

// Get returns the definition with the given canonical URL. A "|version"
// suffix is ignored.
func (r *Registry) Get(url string) (*model.Definition, bool) {
	if r == nil {
		return nil, false
	}
	defer r.rlock()()
	def, ok := r.byURL[stripVersion(url)]
	return def, ok
}

// ByType returns the base definition of a type (e.g. "Patient", "HumanName").
func (r *Registry) ByType(typeName string) (*model.Definition, bool) {
	if r == nil {
		return nil, false
	}
	defer r.rlock()()
	def, ok := r.byType[typeName]
	return def, ok
}

// Len returns the number of registered definitions.
func (r *Registry) Len() int {
	defer r.rlock()()
	return len(r.byURL)
}

// URLs returns every registered URL in sorted order.
func (r *Registry) URLs() []string {
	defer r.rlock()()
	urls := make([]string, 0, len(r.byURL))
	for url := range r.byURL {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls
}

// Types returns every indexed type name in sorted order.
func (r *Registry) Types() []string {
	defer r.rlock()()
	types := make([]string, 0, len(r.byType))
	for t := range r.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// InheritsFrom reports whether def is baseURL or derives from it through
// registered base definitions. Unregistered links end the chain.
func (r *Registry) InheritsFrom(def *model.Definition, baseURL string) bool {
	baseURL = stripVersion(baseURL)
	seen := make(map[string]bool)
	for def != nil {
		url := stripVersion(def.URL())
		if url == baseURL {
			return true
		}
		if seen[url] {
			return false
		}
		seen[url] = true
		next := stripVersion(def.BaseDefinition())
		if next == "" {
			return false
		}
		if next == baseURL {
			return true
		}
		def, _ = r.Get(next)
	}
	return false
}

// CoreURL returns the canonical URL of a core type definition.
func CoreURL(typeName string) string {
	return "http://hl7.org/fhir/StructureDefinition/" + typeName
}

func stripVersion(url string) string {
	if i := strings.LastIndexByte(url, '|'); i >= 0 {
		return url[:i]
	}
	return url
}
