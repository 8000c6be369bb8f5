package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofhir/kindling"
)

// Source is one serialized definition handed to a run.
type Source struct {
	// Name identifies the source in diagnostics (usually a file name).
	Name string
	// Generation selects the adapter that parses Data.
	Generation kindling.Generation
	// URL is the canonical URL the source is expected to declare. Empty
	// means whatever the definition declares.
	URL  string
	Data []byte
}

// key returns the outcome key used for the source before it is parsed.
func (s Source) key(index int) string {
	switch {
	case s.URL != "":
		return s.URL
	case s.Name != "":
		return s.Name
	default:
		return fmt.Sprintf("source[%d]", index)
	}
}

// SourcesFromDir reads every StructureDefinition JSON file of a package
// directory, tagging each with gen. A "package" subdirectory is used when
// present. package.json, .index.json and other resource types are skipped.
func SourcesFromDir(dir string, gen kindling.Generation) ([]Source, error) {
	contentDir := dir
	if fi, err := os.Stat(filepath.Join(dir, "package")); err == nil && fi.IsDir() {
		contentDir = filepath.Join(dir, "package")
	}

	entries, err := os.ReadDir(contentDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read package directory: %w", err)
	}

	var sources []Source
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if name == "package.json" || name == ".index.json" {
			continue
		}

		path := filepath.Join(contentDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var head struct {
			ResourceType string `json:"resourceType"`
			URL          string `json:"url"`
		}
		// Unreadable JSON is left for the adapter to report.
		if json.Unmarshal(data, &head) == nil && head.ResourceType != "" && head.ResourceType != "StructureDefinition" {
			continue
		}
		sources = append(sources, Source{Name: name, Generation: gen, URL: head.URL, Data: data})
	}
	return sources, nil
}
