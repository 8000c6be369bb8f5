package terminology

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofhir/fhir/r4"
)

// LoadStats contains statistics about terminology loading.
type LoadStats struct {
	CodeSystemsLoaded int
	Skipped           int
	Errors            int
}

func (s *LoadStats) add(o *LoadStats) {
	s.CodeSystemsLoaded += o.CodeSystemsLoaded
	s.Skipped += o.Skipped
	s.Errors += o.Errors
}

// LoadJSON loads a CodeSystem or the CodeSystems of a Bundle. Other
// resource types in a Bundle are skipped.
func (m *Memory) LoadJSON(data []byte) (*LoadStats, error) {
	var header struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	stats := &LoadStats{}
	switch header.ResourceType {
	case "Bundle":
		var b bundle
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("failed to parse Bundle: %w", err)
		}
		for _, entry := range b.Entry {
			if len(entry.Resource) == 0 {
				continue
			}
			sub, err := m.LoadJSON(entry.Resource)
			if err != nil {
				stats.Errors++
				continue
			}
			stats.add(sub)
		}
	case "CodeSystem":
		var cs r4.CodeSystem
		if err := json.Unmarshal(data, &cs); err != nil {
			return nil, fmt.Errorf("failed to parse CodeSystem: %w", err)
		}
		if err := m.LoadR4CodeSystem(&cs); err != nil {
			stats.Errors++
			return stats, err
		}
		stats.CodeSystemsLoaded++
	default:
		stats.Skipped++
	}
	return stats, nil
}

// LoadDirectory loads every *.json file in dir (not recursive).
func (m *Memory) LoadDirectory(dir string) (*LoadStats, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	stats := &LoadStats{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			stats.Errors++
			continue
		}
		sub, err := m.LoadJSON(data)
		if err != nil {
			stats.Errors++
			continue
		}
		stats.add(sub)
	}
	return stats, nil
}

type bundle struct {
	Entry []struct {
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
}
