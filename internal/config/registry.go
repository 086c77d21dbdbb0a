package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RegistryFile is the shape of the YAML file operators use to describe known
// spreadsheet tables at startup. Loading it is the one genuinely external
// input this service accepts besides environment variables — everything
// else (the frontend, the LLM standardizer, etc.) is out of scope per
// spec.md's Non-goals, but *something* has to seed the table registry, and
// YAML is how the rest of this repository's config is shaped.
type RegistryFile struct {
	Tables []RegistryTableEntry `yaml:"tables"`
}

// RegistryTableEntry mirrors storage.SheetTableRegistryEntry in a form that
// is convenient to hand-author.
type RegistryTableEntry struct {
	AppToken     string            `yaml:"app_token"`
	TableID      string            `yaml:"table_id"`
	DisplayName  string            `yaml:"display_name"`
	IsDefault    bool              `yaml:"is_default"`
	FieldNameMap map[string]string `yaml:"field_name_map"`
	LabelColumns map[string]string `yaml:"label_columns,omitempty"`
}

// LoadRegistryFile reads and parses a table registry YAML file.
// An empty path is not an error — it means no seed tables are configured and
// the registry starts empty (tables may still be registered at runtime).
func LoadRegistryFile(path string) (*RegistryFile, error) {
	if path == "" {
		return &RegistryFile{}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read registry file %q: %w", path, err)
	}

	var file RegistryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("config: parse registry file %q: %w", path, err)
	}

	defaults := 0

	for _, t := range file.Tables {
		if t.IsDefault {
			defaults++
		}
	}

	if defaults > 1 {
		return nil, fmt.Errorf("config: registry file %q declares %d default tables, at most one is allowed", path, defaults)
	}

	return &file, nil
}
