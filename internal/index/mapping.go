package index

import (
	"fmt"
	"os"
)

// Mapping is the body of a create index request: index settings plus the
// field mappings.
type Mapping struct {
	Settings map[string]any `json:"settings,omitempty"`
	Mappings map[string]any `json:"mappings,omitempty"`
}

// ReferenceMapping returns the default schema: a single shard without
// replicas, a free text "name" with an exact match "keyword" sub-field, an
// integer "age" and a "created_at" timestamp.
func ReferenceMapping() Mapping {
	return Mapping{
		Settings: map[string]any{
			"number_of_shards":   1,
			"number_of_replicas": 0,
		},
		Mappings: map[string]any{
			"properties": map[string]any{
				"name": map[string]any{
					"type": "text",
					"fields": map[string]any{
						"keyword": map[string]any{"type": "keyword"},
					},
				},
				"age":        map[string]any{"type": "integer"},
				"created_at": map[string]any{"type": "date"},
			},
		},
	}
}

// LoadMapping reads a mapping from a JSON file holding "settings" and/or
// "mappings". An empty path yields ReferenceMapping.
func LoadMapping(path string) (Mapping, error) {
	if path == "" {
		return ReferenceMapping(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Mapping{}, fmt.Errorf("failed to read mapping file: %w", err)
	}

	var m Mapping
	if err := json.Unmarshal(data, &m); err != nil {
		return Mapping{}, fmt.Errorf("failed to parse mapping file %s: %w", path, err)
	}
	if m.Settings == nil && m.Mappings == nil {
		return Mapping{}, fmt.Errorf("mapping file %s has neither settings nor mappings", path)
	}
	return m, nil
}
