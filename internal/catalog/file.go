package catalog

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Sites Catalog `yaml:"sites"`
}

// LoadFile reads a catalog from a YAML (or JSON) file. The document is either a
// top-level list of sites or a mapping with a "sites" list.
func LoadFile(path string) (Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	cat, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return cat, nil
}

// Parse decodes and validates a catalog document.
func Parse(raw []byte) (Catalog, error) {
	var cat Catalog
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' || bytes.HasPrefix(trimmed, []byte("-")) {
		if err := yaml.Unmarshal(trimmed, &cat); err != nil {
			return nil, fmt.Errorf("decode catalog: %w", err)
		}
	} else {
		var doc catalogFile
		if err := yaml.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("decode catalog: %w", err)
		}
		cat = doc.Sites
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return cat, nil
}
