package workflow

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultDefinitions []byte

// ParseDefinitionsYAML decodes catalog definitions from YAML/JSON bytes. The
// result is not validated; callers merge overrides first and validate once.
func ParseDefinitionsYAML(data []byte) (Definitions, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Definitions{}, fmt.Errorf("workflow: definitions payload is empty")
	}
	var defs Definitions
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return Definitions{}, fmt.Errorf("workflow: decode definitions: %w", err)
	}
	return defs, nil
}

// LoadDefinitionsReader reads catalog definitions from an io.Reader.
func LoadDefinitionsReader(r io.Reader) (Definitions, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return Definitions{}, fmt.Errorf("workflow: read definitions: %w", err)
	}
	return ParseDefinitionsYAML(content)
}

// DefaultDefinitions returns the built-in worker profiles and chains.
func DefaultDefinitions() Definitions {
	defs, err := ParseDefinitionsYAML(defaultDefinitions)
	if err != nil {
		panic(fmt.Sprintf("workflow: embedded defaults: %v", err))
	}
	return defs
}

// DefaultCatalog compiles the built-in definitions.
func DefaultCatalog() *Catalog {
	cat, err := DefaultDefinitions().Compile()
	if err != nil {
		panic(fmt.Sprintf("workflow: embedded defaults: %v", err))
	}
	return cat
}

// LoadCatalog compiles the built-in definitions merged with an optional
// override file. A missing override file is not an error.
func LoadCatalog(overridePath string) (*Catalog, error) {
	defs := DefaultDefinitions()
	if overridePath != "" {
		content, err := os.ReadFile(overridePath)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("workflow: read %s: %w", overridePath, err)
		default:
			overlay, parseErr := ParseDefinitionsYAML(content)
			if parseErr != nil {
				return nil, fmt.Errorf("workflow: %s: %w", overridePath, parseErr)
			}
			defs = defs.Merge(overlay)
		}
	}
	cat, err := defs.Compile()
	if err != nil {
		if overridePath != "" {
			return nil, fmt.Errorf("workflow: %s: %w", overridePath, err)
		}
		return nil, err
	}
	return cat, nil
}
