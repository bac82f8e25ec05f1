// Package loader reads integration definition files. It supports JSON
// and YAML; YAML is converted to JSON before the tagged-union decoder
// runs, so both formats share one decoding path.
package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/copseworks/forage"
)

// ErrNotFound is returned when the definition file does not exist.
var ErrNotFound = errors.New("definition file not found")

// LoadIntegration reads, decodes, and returns an integration definition
// from a JSON or YAML file. The definition is decoded only; callers run
// Validate when they need the defaults applied and constraints checked.
func LoadIntegration(path string) (*forage.IntegrationDef, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	return ParseIntegration(data, path)
}

// ParseIntegration decodes an integration definition from raw bytes.
// The path is used only to pick the parse format from its extension.
func ParseIntegration(data []byte, path string) (*forage.IntegrationDef, error) {
	jsonData, err := toJSON(data, path)
	if err != nil {
		return nil, err
	}

	var def forage.IntegrationDef
	if err := json.Unmarshal(jsonData, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// toJSON converts YAML content to JSON bytes; JSON passes through as-is.
func toJSON(data []byte, path string) ([]byte, error) {
	if !isYAML(path) {
		return data, nil
	}
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	return json.Marshal(raw)
}

// isYAML returns true if the file path has a YAML extension.
func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
