package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// decode parses a config file body. YAML files (.yaml/.yml) are first
// converted to JSON so both formats share the strict decoder: unknown keys
// and trailing documents are errors.
func decode(path string, body []byte) (*Config, error) {
	name := filepath.Base(path)
	if isYAML(path) {
		var err error
		if body, err = yamlToJSON(body); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errors.New("trailing data after config object")
		}
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return &cfg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func yamlToJSON(body []byte) ([]byte, error) {
	var tree any
	if err := yaml.Unmarshal(body, &tree); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if tree == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(jsonTree(tree))
}

// jsonTree makes a decoded YAML tree JSON-marshalable; yaml.v3 yields
// map[any]any for non-string keys.
func jsonTree(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = jsonTree(val)
		}
		return out
	case map[string]any:
		for k, val := range t {
			t[k] = jsonTree(val)
		}
	case []any:
		for i, val := range t {
			t[i] = jsonTree(val)
		}
	}
	return v
}
