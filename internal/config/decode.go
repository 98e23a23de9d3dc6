package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Decode parses config bytes. Files ending in .yaml or .yml are YAML,
// anything else is JSON. Both go through the same strict JSON decoder, so
// unknown keys and trailing data are errors in either format. Defaults are
// filled in.
func Decode(path string, b []byte) (*Config, error) {
	if isYAML(path) {
		j, err := yamlToJSON(b)
		if err != nil {
			return nil, err
		}
		b = j
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(new(json.RawMessage)); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid config: trailing data")
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// yamlToJSON accepts exactly one YAML document. An empty file is an empty
// object.
func yamlToJSON(b []byte) ([]byte, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	var doc any
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return []byte("{}"), nil
		}
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if err := dec.Decode(new(any)); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("yaml: config must be a single document")
	}
	j, err := json.Marshal(jsonable(doc))
	if err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	return j, nil
}

// jsonable rewrites non-string map keys, which encoding/json rejects.
func jsonable(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			x[k] = jsonable(e)
		}
		return x
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[fmt.Sprint(k)] = jsonable(e)
		}
		return out
	case []any:
		for i, e := range x {
			x[i] = jsonable(e)
		}
		return x
	}
	return v
}

// ParseDurationField parses an optional non-negative duration at path.
// Empty means 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	return ParseDurationOrDefault(path, raw, 0)
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q", path, raw)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	case d == 0:
		return def, nil
	}
	return d, nil
}
