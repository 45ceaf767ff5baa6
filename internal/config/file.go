package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileLookup reads a YAML settings file into a LookupFunc. Keys are lowercase
// and dot-separated, nested or flat:
//
//	target:
//	  dsn: postgres://...
//	ai.provider: ollama
//
// Both spellings resolve the key QUERYPILOT_TARGET_DSN / QUERYPILOT_AI_PROVIDER.
func FileLookup(path string) (LookupFunc, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	flat := make(map[string]string)
	flatten("", tree, flat)

	return func(key string) (string, bool) {
		value, ok := flat[fileKey(key)]
		return value, ok
	}, nil
}

func flatten(prefix string, node map[string]any, out map[string]string) {
	for key, value := range node {
		full := strings.ToLower(key)
		if prefix != "" {
			full = prefix + "." + full
		}
		switch typed := value.(type) {
		case map[string]any:
			flatten(full, typed, out)
		case nil:
			out[full] = ""
		default:
			out[full] = fmt.Sprint(typed)
		}
	}
}

// fileKey maps QUERYPILOT_TARGET_DSN to target.dsn.
func fileKey(envKey string) string {
	trimmed := strings.TrimPrefix(envKey, "QUERYPILOT_")
	return strings.ToLower(strings.Replace(trimmed, "_", ".", 1))
}
