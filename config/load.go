package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

// Load reads every path in order and merges them, later files winning.
// For each name.ext a sibling name.local.ext is merged on top when present.
// Defaults are applied after merging; Validate is left to the caller.
func Load(paths ...string) (*Config, error) {
	var out Config
	for _, p := range paths {
		if err := mergeFile(&out, p, true); err != nil {
			return nil, err
		}
		local := localPath(p)
		if err := mergeFile(&out, local, false); err != nil {
			return nil, err
		}
	}
	out.applyDefaults()
	return &out, nil
}

func mergeFile(dst *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}

	var c Config
	if err := decode(path, data, &c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := mergo.Merge(dst, c, mergo.WithOverride); err != nil {
		return fmt.Errorf("config: merge %s: %w", path, err)
	}
	if !required {
		slog.Info("config: merged local overrides", "local", path)
	}
	return nil
}

func decode(path string, data []byte, v *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, v)
	default:
		return json5.Unmarshal(data, v)
	}
}

// localPath maps dir/name.ext to dir/name.local.ext.
func localPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".local" + ext
}
