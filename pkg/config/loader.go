package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/lokutor-ai/lokutor-gateway/pkg/gateway"
)

// Load reads defaultPath, then deep-merges overridePath on top of it if
// overridePath exists (§6 — a machine-local override layered over the
// checked-in default, same two-file split as the reference system).
func Load(defaultPath, overridePath string) (*Config, error) {
	base, err := readYAML(defaultPath)
	if err != nil {
		return nil, gateway.NewError(gateway.KindConfig, fmt.Errorf("read default config %s: %w", defaultPath, err))
	}

	if overridePath != "" {
		if _, err := os.Stat(overridePath); err == nil {
			override, err := readYAML(overridePath)
			if err != nil {
				return nil, gateway.NewError(gateway.KindConfig, fmt.Errorf("read override config %s: %w", overridePath, err))
			}
			base = deepMerge(base, override)
		}
	}

	raw, err := yaml.Marshal(base)
	if err != nil {
		return nil, gateway.NewError(gateway.KindConfig, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, gateway.NewError(gateway.KindConfig, fmt.Errorf("unmarshal merged config: %w", err))
	}

	if err := ensureDirectories(&cfg); err != nil {
		return nil, gateway.NewError(gateway.KindConfig, err)
	}

	return &cfg, nil
}

func readYAML(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// deepMerge recursively overlays override on top of base, replacing scalar
// and list values wholesale but merging nested maps key by key.
func deepMerge(base, override map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		if overrideMap, ok := v.(map[string]interface{}); ok {
			if baseMap, ok := merged[k].(map[string]interface{}); ok {
				merged[k] = deepMerge(baseMap, overrideMap)
				continue
			}
		}
		merged[k] = v
	}
	return merged
}

// ensureDirectories creates the log directory, the data/ and data/bin/
// directories (§ Filesystem side effects — provisioned unconditionally,
// independent of whether vision/OTA upload is implemented), and any
// provider-declared output_dir paths before the gateway starts writing to
// them.
func ensureDirectories(cfg *Config) error {
	logDir := cfg.Log.LogDir
	if logDir == "" {
		logDir = "tmp"
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}

	if err := os.MkdirAll("data", 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join("data", "bin"), 0o755); err != nil {
		return err
	}

	for _, family := range []map[string]ProviderBlock{cfg.ASR, cfg.TTS} {
		for _, block := range family {
			if dir := block.String("output_dir", ""); dir != "" {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
		}
	}

	return nil
}
