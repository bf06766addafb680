// Package config loads the gateway's typed configuration (§6).
package config

// ServerConfig is the transport-level configuration block.
type ServerConfig struct {
	IP            string `yaml:"ip"`
	Port          int    `yaml:"port"`
	HTTPPort      int    `yaml:"http_port"`
	AuthKey       string `yaml:"auth_key"`
	VisionExplain string `yaml:"vision_explain"`
}

// LogConfig configures the zap-backed logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	LogDir string `yaml:"log_dir"`
}

// SelectedModule names which configured provider is active per family.
type SelectedModule struct {
	ASR    string `yaml:"ASR"`
	LLM    string `yaml:"LLM"`
	TTS    string `yaml:"TTS"`
	VAD    string `yaml:"VAD"`
	VLLM   string `yaml:"VLLM"`
	Intent string `yaml:"Intent"`
	Memory string `yaml:"Memory"`
}

// ProviderBlock is one named provider's raw settings, kept untyped since
// each provider family's fields differ (§4.8).
type ProviderBlock map[string]interface{}

// Config is the top-level gateway configuration tree.
type Config struct {
	Server         ServerConfig             `yaml:"server"`
	Log            LogConfig                `yaml:"log"`
	SelectedModule SelectedModule           `yaml:"selected_module"`
	MCPEndpoint    string                   `yaml:"mcp_endpoint"`
	ASR            map[string]ProviderBlock `yaml:"ASR"`
	LLM            map[string]ProviderBlock `yaml:"LLM"`
	VLLM           map[string]ProviderBlock `yaml:"VLLM"`
	TTS            map[string]ProviderBlock `yaml:"TTS"`
	VAD            map[string]ProviderBlock `yaml:"VAD"`
	Intent         map[string]ProviderBlock `yaml:"Intent"`
	Memory         map[string]ProviderBlock `yaml:"Memory"`
}

// Provider looks up one named provider block within a family, e.g.
// cfg.Provider(cfg.ASR, cfg.SelectedModule.ASR).
func (c *Config) Provider(family map[string]ProviderBlock, name string) (ProviderBlock, bool) {
	if family == nil {
		return nil, false
	}
	block, ok := family[name]
	return block, ok
}

func (b ProviderBlock) String(key, fallback string) string {
	if v, ok := b[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

func (b ProviderBlock) Int(key string, fallback int) int {
	if v, ok := b[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return fallback
}

func (b ProviderBlock) Float(key string, fallback float64) float64 {
	if v, ok := b[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return fallback
}
