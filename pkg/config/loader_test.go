package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoad_DefaultOnly(t *testing.T) {
	dir := t.TempDir()
	defaultPath := filepath.Join(dir, "config.yaml")
	writeFile(t, defaultPath, `
server:
  ip: 0.0.0.0
  port: 8765
log:
  level: info
  log_dir: tmp
selected_module:
  ASR: volcano
  LLM: openai
  TTS: volcano
  VAD: silero
`)

	cfg, err := Load(defaultPath, filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8765 {
		t.Errorf("expected port 8765, got %d", cfg.Server.Port)
	}
	if cfg.SelectedModule.ASR != "volcano" {
		t.Errorf("expected ASR=volcano, got %s", cfg.SelectedModule.ASR)
	}
}

func TestLoad_OverrideMergesOverDefault(t *testing.T) {
	dir := t.TempDir()
	defaultPath := filepath.Join(dir, "config.yaml")
	overridePath := filepath.Join(dir, ".config.yaml")

	writeFile(t, defaultPath, `
server:
  ip: 0.0.0.0
  port: 8765
log:
  level: info
  log_dir: tmp
selected_module:
  ASR: volcano
ASR:
  volcano:
    appid: default-app
    cluster: volcano_asr
`)
	writeFile(t, overridePath, `
server:
  port: 9000
ASR:
  volcano:
    appid: real-app
`)

	cfg, err := Load(defaultPath, overridePath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected override port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Server.IP != "0.0.0.0" {
		t.Errorf("expected default ip to survive merge, got %s", cfg.Server.IP)
	}

	block, ok := cfg.Provider(cfg.ASR, "volcano")
	if !ok {
		t.Fatalf("expected volcano ASR block to exist")
	}
	if block.String("appid", "") != "real-app" {
		t.Errorf("expected override appid, got %s", block.String("appid", ""))
	}
	if block.String("cluster", "") != "volcano_asr" {
		t.Errorf("expected default cluster to survive nested merge, got %s", block.String("cluster", ""))
	}
}

func TestLoad_MissingDefaultIsError(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "absent.yaml"), ""); err == nil {
		t.Fatal("expected error for missing default config")
	}
}

func TestLoad_CreatesLogDirectory(t *testing.T) {
	dir := t.TempDir()
	defaultPath := filepath.Join(dir, "config.yaml")
	logDir := filepath.Join(dir, "logs")
	writeFile(t, defaultPath, `
log:
  log_dir: `+logDir+`
`)

	if _, err := Load(defaultPath, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info, err := os.Stat(logDir); err != nil || !info.IsDir() {
		t.Fatalf("expected log dir to be created at %s", logDir)
	}
}
