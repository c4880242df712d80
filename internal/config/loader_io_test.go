package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSaveRoundTripsThroughLoad(t *testing.T) {
	tmpDir := t.TempDir()
	origHome := os.Getenv("HOME")
	origAstraHome := os.Getenv("ASTRA_HOME")
	defer os.Setenv("HOME", origHome)
	defer os.Setenv("ASTRA_HOME", origAstraHome)
	_ = os.Setenv("HOME", tmpDir)
	_ = os.Unsetenv("ASTRA_HOME")

	cfg := DefaultConfig()
	cfg.Model.Name = "saved-model"
	cfg.Quota.DailyLimit = 42
	if err := Save(cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}

	path, err := ConfigPath()
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("saved config file missing: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 config file, got %v", info.Mode().Perm())
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("load saved config: %v", err)
	}
	if loaded.Model.Name != "saved-model" || loaded.Quota.DailyLimit != 42 {
		t.Fatalf("saved values not loaded: model=%q quota=%d", loaded.Model.Name, loaded.Quota.DailyLimit)
	}
}

func TestSaveOmitsEmptyAuthToken(t *testing.T) {
	tmpDir := t.TempDir()
	origHome := os.Getenv("HOME")
	defer os.Setenv("HOME", origHome)
	_ = os.Setenv("HOME", tmpDir)

	if err := Save(DefaultConfig()); err != nil {
		t.Fatalf("save config: %v", err)
	}
	path, _ := ConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if _, ok := raw["gateway"]["authToken"]; ok {
		t.Fatalf("expected empty auth token omitted, got %v", raw["gateway"])
	}
}

func TestLoadInvalidJSONNamesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, ConfigDir)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	cfgPath := filepath.Join(configDir, ConfigFile)
	if err := os.WriteFile(cfgPath, []byte(`{"pipeline":`), 0o600); err != nil {
		t.Fatalf("write invalid config: %v", err)
	}

	origHome := os.Getenv("HOME")
	defer os.Setenv("HOME", origHome)
	_ = os.Setenv("HOME", tmpDir)

	_, err := Load()
	if err == nil {
		t.Fatal("expected JSON error, got nil")
	}
	if !strings.Contains(err.Error(), cfgPath) {
		t.Fatalf("expected error to name %s, got %v", cfgPath, err)
	}
}

func TestSubstituteEnvValuesLeavesUnknownToken(t *testing.T) {
	out := substituteEnvValues(map[string]any{"apiKey": "${ASTRA_NOT_SET_VAR}"}).(map[string]any)
	if out["apiKey"] != "${ASTRA_NOT_SET_VAR}" {
		t.Fatalf("expected unknown env token unchanged, got %v", out["apiKey"])
	}
}
