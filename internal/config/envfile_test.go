package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadEnvFileParsesAndRespectsExistingValues(t *testing.T) {
	tmp := t.TempDir()
	envPath := filepath.Join(tmp, "env")
	content := `
# comment
export FOO=bar
QUOTED="hello world"
SINGLE='x y'
INVALID_LINE
`
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	origFoo := os.Getenv("FOO")
	origQuoted := os.Getenv("QUOTED")
	defer os.Setenv("FOO", origFoo)
	defer os.Setenv("QUOTED", origQuoted)

	_ = os.Setenv("FOO", "existing")
	_ = os.Unsetenv("QUOTED")
	_ = os.Unsetenv("SINGLE")

	if err := loadEnvFile(envPath); err != nil {
		t.Fatalf("load env file: %v", err)
	}

	if got := os.Getenv("FOO"); got != "existing" {
		t.Fatalf("expected existing FOO preserved, got %q", got)
	}
	if got := os.Getenv("QUOTED"); got != "hello world" {
		t.Fatalf("expected QUOTED loaded, got %q", got)
	}
	if got := os.Getenv("SINGLE"); got != "x y" {
		t.Fatalf("expected SINGLE loaded, got %q", got)
	}
}

func TestLoadEnvFileCandidatesFromExplicitPath(t *testing.T) {
	tmp := t.TempDir()
	envPath := filepath.Join(tmp, "astra.env")
	if err := os.WriteFile(envPath, []byte("EXPLICIT_KEY=42\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	origExplicit := os.Getenv("ASTRA_ENV_FILE")
	origKey := os.Getenv("EXPLICIT_KEY")
	defer os.Setenv("ASTRA_ENV_FILE", origExplicit)
	defer os.Setenv("EXPLICIT_KEY", origKey)
	_ = os.Setenv("ASTRA_ENV_FILE", envPath)
	_ = os.Unsetenv("EXPLICIT_KEY")

	LoadEnvFileCandidates()

	if got := os.Getenv("EXPLICIT_KEY"); got != "42" {
		t.Fatalf("expected EXPLICIT_KEY loaded from explicit env file, got %q", got)
	}
}

func TestLoadEnvFileCandidatesReadsHomeConfigDir(t *testing.T) {
	home := t.TempDir()
	envDir := filepath.Join(home, ".config", "astra")
	if err := os.MkdirAll(envDir, 0o700); err != nil {
		t.Fatalf("mkdir env dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(envDir, "env"), []byte("OPENAI_API_KEY=from_env_file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	origHome := os.Getenv("HOME")
	origKey := os.Getenv("OPENAI_API_KEY")
	origExplicit := os.Getenv("ASTRA_ENV_FILE")
	defer os.Setenv("HOME", origHome)
	defer os.Setenv("OPENAI_API_KEY", origKey)
	defer os.Setenv("ASTRA_ENV_FILE", origExplicit)
	_ = os.Setenv("HOME", home)
	_ = os.Unsetenv("OPENAI_API_KEY")
	_ = os.Unsetenv("ASTRA_ENV_FILE")

	LoadEnvFileCandidates()
	if got := os.Getenv("OPENAI_API_KEY"); got != "from_env_file" {
		t.Fatalf("expected OPENAI_API_KEY loaded from env file, got %q", got)
	}

	_ = os.Setenv("OPENAI_API_KEY", "already_set")
	LoadEnvFileCandidates()
	if got := os.Getenv("OPENAI_API_KEY"); got != "already_set" {
		t.Fatalf("expected existing env key preserved, got %q", got)
	}
}

func TestParseEnvHandlesCommentsAndQuotes(t *testing.T) {
	vars, err := parseEnv(strings.NewReader(`
ASTRA_LOG_LEVEL=debug # verbose while testing
ASTRA_GATEWAY_AUTH_TOKEN="tok # not a comment"
=missing-key
export ASTRA_QUOTA_DAILY_LIMIT=5
`))
	if err != nil {
		t.Fatalf("parse env: %v", err)
	}
	want := [][2]string{
		{"ASTRA_LOG_LEVEL", "debug"},
		{"ASTRA_GATEWAY_AUTH_TOKEN", "tok # not a comment"},
		{"ASTRA_QUOTA_DAILY_LIMIT", "5"},
	}
	if len(vars) != len(want) {
		t.Fatalf("expected %d vars, got %v", len(want), vars)
	}
	for i := range want {
		if vars[i] != want[i] {
			t.Fatalf("var %d: expected %v, got %v", i, want[i], vars[i])
		}
	}
}

func TestLoadEnvFileCandidatesReportsLoadedPaths(t *testing.T) {
	tmp := t.TempDir()
	envPath := filepath.Join(tmp, "astra.env")
	if err := os.WriteFile(envPath, []byte("ASTRA_REPORTED_KEY=1\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	origHome := os.Getenv("HOME")
	origExplicit := os.Getenv("ASTRA_ENV_FILE")
	defer os.Setenv("HOME", origHome)
	defer os.Setenv("ASTRA_ENV_FILE", origExplicit)
	defer os.Unsetenv("ASTRA_REPORTED_KEY")
	_ = os.Setenv("HOME", tmp)
	_ = os.Setenv("ASTRA_ENV_FILE", envPath)

	loaded := LoadEnvFileCandidates()
	if len(loaded) != 1 || loaded[0] != envPath {
		t.Fatalf("expected only %s loaded, got %v", envPath, loaded)
	}
}
