package config

import (
	"os"
	"path/filepath"
	"testing"
)

// setenvs sets each variable and restores the previous state on cleanup.
func setenvs(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		orig, had := os.LookupEnv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, orig)
			} else {
				os.Unsetenv(k)
			}
		})
		if v == "" {
			os.Unsetenv(k)
		} else {
			os.Setenv(k, v)
		}
	}
}

func TestAstraHomeRootsStoreAndAuditPaths(t *testing.T) {
	astraHome := t.TempDir()
	setenvs(t, map[string]string{
		"HOME":                 t.TempDir(),
		"ASTRA_HOME":           astraHome,
		"ASTRA_CONFIG":         "",
		"ASTRA_ENV_FILE":       "",
		"ASTRA_PATHS_DATABASE": "",
	})

	dir := filepath.Join(astraHome, ConfigDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	cfgJSON := `{
		"paths": {"capabilities": "~/.astra/capabilities.json"},
		"audit": {"chainFile": "~/.astra/audit.chain"}
	}`
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte(cfgJSON), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if want := filepath.Join(astraHome, ".astra", "astra.db"); cfg.Paths.Database != want {
		t.Errorf("database = %q, want %q", cfg.Paths.Database, want)
	}
	if want := filepath.Join(astraHome, ".astra", "capabilities.json"); cfg.Paths.Capabilities != want {
		t.Errorf("capabilities = %q, want %q", cfg.Paths.Capabilities, want)
	}
	if want := filepath.Join(astraHome, ".astra", "audit.chain"); cfg.Audit.ChainFile != want {
		t.Errorf("chain file = %q, want %q", cfg.Audit.ChainFile, want)
	}
	if cfg.Audit.KafkaTopic != "astra.audit" {
		t.Errorf("kafka topic = %q, want default astra.audit", cfg.Audit.KafkaTopic)
	}
}

func TestAstraHomeEnvFileOverridesLimits(t *testing.T) {
	astraHome := t.TempDir()
	setenvs(t, map[string]string{
		"HOME":                             t.TempDir(),
		"ASTRA_HOME":                       astraHome,
		"ASTRA_CONFIG":                     "",
		"ASTRA_ENV_FILE":                   "",
		"ASTRA_RATELIMIT_VOICE_PER_MINUTE": "",
		"ASTRA_QUOTA_DAILY_LIMIT":          "",
	})

	dir := filepath.Join(astraHome, ConfigDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	cfgJSON := `{
		"rateLimit": {"enabled": true, "textPerMinute": 20, "voicePerMinute": 10},
		"quota": {"enabled": true, "dailyLimit": 50}
	}`
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte(cfgJSON), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	// A zero quota would block every GPU request; it falls back to the default.
	env := "ASTRA_RATELIMIT_VOICE_PER_MINUTE=3\nASTRA_QUOTA_DAILY_LIMIT=0\n"
	if err := os.WriteFile(filepath.Join(dir, "env"), []byte(env), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RateLimit.TextPerMinute != 20 {
		t.Errorf("text per minute = %d, want 20 from config file", cfg.RateLimit.TextPerMinute)
	}
	if cfg.RateLimit.VoicePerMinute != 3 {
		t.Errorf("voice per minute = %d, want 3 from env file", cfg.RateLimit.VoicePerMinute)
	}
	if cfg.Quota.DailyLimit != 100 {
		t.Errorf("daily limit = %d, want default 100", cfg.Quota.DailyLimit)
	}
}

func TestConfigPathExpandsAgainstAstraHome(t *testing.T) {
	setenvs(t, map[string]string{
		"ASTRA_HOME":   "/srv/astra",
		"ASTRA_CONFIG": "~/profiles/clinic.json",
	})

	path, err := ConfigPath()
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	if want := filepath.Join("/srv/astra", "profiles", "clinic.json"); path != want {
		t.Fatalf("config path = %q, want %q", path, want)
	}
}
