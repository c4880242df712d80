package config

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// envCandidates lists env files in load order: ASTRA_ENV_FILE first, then
// the XDG-style file, then the one beside config.json.
func envCandidates() []string {
	var out []string
	if explicit := strings.TrimSpace(os.Getenv("ASTRA_ENV_FILE")); explicit != "" {
		if abs, err := filepath.Abs(explicit); err == nil {
			explicit = abs
		}
		out = append(out, explicit)
	}
	if home, err := os.UserHomeDir(); err == nil {
		out = append(out, filepath.Join(home, ".config", "astra", "env"))
	}
	if home, err := resolveHomeDir(); err == nil {
		out = append(out, filepath.Join(home, ConfigDir, "env"))
	}
	return out
}

// LoadEnvFileCandidates applies every env file that exists and returns the
// paths it read. Variables already present in the process environment are
// never overridden, so earlier files win over later ones.
func LoadEnvFileCandidates() []string {
	var loaded []string
	seen := make(map[string]bool)
	for _, path := range envCandidates() {
		if seen[path] {
			continue
		}
		seen[path] = true
		err := loadEnvFile(path)
		switch {
		case err == nil:
			loaded = append(loaded, path)
		case !os.IsNotExist(err):
			slog.Warn("Skipping env file", "path", path, "error", err)
		}
	}
	return loaded
}

func loadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	vars, err := parseEnv(f)
	if err != nil {
		return fmt.Errorf("read env file %s: %w", path, err)
	}
	for _, kv := range vars {
		if _, set := os.LookupEnv(kv[0]); set {
			continue
		}
		_ = os.Setenv(kv[0], kv[1])
	}
	return nil
}

// parseEnv reads KEY=value lines. Blank lines, comments and lines without a
// key are skipped; an optional "export " prefix is accepted.
func parseEnv(r io.Reader) ([][2]string, error) {
	var vars [][2]string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		vars = append(vars, [2]string{key, envValue(strings.TrimSpace(value))})
	}
	return vars, sc.Err()
}

// envValue strips matching quotes. Unquoted values lose a trailing
// " # comment".
func envValue(v string) string {
	if n := len(v); n >= 2 && (v[0] == '"' || v[0] == '\'') && v[n-1] == v[0] {
		return v[1 : n-1]
	}
	if i := strings.Index(v, " #"); i >= 0 {
		v = strings.TrimSpace(v[:i])
	}
	return v
}
