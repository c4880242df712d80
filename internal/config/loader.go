package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".astra"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("ASTRA_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := resolveHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

// resolveHomeDir honours ASTRA_HOME before the user's home directory.
func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("ASTRA_HOME")); h != "" {
		if strings.HasPrefix(h, "~") {
			base, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(base, h[1:]), nil
		}
		return h, nil
	}
	return os.UserHomeDir()
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Load process env vars from ~/.config/astra/env (and fallbacks) first.
	if files := LoadEnvFileCandidates(); len(files) > 0 {
		slog.Debug("Loaded env files", "paths", files)
	}

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil // Use defaults if we can't find config path
	}

	data, err := loadResolvedConfig(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	// Override with environment variables for each group
	envconfig.Process("ASTRA_PATHS", &cfg.Paths)
	envconfig.Process("ASTRA_MODEL", &cfg.Model)
	envconfig.Process("ASTRA_PROVIDER", &cfg.Provider)
	envconfig.Process("ASTRA_PIPELINE", &cfg.Pipeline)
	envconfig.Process("ASTRA_RATELIMIT", &cfg.RateLimit)
	envconfig.Process("ASTRA_QUOTA", &cfg.Quota)
	envconfig.Process("ASTRA_MEMORY", &cfg.Memory)
	envconfig.Process("ASTRA_AUDIT", &cfg.Audit)
	envconfig.Process("ASTRA_GATEWAY", &cfg.Gateway)
	envconfig.Process("ASTRA_LOG", &cfg.Log)

	// Fallback for API Key
	if cfg.Provider.APIKey == "" {
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			cfg.Provider.APIKey = key
		}
	}

	// Expand ~ in paths
	expandHome := func(p *string) {
		if strings.HasPrefix(*p, "~") {
			if home, err := resolveHomeDir(); err == nil {
				*p = filepath.Join(home, (*p)[1:])
			}
		}
	}
	expandHome(&cfg.Paths.Database)
	expandHome(&cfg.Paths.Capabilities)
	expandHome(&cfg.Audit.ChainFile)

	normalize(cfg)
	return cfg, nil
}

// normalize replaces out-of-range values with defaults.
func normalize(cfg *Config) {
	def := DefaultConfig()
	if cfg.Model.MaxLength <= 0 {
		cfg.Model.MaxLength = def.Model.MaxLength
	}
	if cfg.Model.Temperature < 0 || cfg.Model.Temperature > 2 {
		cfg.Model.Temperature = def.Model.Temperature
	}
	if cfg.Model.MaxConcurrent <= 0 {
		cfg.Model.MaxConcurrent = def.Model.MaxConcurrent
	}
	if cfg.Pipeline.GenerationTimeout <= 0 {
		cfg.Pipeline.GenerationTimeout = def.Pipeline.GenerationTimeout
	}
	if cfg.Pipeline.RAGTopK <= 0 {
		cfg.Pipeline.RAGTopK = def.Pipeline.RAGTopK
	}
	if cfg.Pipeline.RAGThreshold <= 0 || cfg.Pipeline.RAGThreshold > 1 {
		cfg.Pipeline.RAGThreshold = def.Pipeline.RAGThreshold
	}
	if cfg.Quota.DailyLimit <= 0 {
		cfg.Quota.DailyLimit = def.Quota.DailyLimit
	}
	if cfg.Memory.Dimension <= 0 {
		cfg.Memory.Dimension = def.Memory.Dimension
	}
	if cfg.Memory.TTLDays <= 0 {
		cfg.Memory.TTLDays = def.Memory.TTLDays
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Memory.Embedder)) {
	case "provider":
		cfg.Memory.Embedder = "provider"
	default:
		cfg.Memory.Embedder = "hash"
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider.Translation)) {
	case "none", "llm":
		cfg.Provider.Translation = strings.ToLower(strings.TrimSpace(cfg.Provider.Translation))
	default:
		cfg.Provider.Translation = "script"
	}
	if cfg.Audit.KafkaTopic == "" {
		cfg.Audit.KafkaTopic = def.Audit.KafkaTopic
	}
	if cfg.Gateway.Port <= 0 {
		cfg.Gateway.Port = def.Gateway.Port
	}
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// envToken matches ${NAME} references inside config string values.
var envToken = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// configResolver expands $include chains. Included files are applied in
// order and the including file wins over all of them.
type configResolver struct {
	stack map[string]bool
}

func loadResolvedConfig(path string) ([]byte, error) {
	r := &configResolver{stack: make(map[string]bool)}
	obj, err := r.resolve(path)
	if err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

func (r *configResolver) resolve(path string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if r.stack[abs] {
		return nil, fmt.Errorf("config include cycle detected at %s", abs)
	}
	r.stack[abs] = true
	defer delete(r.stack, abs)

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	own := map[string]any{}
	if err := json.Unmarshal(data, &own); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", abs, err)
	}
	if own == nil {
		own = map[string]any{}
	}

	includes, err := parseIncludes(own["$include"])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}
	delete(own, "$include")

	out := map[string]any{}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(abs), inc)
		}
		child, err := r.resolve(inc)
		if err != nil {
			return nil, err
		}
		deepMerge(out, child)
	}
	deepMerge(out, substituteEnvValues(own).(map[string]any))
	return out, nil
}

// parseIncludes accepts a single path or a list of paths. Blank entries
// are skipped.
func parseIncludes(v any) ([]string, error) {
	var items []any
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		items = []any{t}
	case []any:
		items = t
	default:
		return nil, fmt.Errorf("$include must be a string or array of strings")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("$include entries must be strings")
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// deepMerge overlays src onto dst. Nested objects merge key by key; any
// other value replaces what dst held.
func deepMerge(dst, src map[string]any) {
	for key, val := range src {
		srcObj, ok := val.(map[string]any)
		if !ok {
			dst[key] = val
			continue
		}
		dstObj, ok := dst[key].(map[string]any)
		if !ok {
			dstObj = map[string]any{}
			dst[key] = dstObj
		}
		deepMerge(dstObj, srcObj)
	}
}

// substituteEnvValues replaces ${NAME} in every string value with the
// variable's value. Unset variables are left as written.
func substituteEnvValues(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = substituteEnvValues(item)
		}
	case []any:
		for i, item := range t {
			t[i] = substituteEnvValues(item)
		}
	case string:
		return envToken.ReplaceAllStringFunc(t, func(ref string) string {
			if value, ok := os.LookupEnv(ref[2 : len(ref)-1]); ok {
				return value
			}
			return ref
		})
	}
	return v
}
