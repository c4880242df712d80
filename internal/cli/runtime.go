package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ayureze/astra/internal/audit"
	"github.com/ayureze/astra/internal/capability"
	"github.com/ayureze/astra/internal/config"
	"github.com/ayureze/astra/internal/consent"
	"github.com/ayureze/astra/internal/emotion"
	"github.com/ayureze/astra/internal/memory"
	"github.com/ayureze/astra/internal/pipeline"
	"github.com/ayureze/astra/internal/policy"
	"github.com/ayureze/astra/internal/provider"
	"github.com/ayureze/astra/internal/ratelimit"
	"github.com/ayureze/astra/internal/safety"
	"github.com/ayureze/astra/internal/store"
	"github.com/ayureze/astra/internal/translation"
)

// runtime holds every component a command may need. Components disabled by
// config stay nil.
type runtime struct {
	cfg      *config.Config
	store    *store.Store
	catalog  *capability.Catalog
	agent    *capability.Agent
	rules    *policy.DefaultEngine
	consents *consent.Manager
	memory   *memory.Service
	limiter  *ratelimit.Limiter
	quota    *ratelimit.QuotaManager
	llm      *provider.OpenAIProvider
	kafka    *audit.KafkaPublisher
	recorder *audit.Recorder
	pipeline *pipeline.Pipeline
}

// loadConfig loads config and configures the default slog handler.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.Log.SlogLevel()
	if logLevel != "" {
		level = config.LogConfig{Level: logLevel}.SlogLevel()
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return cfg, nil
}

func loadCatalog(cfg *config.Config) (*capability.Catalog, error) {
	if cfg.Paths.Capabilities != "" {
		return capability.LoadConfig(cfg.Paths.Capabilities)
	}
	return capability.DefaultConfig()
}

// openRuntime loads config, opens the database and builds the pipeline.
func openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newRuntime(ctx, cfg)
}

func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	cat, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}
	rt.catalog = cat
	if rt.agent, err = capability.NewAgent(cat); err != nil {
		return nil, fmt.Errorf("capability agent: %w", err)
	}

	if rt.store, err = store.Open(cfg.Paths.Database); err != nil {
		return nil, err
	}
	rt.consents = consent.NewManager(rt.store)
	rt.rules = policy.NewDefaultEngine()

	if cfg.Provider.APIKey != "" {
		rt.llm = provider.NewOpenAIProvider(cfg.Provider.APIKey, cfg.Provider.APIBase, cfg.Model.Name)
	}

	if cfg.Memory.Enabled {
		meta, err := rt.store.MemoryMetadata()
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.memory = memory.NewService(rt.embedder(), memory.WithMetadataStore(meta))
		if n, err := rt.memory.Rehydrate(ctx); err != nil {
			slog.Warn("Memory rehydrate failed", "error", err)
		} else if n > 0 {
			slog.Info("Memory rehydrated", "records", n)
		}
	}

	if cfg.RateLimit.Enabled {
		var opts []ratelimit.LimiterOption
		if cfg.RateLimit.TextPerMinute > 0 {
			opts = append(opts, ratelimit.WithGlobalLimit(ratelimit.ScopeText, capability.RateLimit{Limit: cfg.RateLimit.TextPerMinute, Window: time.Minute}))
		}
		if cfg.RateLimit.VoicePerMinute > 0 {
			opts = append(opts, ratelimit.WithGlobalLimit(ratelimit.ScopeVoice, capability.RateLimit{Limit: cfg.RateLimit.VoicePerMinute, Window: time.Minute}))
		}
		rt.limiter = ratelimit.NewLimiter(cat, opts...)
	}
	if cfg.Quota.Enabled {
		rt.quota = ratelimit.NewQuotaManager(cfg.Quota.DailyLimit, ratelimit.WithUsageStore(rt.store))
	}

	var mirrors []audit.Sink
	if cfg.Audit.ChainFile != "" {
		mirrors = append(mirrors, audit.NewChainFile(cfg.Audit.ChainFile))
	}
	if cfg.Audit.KafkaBrokers != "" {
		rt.kafka = audit.NewKafkaPublisher(cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic)
		mirrors = append(mirrors, rt.kafka)
	}
	rt.recorder = audit.NewRecorder(rt.store, mirrors...)

	if rt.pipeline, err = pipeline.New(rt.pipelineOptions()); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) embedder() memory.Embedder {
	cfg := rt.cfg.Memory
	if cfg.Embedder == "provider" && rt.llm != nil {
		return memory.NewFallbackEmbedder(memory.NewProviderEmbedder(rt.llm, rt.cfg.Model.EmbeddingModel, cfg.Dimension))
	}
	return memory.NewHashEmbedder(cfg.Dimension)
}

func (rt *runtime) translator() translation.Service {
	switch rt.cfg.Provider.Translation {
	case "none":
		return translation.Passthrough{}
	case "llm":
		if rt.llm != nil {
			return translation.NewScriptDetector(translation.NewLLMTranslator(rt.llm, rt.cfg.Model.Name))
		}
	}
	return translation.NewScriptDetector(nil)
}

// pipelineOptions assigns optional collaborators only when they exist so
// the pipeline never sees a typed nil.
func (rt *runtime) pipelineOptions() pipeline.Options {
	cfg := rt.cfg
	selector := safety.Selector(nil)
	if cfg.Pipeline.DeterministicRefusals {
		selector = safety.FirstSelector
	}
	chooser := emotion.RandomChooser
	if cfg.Pipeline.PlainTone {
		chooser = emotion.NoPrefix
	}

	opts := pipeline.Options{
		Catalog:           rt.catalog,
		Agent:             rt.agent,
		Safety:            safety.NewEnforcer(rt.catalog, selector),
		Rules:             rt.rules,
		Consent:           rt.consents,
		Translator:        rt.translator(),
		Tones:             emotion.NewMapper(chooser),
		Recorder:          rt.recorder,
		Model:             cfg.Model.Name,
		GenerationTimeout: cfg.Pipeline.GenerationTimeout,
		MaxLength:         cfg.Model.MaxLength,
		Temperature:       cfg.Model.Temperature,
		RAGTopK:           cfg.Pipeline.RAGTopK,
		RAGThreshold:      cfg.Pipeline.RAGThreshold,
	}
	if rt.memory != nil {
		opts.Memory = rt.memory
	}
	if rt.limiter != nil {
		opts.Limiter = rt.limiter
	}
	if rt.quota != nil {
		opts.Quota = rt.quota
	}
	if rt.llm != nil {
		opts.Generator = provider.NewLimited(provider.NewChatGenerator(rt.llm, cfg.Model.Name), cfg.Model.MaxConcurrent)
	}
	return opts
}

// sweep drops expired rate-limit windows, quota days, memories and stored
// usage rows.
func (rt *runtime) sweep(ctx context.Context) {
	windows, days, memories := 0, 0, 0
	if rt.limiter != nil {
		windows = rt.limiter.Cleanup()
	}
	if rt.quota != nil {
		days = rt.quota.Cleanup()
	}
	if rt.memory != nil {
		memories = rt.memory.Prune(ctx)
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -7).Format("2006-01-02")
	rows, err := rt.store.PruneUsage(ctx, cutoff)
	if err != nil {
		slog.Warn("Usage prune failed", "error", err)
	}
	slog.Debug("Sweep finished", "windows", windows, "quota_days", days, "memories", memories, "usage_rows", rows)
}

// Close releases the database and the audit publisher.
func (rt *runtime) Close() {
	if rt.kafka != nil {
		_ = rt.kafka.Close()
	}
	if rt.store != nil {
		_ = rt.store.Close()
	}
}
