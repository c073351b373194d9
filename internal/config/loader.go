package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "mock"},
	"embeddings": {"openai", "ollama", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] values and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.EventStore.Type != "" && !cfg.EventStore.Type.IsValid() {
		errs = append(errs, fmt.Errorf("event_store.type %q is invalid; valid values: memory, postgres", cfg.EventStore.Type))
	}
	if cfg.EventStore.Type == StorePostgres && cfg.EventStore.PostgresDSN == "" {
		errs = append(errs, errors.New("event_store.postgres_dsn is required when event_store.type is postgres"))
	}
	if cfg.EventStore.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("event_store.batch_size %d must not be negative", cfg.EventStore.BatchSize))
	}

	if cfg.Archival.Enabled {
		if cfg.EventStore.Type != StorePostgres {
			errs = append(errs, errors.New("archival.enabled requires event_store.type postgres"))
		}
		if cfg.Archival.ScheduleHour < 0 || cfg.Archival.ScheduleHour > 23 {
			errs = append(errs, fmt.Errorf("archival.schedule_hour %d is out of range [0, 23]", cfg.Archival.ScheduleHour))
		}
		if cfg.Archival.ScheduleMin < 0 || cfg.Archival.ScheduleMin > 59 {
			errs = append(errs, fmt.Errorf("archival.schedule_minute %d is out of range [0, 59]", cfg.Archival.ScheduleMin))
		}
		if cfg.Archival.DaysThreshold <= 0 {
			errs = append(errs, fmt.Errorf("archival.days_threshold %d must be positive", cfg.Archival.DaysThreshold))
		}
		if lvl := cfg.Archival.CompressionLevel; lvl < 0 || lvl > 9 {
			errs = append(errs, fmt.Errorf("archival.compression_level %d is out of range [0, 9]", lvl))
		}
	}

	if cfg.Actor.MailboxSize <= 0 {
		errs = append(errs, fmt.Errorf("actor.mailbox_size %d must be positive", cfg.Actor.MailboxSize))
	}
	if cfg.Actor.Retry.Enabled && cfg.Actor.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("actor.retry.max_retries %d must not be negative", cfg.Actor.Retry.MaxRetries))
	}

	if cfg.STM.ContextFormat != "" && !cfg.STM.ContextFormat.IsValid() {
		errs = append(errs, fmt.Errorf("stm.context_format %q is invalid; valid values: structured, text", cfg.STM.ContextFormat))
	}
	if cfg.STM.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("stm.buffer_size %d must be positive", cfg.STM.BufferSize))
	}

	if cfg.LTM.ColdStartBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("ltm.cold_start_buffer_size %d must be positive", cfg.LTM.ColdStartBufferSize))
	}
	if cfg.LTM.ColdStartMinThreshold < 0 || cfg.LTM.ColdStartMinThreshold > 1 {
		errs = append(errs, fmt.Errorf("ltm.cold_start_min_threshold %.2f is out of range [0, 1]", cfg.LTM.ColdStartMinThreshold))
	}

	if cfg.Personality.MaxDeviation < 0 || cfg.Personality.MaxDeviation > 1 {
		errs = append(errs, fmt.Errorf("personality.max_deviation %.2f is out of range [0, 1]", cfg.Personality.MaxDeviation))
	}
	if cfg.Partner.ChangeThreshold < 0 || cfg.Partner.ChangeThreshold > 1 {
		errs = append(errs, fmt.Errorf("partner.change_threshold %.2f is out of range [0, 1]", cfg.Partner.ChangeThreshold))
	}
	if cfg.Mode.ConfidenceThreshold < 0 || cfg.Mode.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("mode.confidence_threshold %.2f is out of range [0, 1]", cfg.Mode.ConfidenceThreshold))
	}
	if cfg.Limits.WarningThreshold < 0 || cfg.Limits.WarningThreshold > 1 {
		errs = append(errs, fmt.Errorf("limits.warning_threshold %.2f is out of range [0, 1]", cfg.Limits.WarningThreshold))
	}
	if cfg.Emotion.Workers <= 0 {
		errs = append(errs, fmt.Errorf("emotion.workers %d must be positive", cfg.Emotion.Workers))
	}

	// Provider name validation warns only; third-party registrations are
	// allowed.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("embeddings", cfg.Providers.EmbeddingsFallback.Name)

	if cfg.Providers.EmbeddingsFallback.Name != "" && cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("providers.embeddings_fallback requires providers.embeddings"))
	}

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; generation will be unavailable")
	}
	if cfg.Providers.Embeddings.Name == "" {
		slog.Warn("no embeddings provider configured; LTM search falls back to recent")
	}
	if cfg.Cache.RedisAddr == "" {
		slog.Warn("cache.redis_addr is empty; using the in-process cache")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
