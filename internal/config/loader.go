package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/helpdesk/pkg/types"
	"github.com/MrWong99/helpdesk/pkg/vectorindex"
)

// ValidProviderNames lists known provider names per provider kind. [Validate]
// warns about names outside these lists.
var ValidProviderNames = map[string][]string{
	"embeddings": {"openai", "ollama", "hashing"},
	"llm":        {"groq", "openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "llamacpp", "llamafile", "openai-compatible"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r. ${VAR} references are expanded
// from the environment before decoding.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultEmbeddingRetries is the number of retries when
// server.embedding_retries is absent.
const DefaultEmbeddingRetries = 2

// ApplyDefaults fills zero fields that have a service-level default. Pipeline
// and escalation tuning stays unset so the pipeline applies its own defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.EmbeddingRetries == nil {
		n := DefaultEmbeddingRetries
		cfg.Server.EmbeddingRetries = &n
	}
	if cfg.Providers.Breaker.MaxFailures == 0 {
		cfg.Providers.Breaker.MaxFailures = 5
	}
	if cfg.Providers.Breaker.ResetTimeout == 0 {
		cfg.Providers.Breaker.ResetTimeout = 30 * time.Second
	}
	if cfg.Pipeline.Timeout == 0 {
		cfg.Pipeline.Timeout = 30 * time.Second
	}
	if cfg.Knowledge.ChunkSize == 0 {
		cfg.Knowledge.ChunkSize = 512
	}
	if cfg.Knowledge.ChunkOverlap == 0 {
		cfg.Knowledge.ChunkOverlap = 128
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = CacheMemory
	}
	if cfg.MCP.Path == "" {
		cfg.MCP.Path = "/mcp"
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every problem found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if n := cfg.Server.EmbeddingRetries; n != nil && *n < 0 {
		errs = append(errs, fmt.Errorf("server.embedding_retries %d must not be negative", *n))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	if cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("providers.embeddings.name is required"))
	}
	if cfg.Providers.Embeddings.Dimensions < 0 {
		errs = append(errs, fmt.Errorf("providers.embeddings.dimensions %d must not be negative", cfg.Providers.Embeddings.Dimensions))
	}
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("llm", fb.Name)
	}
	if cfg.Providers.LLM.Name == "" && len(cfg.Providers.LLMFallbacks) > 0 {
		errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; replies will be rendered from templates")
	}

	p := cfg.Pipeline
	errs = appendRange(errs, "pipeline.min_confidence", p.MinConfidence)
	errs = appendRange(errs, "pipeline.similarity_floor", p.SimilarityFloor)
	if p.RetrievalK < 0 {
		errs = append(errs, fmt.Errorf("pipeline.retrieval_k %d must not be negative", p.RetrievalK))
	}
	if p.DistanceScale < 0 {
		errs = append(errs, fmt.Errorf("pipeline.distance_scale %.2f must not be negative", p.DistanceScale))
	}
	if _, err := vectorindex.ParseMetric(p.Metric); err != nil {
		errs = append(errs, fmt.Errorf("pipeline.metric %q is invalid; valid values: cosine, l2", p.Metric))
	}
	if p.Timeout < 0 {
		errs = append(errs, fmt.Errorf("pipeline.timeout %s must not be negative", p.Timeout))
	}

	e := cfg.Escalation
	errs = appendRange(errs, "escalation.min_confidence", e.MinConfidence)
	errs = appendRange(errs, "escalation.fuzzy_threshold", &e.FuzzyThreshold)
	if classifier, escalate := cfg.MinConfidences(); escalate < classifier {
		errs = append(errs, fmt.Errorf("escalation.min_confidence %.2f must not be below pipeline.min_confidence %.2f", escalate, classifier))
	}
	for i, kw := range e.UrgencyKeywords {
		if strings.TrimSpace(kw) == "" {
			errs = append(errs, fmt.Errorf("escalation.urgency_keywords[%d] is blank", i))
		}
	}

	k := cfg.Knowledge
	if k.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("knowledge.chunk_size %d must be positive", k.ChunkSize))
	}
	if k.ChunkOverlap < 0 || k.ChunkOverlap >= k.ChunkSize {
		errs = append(errs, fmt.Errorf("knowledge.chunk_overlap %d must be in [0, chunk_size)", k.ChunkOverlap))
	}
	for i, f := range k.Files {
		prefix := fmt.Sprintf("knowledge.files[%d]", i)
		if f.Path == "" {
			errs = append(errs, fmt.Errorf("%s.path is required", prefix))
		}
		if f.Source != "" && !types.Source(f.Source).Valid() {
			errs = append(errs, fmt.Errorf("%s.source %q is invalid; valid values: %s", prefix, f.Source, joinSources()))
		}
		switch f.Format {
		case "", "markdown", "pdf", "text", "yaml":
		default:
			errs = append(errs, fmt.Errorf("%s.format %q is invalid; valid values: markdown, pdf, text, yaml", prefix, f.Format))
		}
	}

	if !cfg.Cache.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("cache.backend %q is invalid; valid values: none, memory, postgres, redis", cfg.Cache.Backend))
	}
	if cfg.Cache.Backend == CachePostgres && cfg.Cache.PostgresDSN == "" {
		errs = append(errs, errors.New("cache.postgres_dsn is required when cache.backend is postgres"))
	}
	if cfg.Cache.Backend == CacheRedis && cfg.Cache.RedisURL == "" {
		errs = append(errs, errors.New("cache.redis_url is required when cache.backend is redis"))
	}
	if cfg.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl %s must not be negative", cfg.Cache.TTL))
	}
	if cfg.Cache.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("cache.max_entries %d must not be negative", cfg.Cache.MaxEntries))
	}

	if !strings.HasPrefix(cfg.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp.path %q must start with /", cfg.MCP.Path))
	}

	return errors.Join(errs...)
}

// appendRange checks an optional fraction. Nil is valid.
func appendRange(errs []error, field string, v *float64) []error {
	if v != nil && !(*v >= 0 && *v <= 1) {
		return append(errs, fmt.Errorf("%s %.2f is out of range [0, 1]", field, *v))
	}
	return errs
}

func joinSources() string {
	var names []string
	for _, s := range types.Sources() {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}

// validateProviderName logs a warning if name is non-empty and not found in
// [ValidProviderNames] for kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
