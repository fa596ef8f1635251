package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/helpdesk/internal/config"
)

const minimalYAML = `
providers:
  embeddings:
    name: hashing
`

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Server.EmbeddingRetries == nil || *cfg.Server.EmbeddingRetries != config.DefaultEmbeddingRetries {
		t.Errorf("embedding_retries = %v, want %d", cfg.Server.EmbeddingRetries, config.DefaultEmbeddingRetries)
	}
	if cfg.Pipeline.MinConfidence != nil || cfg.Pipeline.SimilarityFloor != nil || cfg.Escalation.MinConfidence != nil {
		t.Error("pipeline thresholds set without being configured")
	}
	if cfg.Pipeline.Timeout != 30*time.Second {
		t.Errorf("pipeline.timeout = %s, want 30s", cfg.Pipeline.Timeout)
	}
	if cfg.Knowledge.ChunkSize != 512 || cfg.Knowledge.ChunkOverlap != 128 {
		t.Errorf("chunking = %d/%d, want 512/128", cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap)
	}
	if !cfg.Knowledge.UseDefaults() {
		t.Error("built-in corpus disabled by default")
	}
	if cfg.Cache.Backend != config.CacheMemory {
		t.Errorf("cache.backend = %q, want memory", cfg.Cache.Backend)
	}
	if cfg.MCP.Path != "/mcp" || cfg.MCP.Enabled {
		t.Errorf("mcp = %+v", cfg.MCP)
	}
	if cfg.Escalation.UrgencyKeywords != nil {
		t.Errorf("urgency_keywords = %v, want nil so built-ins apply", cfg.Escalation.UrgencyKeywords)
	}
}

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	const full = `
server:
  listen_addr: ":9090"
  log_level: debug
providers:
  embeddings:
    name: ollama
    base_url: http://localhost:11434
    model: all-minilm
  llm:
    name: groq
    model: llama-3.1-8b-instant
  llm_fallbacks:
    - name: openai
      model: gpt-4o-mini
  breaker:
    max_failures: 3
    reset_timeout: 10s
pipeline:
  embedding_model: all-minilm
  min_confidence: 0.4
  retrieval_k: 5
  metric: l2
  timeout: 5s
escalation:
  urgency_keywords: []
  triage_contact: triage@example.com
  fuzzy_threshold: 0.9
knowledge:
  defaults: false
  files:
    - path: docs/vpn.md
      source: knowledge_base
cache:
  backend: postgres
  postgres_dsn: postgres://localhost/helpdesk
evaluation:
  file: testdata/eval.yaml
mcp:
  enabled: true
`
	cfg, err := config.LoadFromReader(strings.NewReader(full))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Providers.Breaker.ResetTimeout != 10*time.Second || cfg.Providers.Breaker.MaxFailures != 3 {
		t.Errorf("breaker = %+v", cfg.Providers.Breaker)
	}
	if len(cfg.Providers.LLMFallbacks) != 1 || cfg.Providers.LLMFallbacks[0].Model != "gpt-4o-mini" {
		t.Errorf("llm_fallbacks = %+v", cfg.Providers.LLMFallbacks)
	}
	if cfg.Pipeline.Timeout != 5*time.Second || cfg.Pipeline.RetrievalK != 5 || cfg.Pipeline.Metric != "l2" {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if classifier, escalate := cfg.MinConfidences(); classifier != 0.4 || escalate != 0.5 {
		t.Errorf("MinConfidences = %v, %v, want 0.4 and the 0.5 default", classifier, escalate)
	}
	if cfg.Escalation.UrgencyKeywords == nil || len(cfg.Escalation.UrgencyKeywords) != 0 {
		t.Errorf("urgency_keywords = %#v, want empty non-nil", cfg.Escalation.UrgencyKeywords)
	}
	if cfg.Knowledge.UseDefaults() {
		t.Error("knowledge.defaults: false not honoured")
	}
	if cfg.Server.LogLevel.Level().String() != "DEBUG" {
		t.Errorf("Level = %v", cfg.Server.LogLevel.Level())
	}
}

func TestLoadFromReader_ExplicitZero(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML + `
server:
  embedding_retries: 0
pipeline:
  min_confidence: 0
  similarity_floor: 0
escalation:
  min_confidence: 0
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	for name, got := range map[string]*float64{
		"pipeline.min_confidence":   cfg.Pipeline.MinConfidence,
		"pipeline.similarity_floor": cfg.Pipeline.SimilarityFloor,
		"escalation.min_confidence": cfg.Escalation.MinConfidence,
	} {
		if got == nil || *got != 0 {
			t.Errorf("%s = %v, want explicit 0", name, got)
		}
	}
	if n := cfg.Server.EmbeddingRetries; n == nil || *n != 0 {
		t.Errorf("embedding_retries = %v, want explicit 0", n)
	}
}

func TestLoadFromReader_ExpandsEnv(t *testing.T) {
	t.Setenv("HELPDESK_TEST_OPENAI_KEY", "sk-test")
	cfg, err := config.LoadFromReader(strings.NewReader(`
providers:
  embeddings:
    name: openai
    api_key: ${HELPDESK_TEST_OPENAI_KEY}
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Providers.Embeddings.APIKey != "sk-test" {
		t.Errorf("api_key = %q, want sk-test", cfg.Providers.Embeddings.APIKey)
	}
}

func TestLoadFromReader_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		yaml  string
		wants []string
	}{
		{
			name:  "empty document",
			yaml:  "",
			wants: []string{"providers.embeddings.name is required"},
		},
		{
			name:  "unknown key",
			yaml:  minimalYAML + "tickets: []\n",
			wants: []string{"field tickets not found"},
		},
		{
			name: "ranges",
			yaml: minimalYAML + `
pipeline:
  min_confidence: 1.5
  retrieval_k: -1
  metric: manhattan
escalation:
  min_confidence: -0.1
  urgency_keywords: ["urgent", "  "]
`,
			wants: []string{
				"pipeline.min_confidence",
				"pipeline.retrieval_k",
				"pipeline.metric",
				"escalation.min_confidence",
				"escalation.urgency_keywords[1] is blank",
			},
		},
		{
			name: "escalation threshold below classifier",
			yaml: minimalYAML + `
pipeline:
  min_confidence: 0.35
escalation:
  min_confidence: 0.2
`,
			wants: []string{"escalation.min_confidence 0.20 must not be below pipeline.min_confidence 0.35"},
		},
		{
			name: "classifier threshold above escalation default",
			yaml: minimalYAML + `
pipeline:
  min_confidence: 0.6
`,
			wants: []string{"must not be below pipeline.min_confidence 0.60"},
		},
		{
			name: "knowledge files",
			yaml: minimalYAML + `
knowledge:
  chunk_size: 100
  chunk_overlap: 100
  files:
    - source: wiki
      format: docx
`,
			wants: []string{"chunk_overlap", "files[0].path is required", "files[0].source", "files[0].format"},
		},
		{
			name: "postgres without dsn",
			yaml: minimalYAML + `
cache:
  backend: postgres
`,
			wants: []string{"cache.postgres_dsn is required"},
		},
		{
			name: "redis without url",
			yaml: minimalYAML + `
cache:
  backend: redis
  ttl: -1h
  max_entries: -1
`,
			wants: []string{"cache.redis_url is required", "cache.ttl", "cache.max_entries"},
		},
		{
			name: "fallbacks without primary",
			yaml: minimalYAML + `
  llm_fallbacks:
    - name: openai
`,
			wants: []string{"llm_fallbacks requires providers.llm"},
		},
		{
			name: "log level and mcp path",
			yaml: minimalYAML + `
server:
  log_level: bananas
mcp:
  path: mcp
`,
			wants: []string{"server.log_level", "mcp.path"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			for _, want := range tt.wants {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not mention %q", err, want)
				}
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "helpdesk.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.Embeddings.Name != "hashing" {
		t.Errorf("embeddings.name = %q", cfg.Providers.Embeddings.Name)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of missing file succeeded")
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("Load(example.yaml): %v", err)
	}
	if cfg.Providers.Embeddings.Name != "ollama" || len(cfg.Providers.LLMFallbacks) != 1 {
		t.Errorf("providers = %+v", cfg.Providers)
	}
	if !cfg.MCP.Enabled || cfg.Cache.Backend != config.CacheMemory {
		t.Errorf("mcp = %+v, cache = %+v", cfg.MCP, cfg.Cache)
	}
}
