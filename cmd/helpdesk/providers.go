package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/helpdesk/internal/app"
	"github.com/MrWong99/helpdesk/internal/config"
	"github.com/MrWong99/helpdesk/pkg/provider/embeddings"
	"github.com/MrWong99/helpdesk/pkg/provider/embeddings/hashing"
	ollamaembed "github.com/MrWong99/helpdesk/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/helpdesk/pkg/provider/embeddings/openai"
	"github.com/MrWong99/helpdesk/pkg/provider/llm"
	"github.com/MrWong99/helpdesk/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/helpdesk/pkg/provider/llm/openai"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// Hosted backends share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"groq", "openai", "anthropic", "gemini",
		"deepseek", "mistral", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// Any server speaking the OpenAI chat completions API.
	reg.RegisterLLM("openai-compatible", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oallm.WithTimeout(d))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaembed.WithOrganization(org))
		}
		if entry.Dimensions > 0 {
			opts = append(opts, oaembed.WithDimensions(entry.Dimensions))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if entry.Dimensions > 0 {
			opts = append(opts, ollamaembed.WithDimensions(entry.Dimensions))
		}
		if d := optDuration(entry.Options, "keep_alive"); d > 0 {
			opts = append(opts, ollamaembed.WithKeepAlive(d))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, ollamaembed.WithTimeout(d))
		}
		if n := optInt(entry.Options, "batch_size"); n > 0 {
			opts = append(opts, ollamaembed.WithBatchSize(n))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	// hashing runs offline; useful for demos, tests and air-gapped installs.
	reg.RegisterEmbeddings("hashing", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []hashing.Option
		if entry.Dimensions > 0 {
			opts = append(opts, hashing.WithDimensions(entry.Dimensions))
		}
		return hashing.New(opts...)
	})

	for _, kind := range []string{"llm", "embeddings"} {
		for _, name := range reg.Names(kind) {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	emb, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("create embeddings provider %q: %w", cfg.Providers.Embeddings.Name, err)
	}
	ps.Embeddings = emb
	slog.Info("provider created", "kind", "embeddings", "name", cfg.Providers.Embeddings.Name, "model", emb.ModelID())

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := createLLM(reg, cfg.Providers.LLM)
		if err != nil {
			return nil, err
		}
		ps.LLM = p
	}
	for i, entry := range cfg.Providers.LLMFallbacks {
		p, err := createLLM(reg, entry)
		if err != nil {
			return nil, fmt.Errorf("llm fallback %d: %w", i, err)
		}
		if p != nil {
			ps.LLMFallbacks = append(ps.LLMFallbacks, app.NamedLLM{Name: entry.Name, Provider: p})
		}
	}
	return ps, nil
}

// createLLM returns nil without error for unregistered names, so that replies
// degrade to templates instead of failing start-up.
func createLLM(reg *config.Registry, entry config.ProviderEntry) (llm.Provider, error) {
	p, err := reg.CreateLLM(entry)
	switch {
	case errors.Is(err, config.ErrProviderNotRegistered):
		slog.Warn("llm provider not registered, skipping", "name", entry.Name)
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", entry.Name, "model", p.ModelID())
	return p, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optDuration parses a duration string such as "5m" from Options. Invalid or
// missing values return 0.
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}

// optInt reads an integer from Options. YAML decodes whole numbers as int;
// anything else returns 0.
func optInt(opts map[string]any, key string) int {
	n, _ := opts[key].(int)
	return n
}
