package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/helpdesk/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Server:    config.ServerConfig{LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{Embeddings: config.ProviderEntry{Name: "hashing"}},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		mutate       func(*config.Config)
		wantLevel    bool
		wantSections []string
	}{
		{name: "identical", mutate: func(*config.Config) {}},
		{
			name:      "log level only",
			mutate:    func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			wantLevel: true,
		},
		{
			name:         "listen address",
			mutate:       func(c *config.Config) { c.Server.ListenAddr = ":9999" },
			wantSections: []string{"server"},
		},
		{
			name: "several sections",
			mutate: func(c *config.Config) {
				c.Server.LogLevel = config.LogWarn
				c.Pipeline.RetrievalK = 7
				c.Escalation.UrgencyKeywords = []string{"outage"}
				c.MCP.Enabled = true
			},
			wantLevel:    true,
			wantSections: []string{"pipeline", "escalation", "mcp"},
		},
		{
			name:         "knowledge file added",
			mutate:       func(c *config.Config) { c.Knowledge.Files = []config.KnowledgeFile{{Path: "kb.md"}} },
			wantSections: []string{"knowledge"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, updated := baseConfig(), baseConfig()
			tt.mutate(updated)

			d := config.Diff(old, updated)
			if d.LogLevelChanged != tt.wantLevel {
				t.Errorf("LogLevelChanged = %v, want %v", d.LogLevelChanged, tt.wantLevel)
			}
			if tt.wantLevel && d.NewLogLevel != updated.Server.LogLevel {
				t.Errorf("NewLogLevel = %q, want %q", d.NewLogLevel, updated.Server.LogLevel)
			}
			if !slices.Equal(d.RestartRequired, tt.wantSections) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tt.wantSections)
			}
			if d.Changed() != (tt.wantLevel || len(tt.wantSections) > 0) {
				t.Errorf("Changed = %v", d.Changed())
			}
		})
	}
}
