package config_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/helpdesk/internal/config"
	"github.com/MrWong99/helpdesk/pkg/provider/embeddings"
	embmock "github.com/MrWong99/helpdesk/pkg/provider/embeddings/mock"
	"github.com/MrWong99/helpdesk/pkg/provider/llm"
	llmmock "github.com/MrWong99/helpdesk/pkg/provider/llm/mock"
)

func TestRegistry(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterEmbeddings("hashing", func(e config.ProviderEntry) (embeddings.Provider, error) {
		return &embmock.Provider{ModelIDValue: e.Model, DimensionsValue: e.Dimensions}, nil
	})
	reg.RegisterLLM("groq", func(e config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{ModelIDValue: "groq/" + e.Model}, nil
	})
	reg.RegisterLLM("openai", func(config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{}, nil
	})

	emb, err := reg.CreateEmbeddings(config.ProviderEntry{Name: "hashing", Model: "hash-v1", Dimensions: 256})
	if err != nil {
		t.Fatalf("CreateEmbeddings: %v", err)
	}
	if emb.ModelID() != "hash-v1" || emb.Dimensions() != 256 {
		t.Errorf("embeddings = %s/%d", emb.ModelID(), emb.Dimensions())
	}

	l, err := reg.CreateLLM(config.ProviderEntry{Name: "groq", Model: "llama-3.1-8b-instant"})
	if err != nil {
		t.Fatalf("CreateLLM: %v", err)
	}
	if l.ModelID() != "groq/llama-3.1-8b-instant" {
		t.Errorf("ModelID = %q", l.ModelID())
	}

	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateLLM(nope) err = %v", err)
	}
	if _, err := reg.CreateEmbeddings(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateEmbeddings(nope) err = %v", err)
	}

	if got := reg.Names("llm"); !slices.Equal(got, []string{"groq", "openai"}) {
		t.Errorf("Names(llm) = %v", got)
	}
	if got := reg.Names("embeddings"); !slices.Equal(got, []string{"hashing"}) {
		t.Errorf("Names(embeddings) = %v", got)
	}
}
