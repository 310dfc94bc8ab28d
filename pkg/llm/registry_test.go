package llm

import (
	"context"
	"testing"

	"tether/pkg/llm/config"
	"tether/pkg/tether"

	"github.com/google/go-cmp/cmp"
)

type stubProvider struct{}

func (stubProvider) GenerateStream(context.Context, tether.LLMGenerateRequest) (tether.LLMStream, error) {
	return nil, nil
}

func TestNewRegistry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		providers map[string]tether.LLMProvider
		wantErr   bool
	}{
		{name: "valid", providers: map[string]tether.LLMProvider{"main": stubProvider{}}},
		{name: "empty", providers: nil, wantErr: true},
		{name: "blank key", providers: map[string]tether.LLMProvider{" ": stubProvider{}}, wantErr: true},
		{name: "nil provider", providers: map[string]tether.LLMProvider{"main": nil}, wantErr: true},
		{
			name:      "duplicate after trim",
			providers: map[string]tether.LLMProvider{"main": stubProvider{}, " main ": stubProvider{}},
			wantErr:   true,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewRegistry(testCase.providers)
			if testCase.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("new registry failed: %v", err)
			}
		})
	}
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	registry, err := NewRegistry(map[string]tether.LLMProvider{"main": stubProvider{}, "backup": stubProvider{}})
	if err != nil {
		t.Fatalf("new registry failed: %v", err)
	}

	if _, err := registry.Resolve(" main "); err != nil {
		t.Fatalf("resolve main failed: %v", err)
	}
	if _, err := registry.Resolve("missing"); err == nil {
		t.Fatal("expected missing provider error")
	}
	if _, err := registry.Resolve(""); err == nil {
		t.Fatal("expected empty key error")
	}
	if diff := cmp.Diff([]string{"backup", "main"}, registry.Names()); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}

	var nilRegistry *Registry
	if _, err := nilRegistry.Resolve("main"); err == nil {
		t.Fatal("expected nil registry error")
	}
}

func TestNewRegistryFromConfig(t *testing.T) {
	t.Parallel()

	registry, err := NewRegistryFromConfig(config.Config{Providers: map[string]config.ProviderProfile{
		"gpt":    {Type: config.ProviderTypeOpenAI, APIKey: "sk-test"},
		"gemini": {Type: config.ProviderTypeGemini, APIKey: "g-test", Gemini: &config.GeminiOptions{APIVersion: "v1"}},
	}})
	if err != nil {
		t.Fatalf("build registry failed: %v", err)
	}
	if diff := cmp.Diff([]string{"gemini", "gpt"}, registry.Names()); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}

	_, err = NewRegistryFromConfig(config.Config{Providers: map[string]config.ProviderProfile{
		"broken": {Type: "claude", APIKey: "k"},
	}})
	if err == nil {
		t.Fatal("expected unsupported type error")
	}
}
