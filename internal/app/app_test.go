package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Corphon/ScriptHook/internal/config"
	"github.com/Corphon/ScriptHook/internal/di"
	"github.com/Corphon/ScriptHook/internal/prompts"
	"github.com/Corphon/ScriptHook/internal/services"
)

func baseConfig() *config.AppConfig {
	return &config.AppConfig{
		GeminiBaseURL: config.DefaultGeminiBaseURL,
		GeminiModel:   config.DefaultGeminiModel,
		MaxBodyBytes:  config.DefaultMaxBodyBytes,
	}
}

func TestRegisterServices(t *testing.T) {
	tests := []struct {
		name      string
		apiKey    string
		wantReady bool
	}{
		{"without api key", "", false},
		{"with api key", "test-key", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			cfg.GeminiAPIKey = tt.apiKey
			c := di.NewContainer()

			if err := RegisterServices(c, cfg); err != nil {
				t.Fatalf("RegisterServices: %v", err)
			}
			for _, name := range []string{di.ServiceConfig, di.ServiceMetrics, di.ServicePrompts, di.ServiceLLM, di.ServiceChat, di.ServiceParse, di.ServiceProxy} {
				if !c.Has(name) {
					t.Errorf("service %s not registered", name)
				}
			}

			chat, err := di.Resolve[*services.ChatService](c, di.ServiceChat)
			if err != nil {
				t.Fatal(err)
			}
			if chat.IsReady() != tt.wantReady {
				t.Errorf("IsReady() = %v, want %v", chat.IsReady(), tt.wantReady)
			}
		})
	}
}

func TestRegisterServicesPromptsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompts.yaml")
	if err := os.WriteFile(path, []byte("presets:\n  tagline:\n    system: Write one tagline.\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := baseConfig()
	cfg.PromptsFile = path
	c := di.NewContainer()
	if err := RegisterServices(c, cfg); err != nil {
		t.Fatalf("RegisterServices: %v", err)
	}
	store, err := di.Resolve[*prompts.Store](c, di.ServicePrompts)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.Get("tagline"); !ok {
		t.Errorf("override preset missing: %v", store.Names())
	}

	cfg.PromptsFile = filepath.Join(dir, "missing.yaml")
	if err := RegisterServices(di.NewContainer(), cfg); err == nil {
		t.Error("missing prompts file accepted")
	}
}
