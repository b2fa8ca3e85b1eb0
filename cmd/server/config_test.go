package main

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/MegaGrindStone/langgraph-web-ui/internal/services"
)

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		check   func(t *testing.T, cfg config)
	}{
		{
			name: "Empty file",
			yaml: "",
			check: func(t *testing.T, cfg config) {
				if cfg.Port != defaultPort || cfg.LogLevel != defaultLogLevel {
					t.Errorf("defaults = %q %q", cfg.Port, cfg.LogLevel)
				}
				if cfg.TitleGeneratorPrompt != defaultTitleGeneratorPrompt {
					t.Errorf("title generator prompt = %q, want default", cfg.TitleGeneratorPrompt)
				}
				if cfg.TitleGenerator != nil {
					t.Errorf("title generator = %+v, want none", cfg.TitleGenerator)
				}
			},
		},
		{
			name: "Full config",
			yaml: `
port: "9090"
logLevel: debug
langgraph:
  apiURL: http://localhost:2024
titleGeneratorPrompt: Title please.
titleGenerator:
  provider: openai
  model: gpt-4o-mini
  apiKey: sk-test
  baseURL: http://proxy/v1
`,
			check: func(t *testing.T, cfg config) {
				if cfg.Port != "9090" || cfg.LogLevel != "debug" || cfg.LangGraph.APIURL != "http://localhost:2024" {
					t.Errorf("config = %+v", cfg)
				}
				if cfg.TitleGeneratorPrompt != "Title please." {
					t.Errorf("title generator prompt = %q", cfg.TitleGeneratorPrompt)
				}
				tg, ok := cfg.TitleGenerator.(*openAIConfig)
				if !ok {
					t.Fatalf("title generator = %T, want *openAIConfig", cfg.TitleGenerator)
				}
				if tg.Model != "gpt-4o-mini" || tg.APIKey != "sk-test" || tg.BaseURL != "http://proxy/v1" {
					t.Errorf("openai config = %+v", tg)
				}
			},
		},
		{
			name: "OpenRouter",
			yaml: "titleGenerator:\n  provider: openrouter\n  model: meta-llama/llama-3-8b\n",
			check: func(t *testing.T, cfg config) {
				tg, ok := cfg.TitleGenerator.(*openRouterConfig)
				if !ok || tg.Model != "meta-llama/llama-3-8b" {
					t.Errorf("title generator = %+v, want openrouter config", cfg.TitleGenerator)
				}
			},
		},
		{
			name: "Ollama",
			yaml: "titleGenerator:\n  provider: ollama\n  model: llama3\n  host: http://gpu:11434\n",
			check: func(t *testing.T, cfg config) {
				tg, ok := cfg.TitleGenerator.(*ollamaConfig)
				if !ok || tg.Host != "http://gpu:11434" {
					t.Errorf("title generator = %+v, want ollama config", cfg.TitleGenerator)
				}
			},
		},
		{
			name:    "Missing provider",
			yaml:    "titleGenerator:\n  model: gpt-4o-mini\n",
			wantErr: true,
		},
		{
			name:    "Unknown provider",
			yaml:    "titleGenerator:\n  provider: anthropic\n  model: claude\n",
			wantErr: true,
		},
		{
			name:    "Invalid YAML",
			yaml:    "port: [",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LANGGRAPH_API_URL", "")

			cfg, err := loadConfig(strings.NewReader(tt.yaml))
			if (err != nil) != tt.wantErr {
				t.Fatalf("loadConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoadConfigEnvironment(t *testing.T) {
	t.Setenv("LANGGRAPH_API_URL", "http://env:2024")

	cfg, err := loadConfig(strings.NewReader("port: \"8081\"\n"))
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.LangGraph.APIURL != "http://env:2024" {
		t.Errorf("api url = %q, want the environment value", cfg.LangGraph.APIURL)
	}

	cfg, err = loadConfig(strings.NewReader("langgraph:\n  apiURL: http://file:2024\n"))
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.LangGraph.APIURL != "http://file:2024" {
		t.Errorf("api url = %q, want the file value to win", cfg.LangGraph.APIURL)
	}
}

func TestConfigLogLevel(t *testing.T) {
	tests := []struct {
		level   string
		want    slog.Level
		wantErr bool
	}{
		{level: "debug", want: slog.LevelDebug},
		{level: "info", want: slog.LevelInfo},
		{level: "WARN", want: slog.LevelWarn},
		{level: "error", want: slog.LevelError},
		{level: "verbose", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			got, err := config{LogLevel: tt.level}.logLevel()
			if (err != nil) != tt.wantErr {
				t.Fatalf("logLevel() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("logLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfigTitleGenerator(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tg, err := config{}.titleGenerator(logger)
	if err != nil || tg != nil {
		t.Errorf("titleGenerator() = %v, %v, want no generator", tg, err)
	}

	tests := []struct {
		name    string
		cfg     titleGeneratorConfig
		wantErr bool
	}{
		{name: "OpenAI", cfg: &openAIConfig{BaseLLMConfig: BaseLLMConfig{Provider: "openai", Model: "gpt-4o-mini"}}},
		{name: "OpenRouter", cfg: &openRouterConfig{BaseLLMConfig: BaseLLMConfig{Provider: "openrouter", Model: "x"}}},
		{name: "Ollama", cfg: &ollamaConfig{BaseLLMConfig: BaseLLMConfig{Provider: "ollama", Model: "llama3"}}},
		{name: "Missing model", cfg: &openAIConfig{BaseLLMConfig: BaseLLMConfig{Provider: "openai"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config{TitleGeneratorPrompt: defaultTitleGeneratorPrompt, TitleGenerator: tt.cfg}

			tg, err := cfg.titleGenerator(logger)
			if (err != nil) != tt.wantErr {
				t.Fatalf("titleGenerator() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tg == nil {
				t.Error("titleGenerator() should build a generator")
			}
		})
	}
}

func TestOllamaConfigTitleGenerator(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name    string
		host    string
		env     string
		wantErr bool
	}{
		{name: "Configured host", host: "http://gpu:11434/"},
		{name: "Host from environment", env: "http://env:11434"},
		{name: "Default host"},
		{name: "Host without scheme", host: "gpu:11434", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OLLAMA_HOST", tt.env)

			cfg := ollamaConfig{BaseLLMConfig: BaseLLMConfig{Provider: "ollama", Model: "llama3"}, Host: tt.host}
			tg, err := cfg.titleGen(defaultTitleGeneratorPrompt, logger)
			if (err != nil) != tt.wantErr {
				t.Fatalf("titleGen() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if _, ok := tg.(services.Ollama); !ok {
				t.Errorf("titleGen() = %T, want services.Ollama", tg)
			}
		})
	}
}
