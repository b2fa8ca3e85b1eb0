package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/MegaGrindStone/langgraph-web-ui/internal/handlers"
	"github.com/MegaGrindStone/langgraph-web-ui/internal/services"
	"gopkg.in/yaml.v3"
)

type titleGeneratorConfig interface {
	titleGen(systemPrompt string, logger *slog.Logger) (handlers.TitleGenerator, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type config struct {
	Port                 string               `yaml:"port"`
	LogLevel             string               `yaml:"logLevel"`
	LangGraph            langGraphConfig      `yaml:"langgraph"`
	TitleGeneratorPrompt string               `yaml:"titleGeneratorPrompt"`
	TitleGenerator       titleGeneratorConfig `yaml:"titleGenerator"`
}

type langGraphConfig struct {
	APIURL string `yaml:"apiURL"`
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

type openRouterConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

const (
	defaultPort     = "8080"
	defaultLogLevel = "info"

	defaultTitleGeneratorPrompt = "Generate a short title, at most six words, for a conversation that starts " +
		"with the user's message. Answer with the title only, without quotes."

	openRouterBaseURL = "https://openrouter.ai/api/v1"
	ollamaDefaultHost = "http://localhost:11434"
)

func loadConfig(r io.Reader) (config, error) {
	cfg := config{}
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port                 string          `yaml:"port"`
		LogLevel             string          `yaml:"logLevel"`
		LangGraph            langGraphConfig `yaml:"langgraph"`
		TitleGeneratorPrompt string          `yaml:"titleGeneratorPrompt"`
		TitleGenerator       map[string]any  `yaml:"titleGenerator"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.LogLevel = rawConfig.LogLevel
	c.LangGraph = rawConfig.LangGraph
	c.TitleGeneratorPrompt = rawConfig.TitleGeneratorPrompt

	if rawConfig.TitleGenerator == nil {
		return nil
	}

	provider, ok := rawConfig.TitleGenerator["provider"].(string)
	if !ok {
		return fmt.Errorf("title generator provider is required")
	}

	tgRawYAML, err := yaml.Marshal(rawConfig.TitleGenerator)
	if err != nil {
		return err
	}

	var tg titleGeneratorConfig
	switch provider {
	case "openai":
		tg = &openAIConfig{}
	case "openrouter":
		tg = &openRouterConfig{}
	case "ollama":
		tg = &ollamaConfig{}
	default:
		return fmt.Errorf("unknown title generator provider: %s", provider)
	}

	if err := yaml.Unmarshal(tgRawYAML, tg); err != nil {
		return err
	}

	c.TitleGenerator = tg

	return nil
}

func (c *config) applyDefaults() {
	if c.Port == "" {
		c.Port = defaultPort
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.TitleGeneratorPrompt == "" {
		c.TitleGeneratorPrompt = defaultTitleGeneratorPrompt
	}
	if c.LangGraph.APIURL == "" {
		c.LangGraph.APIURL = os.Getenv("LANGGRAPH_API_URL")
	}
}

func (c config) logLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

func (c config) titleGenerator(logger *slog.Logger) (handlers.TitleGenerator, error) {
	if c.TitleGenerator == nil {
		return nil, nil
	}
	return c.TitleGenerator.titleGen(c.TitleGeneratorPrompt, logger)
}

func (o openAIConfig) titleGen(systemPrompt string, logger *slog.Logger) (handlers.TitleGenerator, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return services.NewOpenAI(apiKey, o.BaseURL, o.Model, systemPrompt, logger), nil
}

func (o openRouterConfig) titleGen(systemPrompt string, logger *slog.Logger) (handlers.TitleGenerator, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENROUTER_API_KEY")
	}
	return services.NewOpenAI(apiKey, openRouterBaseURL, o.Model, systemPrompt, logger), nil
}

func (o ollamaConfig) titleGen(systemPrompt string, logger *slog.Logger) (handlers.TitleGenerator, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = ollamaDefaultHost
	}
	ollama, err := services.NewOllama(strings.TrimRight(host, "/"), o.Model, systemPrompt, logger)
	if err != nil {
		return nil, err
	}
	return ollama, nil
}
