// Package config loads the YAML configuration shared by the medchat binaries.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/OmChillure/medchat/internal/answering"
	"github.com/OmChillure/medchat/internal/services"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort         = "8080"
	defaultEndpoint     = "http://localhost:8000"
	defaultAnswerdPort  = "8000"
	defaultOllamaHost   = "http://localhost:11434"
	defaultAnthropicMax = 1024
	defaultSessionTTL   = 30 * time.Minute
)

// LLMConfig builds the language model used by the answering service.
type LLMConfig interface {
	LLM(logger *slog.Logger) (answering.LLM, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// Config is the content of config.yaml. Every field has a usable default, so an absent file yields a
// configuration that talks to an answering service on localhost:8000.
type Config struct {
	// Port is the listen port of the web front-end.
	Port string `yaml:"port"`
	// Endpoint is the base URL of the answering service used by both front-ends.
	Endpoint string `yaml:"endpoint"`

	// SessionTTL is how long the web front-end keeps an idle browser session, for example "30m".
	SessionTTL time.Duration `yaml:"sessionTTL"`
	LogLevel   string        `yaml:"logLevel"`
	// LogFile receives the logs of the terminal front-end, which owns stdout and stderr.
	LogFile string `yaml:"logFile"`

	Answerd AnswerdConfig `yaml:"answerd"`
}

// AnswerdConfig configures the development answering service.
type AnswerdConfig struct {
	Port   string       `yaml:"port"`
	DBPath string       `yaml:"dbPath"`
	Corpus CorpusConfig `yaml:"corpus"`
	LLM    LLMConfig    `yaml:"llm"`
}

// CorpusConfig points at the JSON maps (document ID to text) imported into the document store at
// start-up. Both are optional.
type CorpusConfig struct {
	Summaries string `yaml:"summaries"`
	FullTexts string `yaml:"fullTexts"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	// BaseURL targets OpenAI compatible APIs such as OpenRouter.
	BaseURL string `yaml:"baseURL"`
}

type anthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	MaxTokens     int    `yaml:"maxTokens"`
}

// Dir returns the directory holding config.yaml and the document store, creating it if needed.
func Dir() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("error getting user config dir: %w", err)
	}
	dir := filepath.Join(cfgDir, "medchat")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("error creating config directory: %w", err)
	}
	return dir, nil
}

// Load reads config.yaml from the medchat config directory. A missing file is not an error.
func Load() (Config, error) {
	dir, err := Dir()
	if err != nil {
		return Config{}, err
	}
	return LoadFile(filepath.Join(dir, "config.yaml"))
}

// LoadFile reads the configuration at path, applying defaults and environment fallbacks.
func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Config{}
			cfg.applyDefaults()
			return cfg, nil
		}
		return Config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	return Decode(f)
}

// Decode parses a configuration document and applies defaults and environment fallbacks.
func Decode(r io.Reader) (Config, error) {
	cfg := Config{}
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == "" {
		c.Port = defaultPort
	}
	if c.Endpoint == "" {
		c.Endpoint = os.Getenv("MEDCHAT_ENDPOINT")
	}
	if c.Endpoint == "" {
		c.Endpoint = defaultEndpoint
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = defaultSessionTTL
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Answerd.Port == "" {
		c.Answerd.Port = defaultAnswerdPort
	}
}

// SlogLevel maps LogLevel to a slog.Level. Unknown values fall back to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates the text logger used by every binary.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: c.SlogLevel()}))
}

// UnmarshalYAML decodes the llm block into the provider specific configuration named by its
// "provider" key. The block is optional; answerd reports its absence when it starts.
func (a *AnswerdConfig) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port   string         `yaml:"port"`
		DBPath string         `yaml:"dbPath"`
		Corpus CorpusConfig   `yaml:"corpus"`
		LLM    map[string]any `yaml:"llm"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	a.Port = rawConfig.Port
	a.DBPath = rawConfig.DBPath
	a.Corpus = rawConfig.Corpus

	if rawConfig.LLM == nil {
		return nil
	}

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm LLMConfig
	switch llmProvider {
	case "ollama":
		llm = &ollamaConfig{}
	case "openai":
		llm = &openAIConfig{}
	case "anthropic":
		llm = &anthropicConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	a.LLM = llm

	return nil
}

func (o ollamaConfig) LLM(logger *slog.Logger) (answering.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = defaultOllamaHost
	}
	return services.NewOllama(host, o.Model, logger)
}

func (o openAIConfig) LLM(logger *slog.Logger) (answering.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("apiKey is required")
	}
	return services.NewOpenAI(apiKey, o.BaseURL, o.Model, logger), nil
}

func (a anthropicConfig) LLM(logger *slog.Logger) (answering.LLM, error) {
	if a.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	maxTokens := a.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultAnthropicMax
	}

	apiKey := a.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("apiKey is required")
	}
	return services.NewAnthropic(apiKey, a.Model, maxTokens, logger), nil
}
