package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PlaceholderGitHubToken is the token value shipped in sample env files.
const PlaceholderGitHubToken = "ghp_your_actual_token_here"

// Config captures every setting the healing service reads at startup.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	LangSmith  LangSmithConfig  `yaml:"langsmith"`
	LLM        LLMConfig        `yaml:"llm"`
	GitHub     GitHubConfig     `yaml:"github"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Logging    LoggingConfig    `yaml:"logging"`
	Rules      RulesConfig      `yaml:"rules"`
	Cache      CacheConfig      `yaml:"cache"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// ServerConfig controls the HTTP, gRPC and metrics listeners.
type ServerConfig struct {
	HTTPAddress     string        `yaml:"httpAddress"`
	GRPCAddress     string        `yaml:"grpcAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
	Debug           bool          `yaml:"debug"`
}

// LangSmithConfig configures trace retrieval.
type LangSmithConfig struct {
	BaseURL  string        `yaml:"baseURL"`
	AppURL   string        `yaml:"appURL"`
	APIKey   string        `yaml:"apiKey"`
	Project  string        `yaml:"project"`
	Timeout  time.Duration `yaml:"timeout"`
	PageSize int           `yaml:"pageSize"`
	MaxPages int           `yaml:"maxPages"`
}

// LLMConfig lists text-generation providers. Order decides priority.
type LLMConfig struct {
	Order       []string       `yaml:"order"`
	Temperature float64        `yaml:"temperature"`
	MaxTokens   int            `yaml:"maxTokens"`
	Timeout     time.Duration  `yaml:"timeout"`
	OpenAI      ProviderConfig `yaml:"openai"`
	Anthropic   ProviderConfig `yaml:"anthropic"`
	Gemini      ProviderConfig `yaml:"gemini"`
}

// ProviderConfig holds credentials for one provider.
type ProviderConfig struct {
	APIKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"baseURL"`
}

// GitHubConfig configures issue filing.
type GitHubConfig struct {
	Token     string        `yaml:"token"`
	RepoOwner string        `yaml:"repoOwner"`
	RepoName  string        `yaml:"repoName"`
	BaseURL   string        `yaml:"baseURL"`
	Timeout   time.Duration `yaml:"timeout"`
	Labels    []string      `yaml:"labels"`
}

// Configured reports whether issue filing has usable credentials.
func (g GitHubConfig) Configured() bool {
	token := strings.TrimSpace(g.Token)
	return token != "" && token != PlaceholderGitHubToken && g.RepoOwner != "" && g.RepoName != ""
}

// DispatcherConfig sizes the background worker pool.
type DispatcherConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queueSize"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RulesConfig points at the diagnosis hint rule pack. With Watch set the pack
// is reloaded when the file changes.
type RulesConfig struct {
	Path     string        `yaml:"path"`
	Watch    bool          `yaml:"watch"`
	Debounce time.Duration `yaml:"debounce"`
}

// TracingConfig controls OpenTelemetry span export over OTLP/gRPC.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

// CacheConfig controls trace caching. Backend is "none", "memory" or "valkey".
type CacheConfig struct {
	Backend      string        `yaml:"backend"`
	TraceTTL     time.Duration `yaml:"traceTTL"`
	MemorySize   int           `yaml:"memorySize"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	KeyPrefix    string        `yaml:"keyPrefix"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

// Load initialises Config from defaults, an optional YAML file and environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_AHA_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with. Missing provider
// or tracker credentials are not errors; those degrade at runtime.
func (c *Config) Validate() error {
	if c.Server.HTTPAddress == "" {
		return errors.New("server.httpAddress is required")
	}
	if c.LangSmith.BaseURL == "" {
		return errors.New("langsmith.baseURL is required")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature %.2f out of range [0,2]", c.LLM.Temperature)
	}
	if c.LLM.MaxTokens <= 0 {
		return errors.New("llm.maxTokens must be positive")
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return errors.New("tracing.endpoint is required when tracing is enabled")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sampleRatio %.2f out of range [0,1]", c.Tracing.SampleRatio)
	}
	switch c.Cache.Backend {
	case "", "none", "memory", "valkey":
	default:
		return fmt.Errorf("cache.backend %q not supported", c.Cache.Backend)
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddress:     ":8000",
			GRPCAddress:     ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"http://localhost:3000"},
			Debug:           true,
		},
		LangSmith: LangSmithConfig{
			BaseURL:  "https://api.smith.langchain.com",
			AppURL:   "https://smith.langchain.com",
			Project:  "aha-demo",
			Timeout:  15 * time.Second,
			PageSize: 100,
			MaxPages: 10,
		},
		LLM: LLMConfig{
			Order:       []string{"openai", "anthropic", "gemini"},
			Temperature: 0.1,
			MaxTokens:   1000,
			Timeout:     60 * time.Second,
			OpenAI:      ProviderConfig{Model: "gpt-4o", BaseURL: "https://api.openai.com/v1"},
			Anthropic:   ProviderConfig{Model: "claude-3-opus-20240229"},
			Gemini:      ProviderConfig{Model: "gemini-2.0-flash"},
		},
		GitHub: GitHubConfig{
			RepoName: "aha-incidents",
			BaseURL:  "https://api.github.com",
			Timeout:  10 * time.Second,
			Labels:   []string{"aha-generated", "bug"},
		},
		Dispatcher: DispatcherConfig{Workers: 4, QueueSize: 64},
		Logging:    LoggingConfig{Level: "info", JSON: false},
		Rules:      RulesConfig{Path: "configs/rules/default.yaml", Debounce: 500 * time.Millisecond},
		Tracing:    TracingConfig{Insecure: true, SampleRatio: 1},
		Cache: CacheConfig{
			Backend:      "memory",
			TraceTTL:     10 * time.Minute,
			MemorySize:   256,
			KeyPrefix:    "mirador-aha:",
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Server.HTTPAddress, "MIRADOR_AHA_HTTP_ADDRESS")
	setString(&cfg.Server.GRPCAddress, "MIRADOR_AHA_GRPC_ADDRESS")
	setString(&cfg.Server.MetricsAddress, "MIRADOR_AHA_METRICS_ADDRESS")
	setDuration(&cfg.Server.GracefulTimeout, "MIRADOR_AHA_GRACEFUL_TIMEOUT")
	setList(&cfg.Server.AllowedOrigins, "MIRADOR_AHA_ALLOWED_ORIGINS")
	setBool(&cfg.Server.Debug, "MIRADOR_AHA_DEBUG")
	if v := os.Getenv("WEBHOOK_PORT"); v != "" {
		if _, err := strconv.Atoi(v); err == nil {
			cfg.Server.HTTPAddress = ":" + v
		}
	}

	setString(&cfg.LangSmith.APIKey, "LANGSMITH_API_KEY")
	setString(&cfg.LangSmith.Project, "LANGSMITH_PROJECT")
	setString(&cfg.LangSmith.BaseURL, "MIRADOR_AHA_LANGSMITH_URL")
	setString(&cfg.LangSmith.AppURL, "MIRADOR_AHA_LANGSMITH_APP_URL")
	setDuration(&cfg.LangSmith.Timeout, "MIRADOR_AHA_LANGSMITH_TIMEOUT")

	setString(&cfg.LLM.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&cfg.LLM.OpenAI.Model, "MIRADOR_AHA_OPENAI_MODEL")
	setString(&cfg.LLM.OpenAI.BaseURL, "MIRADOR_AHA_OPENAI_URL")
	setString(&cfg.LLM.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	setString(&cfg.LLM.Anthropic.Model, "MIRADOR_AHA_ANTHROPIC_MODEL")
	setString(&cfg.LLM.Anthropic.BaseURL, "MIRADOR_AHA_ANTHROPIC_URL")
	setString(&cfg.LLM.Gemini.APIKey, "GEMINI_API_KEY")
	setString(&cfg.LLM.Gemini.Model, "MIRADOR_AHA_GEMINI_MODEL")
	setList(&cfg.LLM.Order, "MIRADOR_AHA_LLM_ORDER")
	setDuration(&cfg.LLM.Timeout, "MIRADOR_AHA_LLM_TIMEOUT")
	if v := os.Getenv("MIRADOR_AHA_LLM_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.LLM.Temperature = f
		}
	}
	setInt(&cfg.LLM.MaxTokens, "MIRADOR_AHA_LLM_MAX_TOKENS")

	setString(&cfg.GitHub.Token, "GITHUB_TOKEN")
	setString(&cfg.GitHub.RepoOwner, "GITHUB_REPO_OWNER")
	setString(&cfg.GitHub.RepoName, "GITHUB_REPO_NAME")
	setString(&cfg.GitHub.BaseURL, "MIRADOR_AHA_GITHUB_URL")

	setInt(&cfg.Dispatcher.Workers, "MIRADOR_AHA_WORKERS")
	setInt(&cfg.Dispatcher.QueueSize, "MIRADOR_AHA_QUEUE_SIZE")

	setString(&cfg.Logging.Level, "MIRADOR_AHA_LOG_LEVEL")
	if v := os.Getenv("MIRADOR_AHA_LOG_FORMAT"); v != "" {
		cfg.Logging.JSON = strings.EqualFold(v, "json")
	}
	setString(&cfg.Rules.Path, "MIRADOR_AHA_RULES_PATH")
	setBool(&cfg.Rules.Watch, "MIRADOR_AHA_RULES_WATCH")

	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Endpoint = strings.TrimPrefix(strings.TrimPrefix(v, "http://"), "https://")
	}
	setBool(&cfg.Tracing.Enabled, "MIRADOR_AHA_TRACING_ENABLED")

	setString(&cfg.Cache.Backend, "MIRADOR_AHA_CACHE_BACKEND")
	setDuration(&cfg.Cache.TraceTTL, "MIRADOR_AHA_CACHE_TRACE_TTL")
	setString(&cfg.Cache.Addr, "MIRADOR_AHA_CACHE_ADDR")
	setString(&cfg.Cache.Username, "MIRADOR_AHA_CACHE_USERNAME")
	setString(&cfg.Cache.Password, "MIRADOR_AHA_CACHE_PASSWORD")
	setInt(&cfg.Cache.DB, "MIRADOR_AHA_CACHE_DB")
	setBool(&cfg.Cache.TLS, "MIRADOR_AHA_CACHE_TLS")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
