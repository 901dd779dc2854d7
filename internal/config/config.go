package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type Config struct {
	HTTPPort string `env:"HTTP_PORT" envDefault:"8080"`
	LogMode  string `env:"LOG_MODE" envDefault:"development"`

	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"sqlite3"`
	DatabaseURL    string `env:"DATABASE_URL" envDefault:"jai_chat.db"`

	JWTSecret          string        `env:"JWT_SECRET"`
	SessionTTL         time.Duration `env:"SESSION_TTL" envDefault:"168h"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`
	MaxBodyBytes       int64         `env:"MAX_BODY_BYTES" envDefault:"52428800"`
	CookieSecure       bool          `env:"COOKIE_SECURE" envDefault:"false"`
	// Only enable behind a proxy that overwrites X-Forwarded-For / X-Real-IP.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	GitHubToken      string `env:"GITHUB_TOKEN"`
	GitHubBaseURL    string `env:"GITHUB_MODELS_BASE_URL" envDefault:"https://models.github.ai/inference"`
	GitHubModel      string `env:"GITHUB_MODEL" envDefault:"openai/gpt-4o-mini"`
	OpenRouterAPIKey string `env:"OPENROUTER_API_KEY"`
	OpenRouterURL    string `env:"OPENROUTER_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	OpenRouterModel  string `env:"OPENROUTER_MODEL" envDefault:"deepseek/deepseek-chat"`
	GeminiAPIKey     string `env:"GEMINI_API_KEY"`
	GeminiModel      string `env:"GEMINI_MODEL" envDefault:"gemini-1.5-flash"`

	// Providers are tried in this order; unconfigured ones are skipped.
	ProviderOrder []string `env:"PROVIDER_ORDER" envSeparator:"," envDefault:"github,openrouter,gemini"`

	Temperature          float64       `env:"GENERATION_TEMPERATURE" envDefault:"0.7"`
	MaxTokens            int64         `env:"GENERATION_MAX_TOKENS" envDefault:"4096"`
	ProviderTimeout      time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"45s"`
	InjectionProbability float64       `env:"INJECTION_PROBABILITY" envDefault:"0.15"`
	SerializeChatTurns   bool          `env:"SERIALIZE_CHAT_TURNS" envDefault:"true"`

	RedisURL       string        `env:"REDIS_URL"`
	ConfigCacheTTL time.Duration `env:"CONFIG_CACHE_TTL" envDefault:"5m"`

	AdminUsername string `env:"ADMIN_USERNAME"`
	AdminPassword string `env:"ADMIN_PASSWORD"`
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}
	return Parse()
}

// Parse reads the process environment without touching .env files.
func Parse() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	switch c.DatabaseDriver {
	case "sqlite3", "pgx":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q (want sqlite3 or pgx)", c.DatabaseDriver)
	}
	if c.InjectionProbability < 0 || c.InjectionProbability > 1 {
		return fmt.Errorf("INJECTION_PROBABILITY must be within [0,1], got %v", c.InjectionProbability)
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive")
	}
	return nil
}

// Providers returns the credentials of every configured provider, keyed by name, in ProviderOrder.
// A provider without an API key is left out.
func (c *Config) Providers() []NamedProvider {
	all := map[string]ProviderConfig{
		"github":     {APIKey: c.GitHubToken, BaseURL: c.GitHubBaseURL, Model: c.GitHubModel},
		"openrouter": {APIKey: c.OpenRouterAPIKey, BaseURL: c.OpenRouterURL, Model: c.OpenRouterModel},
		"gemini":     {APIKey: c.GeminiAPIKey, Model: c.GeminiModel},
	}

	var out []NamedProvider
	seen := make(map[string]bool)
	for _, name := range c.ProviderOrder {
		name = strings.ToLower(strings.TrimSpace(name))
		pc, ok := all[name]
		if !ok || seen[name] || pc.APIKey == "" {
			continue
		}
		seen[name] = true
		out = append(out, NamedProvider{Name: name, ProviderConfig: pc})
	}
	return out
}

type NamedProvider struct {
	Name string
	ProviderConfig
}
