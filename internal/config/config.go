package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Guardrails struct {
	BannedWords     []string `mapstructure:"banned_words"`
	MaxPromptLength int      `mapstructure:"max_prompt_length"`
}

// ProviderOverride replaces catalog settings for one provider kind.
type ProviderOverride struct {
	BaseURL string `mapstructure:"base_url"`
}

type Config struct {
	Address             string                      `mapstructure:"address"`
	StaticDir           string                      `mapstructure:"static_dir"`
	IndexFile           string                      `mapstructure:"index_file"`
	OllamaURL           string                      `mapstructure:"ollama_url"`
	OllamaFallbackModel string                      `mapstructure:"ollama_fallback_model"`
	RequestTimeout      time.Duration               `mapstructure:"request_timeout"`
	TelemetryURL        string                      `mapstructure:"telemetry_url"`
	LogLevel            string                      `mapstructure:"log_level"`
	CORSOrigins         []string                    `mapstructure:"cors_origins"`
	Offline             bool                        `mapstructure:"offline"`
	Guardrails          Guardrails                  `mapstructure:"guardrails"`
	Providers           map[string]ProviderOverride `mapstructure:"providers"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("address", ":18000")
	v.SetDefault("static_dir", "web")
	v.SetDefault("index_file", "index.html")
	v.SetDefault("ollama_url", "http://localhost:11434")
	v.SetDefault("ollama_fallback_model", "llama2")
	v.SetDefault("request_timeout", "60s")
	v.SetDefault("telemetry_url", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("cors_origins", []string{"*"})
	v.SetDefault("offline", false)
	v.SetDefault("guardrails.banned_words", []string{})
	v.SetDefault("guardrails.max_prompt_length", 20000)
}

// Load reads config.yaml from . or ./config (optional), then environment
// variables prefixed with PALETTE. A .env file, if present, is loaded into
// the environment first.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// allow environment variables like PALETTE_ADDRESS
	v.SetEnvPrefix("PALETTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// don't fail if config file is missing, allow env-only config
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return nil, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// BaseURL returns the configured endpoint override for a provider kind.
func (c *Config) BaseURL(kind string) string {
	if p, ok := c.Providers[kind]; ok {
		return p.BaseURL
	}
	return ""
}
