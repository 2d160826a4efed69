// Package config loads application configuration from a config file and
// environment variables via viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App        App        `mapstructure:"app"`
	LLM        LLM        `mapstructure:"llm"`
	Cache      Cache      `mapstructure:"cache"`
	Clustering Clustering `mapstructure:"clustering"`
}

// App holds general application configuration.
type App struct {
	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"`
	Debug    bool   `mapstructure:"debug"`
}

// LLM holds provider configuration for the oracle and synthesis calls.
type LLM struct {
	Provider string `mapstructure:"provider"` // gemini, openai, anthropic, ollama
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	BaseURL  string `mapstructure:"base_url"`
	Timeout  string `mapstructure:"timeout"` // Go duration string, e.g. "45s"
}

// Cache selects the similarity-cache backend.
type Cache struct {
	Backend  string `mapstructure:"backend"` // sqlite (default) or redis
	RedisURL string `mapstructure:"redis_url"`
}

// Clustering holds knobs for the clustering pass. Thresholds themselves
// are policy constants in the clusterer package, not configuration.
type Clustering struct {
	MaxConcurrentComparisons int `mapstructure:"max_concurrent_comparisons"`
}

// OracleTimeout parses the configured LLM timeout, defaulting to 45s.
func (l LLM) OracleTimeout() time.Duration {
	if l.Timeout == "" {
		return 45 * time.Second
	}
	d, err := time.ParseDuration(l.Timeout)
	if err != nil {
		return 45 * time.Second
	}
	return d
}

// Load reads configuration from the given file (optional), .env, and
// DARKSUN_-prefixed environment variables, and applies defaults.
func Load(cfgFile string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(".darksun")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	v.SetEnvPrefix("DARKSUN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; anything else is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			return nil, fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// API keys come from the environment when not set in the file.
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = firstEnv("GEMINI_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.data_dir", ".darksun-data")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.timeout", "45s")
	v.SetDefault("cache.backend", "sqlite")
	v.SetDefault("clustering.max_concurrent_comparisons", 4)
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if val := os.Getenv(k); val != "" {
			return val
		}
	}
	return ""
}
