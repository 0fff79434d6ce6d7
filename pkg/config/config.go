package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Port    string `mapstructure:"port"`
	AppName string `mapstructure:"app_name"`
	Debug   bool   `mapstructure:"debug"`

	// StoreBackend selects embedding persistence: "memory" or "postgres".
	StoreBackend string `mapstructure:"store_backend"`
	DatabaseURL  string `mapstructure:"database_url"`

	// Ollama embedding endpoint
	OllamaURL     string        `mapstructure:"ollama_url"`
	OllamaModel   string        `mapstructure:"ollama_model"`
	OllamaToken   string        `mapstructure:"ollama_token"`
	OllamaTimeout time.Duration `mapstructure:"ollama_timeout"`
	OllamaRPS     float64       `mapstructure:"ollama_rps"`

	EmbeddingDimension int `mapstructure:"embedding_dimension"`
	MaxInputChars      int `mapstructure:"max_input_chars"`

	// Index
	ExactSearchThreshold int   `mapstructure:"exact_search_threshold"`
	HNSWM                int   `mapstructure:"hnsw_m"`
	HNSWEFConstruction   int   `mapstructure:"hnsw_ef_construction"`
	HNSWEFSearch         int   `mapstructure:"hnsw_ef_search"`
	RandomSeed           int64 `mapstructure:"random_seed"`

	// Recommendations
	JobsK          int           `mapstructure:"jobs_k"`
	CandidatesK    int           `mapstructure:"candidates_k"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`
	EligibilityTTL time.Duration `mapstructure:"eligibility_ttl"`

	// Write path
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queue_size"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
}

// Load reads configuration from matchengine.yaml (if present) and the
// environment, with environment taking precedence.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("port", "3001")
	v.SetDefault("app_name", "matchengine")
	v.SetDefault("debug", false)
	v.SetDefault("store_backend", "memory")
	v.SetDefault("database_url", "postgres://localhost:5432/matchengine?sslmode=disable")
	v.SetDefault("ollama_url", "http://localhost:11434")
	v.SetDefault("ollama_model", "nomic-embed-text")
	v.SetDefault("ollama_timeout", 30*time.Second)
	v.SetDefault("ollama_rps", 10.0)
	v.SetDefault("embedding_dimension", 768)
	v.SetDefault("max_input_chars", 32768)
	v.SetDefault("exact_search_threshold", 1000)
	v.SetDefault("hnsw_m", 16)
	v.SetDefault("hnsw_ef_construction", 200)
	v.SetDefault("hnsw_ef_search", 100)
	v.SetDefault("random_seed", 0)
	v.SetDefault("jobs_k", 5)
	v.SetDefault("candidates_k", 10)
	v.SetDefault("query_timeout", 2*time.Second)
	v.SetDefault("eligibility_ttl", 30*time.Second)
	v.SetDefault("workers", 4)
	v.SetDefault("queue_size", 256)
	v.SetDefault("max_attempts", 3)
	v.SetDefault("retry_base_delay", 200*time.Millisecond)
	v.SetDefault("retry_max_delay", 5*time.Second)

	v.SetConfigName("matchengine")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/matchengine")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("MATCHENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.StoreBackend != "memory" && cfg.StoreBackend != "postgres" {
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	return &cfg, nil
}
