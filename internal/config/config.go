// Package config provides application configuration with multi-source
// priority: environment variables override the config file
// (~/.kotoba/config.yaml), which overrides defaults.
//
// Sensitive values (Postgres password, Hugging Face API key) are masked in
// MarshalJSON. When adding new secrets, update MarshalJSON.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

const (
	// DefaultEmbedderModel is the default Gemini embedder.
	// gemini-embedding-001 outputs 3072 dimensions by default but supports
	// truncation via OutputDimensionality; the knowledge store schema is
	// created with EmbedderDimension columns.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultEmbedderDimension matches the vector(N) columns created for
	// per-agent knowledge stores.
	DefaultEmbedderDimension = 768

	// DefaultChunkSize and DefaultChunkOverlap control document splitting
	// during ingestion. Retrieval quality depends on stable chunk
	// boundaries, so these must not vary between ingestions of one store.
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50

	// DefaultRetrievalTopK is the number of chunks fetched per query.
	DefaultRetrievalTopK = 4
)

// Config stores application configuration.
type Config struct {
	// AI provider and model configuration
	Provider          string `mapstructure:"provider" json:"provider"`
	ModelName         string `mapstructure:"model_name" json:"model_name"`
	EmbedderModel     string `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderDimension int    `mapstructure:"embedder_dimension" json:"embedder_dimension"`
	OllamaHost        string `mapstructure:"ollama_host" json:"ollama_host"`

	// External call deadlines. Every generation, embedding, and search call
	// is bounded by one of these; nothing blocks indefinitely.
	GenerateTimeout time.Duration `mapstructure:"generate_timeout" json:"generate_timeout"`
	EmbedTimeout    time.Duration `mapstructure:"embed_timeout" json:"embed_timeout"`
	SearchTimeout   time.Duration `mapstructure:"search_timeout" json:"search_timeout"`

	// Retry policy for transient external failures (429, 5xx, network).
	MaxRetries           int           `mapstructure:"max_retries" json:"max_retries"`
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval" json:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `mapstructure:"retry_max_interval" json:"retry_max_interval"`

	// Ingestion chunking policy
	ChunkSize    int `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap" json:"chunk_overlap"`

	// Retrieval
	RetrievalTopK int `mapstructure:"retrieval_top_k" json:"retrieval_top_k"`

	// Blog generation fan-out limit (bounded worker pool)
	BlogMaxConcurrency int `mapstructure:"blog_max_concurrency" json:"blog_max_concurrency"`

	// Image generation
	HFAPIKey      string `mapstructure:"hf_api_key" json:"hf_api_key"`
	ImageModel    string `mapstructure:"image_model" json:"image_model"`
	ImageOutputDir string `mapstructure:"image_output_dir" json:"image_output_dir"`

	// PostgreSQL connection
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_dbname" json:"postgres_dbname"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode" json:"postgres_sslmode"`
}

// Load reads configuration from defaults, the config file, and environment
// variables (KOTOBA_ prefix), in increasing priority, then validates.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir, err := configDir(); err == nil {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("KOTOBA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No config file is fine; defaults + env apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("embedder_dimension", DefaultEmbedderDimension)
	v.SetDefault("ollama_host", "http://localhost:11434")

	v.SetDefault("generate_timeout", 30*time.Second)
	v.SetDefault("embed_timeout", 10*time.Second)
	v.SetDefault("search_timeout", 10*time.Second)

	v.SetDefault("max_retries", 3)
	v.SetDefault("retry_initial_interval", 500*time.Millisecond)
	v.SetDefault("retry_max_interval", 10*time.Second)

	v.SetDefault("chunk_size", DefaultChunkSize)
	v.SetDefault("chunk_overlap", DefaultChunkOverlap)
	v.SetDefault("retrieval_top_k", DefaultRetrievalTopK)
	v.SetDefault("blog_max_concurrency", 4)

	v.SetDefault("image_model", "stabilityai/stable-diffusion-3.5-large")
	v.SetDefault("image_output_dir", "generated-images")

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "kotoba")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_dbname", "kotoba")
	v.SetDefault("postgres_sslmode", "disable")
}

// configDir returns ~/.kotoba, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	dir := filepath.Join(home, ".kotoba")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	return dir, nil
}

// MarshalJSON masks sensitive fields so configs can be logged safely.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursion
	masked := alias(c)
	if masked.PostgresPassword != "" {
		masked.PostgresPassword = "****"
	}
	if masked.HFAPIKey != "" {
		masked.HFAPIKey = "****"
	}
	return json.Marshal(masked)
}
