package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Default tier and policy parameters.
const (
	DefaultWorkingCapacity   = 10
	DefaultShortTermCapacity = 100
	DefaultDecayRate         = 0.95
	DefaultDecayThreshold    = 0.3
	DefaultDecayInterval     = time.Hour
	DefaultLongTermTimeout   = 2 * time.Second
)

// Config contains the complete configuration for a memory system.
//
// Example:
//
//	cfg := core.DefaultConfig()
//	cfg.Index = core.IndexConfig{
//	    Provider: "sqlite",
//	    Config: map[string]interface{}{
//	        "db_path": "./memories.db",
//	    },
//	}
//	system, err := core.New(cfg)
type Config struct {
	// WorkingCapacity is the size of the working-tier FIFO buffer.
	WorkingCapacity int `json:"working_capacity"`

	// ShortTermCapacity is the size of the short-term tier.
	ShortTermCapacity int `json:"short_term_capacity"`

	// DecayRate is the per-hour multiplicative importance decay applied
	// to short-term items. Must be in (0, 1].
	DecayRate float64 `json:"decay_rate"`

	// DecayThreshold drops a short-term item once its importance falls
	// to or below this value, and gates which items qualify for archiving.
	// Must be in [0, 1).
	DecayThreshold float64 `json:"decay_threshold"`

	// DecayInterval is the default tick of the background decay loop.
	DecayInterval time.Duration `json:"decay_interval"`

	// LongTermTimeout bounds a single long-term index lookup. On expiry
	// the read returns empty rather than failing the caller.
	LongTermTimeout time.Duration `json:"long_term_timeout"`

	// Embedder configures the embedding provider.
	Embedder EmbedderConfig `json:"embedder"`

	// Index configures the persisted vector index.
	Index IndexConfig `json:"index"`
}

// EmbedderConfig contains configuration for the embedding provider.
//
// Supported providers: openai, mock.
type EmbedderConfig struct {
	// Provider is the embedding provider name.
	Provider string `json:"provider"`

	// APIKey is the API key for hosted providers.
	APIKey string `json:"api_key,omitempty"`

	// Model is the embedding model name.
	Model string `json:"model,omitempty"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `json:"base_url,omitempty"`

	// Dimensions is the embedding vector size.
	Dimensions int `json:"dimensions,omitempty"`
}

// IndexConfig contains configuration for the persisted vector index.
//
// Supported providers: chromem, sqlite, postgres, mysql.
type IndexConfig struct {
	// Provider is the index provider name.
	Provider string `json:"provider"`

	// Config contains provider-specific configuration.
	// For sqlite: db_path, collection_name
	// For postgres: host, port, user, password, db_name, collection_name, ssl_mode
	// For mysql: host, port, user, password, db_name, collection_name
	Config map[string]interface{} `json:"config,omitempty"`
}

// DefaultConfig returns a working configuration: a ten-slot
// working buffer, a hundred-slot short-term tier, 0.95/hour decay with a
// 0.3 drop threshold, the in-process chromem index, and the mock embedder.
func DefaultConfig() *Config {
	return &Config{
		WorkingCapacity:   DefaultWorkingCapacity,
		ShortTermCapacity: DefaultShortTermCapacity,
		DecayRate:         DefaultDecayRate,
		DecayThreshold:    DefaultDecayThreshold,
		DecayInterval:     DefaultDecayInterval,
		LongTermTimeout:   DefaultLongTermTimeout,
		Embedder:          EmbedderConfig{Provider: "mock", Dimensions: 384},
		Index:             IndexConfig{Provider: "chromem"},
	}
}

// Validate checks the configuration.
//
// Configuration errors are the only fatal error class: a non-positive
// capacity or an out-of-range decay parameter signals a setup mistake,
// so it is reported here, at construction, and never at runtime.
func (c *Config) Validate() error {
	if c.WorkingCapacity <= 0 {
		return fmt.Errorf("%w: working capacity must be positive, got %d", ErrInvalidConfig, c.WorkingCapacity)
	}
	if c.ShortTermCapacity <= 0 {
		return fmt.Errorf("%w: short-term capacity must be positive, got %d", ErrInvalidConfig, c.ShortTermCapacity)
	}
	if c.DecayRate <= 0 || c.DecayRate > 1 {
		return fmt.Errorf("%w: decay rate must be in (0,1], got %g", ErrInvalidConfig, c.DecayRate)
	}
	if c.DecayThreshold < 0 || c.DecayThreshold >= 1 {
		return fmt.Errorf("%w: decay threshold must be in [0,1), got %g", ErrInvalidConfig, c.DecayThreshold)
	}
	if c.DecayInterval < 0 {
		return fmt.Errorf("%w: decay interval must not be negative", ErrInvalidConfig)
	}
	if c.LongTermTimeout < 0 {
		return fmt.Errorf("%w: long-term timeout must not be negative", ErrInvalidConfig)
	}
	if c.Embedder.Provider == "" {
		return fmt.Errorf("%w: embedder provider is required", ErrInvalidConfig)
	}
	if c.Index.Provider == "" {
		return fmt.Errorf("%w: index provider is required", ErrInvalidConfig)
	}
	return nil
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function searches for a .env or .env.example file up to five
// directory levels up, loads it if present, then reads:
//
//   - MEMORY_WORKING_CAPACITY, MEMORY_SHORT_TERM_CAPACITY
//   - MEMORY_DECAY_RATE, MEMORY_DECAY_THRESHOLD, MEMORY_DECAY_INTERVAL
//   - MEMORY_LONG_TERM_TIMEOUT
//   - INDEX_PROVIDER (chromem, sqlite, postgres, mysql) plus the
//     provider-specific SQLITE_*, POSTGRES_*, MYSQL_* variables
//   - EMBEDDING_PROVIDER, EMBEDDING_API_KEY, EMBEDDING_MODEL,
//     EMBEDDING_BASE_URL, EMBEDDING_DIMS
func LoadConfigFromEnv() (*Config, error) {
	if envPath, found := FindEnvFile(); found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()

	var err error
	if cfg.WorkingCapacity, err = envInt("MEMORY_WORKING_CAPACITY", cfg.WorkingCapacity); err != nil {
		return nil, err
	}
	if cfg.ShortTermCapacity, err = envInt("MEMORY_SHORT_TERM_CAPACITY", cfg.ShortTermCapacity); err != nil {
		return nil, err
	}
	if cfg.DecayRate, err = envFloat("MEMORY_DECAY_RATE", cfg.DecayRate); err != nil {
		return nil, err
	}
	if cfg.DecayThreshold, err = envFloat("MEMORY_DECAY_THRESHOLD", cfg.DecayThreshold); err != nil {
		return nil, err
	}
	if cfg.DecayInterval, err = envDuration("MEMORY_DECAY_INTERVAL", cfg.DecayInterval); err != nil {
		return nil, err
	}
	if cfg.LongTermTimeout, err = envDuration("MEMORY_LONG_TERM_TIMEOUT", cfg.LongTermTimeout); err != nil {
		return nil, err
	}

	provider := getEnvOrDefault("INDEX_PROVIDER", "chromem")
	indexConfig := make(map[string]interface{})
	switch provider {
	case "sqlite":
		indexConfig = map[string]interface{}{
			"db_path":         getEnvOrDefault("SQLITE_PATH", "./memories.db"),
			"collection_name": getEnvOrDefault("SQLITE_COLLECTION", "archive"),
		}
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		indexConfig = map[string]interface{}{
			"host":            getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":            port,
			"user":            getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password":        os.Getenv("POSTGRES_PASSWORD"),
			"db_name":         getEnvOrDefault("POSTGRES_DATABASE", "memories"),
			"collection_name": getEnvOrDefault("POSTGRES_COLLECTION", "archive"),
			"ssl_mode":        getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	case "mysql":
		port, _ := strconv.Atoi(getEnvOrDefault("MYSQL_PORT", "3306"))
		indexConfig = map[string]interface{}{
			"host":            getEnvOrDefault("MYSQL_HOST", "127.0.0.1"),
			"port":            port,
			"user":            getEnvOrDefault("MYSQL_USER", "root"),
			"password":        os.Getenv("MYSQL_PASSWORD"),
			"db_name":         getEnvOrDefault("MYSQL_DATABASE", "memories"),
			"collection_name": getEnvOrDefault("MYSQL_COLLECTION", "archive"),
		}
	}
	cfg.Index = IndexConfig{Provider: provider, Config: indexConfig}

	embedderProvider := getEnvOrDefault("EMBEDDING_PROVIDER", "mock")
	dims, err := envInt("EMBEDDING_DIMS", cfg.Embedder.Dimensions)
	if err != nil {
		return nil, err
	}
	if embedderProvider == "openai" && os.Getenv("EMBEDDING_DIMS") == "" {
		dims = 1536
	}
	cfg.Embedder = EmbedderConfig{
		Provider:   embedderProvider,
		APIKey:     os.Getenv("EMBEDDING_API_KEY"),
		Model:      os.Getenv("EMBEDDING_MODEL"),
		BaseURL:    os.Getenv("EMBEDDING_BASE_URL"),
		Dimensions: dims,
	}

	return cfg, nil
}

// LoadConfigFromJSON loads configuration from a JSON file.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	return cfg, nil
}

// FindEnvFile searches the current directory and up to five parents for a
// .env or .env.example file. Returns the path and whether one was found.
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return v, nil
}

func envFloat(key string, def float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return v, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return v, nil
}
