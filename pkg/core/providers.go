package core

import (
	"fmt"

	"github.com/Khamel83/voice-analysis-system-sub000/pkg/embedder"
	"github.com/Khamel83/voice-analysis-system-sub000/pkg/embedder/mock"
	"github.com/Khamel83/voice-analysis-system-sub000/pkg/embedder/openai"
	"github.com/Khamel83/voice-analysis-system-sub000/pkg/storage"
	"github.com/Khamel83/voice-analysis-system-sub000/pkg/storage/chromem"
	"github.com/Khamel83/voice-analysis-system-sub000/pkg/storage/mysql"
	"github.com/Khamel83/voice-analysis-system-sub000/pkg/storage/postgres"
	"github.com/Khamel83/voice-analysis-system-sub000/pkg/storage/sqlite"
)

func initEmbedder(cfg *EmbedderConfig) (embedder.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return openai.NewClient(&openai.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	case "mock":
		if cfg.Dimensions > 0 {
			return mock.NewWithDimensions(cfg.Dimensions), nil
		}
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported embedder provider: %s", ErrInvalidConfig, cfg.Provider)
	}
}

func initIndex(cfg *IndexConfig, dimensions int) (storage.Index, error) {
	switch cfg.Provider {
	case "chromem":
		return chromem.New()
	case "sqlite":
		return sqlite.NewClient(&sqlite.Config{
			DBPath:         stringOpt(cfg.Config, "db_path", "memories.db"),
			CollectionName: stringOpt(cfg.Config, "collection_name", ""),
		})
	case "postgres":
		return postgres.NewClient(&postgres.Config{
			Host:           stringOpt(cfg.Config, "host", "localhost"),
			Port:           intOpt(cfg.Config, "port", 5432),
			User:           stringOpt(cfg.Config, "user", "postgres"),
			Password:       stringOpt(cfg.Config, "password", ""),
			DBName:         stringOpt(cfg.Config, "db_name", "memories"),
			CollectionName: stringOpt(cfg.Config, "collection_name", ""),
			Dimensions:     dimensions,
			SSLMode:        stringOpt(cfg.Config, "ssl_mode", ""),
		})
	case "mysql":
		return mysql.NewClient(&mysql.Config{
			Host:           stringOpt(cfg.Config, "host", "localhost"),
			Port:           intOpt(cfg.Config, "port", 3306),
			User:           stringOpt(cfg.Config, "user", "root"),
			Password:       stringOpt(cfg.Config, "password", ""),
			DBName:         stringOpt(cfg.Config, "db_name", "memories"),
			CollectionName: stringOpt(cfg.Config, "collection_name", ""),
		})
	default:
		return nil, fmt.Errorf("%w: unsupported index provider: %s", ErrInvalidConfig, cfg.Provider)
	}
}

func stringOpt(m map[string]interface{}, key, def string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return def
}

func intOpt(m map[string]interface{}, key string, def int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		// JSON-decoded configs carry numbers as float64.
		return int(v)
	}
	return def
}
