// Package mysql provides a MySQL-compatible vector index.
//
// Vectors are stored as JSON text and similarity is computed client-side,
// so the driver works against plain MySQL and MySQL-compatible servers
// without native vector types.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/Khamel83/voice-analysis-system-sub000/pkg/storage"
)

// Client implements storage.Index using a MySQL-compatible backend.
type Client struct {
	db             *sql.DB
	collectionName string
}

// Config contains MySQL configuration.
type Config struct {
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	CollectionName string
}

// NewClient creates a new MySQL index, creating the archive table if
// necessary.
func NewClient(cfg *Config) (*Client, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}

	collection := cfg.CollectionName
	if collection == "" {
		collection = "archive"
	}

	client := &Client{db: db, collectionName: collection}
	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			content LONGTEXT NOT NULL,
			embedding LONGTEXT NOT NULL,
			metadata JSON,
			importance DOUBLE NOT NULL DEFAULT 0,
			created_at DATETIME,
			archived_at DATETIME
		)
	`, c.collectionName)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("mysql: init tables: %w", err)
	}
	return nil
}

// Upsert inserts or replaces a record.
func (c *Client) Upsert(ctx context.Context, record *storage.Record) error {
	embeddingJSON, err := json.Marshal(record.Embedding)
	if err != nil {
		return fmt.Errorf("mysql: marshal embedding: %w", err)
	}
	metadataJSON, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("mysql: marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
		REPLACE INTO %s (id, content, embedding, metadata, importance, created_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.collectionName)

	_, err = c.db.ExecContext(ctx, query,
		record.ID,
		record.Content,
		string(embeddingJSON),
		string(metadataJSON),
		record.Importance,
		record.CreatedAt,
		record.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("mysql: upsert: %w", err)
	}
	return nil
}

// Query scans the archive, computes cosine similarity client-side, and
// returns the top-k records.
func (c *Client) Query(ctx context.Context, embedding []float64, k int) ([]*storage.Record, error) {
	query := fmt.Sprintf(`
		SELECT id, content, embedding, metadata, importance, created_at, archived_at
		FROM %s
	`, c.collectionName)

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("mysql: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*storage.Record
	for rows.Next() {
		var record storage.Record
		var embeddingStr string
		var metadataStr sql.NullString
		var createdAt, archivedAt sql.NullTime

		err := rows.Scan(
			&record.ID,
			&record.Content,
			&embeddingStr,
			&metadataStr,
			&record.Importance,
			&createdAt,
			&archivedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("mysql: scan: %w", err)
		}

		if err := json.Unmarshal([]byte(embeddingStr), &record.Embedding); err != nil {
			return nil, fmt.Errorf("mysql: parse embedding: %w", err)
		}
		if metadataStr.Valid && metadataStr.String != "" {
			if err := json.Unmarshal([]byte(metadataStr.String), &record.Metadata); err != nil {
				return nil, fmt.Errorf("mysql: parse metadata: %w", err)
			}
		}
		if createdAt.Valid {
			record.CreatedAt = createdAt.Time
		}
		if archivedAt.Valid {
			record.ArchivedAt = archivedAt.Time
		}

		record.Score = storage.CosineSimilarity(embedding, record.Embedding)
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mysql: query: %w", err)
	}

	return storage.SortByScore(records, k), nil
}

// Count returns the number of stored records.
func (c *Client) Count(ctx context.Context) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", c.collectionName)
	if err := c.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("mysql: count: %w", err)
	}
	return count, nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
