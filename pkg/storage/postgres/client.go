// Package postgres provides a PostgreSQL + pgvector backed vector index.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"

	"github.com/Khamel83/voice-analysis-system-sub000/pkg/storage"
)

// Client implements storage.Index using PostgreSQL with the pgvector
// extension. Similarity ranking runs inside the database.
type Client struct {
	db             *sql.DB
	collectionName string
	dimensions     int
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	CollectionName string
	Dimensions     int
	SSLMode        string
}

// NewClient creates a new PostgreSQL index, enabling pgvector and
// creating the archive table if necessary.
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	collection := cfg.CollectionName
	if collection == "" {
		collection = "archive"
	}

	client := &Client{db: db, collectionName: collection, dimensions: cfg.Dimensions}
	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) initTables(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("postgres: create extension: %w", err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB,
			importance FLOAT NOT NULL DEFAULT 0,
			created_at TIMESTAMP,
			archived_at TIMESTAMP
		)
	`, c.collectionName, c.dimensions)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("postgres: create table: %w", err)
	}
	return nil
}

// Upsert inserts or replaces a record.
func (c *Client) Upsert(ctx context.Context, record *storage.Record) error {
	metadataJSON, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, content, embedding, metadata, importance, created_at, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata,
			importance = EXCLUDED.importance,
			archived_at = EXCLUDED.archived_at
	`, c.collectionName)

	_, err = c.db.ExecContext(ctx, query,
		record.ID,
		record.Content,
		vectorToString(record.Embedding),
		string(metadataJSON),
		record.Importance,
		record.CreatedAt,
		record.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert: %w", err)
	}
	return nil
}

// Query returns the top-k records ranked by cosine similarity, computed
// by pgvector's <=> operator.
func (c *Client) Query(ctx context.Context, embedding []float64, k int) ([]*storage.Record, error) {
	if k <= 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT id, content, metadata, importance, created_at, archived_at,
		       1 - (embedding <=> $1) AS similarity
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2
	`, c.collectionName)

	rows, err := c.db.QueryContext(ctx, query, vectorToString(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*storage.Record
	for rows.Next() {
		var record storage.Record
		var metadataStr sql.NullString
		var createdAt, archivedAt sql.NullTime

		err := rows.Scan(
			&record.ID,
			&record.Content,
			&metadataStr,
			&record.Importance,
			&createdAt,
			&archivedAt,
			&record.Score,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}

		if metadataStr.Valid && metadataStr.String != "" {
			if err := json.Unmarshal([]byte(metadataStr.String), &record.Metadata); err != nil {
				return nil, fmt.Errorf("postgres: parse metadata: %w", err)
			}
		}
		if createdAt.Valid {
			record.CreatedAt = createdAt.Time
		}
		if archivedAt.Valid {
			record.ArchivedAt = archivedAt.Time
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	return records, nil
}

// Count returns the number of stored records.
func (c *Client) Count(ctx context.Context) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", c.collectionName)
	if err := c.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count: %w", err)
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

// vectorToString renders a vector in pgvector text format: "[0.1,0.2,...]".
func vectorToString(embedding []float64) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
