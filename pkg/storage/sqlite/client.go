// Package sqlite provides a SQLite-backed vector index.
//
// Vectors are stored as JSON strings in TEXT columns and similarity is
// computed in memory, which keeps the archive durable across restarts
// without requiring a database with native vector support.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Khamel83/voice-analysis-system-sub000/pkg/storage"
)

// Client implements storage.Index using SQLite as the backend.
type Client struct {
	db             *sql.DB
	collectionName string
}

// Config contains configuration for the SQLite index.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CollectionName is the table name. Defaults to "archive".
	CollectionName string
}

// NewClient creates a new SQLite index, creating the database file and
// table if necessary.
func NewClient(cfg *Config) (*Client, error) {
	if dbDir := filepath.Dir(cfg.DBPath); dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("sqlite: ping: %w", err)
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
			id INTEGER PRIMARY KEY,
			content TEXT NOT NULL,
			embedding TEXT NOT NULL,
			metadata TEXT,
			importance REAL NOT NULL DEFAULT 0,
			created_at DATETIME,
			archived_at DATETIME
		)
	`, c.collectionName)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("sqlite: init tables: %w", err)
	}
	return nil
}

// Upsert inserts or replaces a record.
func (c *Client) Upsert(ctx context.Context, record *storage.Record) error {
	embeddingJSON, err := json.Marshal(record.Embedding)
	if err != nil {
		return fmt.Errorf("sqlite: marshal embedding: %w", err)
	}
	metadataJSON, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("sqlite: marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT OR REPLACE INTO %s
		(id, content, embedding, metadata, importance, created_at, archived_at)
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
		return fmt.Errorf("sqlite: upsert: %w", err)
	}
	return nil
}

// Query scans the archive, computes cosine similarity in memory, and
// returns the top-k records.
func (c *Client) Query(ctx context.Context, embedding []float64, k int) ([]*storage.Record, error) {
	query := fmt.Sprintf(`
		SELECT id, content, embedding, metadata, importance, created_at, archived_at
		FROM %s
	`, c.collectionName)

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*storage.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		record.Score = storage.CosineSimilarity(embedding, record.Embedding)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: query: %w", err)
	}

	return storage.SortByScore(records, k), nil
}

// Count returns the number of stored records.
func (c *Client) Count(ctx context.Context) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", c.collectionName)
	if err := c.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("sqlite: count: %w", err)
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

func scanRecord(rows *sql.Rows) (*storage.Record, error) {
	var record storage.Record
	var embeddingStr, metadataStr string
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
		return nil, fmt.Errorf("sqlite: scan: %w", err)
	}

	if err := json.Unmarshal([]byte(embeddingStr), &record.Embedding); err != nil {
		return nil, fmt.Errorf("sqlite: parse embedding: %w", err)
	}
	if metadataStr != "" {
		if err := json.Unmarshal([]byte(metadataStr), &record.Metadata); err != nil {
			return nil, fmt.Errorf("sqlite: parse metadata: %w", err)
		}
	}
	if createdAt.Valid {
		record.CreatedAt = createdAt.Time
	}
	if archivedAt.Valid {
		record.ArchivedAt = archivedAt.Time
	}

	return &record, nil
}
