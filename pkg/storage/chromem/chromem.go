// Package chromem provides an embedded, in-process vector index backed by
// chromem-go. It is the default index: pure Go, no external service, and
// fast enough for single-session archives.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/Khamel83/voice-analysis-system-sub000/pkg/storage"
)

const defaultCollection = "archive"

// Index implements storage.Index on top of a chromem-go collection.
type Index struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// New creates an in-memory chromem index.
func New() (*Index, error) {
	db := chromem.NewDB()

	// Embeddings are always provided by the engine, so no embedding
	// function is registered with the collection.
	col, err := db.CreateCollection(defaultCollection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: create collection: %w", err)
	}

	return &Index{db: db, collection: col}, nil
}

// Upsert inserts or replaces a record.
func (i *Index) Upsert(ctx context.Context, record *Record) error {
	doc, err := toDocument(record)
	if err != nil {
		return err
	}
	if err := i.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("chromem: add document: %w", err)
	}
	return nil
}

// Record aliases the storage record type for call-site brevity.
type Record = storage.Record

// Query returns the top-k records by cosine similarity.
func (i *Index) Query(ctx context.Context, embedding []float64, k int) ([]*Record, error) {
	if k <= 0 {
		return nil, nil
	}

	// chromem rejects nResults greater than the collection size.
	count := i.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := i.collection.QueryEmbedding(ctx, toFloat32(embedding), k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: query: %w", err)
	}

	records := make([]*Record, 0, len(results))
	for _, res := range results {
		record, err := fromResult(res)
		if err != nil {
			// A record that fails to decode degrades the result set
			// instead of failing the read.
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// Count returns the number of stored records.
func (i *Index) Count(ctx context.Context) (int64, error) {
	return int64(i.collection.Count()), nil
}

// Close is a no-op; chromem keeps everything in process memory.
func (i *Index) Close() error {
	return nil
}

// toDocument serializes a record into a chromem document. Structured
// fields ride in the string-typed chromem metadata.
func toDocument(record *Record) (chromem.Document, error) {
	metadataJSON, err := json.Marshal(record.Metadata)
	if err != nil {
		return chromem.Document{}, fmt.Errorf("chromem: marshal metadata: %w", err)
	}

	return chromem.Document{
		ID:        strconv.FormatInt(record.ID, 10),
		Content:   record.Content,
		Embedding: toFloat32(record.Embedding),
		Metadata: map[string]string{
			"metadata":    string(metadataJSON),
			"importance":  strconv.FormatFloat(record.Importance, 'f', -1, 64),
			"created_at":  record.CreatedAt.Format(time.RFC3339Nano),
			"archived_at": record.ArchivedAt.Format(time.RFC3339Nano),
		},
	}, nil
}

// fromResult deserializes a chromem result back into a record.
func fromResult(res chromem.Result) (*Record, error) {
	id, err := strconv.ParseInt(res.ID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("chromem: parse id %q: %w", res.ID, err)
	}

	var metadata map[string]interface{}
	if raw := res.Metadata["metadata"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return nil, fmt.Errorf("chromem: parse metadata: %w", err)
		}
	}

	importance, _ := strconv.ParseFloat(res.Metadata["importance"], 64)
	createdAt, _ := time.Parse(time.RFC3339Nano, res.Metadata["created_at"])
	archivedAt, _ := time.Parse(time.RFC3339Nano, res.Metadata["archived_at"])

	return &Record{
		ID:         id,
		Content:    res.Content,
		Embedding:  toFloat64(res.Embedding),
		Metadata:   metadata,
		Importance: importance,
		CreatedAt:  createdAt,
		ArchivedAt: archivedAt,
		Score:      float64(res.Similarity),
	}, nil
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

func toFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}
