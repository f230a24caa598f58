// Package storage provides the persisted vector index contract the memory
// engine archives long-term items into, along with shared vector math.
//
// The Record type is defined here rather than in core to avoid a circular
// dependency; it mirrors the archived subset of a memory item.
package storage

import (
	"context"
	"math"
	"sort"
	"time"
)

// Record is an archived memory item as the index stores it.
type Record struct {
	// ID is the item's unique identifier.
	ID int64

	// Content is the item's raw text.
	Content string

	// Embedding is the item's vector representation.
	Embedding []float64

	// Metadata carries the item's free-form context.
	Metadata map[string]interface{}

	// Importance is the item's score at archive time.
	Importance float64

	// CreatedAt is when the item entered the memory system.
	CreatedAt time.Time

	// ArchivedAt is when the item was moved to long-term.
	ArchivedAt time.Time

	// Score is the similarity attached by Query. Not persisted.
	Score float64
}

// Index is the minimal contract the engine requires of a persisted
// vector index: durable upserts and ranked similarity queries. The
// engine applies its own timeouts around these calls and treats every
// failure as transient.
type Index interface {
	// Upsert inserts or replaces a record. Archiving relies on Upsert
	// succeeding before an item is removed from short-term.
	Upsert(ctx context.Context, record *Record) error

	// Query returns the top-k records ranked by similarity to the
	// given embedding, highest first, with Score populated.
	Query(ctx context.Context, embedding []float64, k int) ([]*Record, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)

	// Close closes the index and releases resources.
	Close() error
}

// CosineSimilarity computes the cosine similarity of two vectors.
// Mismatched lengths or zero vectors yield 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SortByScore sorts records by score descending and truncates to limit.
// A non-positive limit keeps everything.
func SortByScore(records []*Record, limit int) []*Record {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Score > records[j].Score
	})
	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}
