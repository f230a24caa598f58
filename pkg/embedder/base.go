// Package embedder provides interfaces for text embedding providers.
//
// The memory engine treats embedding as an opaque function from text to a
// fixed-length vector; it only requires comparable vectors to match length.
package embedder

import "context"

// Provider defines the interface for embedding providers.
type Provider interface {
	// Embed converts a text string into a vector embedding. It must be
	// deterministic for identical input.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch converts multiple texts into vector embeddings in one
	// request where the backend supports it. The result order matches
	// the input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the dimension of vectors produced by this provider.
	Dimensions() int

	// Close closes the provider and releases resources.
	Close() error
}
