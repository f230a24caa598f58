package core

import (
	"github.com/Khamel83/voice-analysis-system-sub000/pkg/embedder"
	"github.com/Khamel83/voice-analysis-system-sub000/pkg/storage"
)

// Option configures a System at construction.
//
// Options inject already-built collaborators, bypassing the provider
// switch driven by the config. Each session constructs its own System;
// there is no process-wide shared instance.
type Option func(*System)

// WithEmbedder injects an embedding provider instance directly.
func WithEmbedder(p embedder.Provider) Option {
	return func(s *System) {
		s.embedder = p
	}
}

// WithIndex injects a vector index instance directly.
func WithIndex(idx storage.Index) Option {
	return func(s *System) {
		s.index = idx
	}
}

// AddOption configures a direct short-term insert.
type AddOption func(*addOptions)

type addOptions struct {
	importance *float64
	sessionID  string
	metadata   map[string]interface{}
}

func applyAddOptions(opts []AddOption) *addOptions {
	ao := &addOptions{}
	for _, opt := range opts {
		opt(ao)
	}
	return ao
}

// WithImportance fixes the importance of a directly inserted item
// instead of running the scorer. The value is clamped to [0,1].
func WithImportance(v float64) AddOption {
	return func(ao *addOptions) {
		ao.importance = &v
	}
}

// WithSessionID attaches a session id to a directly inserted item.
func WithSessionID(sessionID string) AddOption {
	return func(ao *addOptions) {
		ao.sessionID = sessionID
	}
}

// WithItemMetadata attaches free-form metadata to a directly inserted item.
func WithItemMetadata(metadata map[string]interface{}) AddOption {
	return func(ao *addOptions) {
		ao.metadata = metadata
	}
}
