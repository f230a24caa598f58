// Package core provides the multi-tier memory system that gives a long-running
// conversational assistant bounded working state.
package core

import "time"

// Tier identifies the memory tier an item currently belongs to.
//
// An item belongs to exactly one tier at a time. A tier change is a
// transfer, never a duplication.
type Tier string

const (
	// TierWorking is the fixed-capacity FIFO buffer of recent exchanges.
	TierWorking Tier = "working"

	// TierShortTerm is the fixed-capacity collection indexed by embedding.
	TierShortTerm Tier = "short_term"

	// TierLongTerm is the unbounded persisted collection, reachable only
	// through the vector index.
	TierLongTerm Tier = "long_term"
)

// MemoryItem is a single retained piece of conversation state.
//
// Items are created from exchanges by the memory system, scored for
// importance, and move one way through the tiers:
//
//	created(short-term) -> archived(long-term) | decayed-out(removed)
type MemoryItem struct {
	// ID is the unique identifier of the item (snowflake).
	ID int64 `json:"id"`

	// Content is the raw text of the item.
	Content string `json:"content"`

	// Tier is the tier that currently holds the authoritative copy.
	Tier Tier `json:"tier"`

	// Importance is the retention heuristic in [0,1].
	Importance float64 `json:"importance"`

	// AccessCount is the number of times the item has been used.
	AccessCount int `json:"access_count"`

	// CreatedAt is when the item entered the system.
	CreatedAt time.Time `json:"created_at"`

	// LastAccessedAt is when the item was last created, touched, or
	// decayed. Decay is computed from this timestamp and advances it.
	LastAccessedAt time.Time `json:"last_accessed_at"`

	// Metadata carries free-form context such as the session id and the
	// source exchange id.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Embedding is the vector representation, computed lazily on first
	// similarity read or at archive time. Nil until then.
	Embedding []float64 `json:"embedding,omitempty"`

	// Score is the similarity score attached by retrieval operations.
	// It is not persisted.
	Score float64 `json:"score,omitempty"`
}

// Clone returns a copy safe to hand outside the writer lock.
func (m *MemoryItem) Clone() *MemoryItem {
	out := *m
	if m.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	if m.Embedding != nil {
		out.Embedding = append([]float64(nil), m.Embedding...)
	}
	return &out
}

// Exchange is one conversational turn: the user input, the produced
// response, and the ids of the context fragments used to produce it.
//
// Exchanges are created once per turn and never mutated afterward; the
// memory system immediately converts them into memory items.
type Exchange struct {
	// ID identifies the exchange within its session.
	ID string `json:"id"`

	// SessionID identifies the owning session.
	SessionID string `json:"session_id"`

	// UserInput is the raw user-side text of the turn.
	UserInput string `json:"user_input"`

	// Response is the system-side text of the turn.
	Response string `json:"response"`

	// ContextIDs are the memory item ids that were assembled into the
	// context used to produce Response.
	ContextIDs []int64 `json:"context_ids,omitempty"`

	// Timestamp is when the turn completed.
	Timestamp time.Time `json:"timestamp"`

	// Metadata carries free-form per-turn information.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Preference is an explicit "remember X" signal from the user.
//
// Preferences are created or overwritten on explicit signals, read on
// every context assembly, and never auto-expired.
type Preference struct {
	// Key is the preference name.
	Key string `json:"key"`

	// Value is the remembered value.
	Value string `json:"value"`

	// Source records where the preference came from (e.g. "user", "import").
	Source string `json:"source"`

	// CreatedAt is when the preference was first set.
	CreatedAt time.Time `json:"created_at"`

	// LastUpdated is refreshed on both write and read.
	LastUpdated time.Time `json:"last_updated"`
}

// Stats is a point-in-time snapshot of tier occupancy.
type Stats struct {
	// WorkingSize is the current number of working-tier items.
	WorkingSize int `json:"working_size"`

	// WorkingCapacity is the configured working-tier capacity.
	WorkingCapacity int `json:"working_capacity"`

	// ShortTermSize is the current number of short-term items.
	ShortTermSize int `json:"short_term_size"`

	// ShortTermCapacity is the configured short-term capacity.
	ShortTermCapacity int `json:"short_term_capacity"`

	// Archived is the number of items moved to long-term since construction.
	Archived int64 `json:"archived"`

	// Preferences is the number of stored preferences.
	Preferences int `json:"preferences"`
}
