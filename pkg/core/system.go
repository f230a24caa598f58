package core

import (
	"context"
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/Khamel83/voice-analysis-system-sub000/pkg/embedder"
	"github.com/Khamel83/voice-analysis-system-sub000/pkg/intelligence"
	"github.com/Khamel83/voice-analysis-system-sub000/pkg/storage"
)

const (
	// workingReadLimit caps a keyword scan of the working tier.
	workingReadLimit = 5

	// similarityFloor is the minimum cosine similarity for a short-term
	// item to count as a hit.
	similarityFloor = 0.3

	// summaryImportance is the fixed importance of a compaction summary.
	summaryImportance = 0.5

	// minCompactBatch is the smallest oldest-half worth summarizing.
	// Compacting a single exchange would not shrink the tier.
	minCompactBatch = 2
)

// System is the multi-tier memory system.
//
// It holds the working FIFO buffer and the short-term tier in process
// memory, and reaches the long-term tier only through the vector index.
// All mutation happens under a single writer lock; reads share a read
// lock and never modify tier contents.
//
// Example:
//
//	system, err := core.New(core.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer system.Close()
//
//	item, err := system.RecordExchange(ctx, &core.Exchange{
//	    UserInput: "How do I fix the race in the scheduler?",
//	    Response:  "Guard the run queue with the pool mutex.",
//	}, nil)
type System struct {
	config     *Config
	embedder   embedder.Provider
	index      storage.Index
	scorer     *intelligence.Scorer
	summarizer *intelligence.Summarizer
	node       *snowflake.Node

	mu        sync.RWMutex
	working   []*MemoryItem
	shortTerm []*MemoryItem
	archived  int64
	closed    bool

	prefMu sync.Mutex
	prefs  map[string]*Preference
}

// New creates a memory system from the configuration. Collaborators not
// injected via options are built from the config's provider sections.
func New(cfg *Config, opts ...Option) (*System, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &System{
		config:     cfg,
		scorer:     intelligence.NewScorer(),
		summarizer: intelligence.NewSummarizer(),
		prefs:      make(map[string]*Preference),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.embedder == nil {
		emb, err := initEmbedder(&cfg.Embedder)
		if err != nil {
			return nil, NewMemoryError("init embedder", err)
		}
		s.embedder = emb
	}
	if s.index == nil {
		idx, err := initIndex(&cfg.Index, s.embedder.Dimensions())
		if err != nil {
			s.embedder.Close()
			return nil, NewMemoryError("init index", err)
		}
		s.index = idx
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		s.embedder.Close()
		s.index.Close()
		return nil, NewMemoryError("init id generator", err)
	}
	s.node = node

	return s, nil
}

// RecordExchange ingests one user/assistant exchange. The exchange enters
// the working buffer (evicting the oldest entry when full) and is scored
// and appended to the short-term tier as a new item. Tier pressure
// triggered by the write is resolved before the method returns.
//
// The returned item is a snapshot of the short-term entry.
func (s *System) RecordExchange(ctx context.Context, ex *Exchange, sig *intelligence.Signals) (*MemoryItem, error) {
	if ex == nil {
		return nil, NewMemoryError("record exchange", errors.New("nil exchange"))
	}
	if err := ctx.Err(); err != nil {
		return nil, NewMemoryError("record exchange", err)
	}

	content := formatExchange(ex)
	score := s.scorer.Score(content, sig)
	now := time.Now()

	meta := map[string]interface{}{
		"user_input": ex.UserInput,
		"response":   ex.Response,
	}
	if ex.SessionID != "" {
		meta["session_id"] = ex.SessionID
	}
	if ex.ID != "" {
		meta["exchange_id"] = ex.ID
	}
	for k, v := range ex.Metadata {
		meta[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, NewMemoryError("record exchange", ErrClosed)
	}

	// The two tier entries must not share a mutable map.
	workingCopy := make(map[string]interface{}, len(meta))
	for k, v := range meta {
		workingCopy[k] = v
	}
	if len(s.working) >= s.config.WorkingCapacity {
		s.working = s.working[1:]
	}
	s.working = append(s.working, &MemoryItem{
		ID:             s.node.Generate().Int64(),
		Content:        content,
		Tier:           TierWorking,
		Importance:     score,
		AccessCount:    1,
		CreatedAt:      now,
		LastAccessedAt: now,
		Metadata:       workingCopy,
	})

	item := &MemoryItem{
		ID:             s.node.Generate().Int64(),
		Content:        content,
		Tier:           TierShortTerm,
		Importance:     score,
		AccessCount:    1,
		CreatedAt:      now,
		LastAccessedAt: now,
		Metadata:       meta,
	}
	s.shortTerm = append(s.shortTerm, item)

	if len(s.shortTerm) >= pressurePoint(s.config.ShortTermCapacity) {
		s.archiveLocked(ctx)
		s.evictOverflowLocked()
	}
	if len(s.working) >= pressurePoint(s.config.WorkingCapacity) {
		s.compactWorkingLocked()
	}

	return item.Clone(), nil
}

// Add inserts content directly into the short-term tier, bypassing the
// working buffer. When no importance override is given the content is
// scored. Filling the tier to capacity triggers an archive pass.
func (s *System) Add(ctx context.Context, content string, opts ...AddOption) (*MemoryItem, error) {
	if content == "" {
		return nil, NewMemoryError("add", errors.New("empty content"))
	}
	if err := ctx.Err(); err != nil {
		return nil, NewMemoryError("add", err)
	}

	ao := applyAddOptions(opts)
	importance := 0.0
	if ao.importance != nil {
		importance = clamp01(*ao.importance)
	} else {
		importance = s.scorer.Score(content, nil)
	}

	now := time.Now()
	item := &MemoryItem{
		ID:             0, // assigned under the lock
		Content:        content,
		Tier:           TierShortTerm,
		Importance:     importance,
		AccessCount:    1,
		CreatedAt:      now,
		LastAccessedAt: now,
		Metadata:       ao.metadata,
	}
	if ao.sessionID != "" {
		if item.Metadata == nil {
			item.Metadata = make(map[string]interface{}, 1)
		}
		item.Metadata["session_id"] = ao.sessionID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, NewMemoryError("add", ErrClosed)
	}

	item.ID = s.node.Generate().Int64()
	s.shortTerm = append(s.shortTerm, item)

	if len(s.shortTerm) >= s.config.ShortTermCapacity {
		s.archiveLocked(ctx)
		s.evictOverflowLocked()
	}

	return item.Clone(), nil
}

// Archive runs an archive pass immediately and returns the number of
// items moved to the long-term index.
func (s *System) Archive(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, NewMemoryError("archive", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, NewMemoryError("archive", ErrClosed)
	}
	return s.archiveLocked(ctx), nil
}

// archiveLocked moves the most important half of the qualifying
// short-term items into the long-term index. An item qualifies when its
// importance exceeds the decay threshold. Embedding or upsert failure
// for one item leaves that item in the short-term tier for a later pass;
// the rest of the batch proceeds. Caller holds the writer lock.
func (s *System) archiveLocked(ctx context.Context) int {
	var candidates []*MemoryItem
	for _, it := range s.shortTerm {
		if it.Importance > s.config.DecayThreshold {
			candidates = append(candidates, it)
		}
	}
	if len(candidates) == 0 {
		return 0
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Importance > candidates[j].Importance
	})
	batch := candidates[:(len(candidates)+1)/2]

	s.embedBatch(ctx, batch)

	now := time.Now()
	moved := make(map[int64]bool, len(batch))
	for _, it := range batch {
		if it.Embedding == nil {
			continue
		}
		upCtx, cancel := context.WithTimeout(ctx, s.config.LongTermTimeout)
		err := s.index.Upsert(upCtx, &storage.Record{
			ID:         it.ID,
			Content:    it.Content,
			Embedding:  it.Embedding,
			Metadata:   it.Metadata,
			Importance: it.Importance,
			CreatedAt:  it.CreatedAt,
			ArchivedAt: now,
		})
		cancel()
		if err != nil {
			continue
		}
		it.Tier = TierLongTerm
		moved[it.ID] = true
	}
	if len(moved) == 0 {
		return 0
	}

	kept := s.shortTerm[:0]
	for _, it := range s.shortTerm {
		if !moved[it.ID] {
			kept = append(kept, it)
		}
	}
	for i := len(kept); i < len(s.shortTerm); i++ {
		s.shortTerm[i] = nil
	}
	s.shortTerm = kept
	s.archived += int64(len(moved))
	return len(moved)
}

// evictOverflowLocked drops the lowest-importance short-term items until
// the tier fits its capacity. It only acts when an archive pass could
// not free enough room, e.g. with the index down or every item below the
// threshold. Caller holds the writer lock.
func (s *System) evictOverflowLocked() {
	over := len(s.shortTerm) - s.config.ShortTermCapacity
	if over <= 0 {
		return
	}
	sorted := make([]*MemoryItem, len(s.shortTerm))
	copy(sorted, s.shortTerm)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Importance < sorted[j].Importance
	})
	evict := make(map[int64]bool, over)
	for _, it := range sorted[:over] {
		evict[it.ID] = true
	}
	kept := s.shortTerm[:0]
	for _, it := range s.shortTerm {
		if !evict[it.ID] {
			kept = append(kept, it)
		}
	}
	for i := len(kept); i < len(s.shortTerm); i++ {
		s.shortTerm[i] = nil
	}
	s.shortTerm = kept
}

// compactWorkingLocked replaces the oldest half of the working buffer
// with a single summary item, so the buffer strictly shrinks. A batch of
// fewer than two entries is left alone. Caller holds the writer lock.
func (s *System) compactWorkingLocked() {
	half := len(s.working) / 2
	if half < minCompactBatch {
		return
	}
	batch := s.working[:half]

	exchanges := make([]intelligence.Exchange, 0, len(batch))
	sourceIDs := make([]string, 0, len(batch))
	for _, it := range batch {
		userInput, _ := it.Metadata["user_input"].(string)
		response, _ := it.Metadata["response"].(string)
		if userInput == "" && response == "" {
			// A previous summary. Its content stands in for a response
			// so the information survives re-summarization.
			response = it.Content
		}
		exchanges = append(exchanges, intelligence.Exchange{
			UserInput: userInput,
			Response:  response,
		})
		if exID, ok := it.Metadata["exchange_id"].(string); ok && exID != "" {
			sourceIDs = append(sourceIDs, exID)
		} else {
			sourceIDs = append(sourceIDs, strconv.FormatInt(it.ID, 10))
		}
	}

	now := time.Now()
	summary := &MemoryItem{
		ID:             s.node.Generate().Int64(),
		Content:        s.summarizer.Summarize(exchanges),
		Tier:           TierWorking,
		Importance:     summaryImportance,
		AccessCount:    1,
		CreatedAt:      now,
		LastAccessedAt: now,
		Metadata: map[string]interface{}{
			"summary":    true,
			"summary_of": sourceIDs,
		},
	}

	kept := make([]*MemoryItem, 0, len(s.working)-half+1)
	kept = append(kept, s.working[half:]...)
	kept = append(kept, summary)
	s.working = kept
}

// Decay applies importance decay to the short-term tier as of now and
// returns the number of items dropped.
func (s *System) Decay() int {
	return s.DecayAt(time.Now())
}

// DecayAt applies importance decay as of the given instant. Each item's
// importance is multiplied by rate^h where h is the hours since the item
// was last accessed, and items at or below the threshold are removed.
func (s *System) DecayAt(asOf time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	return s.decayLocked(asOf)
}

func (s *System) decayLocked(asOf time.Time) int {
	kept := s.shortTerm[:0]
	dropped := 0
	for _, it := range s.shortTerm {
		if hours := asOf.Sub(it.LastAccessedAt).Hours(); hours > 0 {
			it.Importance *= math.Pow(s.config.DecayRate, hours)
			// Advance the decay anchor so the elapsed window is not
			// charged again on the next pass.
			it.LastAccessedAt = asOf
		}
		if it.Importance <= s.config.DecayThreshold {
			dropped++
			continue
		}
		kept = append(kept, it)
	}
	for i := len(kept); i < len(s.shortTerm); i++ {
		s.shortTerm[i] = nil
	}
	s.shortTerm = kept
	return dropped
}

// StartDecayLoop runs decay passes on a background ticker and returns a
// stop function. A zero interval uses the configured default. A pass
// that cannot take the writer lock immediately is skipped; the next tick
// covers the elapsed time because decay is computed from timestamps.
func (s *System) StartDecayLoop(interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = s.config.DecayInterval
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if !s.mu.TryLock() {
					continue
				}
				if !s.closed {
					s.decayLocked(time.Now())
				}
				s.mu.Unlock()
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// ReadWorking scans the working buffer for items containing any keyword
// of the query, newest first, returning at most five snapshots. Reads do
// not change access bookkeeping; use Touch for that.
func (s *System) ReadWorking(query string) []*MemoryItem {
	words := queryWords(query)
	if len(words) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []*MemoryItem
	for i := len(s.working) - 1; i >= 0 && len(hits) < workingReadLimit; i-- {
		content := strings.ToLower(s.working[i].Content)
		for _, w := range words {
			if strings.Contains(content, w) {
				hits = append(hits, s.working[i].Clone())
				break
			}
		}
	}
	return hits
}

// ReadShortTerm retrieves the k short-term items most similar to the
// query, with cosine similarity of at least 0.3. Items without an
// embedding are embedded on first read. Embedding failures degrade the
// result set instead of failing the call; only a closed system errors.
func (s *System) ReadShortTerm(ctx context.Context, query string, k int) ([]*MemoryItem, error) {
	if k <= 0 || query == "" {
		return nil, nil
	}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, NewMemoryError("read short-term", ErrClosed)
	}
	s.mu.RUnlock()

	queryEmb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, nil
	}

	s.fillEmbeddings(ctx)

	s.mu.RLock()
	scored := make([]*MemoryItem, 0, len(s.shortTerm))
	for _, it := range s.shortTerm {
		if it.Embedding == nil {
			continue
		}
		sim := storage.CosineSimilarity(queryEmb, it.Embedding)
		if sim < similarityFloor {
			continue
		}
		c := it.Clone()
		c.Score = sim
		scored = append(scored, c)
	}
	s.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// ReadLongTerm retrieves the k nearest archived items. The lookup is
// bounded by the configured long-term timeout; on expiry or index error
// the result is empty rather than an error, so context assembly can
// proceed on the in-process tiers.
func (s *System) ReadLongTerm(ctx context.Context, query string, k int) []*MemoryItem {
	if k <= 0 || query == "" {
		return nil
	}
	if s.config.LongTermTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.LongTermTimeout)
		defer cancel()
	}

	queryEmb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}

	records, err := s.index.Query(ctx, queryEmb, k)
	if err != nil {
		return nil
	}

	items := make([]*MemoryItem, 0, len(records))
	for _, rec := range records {
		items = append(items, &MemoryItem{
			ID:             rec.ID,
			Content:        rec.Content,
			Tier:           TierLongTerm,
			Importance:     rec.Importance,
			CreatedAt:      rec.CreatedAt,
			LastAccessedAt: rec.ArchivedAt,
			Metadata:       rec.Metadata,
			Score:          rec.Score,
		})
	}
	return items
}

// Touch records an access of the given items: the access count is
// incremented and the last-access timestamp reset, which also resets
// the item's decay clock. Unknown ids are ignored.
func (s *System) Touch(ids ...int64) {
	if len(ids) == 0 {
		return
	}
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.working {
		if want[it.ID] {
			it.AccessCount++
			it.LastAccessedAt = now
		}
	}
	for _, it := range s.shortTerm {
		if want[it.ID] {
			it.AccessCount++
			it.LastAccessedAt = now
		}
	}
}

// SetPreference stores a durable user preference, overwriting any
// previous value for the key.
func (s *System) SetPreference(key, value, source string) {
	now := time.Now()
	s.prefMu.Lock()
	defer s.prefMu.Unlock()
	if p, ok := s.prefs[key]; ok {
		p.Value = value
		p.Source = source
		p.LastUpdated = now
		return
	}
	s.prefs[key] = &Preference{
		Key:         key,
		Value:       value,
		Source:      source,
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// GetPreference looks up a preference by key. A hit refreshes the
// preference's last-updated timestamp.
func (s *System) GetPreference(key string) (Preference, bool) {
	s.prefMu.Lock()
	defer s.prefMu.Unlock()
	p, ok := s.prefs[key]
	if !ok {
		return Preference{}, false
	}
	p.LastUpdated = time.Now()
	return *p, true
}

// Preferences returns a snapshot of all preferences sorted by key.
// Unlike GetPreference, a bulk snapshot does not count as use and
// leaves the timestamps alone.
func (s *System) Preferences() []Preference {
	s.prefMu.Lock()
	defer s.prefMu.Unlock()
	out := make([]Preference, 0, len(s.prefs))
	for _, p := range s.prefs {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// WorkingItems returns a snapshot of the working buffer, oldest first.
func (s *System) WorkingItems() []*MemoryItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*MemoryItem, len(s.working))
	for i, it := range s.working {
		out[i] = it.Clone()
	}
	return out
}

// ShortTermItems returns a snapshot of the short-term tier in insertion
// order.
func (s *System) ShortTermItems() []*MemoryItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*MemoryItem, len(s.shortTerm))
	for i, it := range s.shortTerm {
		out[i] = it.Clone()
	}
	return out
}

// Stats reports current tier occupancy.
func (s *System) Stats() Stats {
	s.mu.RLock()
	st := Stats{
		WorkingSize:       len(s.working),
		WorkingCapacity:   s.config.WorkingCapacity,
		ShortTermSize:     len(s.shortTerm),
		ShortTermCapacity: s.config.ShortTermCapacity,
		Archived:          s.archived,
	}
	s.mu.RUnlock()

	s.prefMu.Lock()
	st.Preferences = len(s.prefs)
	s.prefMu.Unlock()
	return st
}

// Close releases the embedder and the index. Further mutation returns
// ErrClosed; the caller stops any decay loops it started.
func (s *System) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.embedder.Close()
	if idxErr := s.index.Close(); err == nil {
		err = idxErr
	}
	return NewMemoryError("close", err)
}

// embedBatch computes missing embeddings for the given items in
// parallel, one goroutine per item. Items are owned by the caller's
// writer lock, so each goroutine writes only its own item. Failed items
// are left with a nil embedding.
func (s *System) embedBatch(ctx context.Context, items []*MemoryItem) {
	var wg sync.WaitGroup
	for _, it := range items {
		if it.Embedding != nil {
			continue
		}
		wg.Add(1)
		go func(it *MemoryItem) {
			defer wg.Done()
			emb, err := s.embedder.Embed(ctx, it.Content)
			if err != nil {
				return
			}
			it.Embedding = emb
		}(it)
	}
	wg.Wait()
}

// fillEmbeddings backfills embeddings for short-term items that do not
// have one yet. The vectors are computed in parallel outside any lock;
// only the assignment back into the tier takes the writer lock, briefly.
func (s *System) fillEmbeddings(ctx context.Context) {
	type pending struct {
		id      int64
		content string
	}

	s.mu.RLock()
	var missing []pending
	for _, it := range s.shortTerm {
		if it.Embedding == nil {
			missing = append(missing, pending{id: it.ID, content: it.Content})
		}
	}
	s.mu.RUnlock()
	if len(missing) == 0 {
		return
	}

	embeddings := make([][]float64, len(missing))
	var wg sync.WaitGroup
	for i, p := range missing {
		wg.Add(1)
		go func(i int, content string) {
			defer wg.Done()
			emb, err := s.embedder.Embed(ctx, content)
			if err != nil {
				return
			}
			embeddings[i] = emb
		}(i, p.content)
	}
	wg.Wait()

	computed := make(map[int64][]float64, len(missing))
	for i, p := range missing {
		if embeddings[i] != nil {
			computed[p.id] = embeddings[i]
		}
	}
	if len(computed) == 0 {
		return
	}

	s.mu.Lock()
	for _, it := range s.shortTerm {
		if it.Embedding == nil {
			if emb, ok := computed[it.ID]; ok {
				it.Embedding = emb
			}
		}
	}
	s.mu.Unlock()
}

// pressurePoint is the occupancy at which a maintenance pass runs:
// ceil(0.8 * capacity), in integer arithmetic.
func pressurePoint(capacity int) int {
	return (capacity*4 + 4) / 5
}

func formatExchange(ex *Exchange) string {
	return "User: " + ex.UserInput + "\nAssistant: " + ex.Response
}

// queryWords splits a query into lowercase keywords of three or more
// characters for working-tier matching.
func queryWords(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'")
		if len(f) >= 3 {
			words = append(words, f)
		}
	}
	return words
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
