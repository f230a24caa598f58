package core_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Khamel83/voice-analysis-system-sub000/pkg/core"
	"github.com/Khamel83/voice-analysis-system-sub000/pkg/storage"
	"github.com/Khamel83/voice-analysis-system-sub000/pkg/storage/chromem"
)

func newTestSystem(t *testing.T, workingCap, shortTermCap int) *core.System {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.WorkingCapacity = workingCap
	cfg.ShortTermCapacity = shortTermCap

	system, err := core.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { system.Close() })
	return system
}

func TestWorkingFIFOEviction(t *testing.T) {
	system := newTestSystem(t, 3, 100)
	ctx := context.Background()

	for _, input := range []string{"first", "second", "third", "fourth"} {
		_, err := system.RecordExchange(ctx, &core.Exchange{
			UserInput: input,
			Response:  "noted",
		}, nil)
		require.NoError(t, err)
	}

	items := system.WorkingItems()
	require.Len(t, items, 3, "capacity three holds exactly three exchanges")
	assert.Contains(t, items[0].Content, "second")
	assert.Contains(t, items[1].Content, "third")
	assert.Contains(t, items[2].Content, "fourth")
}

func TestRecordExchangeSnapshot(t *testing.T) {
	system := newTestSystem(t, 10, 100)

	item, err := system.RecordExchange(context.Background(), &core.Exchange{
		ID:        "ex-1",
		SessionID: "session-1",
		UserInput: "how do I rotate the api key?",
		Response:  "use the rotate endpoint",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, core.TierShortTerm, item.Tier)
	assert.Equal(t, "User: how do I rotate the api key?\nAssistant: use the rotate endpoint", item.Content)
	assert.Equal(t, "session-1", item.Metadata["session_id"])
	assert.Equal(t, "ex-1", item.Metadata["exchange_id"])
	assert.Greater(t, item.Importance, 0.0)
	assert.LessOrEqual(t, item.Importance, 1.0)
	assert.NotZero(t, item.ID)

	// The snapshot does not alias tier state.
	item.Content = "mutated"
	assert.NotEqual(t, "mutated", system.ShortTermItems()[0].Content)
}

func TestShortTermArchiveOnFull(t *testing.T) {
	idx, err := chromem.New()
	require.NoError(t, err)

	cfg := core.DefaultConfig()
	cfg.ShortTermCapacity = 10
	system, err := core.New(cfg, core.WithIndex(idx))
	require.NoError(t, err)
	t.Cleanup(func() { system.Close() })

	ctx := context.Background()
	contents := []string{
		"migration plan for the billing schema",
		"retry policy for the webhook sender",
		"pager rotation for the storage team",
		"capacity forecast for the ingest fleet",
		"rollback notes for release forty two",
		"index rebuild window for the catalog",
		"quota bump request for the batch pool",
		"failover drill results from tuesday",
		"postmortem actions for the cache outage",
		"connection pool sizing for the reader",
	}
	for _, c := range contents {
		_, err := system.Add(ctx, c, core.WithImportance(0.8))
		require.NoError(t, err)
	}

	// Filling the tier moved the top half of the qualifying items.
	stats := system.Stats()
	assert.Equal(t, int64(5), stats.Archived)
	assert.Equal(t, 5, stats.ShortTermSize)

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	for _, it := range system.ShortTermItems() {
		assert.Equal(t, core.TierShortTerm, it.Tier)
	}
}

func TestArchiveSkipsLowImportance(t *testing.T) {
	system := newTestSystem(t, 10, 10)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := system.Add(ctx, "low value filler item", core.WithImportance(0.2))
		require.NoError(t, err)
	}

	// Nothing qualifies for archiving, nothing is lost either.
	stats := system.Stats()
	assert.Equal(t, int64(0), stats.Archived)
	assert.Equal(t, 10, stats.ShortTermSize)

	// The next insert cannot archive, so the lowest-importance item is
	// evicted to keep the tier bounded.
	_, err := system.Add(ctx, "one more filler item", core.WithImportance(0.25))
	require.NoError(t, err)
	assert.Equal(t, 10, system.Stats().ShortTermSize)
}

// faultyIndex rejects upserts whose content contains the fail marker and
// keeps the rest in memory.
type faultyIndex struct {
	failOn string

	mu      sync.Mutex
	records map[int64]*storage.Record
}

func (f *faultyIndex) Upsert(_ context.Context, rec *storage.Record) error {
	if strings.Contains(rec.Content, f.failOn) {
		return errors.New("upsert rejected")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.records == nil {
		f.records = make(map[int64]*storage.Record)
	}
	f.records[rec.ID] = rec
	return nil
}

func (f *faultyIndex) Query(context.Context, []float64, int) ([]*storage.Record, error) {
	return nil, nil
}

func (f *faultyIndex) Count(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.records)), nil
}

func (f *faultyIndex) Close() error { return nil }

func TestArchiveLeavesFailedItemsInShortTerm(t *testing.T) {
	idx := &faultyIndex{failOn: "failover"}

	cfg := core.DefaultConfig()
	cfg.ShortTermCapacity = 10
	system, err := core.New(cfg, core.WithIndex(idx))
	require.NoError(t, err)
	t.Cleanup(func() { system.Close() })

	ctx := context.Background()
	_, err = system.Add(ctx, "failover runbook for the primary database", core.WithImportance(0.9))
	require.NoError(t, err)
	_, err = system.Add(ctx, "retry budget for the outbound mailer", core.WithImportance(0.8))
	require.NoError(t, err)
	_, err = system.Add(ctx, "seating chart for the offsite", core.WithImportance(0.5))
	require.NoError(t, err)

	// The top two qualify for the pass; the index rejects one of them.
	moved, err := system.Archive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// The rejected item stays in short-term for a later pass.
	remaining := system.ShortTermItems()
	require.Len(t, remaining, 2)
	contents := []string{remaining[0].Content, remaining[1].Content}
	assert.Contains(t, contents, "failover runbook for the primary database")
	for _, it := range remaining {
		assert.Equal(t, core.TierShortTerm, it.Tier)
	}
	assert.Equal(t, int64(1), system.Stats().Archived)
}

func TestArchivedContentSurvivesRoundTrip(t *testing.T) {
	idx, err := chromem.New()
	require.NoError(t, err)

	system, err := core.New(core.DefaultConfig(), core.WithIndex(idx))
	require.NoError(t, err)
	t.Cleanup(func() { system.Close() })

	ctx := context.Background()
	content := "the failover runbook lives in the ops wiki"
	_, err = system.Add(ctx, content,
		core.WithImportance(0.9),
		core.WithSessionID("session-7"))
	require.NoError(t, err)

	moved, err := system.Archive(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, moved)
	assert.Equal(t, 0, system.Stats().ShortTermSize)

	hits := system.ReadLongTerm(ctx, content, 3)
	require.NotEmpty(t, hits)
	assert.Equal(t, content, hits[0].Content)
	assert.Equal(t, core.TierLongTerm, hits[0].Tier)
	assert.InDelta(t, 0.9, hits[0].Importance, 1e-9)
	assert.Equal(t, "session-7", hits[0].Metadata["session_id"])
}

func TestDecayDropsAtThreshold(t *testing.T) {
	system := newTestSystem(t, 10, 100)
	ctx := context.Background()

	_, err := system.Add(ctx, "borderline item", core.WithImportance(0.5))
	require.NoError(t, err)
	_, err = system.Add(ctx, "durable item", core.WithImportance(0.9))
	require.NoError(t, err)

	// 0.5 * 0.95^10 is just under the 0.3 threshold; 0.9 survives.
	dropped := system.DecayAt(time.Now().Add(10 * time.Hour))
	assert.Equal(t, 1, dropped)

	items := system.ShortTermItems()
	require.Len(t, items, 1)
	assert.Equal(t, "durable item", items[0].Content)
	assert.InDelta(t, 0.9*0.5987369392, items[0].Importance, 1e-6)
}

func TestDecayAnchorsToLastPass(t *testing.T) {
	system := newTestSystem(t, 10, 100)
	ctx := context.Background()

	_, err := system.Add(ctx, "tracked item", core.WithImportance(1.0))
	require.NoError(t, err)

	base := time.Now()
	system.DecayAt(base.Add(1 * time.Hour))
	system.DecayAt(base.Add(2 * time.Hour))

	// Two one-hour passes equal one two-hour pass; the elapsed window
	// is never charged twice.
	items := system.ShortTermItems()
	require.Len(t, items, 1)
	assert.InDelta(t, 0.95*0.95, items[0].Importance, 1e-3)
}

func TestDecayLoopStops(t *testing.T) {
	system := newTestSystem(t, 10, 100)

	stop := system.StartDecayLoop(10 * time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	stop()
	stop() // idempotent
}

func TestTouchRecordsAccess(t *testing.T) {
	system := newTestSystem(t, 10, 100)

	item, err := system.Add(context.Background(), "touched item")
	require.NoError(t, err)

	system.Touch(item.ID)
	system.Touch(999) // unknown id, ignored

	items := system.ShortTermItems()
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].AccessCount)
	assert.True(t, items[0].LastAccessedAt.After(item.LastAccessedAt) ||
		items[0].LastAccessedAt.Equal(item.LastAccessedAt))
}

func TestReadWorkingKeywordMatch(t *testing.T) {
	system := newTestSystem(t, 10, 100)
	ctx := context.Background()

	exchanges := []string{
		"the database keeps timing out",
		"what about the frontend build",
		"database connection pool is exhausted",
	}
	for _, input := range exchanges {
		_, err := system.RecordExchange(ctx, &core.Exchange{UserInput: input, Response: "ack"}, nil)
		require.NoError(t, err)
	}

	hits := system.ReadWorking("database errors")
	require.Len(t, hits, 2)
	// Newest first.
	assert.Contains(t, hits[0].Content, "connection pool")
	assert.Contains(t, hits[1].Content, "timing out")

	assert.Nil(t, system.ReadWorking(""))
	assert.Empty(t, system.ReadWorking("kubernetes"))
}

func TestReadShortTermSimilarity(t *testing.T) {
	system := newTestSystem(t, 10, 100)
	ctx := context.Background()

	target := "postgres connection pooling guide"
	_, err := system.Add(ctx, target)
	require.NoError(t, err)
	_, err = system.Add(ctx, "banana bread recipe with walnuts")
	require.NoError(t, err)

	hits, err := system.ReadShortTerm(ctx, target, 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, target, hits[0].Content)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)

	// Unrelated hash-based embeddings stay far below the 0.3 floor.
	assert.Len(t, hits, 1)

	none, err := system.ReadShortTerm(ctx, "", 5)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestReadShortTermBackfillsEmbeddings(t *testing.T) {
	system := newTestSystem(t, 10, 100)
	ctx := context.Background()

	item, err := system.Add(ctx, "lazy embedding check")
	require.NoError(t, err)
	assert.Nil(t, item.Embedding, "embedding is not computed on write")

	_, err = system.ReadShortTerm(ctx, "lazy embedding check", 1)
	require.NoError(t, err)

	items := system.ShortTermItems()
	require.Len(t, items, 1)
	assert.NotNil(t, items[0].Embedding)
}

func TestRecordExchangePressureTriggersArchive(t *testing.T) {
	system := newTestSystem(t, 100, 10)
	ctx := context.Background()

	// Scores above the 0.3 threshold so every item qualifies.
	for i := 0; i < 8; i++ {
		_, err := system.RecordExchange(ctx, &core.Exchange{
			UserInput: "remember this important deployment step?",
			Response:  "recorded and resolved",
		}, nil)
		require.NoError(t, err)
	}

	// The eighth write crossed 80% occupancy and forced a pass before
	// returning.
	stats := system.Stats()
	assert.Equal(t, int64(4), stats.Archived)
	assert.Equal(t, 4, stats.ShortTermSize)
}

func TestWorkingCompaction(t *testing.T) {
	system := newTestSystem(t, 10, 100)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, err := system.RecordExchange(ctx, &core.Exchange{
			UserInput: "how should the cache invalidate entries?",
			Response:  "use generation counters",
		}, nil)
		require.NoError(t, err)
	}

	// The eighth write crossed 80% occupancy: the oldest four exchanges
	// collapse into one summary, shrinking the buffer to five.
	items := system.WorkingItems()
	require.Len(t, items, 5)

	summary := items[len(items)-1]
	assert.Equal(t, true, summary.Metadata["summary"])
	assert.Equal(t, 0.5, summary.Importance)
	assert.Contains(t, summary.Content, "Questions discussed: ")
}

func TestTierSizesStayBounded(t *testing.T) {
	system := newTestSystem(t, 5, 10)
	ctx := context.Background()

	// Low-importance chatter: archiving finds no candidates, so the
	// overflow eviction path has to keep the tier bounded on its own.
	for i := 0; i < 30; i++ {
		_, err := system.RecordExchange(ctx, &core.Exchange{
			UserInput: "hi",
			Response:  "hello",
		}, nil)
		require.NoError(t, err)

		stats := system.Stats()
		assert.LessOrEqual(t, stats.WorkingSize, 5)
		assert.LessOrEqual(t, stats.ShortTermSize, 10)
	}
}

func TestDecaySequenceNonIncreasing(t *testing.T) {
	system := newTestSystem(t, 10, 100)

	_, err := system.Add(context.Background(), "slowly fading", core.WithImportance(0.9))
	require.NoError(t, err)

	base := time.Now()
	prev := 0.9
	for h := 1; h <= 5; h++ {
		system.DecayAt(base.Add(time.Duration(h) * time.Hour))
		items := system.ShortTermItems()
		require.Len(t, items, 1)
		assert.LessOrEqual(t, items[0].Importance, prev)
		prev = items[0].Importance
	}
}

func TestPreferences(t *testing.T) {
	system := newTestSystem(t, 10, 100)

	system.SetPreference("style", "concise answers", "user")
	system.SetPreference("language", "go", "user")
	system.SetPreference("style", "detailed answers", "user")

	p, ok := system.GetPreference("style")
	require.True(t, ok)
	assert.Equal(t, "detailed answers", p.Value, "set overwrites")

	_, ok = system.GetPreference("missing")
	assert.False(t, ok)

	all := system.Preferences()
	require.Len(t, all, 2)
	assert.Equal(t, "language", all[0].Key)
	assert.Equal(t, "style", all[1].Key)

	assert.Equal(t, 2, system.Stats().Preferences)
}

func TestCloseRejectsWrites(t *testing.T) {
	cfg := core.DefaultConfig()
	system, err := core.New(cfg)
	require.NoError(t, err)

	require.NoError(t, system.Close())
	require.NoError(t, system.Close(), "double close is a no-op")

	_, err = system.Add(context.Background(), "after close")
	assert.True(t, errors.Is(err, core.ErrClosed))

	_, err = system.RecordExchange(context.Background(), &core.Exchange{UserInput: "x"}, nil)
	assert.True(t, errors.Is(err, core.ErrClosed))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.WorkingCapacity = 0

	_, err := core.New(cfg)
	assert.True(t, errors.Is(err, core.ErrInvalidConfig))
}

func TestNewRejectsUnknownProviders(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Embedder.Provider = "nonsense"
	_, err := core.New(cfg)
	assert.Error(t, err)

	cfg = core.DefaultConfig()
	cfg.Index.Provider = "nonsense"
	_, err = core.New(cfg)
	assert.Error(t, err)
}
