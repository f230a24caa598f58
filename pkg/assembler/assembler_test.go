package assembler_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Khamel83/voice-analysis-system-sub000/pkg/assembler"
	"github.com/Khamel83/voice-analysis-system-sub000/pkg/core"
)

func newMemory(t *testing.T) *core.System {
	t.Helper()
	system, err := core.New(core.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { system.Close() })
	return system
}

func TestAssembleEmptySystem(t *testing.T) {
	asm := assembler.New(newMemory(t))

	out, report := asm.Assemble(context.Background(), "database timeout", nil, 50)

	// Only the (empty) recent-turns section appears.
	assert.Contains(t, out, "Recent Conversation")
	assert.NotContains(t, out, "Working Memory")
	assert.NotContains(t, out, "Relevant Memories")
	assert.NotContains(t, out, "Long-Term Memories")
	assert.NotContains(t, out, "User Preferences")

	assert.Equal(t, 50, report.Budget)
	assert.Zero(t, report.WorkingItems)
	assert.Zero(t, report.ShortTermItems)
	assert.Zero(t, report.LongTermItems)
	assert.False(t, report.Degraded)
	assert.LessOrEqual(t, report.TokensUsed, 50)
}

func TestAssembleRecentTurnsLead(t *testing.T) {
	asm := assembler.New(newMemory(t))

	turns := []string{
		"User: the build is red",
		"Assistant: the linker step is failing",
	}
	out, report := asm.Assemble(context.Background(), "build failure", turns, 200)

	assert.True(t, strings.HasPrefix(out, "## Recent Conversation\n"))
	assert.Contains(t, out, "the build is red")
	assert.Contains(t, out, "the linker step is failing")
	assert.Equal(t, 2, report.RecentTurns)
}

func TestAssembleRecentTurnsDropOldestFirst(t *testing.T) {
	asm := assembler.New(newMemory(t))

	turns := []string{
		strings.Repeat("old ", 30),
		strings.Repeat("new ", 10),
	}
	// Budget 40 caps the recent section near 20 tokens; only the newest
	// turn fits.
	out, report := asm.Assemble(context.Background(), "anything", turns, 40)

	assert.Contains(t, out, "new")
	assert.NotContains(t, out, "old")
	assert.Equal(t, 1, report.RecentTurns)
}

func TestAssembleIncludesWorkingMatches(t *testing.T) {
	system := newMemory(t)
	ctx := context.Background()

	_, err := system.RecordExchange(ctx, &core.Exchange{
		UserInput: "the database keeps timing out",
		Response:  "raise the statement timeout",
	}, nil)
	require.NoError(t, err)

	asm := assembler.New(system)
	out, report := asm.Assemble(ctx, "database timeout", nil, 400)

	assert.Contains(t, out, "## Working Memory")
	assert.Contains(t, out, "database keeps timing out")
	assert.Equal(t, 1, report.WorkingItems)
	assert.NotEmpty(t, report.ContextIDs)
}

func TestAssembleIncludesShortTermMatches(t *testing.T) {
	system := newMemory(t)
	ctx := context.Background()

	content := "connection pool exhaustion playbook"
	_, err := system.Add(ctx, content, core.WithImportance(0.8))
	require.NoError(t, err)

	asm := assembler.New(system)
	out, report := asm.Assemble(ctx, content, nil, 400)

	assert.Contains(t, out, "## Relevant Memories")
	assert.Contains(t, out, content)
	assert.Equal(t, 1, report.ShortTermItems)
}

func TestAssembleIncludesLongTermMatches(t *testing.T) {
	system := newMemory(t)
	ctx := context.Background()

	content := "incident review for the march outage"
	_, err := system.Add(ctx, content, core.WithImportance(0.9))
	require.NoError(t, err)
	moved, err := system.Archive(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, moved)

	asm := assembler.New(system)
	out, report := asm.Assemble(ctx, content, nil, 400)

	assert.Contains(t, out, "## Long-Term Memories")
	assert.Contains(t, out, content)
	assert.Equal(t, 1, report.LongTermItems)
}

func TestAssembleBudgetBound(t *testing.T) {
	system := newMemory(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, err := system.RecordExchange(ctx, &core.Exchange{
			UserInput: "tell me about the database migration plan in detail please",
			Response:  strings.Repeat("step ", 40),
		}, nil)
		require.NoError(t, err)
	}

	asm := assembler.New(system)
	markerCost := assembler.Estimate(assembler.TruncationMarker)

	for _, budget := range []int{20, 50, 120, 400} {
		out, report := asm.Assemble(ctx, "database migration plan", nil, budget)
		assert.LessOrEqual(t, assembler.Estimate(out), budget+markerCost,
			"budget %d overflowed", budget)
		assert.LessOrEqual(t, report.TokensUsed, budget+markerCost)
	}
}

func TestAssemblePreferencesWholeOrDropped(t *testing.T) {
	system := newMemory(t)
	system.SetPreference("style", "prefers concise answers with code samples first", "user")

	asm := assembler.New(system)
	ctx := context.Background()

	// Generous budget: the preference is included whole.
	out, report := asm.Assemble(ctx, "style question", nil, 200)
	assert.Contains(t, out, "## User Preferences")
	assert.Contains(t, out, "prefers concise answers with code samples first")
	assert.Equal(t, 1, report.PreferencesIncluded)
	assert.Zero(t, report.PreferencesDropped)

	// Tight budget: the preference is dropped whole, never cut.
	turns := []string{strings.Repeat("turn ", 12)}
	out, report = asm.Assemble(ctx, "style question", turns, 20)
	assert.NotContains(t, out, "prefers concise")
	assert.Zero(t, report.PreferencesIncluded)
	assert.Equal(t, 1, report.PreferencesDropped)
}

func TestAssembleExpiredDeadlineDegrades(t *testing.T) {
	system := newMemory(t)
	ctx := context.Background()

	_, err := system.Add(ctx, "archived wisdom", core.WithImportance(0.9))
	require.NoError(t, err)

	canceled, cancel := context.WithCancel(ctx)
	cancel()

	asm := assembler.New(system)
	out, report := asm.Assemble(canceled, "archived wisdom", []string{"User: hello"}, 200)

	// Recent turns still lead; tier reads are skipped, not failed.
	assert.Contains(t, out, "Recent Conversation")
	assert.Contains(t, out, "hello")
	assert.True(t, report.Degraded)
	assert.Zero(t, report.ShortTermItems)
	assert.Zero(t, report.LongTermItems)
}

func TestAssembleDeterministic(t *testing.T) {
	system := newMemory(t)
	ctx := context.Background()

	_, err := system.Add(ctx, "fixed snapshot content", core.WithImportance(0.8))
	require.NoError(t, err)
	system.SetPreference("snapshot", "stable", "user")

	asm := assembler.New(system)
	first, _ := asm.Assemble(ctx, "fixed snapshot content", []string{"User: hi"}, 300)
	second, _ := asm.Assemble(ctx, "fixed snapshot content", []string{"User: hi"}, 300)
	assert.Equal(t, first, second)
}

func TestAssembleZeroBudget(t *testing.T) {
	asm := assembler.New(newMemory(t))

	out, report := asm.Assemble(context.Background(), "anything", []string{"turn"}, 0)
	assert.Empty(t, out)
	assert.Zero(t, report.TokensUsed)
}
