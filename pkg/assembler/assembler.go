// Package assembler builds one token-bounded context string per turn by
// reading across the memory tiers in strict priority order.
package assembler

import (
	"context"
	"strings"
	"time"

	"github.com/Khamel83/voice-analysis-system-sub000/pkg/core"
)

const (
	// recentShare is the fraction of the budget the recent-turns
	// section may consume on its own.
	recentShare = 0.5

	// workingGate admits working-tier items only while the remaining
	// budget exceeds this fraction of the total.
	workingGate = 0.3

	// shortTermGate admits short-term items only while the remaining
	// budget exceeds this fraction, reserving headroom for long-term.
	shortTermGate = 0.5

	// shortTermK and longTermK bound the per-tier retrieval fan-out.
	shortTermK = 5
	longTermK  = 3
)

// Memory is the read surface the assembler needs. *core.System
// implements it.
type Memory interface {
	ReadWorking(query string) []*core.MemoryItem
	ReadShortTerm(ctx context.Context, query string, k int) ([]*core.MemoryItem, error)
	ReadLongTerm(ctx context.Context, query string, k int) []*core.MemoryItem
	Preferences() []core.Preference
}

// Report describes what went into an assembled context. Degraded
// context is silent in the output string; operators read it here.
type Report struct {
	// Budget is the requested token budget.
	Budget int

	// TokensUsed is the estimated token count of the result.
	TokensUsed int

	// RecentTurns, WorkingItems, ShortTermItems and LongTermItems count
	// the entries included from each section.
	RecentTurns    int
	WorkingItems   int
	ShortTermItems int
	LongTermItems  int

	// PreferencesIncluded and PreferencesDropped count keyword-matching
	// preferences kept whole and dropped whole for lack of budget.
	PreferencesIncluded int
	PreferencesDropped  int

	// ContextIDs are the memory item ids included, for access
	// bookkeeping and exchange attribution.
	ContextIDs []int64

	// Truncated reports that the final string was hard-cut to the budget.
	Truncated bool

	// Elapsed is how long assembly took, tier reads included.
	Elapsed time.Duration

	// Degraded reports that at least one tier read was skipped or came
	// back partial because the deadline ran out.
	Degraded bool
}

// Assembler reads a memory system and produces context strings.
type Assembler struct {
	memory Memory
}

// New creates an assembler over the given memory.
func New(memory Memory) *Assembler {
	return &Assembler{memory: memory}
}

// Assemble builds the context for a query. Sections are appended in
// strict priority order, each gated on the budget remaining: recent
// turns always lead (capped at about half the budget), then working
// matches, short-term matches, long-term matches, and finally whole
// keyword-matching preferences. The result's token estimate never
// exceeds maxTokens by more than one truncation marker.
//
// Assemble is deterministic for a fixed memory snapshot and honors the
// context deadline: an expired deadline skips the remaining tier reads
// instead of failing the turn.
func (a *Assembler) Assemble(ctx context.Context, query string, recentTurns []string, maxTokens int) (string, *Report) {
	started := time.Now()
	report := &Report{Budget: maxTokens}
	defer func() { report.Elapsed = time.Since(started) }()
	if maxTokens <= 0 {
		return "", report
	}

	var b strings.Builder

	// Recent turns lead unconditionally so the conversation stays
	// coherent, but they cannot starve every other section.
	recentBudget := int(recentShare * float64(maxTokens))
	if recentBudget < 1 {
		recentBudget = 1
	}
	recent := a.renderRecent(recentTurns, recentBudget, report)
	appendSection(&b, "Recent Conversation", recent)

	if items := a.workingMatches(ctx, query, report); len(items) > 0 {
		gate := int(workingGate * float64(maxTokens))
		a.appendItems(&b, "Working Memory", items, maxTokens, gate, report, &report.WorkingItems)
	}

	if items := a.shortTermMatches(ctx, query, report); len(items) > 0 {
		gate := int(shortTermGate * float64(maxTokens))
		a.appendItems(&b, "Relevant Memories", items, maxTokens, gate, report, &report.ShortTermItems)
	}

	if items := a.longTermMatches(ctx, query, report); len(items) > 0 {
		a.appendItems(&b, "Long-Term Memories", items, maxTokens, 0, report, &report.LongTermItems)
	}

	a.appendPreferences(&b, query, maxTokens, report)

	out := b.String()
	if Estimate(out) > maxTokens {
		out = TruncateToTokens(out, maxTokens)
		report.Truncated = true
	}
	report.TokensUsed = Estimate(out)
	return out, report
}

// renderRecent renders the recent-turns section body, newest turns
// preferred: when the turns together exceed the section budget, oldest
// turns are dropped first, and a single oversized turn is truncated.
func (a *Assembler) renderRecent(turns []string, budget int, report *Report) string {
	if len(turns) == 0 {
		return ""
	}
	kept := make([]string, 0, len(turns))
	used := 0
	for i := len(turns) - 1; i >= 0; i-- {
		cost := Estimate(turns[i])
		if used+cost > budget {
			break
		}
		kept = append(kept, turns[i])
		used += cost
	}
	if len(kept) == 0 {
		// Even the newest turn alone is over budget. Keep a truncated
		// head of it rather than losing continuity entirely.
		kept = append(kept, TruncateToTokens(turns[len(turns)-1], budget))
	}
	report.RecentTurns = len(kept)

	// kept is newest-first; restore chronological order.
	var sb strings.Builder
	for i := len(kept) - 1; i >= 0; i-- {
		sb.WriteString(kept[i])
		if i > 0 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func (a *Assembler) workingMatches(ctx context.Context, query string, report *Report) []*core.MemoryItem {
	if ctx.Err() != nil {
		report.Degraded = true
		return nil
	}
	return a.memory.ReadWorking(query)
}

func (a *Assembler) shortTermMatches(ctx context.Context, query string, report *Report) []*core.MemoryItem {
	if ctx.Err() != nil {
		report.Degraded = true
		return nil
	}
	items, err := a.memory.ReadShortTerm(ctx, query, shortTermK)
	if err != nil {
		report.Degraded = true
		return nil
	}
	return items
}

func (a *Assembler) longTermMatches(ctx context.Context, query string, report *Report) []*core.MemoryItem {
	if ctx.Err() != nil {
		report.Degraded = true
		return nil
	}
	items := a.memory.ReadLongTerm(ctx, query, longTermK)
	if len(items) == 0 && ctx.Err() != nil {
		report.Degraded = true
	}
	return items
}

// appendItems appends one item line at a time while the remaining
// budget stays above the section's gate, recording the ids of included
// items.
func (a *Assembler) appendItems(b *strings.Builder, header string, items []*core.MemoryItem, maxTokens, gate int, report *Report, counter *int) {
	wroteHeader := false
	for _, it := range items {
		used := Estimate(b.String())
		if maxTokens-used <= gate {
			break
		}
		line := "- " + it.Content
		cost := Estimate(line)
		if !wroteHeader {
			cost += Estimate(sectionHeader(header))
		}
		if used+cost > maxTokens {
			break
		}
		if !wroteHeader {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(sectionHeader(header))
			wroteHeader = true
		} else {
			b.WriteString("\n")
		}
		b.WriteString(line)
		*counter++
		report.ContextIDs = append(report.ContextIDs, it.ID)
	}
}

// appendPreferences appends keyword-matching preferences whole; one
// that would overflow the budget is dropped whole, never cut mid-entry.
func (a *Assembler) appendPreferences(b *strings.Builder, query string, maxTokens int, report *Report) {
	prefs := a.memory.Preferences()
	if len(prefs) == 0 {
		return
	}
	queryLower := strings.ToLower(query)

	wroteHeader := false
	for _, p := range prefs {
		if !strings.Contains(queryLower, strings.ToLower(p.Key)) &&
			!strings.Contains(strings.ToLower(p.Value), queryLower) {
			continue
		}
		line := "- " + p.Key + ": " + p.Value
		cost := Estimate(line)
		if !wroteHeader {
			cost += Estimate(sectionHeader("User Preferences"))
		}
		if Estimate(b.String())+cost > maxTokens {
			report.PreferencesDropped++
			continue
		}
		if !wroteHeader {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(sectionHeader("User Preferences"))
			wroteHeader = true
		} else {
			b.WriteString("\n")
		}
		b.WriteString(line)
		report.PreferencesIncluded++
	}
}

func sectionHeader(name string) string {
	return "## " + name + "\n"
}

// appendSection writes a named section with the given body. An empty
// body still gets its header, so an empty system yields a well-formed,
// recognizable context.
func appendSection(b *strings.Builder, header, body string) {
	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	b.WriteString(sectionHeader(header))
	b.WriteString(body)
}
