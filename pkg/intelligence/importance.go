// Package intelligence provides the pure, deterministic leaves of the memory
// engine: importance scoring and exchange summarization.
package intelligence

import (
	"math"
	"strings"
)

// Weight and cap constants for the importance heuristic. Each term is
// capped so no single signal can dominate the score.
const (
	lengthWeight     = 0.2
	feedbackWeight   = 0.3
	recencyBaseline  = 0.1
	keywordWeight    = 0.05
	keywordCap       = 0.2
	questionBonus    = 0.15
	codeBonus        = 0.1
	lengthNormaliser = 100.0
)

// importanceKeywords raise the score of content the user flagged as
// worth keeping.
var importanceKeywords = []string{
	"important", "remember", "critical", "key", "essential", "must", "should",
}

// solutionWords mark answer-bearing content even without a question mark.
var solutionWords = []string{"solution", "answer", "resolved", "fixed"}

// codeMarkers identify content carrying code fences or declarations.
var codeMarkers = []string{"```", "func ", "def ", "class ", "function "}

// Signals carries the auxiliary inputs to importance scoring. All fields
// are optional; a missing field contributes zero to the score.
type Signals struct {
	// Rating is external feedback on the exchange in [0,1], e.g. an
	// explicit thumbs-up mapped to 1.0. Nil when no feedback exists.
	Rating *float64
}

// Scorer estimates how worth-retaining a piece of content is.
//
// Scoring is a weighted sum of capped terms: content length, external
// feedback, a fixed recency baseline, importance-keyword hits, a
// question/answer marker, and a code/technical marker. The result is
// clamped to [0,1]. Scoring is deterministic and performs no I/O, so a
// given (content, signals) pair always produces the same score.
type Scorer struct{}

// NewScorer creates a new importance scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score returns the importance of content in [0,1].
func (s *Scorer) Score(content string, sig *Signals) float64 {
	lower := strings.ToLower(content)
	words := len(strings.Fields(content))

	// Fixed recency baseline, always present.
	score := recencyBaseline

	// Length term, saturating at lengthNormaliser words.
	score += math.Min(float64(words)/lengthNormaliser, 1.0) * lengthWeight

	// External feedback, if present.
	if sig != nil && sig.Rating != nil {
		score += clamp01(*sig.Rating) * feedbackWeight
	}

	// Importance keywords, capped.
	var keywordScore float64
	for _, kw := range importanceKeywords {
		if strings.Contains(lower, kw) {
			keywordScore += keywordWeight
		}
	}
	score += math.Min(keywordScore, keywordCap)

	// Question/answer marker.
	if strings.Contains(content, "?") || containsAny(lower, solutionWords) {
		score += questionBonus
	}

	// Code/technical marker.
	if containsAny(content, codeMarkers) {
		score += codeBonus
	}

	return clamp01(score)
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
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
