package intelligence_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Khamel83/voice-analysis-system-sub000/pkg/intelligence"
)

func TestScoreBaseline(t *testing.T) {
	scorer := intelligence.NewScorer()

	// Two plain words: recency baseline plus a tiny length term.
	score := scorer.Score("hello there", nil)
	assert.InDelta(t, 0.104, score, 1e-9)
}

func TestScoreQuestionBonus(t *testing.T) {
	scorer := intelligence.NewScorer()

	plain := scorer.Score("the deploy finished without any issues", nil)
	question := scorer.Score("did the deploy finish without issues?", nil)
	assert.InDelta(t, 0.15, question-plain, 1e-9,
		"a question mark should add exactly the question bonus")

	// Solution words count as the same marker without a question mark.
	solution := scorer.Score("the fix resolved the deploy issues", nil)
	assert.Greater(t, solution, plain)
}

func TestScoreKeywordsCapped(t *testing.T) {
	scorer := intelligence.NewScorer()

	two := scorer.Score("please remember this critical detail", nil)
	many := scorer.Score("important critical essential detail you must remember", nil)

	// Two keywords contribute 0.10; six would exceed the 0.2 cap.
	assert.Greater(t, many, two)
	assert.Less(t, many-two, 0.2)
}

func TestScoreFeedback(t *testing.T) {
	scorer := intelligence.NewScorer()
	content := "the deploy finished without issues"

	rating := 1.0
	with := scorer.Score(content, &intelligence.Signals{Rating: &rating})
	without := scorer.Score(content, nil)
	assert.InDelta(t, 0.3, with-without, 1e-9)

	// Out-of-range ratings are clamped, not amplified.
	huge := 5.0
	clamped := scorer.Score(content, &intelligence.Signals{Rating: &huge})
	assert.InDelta(t, with, clamped, 1e-9)
}

func TestScoreCodeBonus(t *testing.T) {
	scorer := intelligence.NewScorer()

	plain := scorer.Score("here is the change you asked for", nil)
	fenced := scorer.Score("here is the change you asked ```go```", nil)
	assert.InDelta(t, 0.1, fenced-plain, 1e-9)
}

func TestScoreClampedToOne(t *testing.T) {
	scorer := intelligence.NewScorer()

	rating := 1.0
	long := strings.Repeat("word ", 120)
	content := long + "important critical essential must remember key? ```code```"
	score := scorer.Score(content, &intelligence.Signals{Rating: &rating})
	assert.Equal(t, 1.0, score)
}

func TestScoreDeterministic(t *testing.T) {
	scorer := intelligence.NewScorer()
	content := "should we retry the migration after the timeout?"

	first := scorer.Score(content, nil)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, scorer.Score(content, nil))
	}
	assert.GreaterOrEqual(t, first, 0.0)
	assert.LessOrEqual(t, first, 1.0)
}
