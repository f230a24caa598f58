package assembler_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Khamel83/voice-analysis-system-sub000/pkg/assembler"
)

func TestEstimate(t *testing.T) {
	assert.Equal(t, 0, assembler.Estimate(""))
	assert.Equal(t, 0, assembler.Estimate("   "))

	// words * 4/3, rounded up.
	assert.Equal(t, 2, assembler.Estimate("one"))
	assert.Equal(t, 4, assembler.Estimate("one two three"))
	assert.Equal(t, 8, assembler.Estimate("one two three four five six"))
}

func TestTruncateToTokensUnderBudget(t *testing.T) {
	text := "short enough already"
	assert.Equal(t, text, assembler.TruncateToTokens(text, 100))
}

func TestTruncateToTokensCuts(t *testing.T) {
	text := strings.Repeat("word ", 100)
	got := assembler.TruncateToTokens(text, 20)

	assert.True(t, strings.HasSuffix(got, assembler.TruncationMarker))
	assert.LessOrEqual(t, assembler.Estimate(got),
		20+assembler.Estimate(assembler.TruncationMarker))
}

func TestTruncateToTokensZeroBudget(t *testing.T) {
	assert.Equal(t, "", assembler.TruncateToTokens("anything at all", 0))
}
