package assembler

import "strings"

// TruncationMarker terminates content that was cut to fit a budget.
const TruncationMarker = "..."

// Estimate approximates the token count of text from its word count.
// English prose averages about four characters per token and three
// quarters of a word, so tokens ~= words * 4/3, rounded up.
func Estimate(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return (words*4 + 2) / 3
}

// TruncateToTokens cuts text down to approximately maxTokens and
// appends the truncation marker. Text already within the budget is
// returned unchanged.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if Estimate(text) <= maxTokens {
		return text
	}
	words := strings.Fields(text)
	keep := maxTokens * 3 / 4
	if keep >= len(words) {
		return text
	}
	return strings.Join(words[:keep], " ") + " " + TruncationMarker
}
