package intelligence

import "strings"

// Summarization limits: how many of each marker a synopsis may carry.
const (
	maxQuestions    = 3
	maxKeyPoints    = 2
	snippetWords    = 15
	fallbackSummary = "General conversation"
)

// truncationMarker terminates compressed text. It is a single word so that
// re-compressing already-compressed text is a no-op.
const truncationMarker = "..."

// keyPointMarkers flag response fragments worth surfacing in a synopsis.
var keyPointMarkers = []string{"important", "remember", "note"}

// Exchange is the summarizer's view of one conversational turn.
//
// Defined locally so the package stays a dependency-free leaf; the
// orchestrator converts from its own exchange type.
type Exchange struct {
	// UserInput is the user-side text of the turn.
	UserInput string

	// Response is the system-side text of the turn.
	Response string
}

// Summarizer compacts a batch of exchanges into a short synopsis and
// truncates single items to a target length. It is stateless: both
// operations depend only on their arguments.
type Summarizer struct{}

// NewSummarizer creates a new summarizer.
func NewSummarizer() *Summarizer {
	return &Summarizer{}
}

// Summarize extracts a synopsis from a batch of exchanges: up to three
// user-side questions, one marker for code having been provided, and up
// to two key points the responses flagged. Non-empty groups are joined;
// if nothing was extracted the fixed fallback string is returned.
//
// The synopsis is lossy by design. There is no way back from it to the
// original exchanges.
func (s *Summarizer) Summarize(exchanges []Exchange) string {
	var questions []string
	var keyPoints []string
	codeProvided := false

	for _, ex := range exchanges {
		if len(questions) < maxQuestions && strings.Contains(ex.UserInput, "?") {
			questions = append(questions, s.Compress(strings.TrimSpace(ex.UserInput), snippetWords))
		}
		if !codeProvided && strings.Contains(ex.Response, "```") {
			codeProvided = true
		}
		if len(keyPoints) < maxKeyPoints && containsAny(strings.ToLower(ex.Response), keyPointMarkers) {
			keyPoints = append(keyPoints, s.Compress(strings.TrimSpace(ex.Response), snippetWords))
		}
	}

	var groups []string
	if len(questions) > 0 {
		groups = append(groups, "Questions discussed: "+strings.Join(questions, " | "))
	}
	if codeProvided {
		groups = append(groups, "Code solutions were provided")
	}
	if len(keyPoints) > 0 {
		groups = append(groups, "Key points: "+strings.Join(keyPoints, " | "))
	}

	if len(groups) == 0 {
		return fallbackSummary
	}
	return strings.Join(groups, ". ")
}

// Compress truncates text to at most targetWords words, appending a
// truncation marker when anything was cut. Text at or under the target is
// returned unchanged, which makes Compress idempotent:
//
//	Compress(Compress(t, n), n) == Compress(t, n)
func (s *Summarizer) Compress(text string, targetWords int) string {
	if targetWords <= 0 {
		return text
	}
	words := strings.Fields(text)
	if len(words) <= targetWords {
		return text
	}
	// The marker is a single word, so re-compressing truncated text keeps
	// exactly the same prefix and marker.
	return strings.Join(words[:targetWords], " ") + " " + truncationMarker
}
