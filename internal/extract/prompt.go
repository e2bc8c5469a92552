package extract

import (
	"fmt"
	"strings"
)

// transcriptCharBudget bounds how much of the cooking transcript is sent
// to the extraction model; older turns are dropped first.
const transcriptCharBudget = 6000

const extractionInstructions = `You are a taste-signal extraction engine for a cooking assistant. Analyze the cooking session below and extract what it reveals about the user's tastes. Your output must be ONLY a single valid JSON object, no other text, prose, or markdown.

The JSON object may contain any of these optional keys (omit anything the session does not support):
{
  "tastes": {
    "cuisines": [{"name": "...", "score": 0.0}],
    "flavors": [{"name": "...", "score": 0.0}],
    "ingredients": [{"name": "...", "score": 0.0}],
    "proteins": [{"name": "...", "score": 0.0}]
  },
  "patterns": {
    "preferredComplexity": "simple|moderate|involved",
    "avgCookTime": 30
  },
  "identity": {
    "skillLevel": "beginner|intermediate|advanced"
  }
}

Scores are in [0,1]: 1.0 = loves it, 0.5 = neutral, 0.0 = dislikes it. Base scores on the ratings and what the user actually said. If the session reveals nothing, return {}.`

// Turn is one chat exchange from the cooking session.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CookRecord is the unstructured post-cook input: the session transcript
// plus whatever ratings, notes, and tags the user left.
type CookRecord struct {
	Title        string
	ChatHistory  []Turn
	Rating       int // stars 1–5, 0 = unset
	TasteRating  int
	EffortRating int
	Notes        string
	Tags         []string
}

// BuildPrompt renders the cook record into the user message for the
// extraction call: bounded transcript first, ratings and notes as plain
// lines after.
func BuildPrompt(rec CookRecord) string {
	var sb strings.Builder

	if rec.Title != "" {
		fmt.Fprintf(&sb, "Recipe: %s\n\n", rec.Title)
	}

	sb.WriteString("Cooking session transcript:\n")
	sb.WriteString(boundedTranscript(rec.ChatHistory, transcriptCharBudget))

	if rec.Rating > 0 {
		fmt.Fprintf(&sb, "\nOverall rating: %d/5", rec.Rating)
	}
	if rec.TasteRating > 0 {
		fmt.Fprintf(&sb, "\nTaste rating: %d/5", rec.TasteRating)
	}
	if rec.EffortRating > 0 {
		fmt.Fprintf(&sb, "\nEffort rating: %d/5", rec.EffortRating)
	}
	if rec.Notes != "" {
		fmt.Fprintf(&sb, "\nUser notes: %s", rec.Notes)
	}
	if len(rec.Tags) > 0 {
		fmt.Fprintf(&sb, "\nTags: %s", strings.Join(rec.Tags, ", "))
	}

	return sb.String()
}

// boundedTranscript renders turns newest-last, dropping the oldest turns
// once the character budget is exceeded.
func boundedTranscript(turns []Turn, budget int) string {
	if len(turns) == 0 {
		return "(no transcript)\n"
	}

	lines := make([]string, len(turns))
	total := 0
	for i, t := range turns {
		lines[i] = fmt.Sprintf("%s: %s\n", t.Role, t.Content)
		total += len(lines[i])
	}

	start := 0
	for start < len(lines)-1 && total > budget {
		total -= len(lines[start])
		start++
	}

	kept := strings.Join(lines[start:], "")
	if len(kept) > budget {
		kept = kept[:budget]
	}
	return kept
}
