// Package onboarding runs the getting-to-know-you chat: a short guided
// conversation whose replies carry hidden profile-data blocks that seed
// the taste profile.
package onboarding

import (
	"context"
	"log/slog"
	"strings"

	"github.com/souschef/souschef/internal/anthropic"
	"github.com/souschef/souschef/internal/extract"
	"github.com/souschef/souschef/internal/profile"
)

const (
	replyMaxTokens = 400

	// openingMessage is the hidden user turn that starts the conversation.
	openingMessage = "Hi! I just downloaded SousChef."

	profileDataMarker = "[PROFILE_DATA:"
	completeMarker    = "[ONBOARDING_COMPLETE]"
)

const systemPrompt = `You are SousChef, a friendly cooking assistant getting to know a new user. Your goal is to learn about them in 3 quick, conversational exchanges so you can personalize their experience.

CONVERSATION FLOW (3 exchanges total):
1. First response: Warmly greet them. Ask who they cook for (household size), how often they cook, and their experience level. Keep it casual and brief (2-3 sentences + questions).
2. Second response: Acknowledge what they shared. Ask about any dietary restrictions, allergies, or ingredients they really dislike. Brief and warm.
3. Third response: Ask about favorite cuisines, typical cooking time preference, and any special equipment they have (instant pot, air fryer, etc). Tell them you're excited to cook with them!

After EACH response, include a hidden data block on a new line:
[PROFILE_DATA: {"identity":{"householdSize":2,"skillLevel":"beginner","cookingFrequency":"3-4x/week"},"dietary":{"restrictions":[{"name":"vegetarian","strict":true}],"allergies":[{"name":"peanuts"}]},"tastes":{"cuisines":[{"cuisine":"Italian","score":0.9}]},"equipment":["instant pot"],"patterns":{"avgCookTime":30}}]

Only include fields you've actually learned. Use your best inference for scores. Omit fields you haven't discussed yet.

On your THIRD response (after they answer about cuisines/equipment), also include [ONBOARDING_COMPLETE] at the very end.

RULES:
- Be warm, brief, and conversational — not formal or robotic
- Each response should be 2-4 sentences max plus your question(s)
- Don't overwhelm them with too many questions at once
- Don't repeat questions they've already answered`

// fallbackGreeting replaces the first assistant reply when the LLM call
// fails; onboarding must stay usable without it.
const fallbackGreeting = "Hey there! I'm your sous chef. Tell me a bit about yourself — who do you cook for, how often do you cook, and what's your experience level?"

const fallbackError = "Sorry, something went wrong. Please try again."

// Completer is the LLM completion dependency.
type Completer interface {
	Complete(ctx context.Context, req anthropic.Request) (string, error)
}

// Reply is one assistant turn, cleaned for display.
type Reply struct {
	Message string `json:"message"`
	Done    bool   `json:"done"`
}

// Engine drives the onboarding conversation and feeds extracted profile
// data into the merge path.
type Engine struct {
	llm      Completer
	profiles *profile.Manager
	model    string
}

// NewEngine creates an onboarding Engine.
func NewEngine(llm Completer, profiles *profile.Manager, model string) *Engine {
	return &Engine{llm: llm, profiles: profiles, model: model}
}

// Exchange sends the conversation so far (user and assistant turns, oldest
// first, without the hidden opener) and returns the next assistant reply.
// Profile-data blocks in the raw reply are merged before the cleaned text
// is returned; the completion marker flips onboardingComplete. LLM
// failures degrade to a canned message and never produce an error.
func (e *Engine) Exchange(ctx context.Context, history []anthropic.Message) Reply {
	messages := make([]anthropic.Message, 0, len(history)+1)
	messages = append(messages, anthropic.Message{Role: "user", Content: openingMessage})
	messages = append(messages, history...)

	raw, err := e.llm.Complete(ctx, anthropic.Request{
		Model:     e.model,
		MaxTokens: replyMaxTokens,
		System:    systemPrompt,
		Messages:  messages,
	})
	if err != nil {
		slog.Warn("onboarding exchange failed", "error", err)
		if len(history) == 0 {
			return Reply{Message: fallbackGreeting}
		}
		return Reply{Message: fallbackError}
	}

	for _, sig := range ParseProfileData(raw) {
		if _, err := e.profiles.MergeSignal(sig); err != nil {
			slog.Warn("merging onboarding signal failed", "error", err)
		}
	}

	done := strings.Contains(raw, completeMarker)
	if done {
		if err := e.profiles.CompleteOnboarding(); err != nil {
			slog.Warn("marking onboarding complete failed", "error", err)
		}
	}

	return Reply{Message: CleanDisplay(raw), Done: done}
}

// Skip marks onboarding finished without any conversation.
func (e *Engine) Skip() error {
	return e.profiles.CompleteOnboarding()
}

// ParseProfileData extracts the signals embedded in hidden profile-data
// blocks. Malformed blocks are skipped.
func ParseProfileData(content string) []profile.Signal {
	var signals []profile.Signal
	rest := content
	for {
		idx := strings.Index(rest, profileDataMarker)
		if idx < 0 {
			break
		}
		rest = rest[idx+len(profileDataMarker):]

		sig, err := extract.ParseSignal(rest)
		if err != nil {
			slog.Warn("skipping malformed profile data block", "error", err)
			continue
		}
		signals = append(signals, sig)
	}
	return signals
}

// CleanDisplay strips the hidden data blocks and the completion marker
// from an assistant reply.
func CleanDisplay(content string) string {
	var sb strings.Builder
	rest := content
	for {
		idx := strings.Index(rest, profileDataMarker)
		if idx < 0 {
			sb.WriteString(rest)
			break
		}
		sb.WriteString(rest[:idx])
		rest = rest[idx:]

		end := blockEnd(rest)
		if end < 0 {
			// Unterminated block, drop the remainder.
			break
		}
		rest = rest[end:]
	}

	out := strings.ReplaceAll(sb.String(), completeMarker, "")
	return strings.TrimSpace(out)
}

// blockEnd returns the index just past the "]" that closes a profile-data
// block starting at the beginning of s, or -1 if unterminated.
func blockEnd(s string) int {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				// Consume the closing "]" if present.
				if i+1 < len(s) && s[i+1] == ']' {
					return i + 2
				}
				return i + 1
			}
		}
	}
	return -1
}
