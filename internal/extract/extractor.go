// Package extract turns unstructured post-cook records into structured
// taste signals via an LLM call, then folds them into the profile.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/souschef/souschef/internal/anthropic"
	"github.com/souschef/souschef/internal/profile"
)

const (
	extractionTimeout   = 30 * time.Second
	extractionMaxTokens = 1024
)

// Completer is the LLM completion dependency.
type Completer interface {
	Complete(ctx context.Context, req anthropic.Request) (string, error)
}

// Status describes how an extraction attempt ended.
type Status string

const (
	// StatusMerged means a signal was parsed and folded into the profile.
	StatusMerged Status = "merged"
	// StatusFailed means the LLM call failed or returned no parseable
	// JSON object; the profile is untouched.
	StatusFailed Status = "failed"
)

// Result is the outcome of one extraction attempt. Extraction never
// propagates errors to the caller; the result exists so callers that care
// (tests, telemetry) can inspect what happened.
type Result struct {
	Status Status
	Err    error
}

// Extractor runs the post-cook signal extraction pipeline.
type Extractor struct {
	llm      Completer
	profiles *profile.Manager
	model    string
}

// New creates an Extractor using the given completion client and model.
func New(llm Completer, profiles *profile.Manager, model string) *Extractor {
	return &Extractor{llm: llm, profiles: profiles, model: model}
}

// ExtractAndMerge analyses the cook record and merges the resulting signal
// into the profile, incrementing sessionsCompleted on success. It is
// best-effort and at-most-once: any failure is captured in the Result and
// logged, never returned as an error, and nothing is retried. A response
// with no recognizable fields still counts as a completed session; the
// merge of the empty signal is a no-op.
func (e *Extractor) ExtractAndMerge(ctx context.Context, rec CookRecord) Result {
	ctx, cancel := context.WithTimeout(ctx, extractionTimeout)
	defer cancel()

	raw, err := e.llm.Complete(ctx, anthropic.Request{
		Model:     e.model,
		MaxTokens: extractionMaxTokens,
		System:    extractionInstructions,
		Messages:  []anthropic.Message{{Role: "user", Content: BuildPrompt(rec)}},
	})
	if err != nil {
		slog.Warn("session signal extraction call failed", "error", err)
		return Result{Status: StatusFailed, Err: err}
	}

	sig, err := ParseSignal(raw)
	if err != nil {
		slog.Warn("session signal response unparseable", "error", err)
		return Result{Status: StatusFailed, Err: err}
	}

	if _, err := e.profiles.MergeSessionSignal(sig); err != nil {
		slog.Warn("merging session signal failed", "error", err)
		return Result{Status: StatusFailed, Err: err}
	}

	slog.Debug("session signal merged", "empty", sig.IsEmpty())
	return Result{Status: StatusMerged}
}

// ParseSignal extracts the first top-level JSON object from the model
// response (which may be wrapped in prose or a fenced code block) and
// decodes it as a Signal.
func ParseSignal(response string) (profile.Signal, error) {
	span, ok := FirstJSONObject(response)
	if !ok {
		return profile.Signal{}, fmt.Errorf("no JSON object in response")
	}
	var sig profile.Signal
	if err := json.Unmarshal([]byte(span), &sig); err != nil {
		return profile.Signal{}, fmt.Errorf("decoding signal: %w", err)
	}
	return sig, nil
}

// FirstJSONObject returns the first balanced top-level {...} span in s, tracking
// string literals so braces inside values don't end the scan early.
func FirstJSONObject(s string) (string, bool) {
	start := -1
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
			if start >= 0 {
				inString = true
			}
		case '{':
			if start < 0 {
				start = i
			}
			depth++
		case '}':
			if start < 0 {
				continue
			}
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
