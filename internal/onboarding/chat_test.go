package onboarding

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/souschef/souschef/internal/anthropic"
	"github.com/souschef/souschef/internal/profile"
)

type mockCompleter struct {
	response string
	err      error

	lastReq anthropic.Request
}

func (m *mockCompleter) Complete(ctx context.Context, req anthropic.Request) (string, error) {
	m.lastReq = req
	return m.response, m.err
}

type memKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemKV() *memKV { return &memKV{data: map[string]string{}} }

func (m *memKV) GetState(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (m *memKV) SetState(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func newTestEngine(llm Completer) (*Engine, *profile.Manager) {
	profiles := profile.NewManager(newMemKV())
	return NewEngine(llm, profiles, "test-model"), profiles
}

func TestExchange_MergesHiddenBlock(t *testing.T) {
	llm := &mockCompleter{response: `Great to meet you!
[PROFILE_DATA: {"identity":{"householdSize":2},"equipment":["wok"]}]`}
	engine, profiles := newTestEngine(llm)

	reply := engine.Exchange(context.Background(), nil)

	if reply.Done {
		t.Error("done without completion marker")
	}
	if reply.Message != "Great to meet you!" {
		t.Errorf("message = %q", reply.Message)
	}

	p, ok := profiles.Get()
	if !ok {
		t.Fatal("no profile after exchange")
	}
	if len(p.Equipment.Owned) != 1 || p.Equipment.Owned[0] != "wok" {
		t.Errorf("equipment = %v", p.Equipment.Owned)
	}
	if _, ok := p.Identity["householdSize"]; !ok {
		t.Error("householdSize not merged")
	}

	// The hidden opener is prepended before the visible history.
	if len(llm.lastReq.Messages) != 1 || llm.lastReq.Messages[0].Content != openingMessage {
		t.Errorf("messages = %+v", llm.lastReq.Messages)
	}
}

func TestExchange_CompletionMarker(t *testing.T) {
	llm := &mockCompleter{response: "Excited to cook with you!\n[PROFILE_DATA: {\"equipment\":[\"air fryer\"]}]\n[ONBOARDING_COMPLETE]"}
	engine, profiles := newTestEngine(llm)

	reply := engine.Exchange(context.Background(), []anthropic.Message{
		{Role: "assistant", Content: "any favorite cuisines?"},
		{Role: "user", Content: "thai, and I have an air fryer"},
	})

	if !reply.Done {
		t.Error("completion marker not detected")
	}
	if reply.Message != "Excited to cook with you!" {
		t.Errorf("message = %q", reply.Message)
	}

	p, _ := profiles.Get()
	if !p.OnboardingComplete {
		t.Error("onboardingComplete not set")
	}
}

func TestExchange_LLMFailureFallsBack(t *testing.T) {
	llm := &mockCompleter{err: errors.New("upstream down")}
	engine, profiles := newTestEngine(llm)

	reply := engine.Exchange(context.Background(), nil)
	if reply.Message != fallbackGreeting || reply.Done {
		t.Errorf("first-turn fallback = %+v", reply)
	}

	reply = engine.Exchange(context.Background(), []anthropic.Message{{Role: "user", Content: "hi"}})
	if reply.Message != fallbackError {
		t.Errorf("later-turn fallback = %q", reply.Message)
	}

	if _, ok := profiles.Get(); ok {
		t.Error("failed exchange created a profile")
	}
}

func TestSkip(t *testing.T) {
	engine, profiles := newTestEngine(&mockCompleter{})

	if err := engine.Skip(); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	p, ok := profiles.Get()
	if !ok || !p.OnboardingComplete {
		t.Error("skip did not complete onboarding")
	}
}

func TestParseProfileData_MultipleBlocks(t *testing.T) {
	content := `First part
[PROFILE_DATA: {"equipment":["wok"]}]
middle
[PROFILE_DATA: {"identity":{"skillLevel":"beginner"}}]`

	signals := ParseProfileData(content)
	if len(signals) != 2 {
		t.Fatalf("got %d signals", len(signals))
	}
	if len(signals[0].Equipment) != 1 {
		t.Errorf("first signal = %+v", signals[0])
	}
	if signals[1].Identity["skillLevel"] != "beginner" {
		t.Errorf("second signal = %+v", signals[1])
	}
}

func TestParseProfileData_NestedBraces(t *testing.T) {
	// The "}]" sequence inside a nested object must not end the block early.
	content := `[PROFILE_DATA: {"dietary":{"allergies":[{"name":"peanuts"}]},"equipment":["wok"]}]`

	signals := ParseProfileData(content)
	if len(signals) != 1 {
		t.Fatalf("got %d signals", len(signals))
	}
	sig := signals[0]
	if sig.Dietary == nil || len(sig.Dietary.Allergies) != 1 {
		t.Errorf("dietary = %+v", sig.Dietary)
	}
	if len(sig.Equipment) != 1 {
		t.Errorf("equipment after nested array lost: %+v", sig)
	}
}

func TestParseProfileData_MalformedSkipped(t *testing.T) {
	content := `[PROFILE_DATA: {"equipment":["wok"]}] text [PROFILE_DATA: not json`

	signals := ParseProfileData(content)
	if len(signals) != 1 {
		t.Fatalf("got %d signals", len(signals))
	}
	if len(signals[0].Equipment) != 1 {
		t.Errorf("signal = %+v", signals[0])
	}
}

func TestCleanDisplay(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			"strips block and marker",
			"Nice!\n[PROFILE_DATA: {\"equipment\":[\"wok\"]}]\n[ONBOARDING_COMPLETE]",
			"Nice!",
		},
		{
			"nested braces in block",
			"Got it.\n[PROFILE_DATA: {\"dietary\":{\"allergies\":[{\"name\":\"peanuts\"}]}}]\nAnything else?",
			"Got it.\n\nAnything else?",
		},
		{
			"brace inside string value",
			"Ok\n[PROFILE_DATA: {\"identity\":{\"note\":\"loves } and ] chars\"}}]",
			"Ok",
		},
		{
			"unterminated block dropped",
			"Hello [PROFILE_DATA: {\"equipment\":[\"wok\"",
			"Hello",
		},
		{
			"no blocks",
			"Just a normal reply.",
			"Just a normal reply.",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CleanDisplay(tc.in); got != tc.want {
				t.Errorf("CleanDisplay(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
