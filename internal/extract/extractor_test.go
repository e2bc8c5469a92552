package extract

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/souschef/souschef/internal/anthropic"
	"github.com/souschef/souschef/internal/profile"
)

// --- Mocks ---

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

// --- Tests ---

func TestExtractAndMerge_Success(t *testing.T) {
	llm := &mockCompleter{response: `Here you go: {"tastes": {"cuisines": [{"name": "Thai", "score": 0.9}]}}`}
	profiles := profile.NewManager(newMemKV())
	ext := New(llm, profiles, "test-model")

	res := ext.ExtractAndMerge(context.Background(), CookRecord{Title: "Pad Thai", Rating: 5})
	if res.Status != StatusMerged {
		t.Fatalf("status = %s, err = %v", res.Status, res.Err)
	}

	p, ok := profiles.Get()
	if !ok {
		t.Fatal("no profile after merge")
	}
	if p.SessionsCompleted != 1 {
		t.Errorf("sessionsCompleted = %d, want 1", p.SessionsCompleted)
	}
	if len(p.Tastes.CuisineAffinities) != 1 || p.Tastes.CuisineAffinities[0].Cuisine != "Thai" {
		t.Errorf("cuisine not merged: %+v", p.Tastes.CuisineAffinities)
	}
	if llm.lastReq.Model != "test-model" {
		t.Errorf("model = %q", llm.lastReq.Model)
	}
}

func TestExtractAndMerge_LLMFailureLeavesProfileUntouched(t *testing.T) {
	llm := &mockCompleter{err: errors.New("upstream 500")}
	profiles := profile.NewManager(newMemKV())
	ext := New(llm, profiles, "test-model")

	res := ext.ExtractAndMerge(context.Background(), CookRecord{})
	if res.Status != StatusFailed || res.Err == nil {
		t.Fatalf("expected failed result, got %+v", res)
	}
	if _, ok := profiles.Get(); ok {
		t.Error("failed extraction created a profile")
	}
}

func TestExtractAndMerge_UnparseableResponse(t *testing.T) {
	llm := &mockCompleter{response: "I could not find any signals in this session."}
	profiles := profile.NewManager(newMemKV())
	ext := New(llm, profiles, "test-model")

	res := ext.ExtractAndMerge(context.Background(), CookRecord{})
	if res.Status != StatusFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if _, ok := profiles.Get(); ok {
		t.Error("unparseable extraction touched the profile")
	}
}

func TestExtractAndMerge_EmptyObjectStillCountsSession(t *testing.T) {
	llm := &mockCompleter{response: "{}"}
	profiles := profile.NewManager(newMemKV())
	ext := New(llm, profiles, "test-model")

	res := ext.ExtractAndMerge(context.Background(), CookRecord{})
	if res.Status != StatusMerged {
		t.Fatalf("status = %s, err = %v", res.Status, res.Err)
	}
	p, _ := profiles.Get()
	if p.SessionsCompleted != 1 {
		t.Errorf("sessionsCompleted = %d, want 1", p.SessionsCompleted)
	}
}

func TestParseSignal_FencedResponse(t *testing.T) {
	raw := "```json\n{\"equipment\": [\"wok\"]}\n```"
	sig, err := ParseSignal(raw)
	if err != nil {
		t.Fatalf("ParseSignal: %v", err)
	}
	if len(sig.Equipment) != 1 || sig.Equipment[0] != "wok" {
		t.Errorf("equipment = %v", sig.Equipment)
	}
}

func TestFirstJSONObject(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{`{}`, `{}`, true},
		{`prose {"a": 1} trailing`, `{"a": 1}`, true},
		{`{"a": {"b": 2}}`, `{"a": {"b": 2}}`, true},
		{`{"s": "brace } inside"}`, `{"s": "brace } inside"}`, true},
		{`{"s": "escaped \" } quote"}`, `{"s": "escaped \" } quote"}`, true},
		{`no object here`, ``, false},
		{`{"unterminated": 1`, ``, false},
		{`} {"a": 1}`, `{"a": 1}`, true},
	}
	for _, tc := range cases {
		got, ok := FirstJSONObject(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("FirstJSONObject(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestBuildPrompt(t *testing.T) {
	out := BuildPrompt(CookRecord{
		Title: "Pad Thai",
		ChatHistory: []Turn{
			{Role: "user", Content: "how do I soak the noodles?"},
			{Role: "assistant", Content: "cover them in warm water for 30 minutes"},
		},
		Rating:       5,
		TasteRating:  4,
		EffortRating: 2,
		Notes:        "too sweet",
		Tags:         []string{"weeknight", "noodles"},
	})

	for _, want := range []string{
		"Recipe: Pad Thai",
		"user: how do I soak the noodles?",
		"Overall rating: 5/5",
		"Taste rating: 4/5",
		"Effort rating: 2/5",
		"User notes: too sweet",
		"Tags: weeknight, noodles",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("prompt missing %q:\n%s", want, out)
		}
	}
}

func TestBuildPrompt_ZeroRatingsOmitted(t *testing.T) {
	out := BuildPrompt(CookRecord{Title: "Toast"})
	if strings.Contains(out, "rating") {
		t.Errorf("unset ratings rendered:\n%s", out)
	}
	if !strings.Contains(out, "(no transcript)") {
		t.Errorf("empty transcript placeholder missing:\n%s", out)
	}
}

func TestBoundedTranscript_DropsOldestFirst(t *testing.T) {
	long := strings.Repeat("x", 100)
	turns := make([]Turn, 20)
	for i := range turns {
		turns[i] = Turn{Role: "user", Content: long}
	}

	out := boundedTranscript(turns, 500)
	if len(out) > 500 {
		t.Errorf("transcript over budget: %d chars", len(out))
	}
	// The newest turn always survives.
	if !strings.HasSuffix(strings.TrimSpace(out), long) {
		t.Error("newest turn missing from bounded transcript")
	}
}
