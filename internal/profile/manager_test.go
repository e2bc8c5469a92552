package profile

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// --- Mock state store ---

type mockKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newMockKV() *mockKV {
	return &mockKV{data: make(map[string]string)}
}

var errKVNotFound = errors.New("not found")

func (m *mockKV) GetState(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", errKVNotFound
	}
	return v, nil
}

func (m *mockKV) SetState(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// --- Mock clock ---

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Tests ---

func TestManager_GetEmpty(t *testing.T) {
	mgr := NewManager(newMockKV())

	if _, ok := mgr.Get(); ok {
		t.Error("expected no profile in a fresh store")
	}
}

func TestManager_EnsureExists(t *testing.T) {
	mgr := NewManager(newMockKV())

	p, err := mgr.EnsureExists()
	if err != nil {
		t.Fatalf("EnsureExists: %v", err)
	}
	if p.Version != SchemaVersion {
		t.Errorf("version = %d, want %d", p.Version, SchemaVersion)
	}

	if _, ok := mgr.Get(); !ok {
		t.Error("profile not persisted")
	}
}

func TestManager_MergeSignalCreatesProfile(t *testing.T) {
	mgr := NewManager(newMockKV())

	p, err := mgr.MergeSignal(Signal{Equipment: []string{"wok"}})
	if err != nil {
		t.Fatalf("MergeSignal: %v", err)
	}
	if len(p.Equipment.Owned) != 1 {
		t.Errorf("equipment not merged: %v", p.Equipment.Owned)
	}
	if p.SessionsCompleted != 0 {
		t.Errorf("plain merge incremented sessions: %d", p.SessionsCompleted)
	}
}

func TestManager_MergeSessionSignal(t *testing.T) {
	mgr := NewManager(newMockKV())

	mgr.MergeSessionSignal(Signal{})
	p, err := mgr.MergeSessionSignal(Signal{})
	if err != nil {
		t.Fatalf("MergeSessionSignal: %v", err)
	}
	if p.SessionsCompleted != 2 {
		t.Errorf("sessionsCompleted = %d, want 2", p.SessionsCompleted)
	}
}

func TestManager_PassiveSignalRequiresProfile(t *testing.T) {
	kv := newMockKV()
	mgr := NewManager(kv)

	mgr.LogPassiveSignal("recipe_saved", nil)

	if _, ok := mgr.Get(); ok {
		t.Error("passive signal created a profile")
	}
}

func TestManager_PassiveSignalRingBuffer(t *testing.T) {
	kv := newMockKV()
	clock := &mockClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	mgr := NewManagerWithClock(kv, clock)
	mgr.EnsureExists()

	for i := 0; i < 51; i++ {
		mgr.LogPassiveSignal("recipe_viewed", map[string]any{"n": fmt.Sprintf("%d", i)})
		clock.Advance(time.Second)
	}

	p, ok := mgr.Get()
	if !ok {
		t.Fatal("profile missing")
	}
	if len(p.Signals) != 50 {
		t.Fatalf("signal log length = %d, want 50", len(p.Signals))
	}
	// Oldest entry (n=0) dropped, newest (n=50) kept.
	if p.Signals[0].Data["n"] != "1" {
		t.Errorf("oldest kept signal = %v, want n=1", p.Signals[0].Data)
	}
	if p.Signals[49].Data["n"] != "50" {
		t.Errorf("newest signal = %v, want n=50", p.Signals[49].Data)
	}
	if !p.Signals[0].Timestamp.Before(p.Signals[49].Timestamp) {
		t.Error("signals out of chronological order")
	}
}

func TestManager_SetManual(t *testing.T) {
	mgr := NewManager(newMockKV())

	p, err := mgr.SetManual(Manual{Allergies: "peanuts"})
	if err != nil {
		t.Fatalf("SetManual: %v", err)
	}
	if p.Manual.Allergies != "peanuts" {
		t.Errorf("manual allergies = %q", p.Manual.Allergies)
	}

	// Replacement is wholesale.
	p, _ = mgr.SetManual(Manual{Cuisines: "Thai"})
	if p.Manual.Allergies != "" {
		t.Errorf("previous manual field survived replacement: %q", p.Manual.Allergies)
	}
}

func TestManager_ResetLearnedKeepsManual(t *testing.T) {
	mgr := NewManager(newMockKV())

	mgr.SetManual(Manual{Allergies: "peanuts"})
	mgr.CompleteOnboarding()
	mgr.MergeSessionSignal(Signal{
		Equipment: []string{"wok"},
		Tastes:    &TasteSignal{Cuisines: []ScoredItem{{Name: "Thai", Score: 0.9}}},
	})

	p, err := mgr.ResetLearned()
	if err != nil {
		t.Fatalf("ResetLearned: %v", err)
	}
	if p.Manual.Allergies != "peanuts" {
		t.Error("manual fields lost on reset")
	}
	if !p.OnboardingComplete {
		t.Error("onboarding flag lost on reset")
	}
	if len(p.Equipment.Owned) != 0 || len(p.Tastes.CuisineAffinities) != 0 {
		t.Error("learned data survived reset")
	}
	if p.SessionsCompleted != 0 {
		t.Errorf("sessionsCompleted = %d after reset", p.SessionsCompleted)
	}
}

func TestManager_ResetLearnedWithoutProfile(t *testing.T) {
	mgr := NewManager(newMockKV())
	if _, err := mgr.ResetLearned(); err == nil {
		t.Error("expected error resetting a missing profile")
	}
}

func TestManager_PromptSuffixLegacyFallback(t *testing.T) {
	kv := newMockKV()
	kv.SetState("userPreferences", `{"allergies": "peanuts", "cuisines": "Thai", "dislikes": ""}`)
	mgr := NewManager(kv)

	out := mgr.PromptSuffix()
	if !strings.Contains(out, "peanuts") {
		t.Errorf("legacy prefs not rendered: %q", out)
	}

	// A structured profile takes precedence once it exists.
	mgr.SetManual(Manual{Allergies: "shellfish"})
	out = mgr.PromptSuffix()
	if !strings.Contains(out, "shellfish") || strings.Contains(out, "peanuts") {
		t.Errorf("structured profile did not shadow legacy prefs: %q", out)
	}
}

func TestStore_MalformedProfileTreatedAsAbsent(t *testing.T) {
	kv := newMockKV()
	kv.SetState("userProfile", "{not json")

	if _, ok := NewStore(kv).Load(); ok {
		t.Error("malformed profile loaded as valid")
	}
}

func TestStore_AppliesDefaultsToOldDocuments(t *testing.T) {
	kv := newMockKV()
	kv.SetState("userProfile", `{"onboardingComplete": true}`)

	p, ok := NewStore(kv).Load()
	if !ok {
		t.Fatal("minimal profile failed to load")
	}
	if p.Version != SchemaVersion {
		t.Errorf("version not defaulted: %d", p.Version)
	}
	if p.Identity == nil || p.Patterns == nil || p.Tastes.FlavorProfile == nil {
		t.Error("nil collections not defaulted")
	}
}

func TestStore_RoundTrip(t *testing.T) {
	kv := newMockKV()
	store := NewStore(kv)

	p := NewDefault()
	p.SessionsCompleted = 3
	p.Tastes.FlavorProfile["spicy"] = ScoredObservation{Score: 0.8, Confidence: 0.45, SignalCount: 2}
	if err := store.Save(p); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok := store.Load()
	if !ok {
		t.Fatal("Load failed")
	}
	if got.SessionsCompleted != 3 {
		t.Errorf("sessionsCompleted = %d", got.SessionsCompleted)
	}
	if got.Tastes.FlavorProfile["spicy"].SignalCount != 2 {
		t.Errorf("flavor lost in round trip: %+v", got.Tastes.FlavorProfile)
	}
}
