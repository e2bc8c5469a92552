package profile

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// maxPassiveSignals bounds the passive log; oldest entries drop first.
const maxPassiveSignals = 50

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager is the single owner of profile mutations. It serializes
// read-modify-write cycles with a mutex; the surrounding application
// assumes one logical writer, and whole-profile overwrites make an
// abandoned concurrent save race harmlessly.
type Manager struct {
	store *Store
	clock Clock

	mu sync.Mutex
}

// NewManager creates a Manager over the given key-value backend.
func NewManager(kv StateStore) *Manager {
	return &Manager{store: NewStore(kv), clock: realClock{}}
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(kv StateStore, clock Clock) *Manager {
	return &Manager{store: NewStore(kv), clock: clock}
}

// Get returns the current profile. ok is false when none has been created
// yet (or the stored one is unreadable); callers decide whether to create
// a default.
func (m *Manager) Get() (Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Load()
}

// Save persists the given profile verbatim, overwriting any prior value.
func (m *Manager) Save(p Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Save(p)
}

// EnsureExists creates and persists a default profile if none exists,
// returning the current profile either way.
func (m *Manager) EnsureExists() (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.store.Load(); ok {
		return p, nil
	}
	p := NewDefault()
	if err := m.store.Save(p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// MergeSignal folds a signal into the profile and persists the result,
// creating a default profile first if none exists. The updated profile
// is returned.
func (m *Manager) MergeSignal(sig Signal) (Profile, error) {
	return m.merge(sig, false)
}

// MergeSessionSignal is MergeSignal plus a sessionsCompleted increment,
// applied atomically. Used only by the session extractor after a
// successful extraction.
func (m *Manager) MergeSessionSignal(sig Signal) (Profile, error) {
	return m.merge(sig, true)
}

func (m *Manager) merge(sig Signal, countSession bool) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.store.Load()
	if !ok {
		p = NewDefault()
	}
	p = Merge(p, sig)
	if countSession {
		p.SessionsCompleted++
	}
	if err := m.store.Save(p); err != nil {
		return Profile{}, fmt.Errorf("saving merged profile: %w", err)
	}
	return p, nil
}

// LogPassiveSignal appends a behavioral breadcrumb to the profile's
// bounded signal log. It is a silent no-op when no profile exists:
// passive signals are only collected for onboarded users, and logging
// must never create a profile as a side effect.
func (m *Manager) LogPassiveSignal(signalType string, data map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.store.Load()
	if !ok {
		return
	}

	p.Signals = append(p.Signals, PassiveSignal{
		Type:      signalType,
		Data:      data,
		Timestamp: m.clock.Now().UTC(),
	})
	if n := len(p.Signals); n > maxPassiveSignals {
		p.Signals = p.Signals[n-maxPassiveSignals:]
	}

	if err := m.store.Save(p); err != nil {
		slog.Warn("failed to persist passive signal", "type", signalType, "error", err)
	}
}

// SetManual replaces the user-entered free-text preference fields.
func (m *Manager) SetManual(manual Manual) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.store.Load()
	if !ok {
		p = NewDefault()
	}
	p.Manual = manual
	if err := m.store.Save(p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// CompleteOnboarding marks the onboarding flow finished, creating a
// default profile first if the user skipped every exchange.
func (m *Manager) CompleteOnboarding() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.store.Load()
	if !ok {
		p = NewDefault()
	}
	p.OnboardingComplete = true
	return m.store.Save(p)
}

// ResetLearned clears everything the merge path has accumulated, keeping
// the manual fields and onboarding flag. This is the only way learned
// dietary entries are ever removed.
func (m *Manager) ResetLearned() (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.store.Load()
	if !ok {
		return Profile{}, fmt.Errorf("no profile to reset")
	}

	fresh := NewDefault()
	fresh.Manual = p.Manual
	fresh.OnboardingComplete = p.OnboardingComplete
	if err := m.store.Save(fresh); err != nil {
		return Profile{}, err
	}
	return fresh, nil
}

// PromptSuffix renders the personalization block appended to every
// outbound LLM prompt. With no profile it falls back to the legacy flat
// preference record; with nothing to say it returns "".
func (m *Manager) PromptSuffix() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.store.Load(); ok {
		return RenderPrompt(p)
	}
	if prefs, ok := m.store.LoadLegacy(); ok {
		return renderLegacyPrompt(prefs)
	}
	return ""
}
