package profile

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// State keys in the app_state table. legacyPrefsKey predates the structured
// profile and holds a flat {allergies, cuisines, dislikes} record that the
// prompt renderer still honors when no profile exists.
const (
	profileKey     = "userProfile"
	legacyPrefsKey = "userPreferences"
)

// StateStore is the key-value persistence the profile layer needs.
// Implemented by storage.Store.
type StateStore interface {
	GetState(key string) (string, error)
	SetState(key, value string) error
}

// Store reads and writes the profile document. Any load failure, storage
// or parse, degrades to "no profile": learning is best-effort and must
// never surface storage errors to the user.
type Store struct {
	kv StateStore
}

// NewStore creates a Store over the given key-value backend.
func NewStore(kv StateStore) *Store {
	return &Store{kv: kv}
}

// Load returns the persisted profile, or ok=false if none exists or the
// stored document cannot be parsed.
func (s *Store) Load() (Profile, bool) {
	raw, err := s.kv.GetState(profileKey)
	if err != nil {
		return Profile{}, false
	}
	var p Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		slog.Warn("malformed stored profile, treating as absent", "error", err)
		return Profile{}, false
	}
	applyDefaults(&p)
	return p, true
}

// Save persists the full profile, overwriting any prior value.
func (s *Store) Save(p Profile) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshalling profile: %w", err)
	}
	if err := s.kv.SetState(profileKey, string(b)); err != nil {
		return fmt.Errorf("persisting profile: %w", err)
	}
	return nil
}

// LegacyPrefs is the flat preference record from before structured
// profiles existed.
type LegacyPrefs struct {
	Allergies string `json:"allergies"`
	Cuisines  string `json:"cuisines"`
	Dislikes  string `json:"dislikes"`
}

// LoadLegacy returns the legacy flat preference record, or ok=false if
// absent or malformed.
func (s *Store) LoadLegacy() (LegacyPrefs, bool) {
	raw, err := s.kv.GetState(legacyPrefsKey)
	if err != nil {
		return LegacyPrefs{}, false
	}
	var prefs LegacyPrefs
	if err := json.Unmarshal([]byte(raw), &prefs); err != nil {
		return LegacyPrefs{}, false
	}
	return prefs, true
}

// applyDefaults fills nil collections on profiles persisted by older
// schema versions. There is no migration mechanism; absent nested objects
// are treated as empty rather than an error.
func applyDefaults(p *Profile) {
	if p.Version == 0 {
		p.Version = SchemaVersion
	}
	if p.Identity == nil {
		p.Identity = map[string]Observation{}
	}
	if p.Patterns == nil {
		p.Patterns = map[string]Observation{}
	}
	if p.Tastes.FlavorProfile == nil {
		p.Tastes.FlavorProfile = map[string]ScoredObservation{}
	}
}
