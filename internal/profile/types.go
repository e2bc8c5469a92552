package profile

import "time"

// SchemaVersion tags persisted profiles. There is no migration mechanism;
// readers default missing fields instead (see Store.Load).
const SchemaVersion = 1

// Profile is the full learned taste profile for a user. It is persisted as
// a single JSON document and mutated only through the Manager.
type Profile struct {
	Version            int    `json:"version"`
	OnboardingComplete bool   `json:"onboardingComplete"`
	SessionsCompleted  int    `json:"sessionsCompleted"`
	Manual             Manual `json:"manual"`

	Identity  map[string]Observation `json:"identity"`
	Equipment Equipment              `json:"equipment"`
	Dietary   Dietary                `json:"dietary"`
	Tastes    Tastes                 `json:"tastes"`
	Patterns  map[string]Observation `json:"patterns"`

	// Signals is the passive event log, bounded to the 50 most recent.
	Signals []PassiveSignal `json:"signals"`
}

// Manual holds free-text preference fields entered directly by the user.
// They are authoritative and rendered ahead of learned data.
type Manual struct {
	Allergies string `json:"allergies"`
	Cuisines  string `json:"cuisines"`
	Dislikes  string `json:"dislikes"`
}

// Observation is an evolving belief about one attribute: the current value,
// how much we trust it, and how many signals reinforced it.
type Observation struct {
	Value       any     `json:"value"`
	Confidence  float64 `json:"confidence"`
	SignalCount int     `json:"signalCount"`
}

// ScoredObservation is an Observation whose value is a preference score
// in [0,1] (1.0 = loves it, 0.5 = neutral, 0.0 = dislikes it).
type ScoredObservation struct {
	Score       float64 `json:"score"`
	Confidence  float64 `json:"confidence"`
	SignalCount int     `json:"signalCount"`
}

// Equipment tracks owned kitchen equipment as a set. Confidence derives
// from the set size rather than per-item repetition.
type Equipment struct {
	Owned      []string `json:"owned"`
	Confidence float64  `json:"confidence"`
}

// Dietary holds hard constraints. Both lists are append-only and
// deduplicated by name; entries are never revised by the merge path.
type Dietary struct {
	Restrictions []Restriction `json:"restrictions"`
	Allergies    []Allergy     `json:"allergies"`
}

type Restriction struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Strict     bool    `json:"strict"`
}

type Allergy struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Tastes holds the scored preference categories, each unique by key.
type Tastes struct {
	CuisineAffinities    []CuisineAffinity            `json:"cuisineAffinities"`
	FlavorProfile        map[string]ScoredObservation `json:"flavorProfile"`
	IngredientAffinities []IngredientAffinity         `json:"ingredientAffinities"`
	ProteinPreferences   []ProteinPreference          `json:"proteinPreferences"`
}

type CuisineAffinity struct {
	Cuisine     string  `json:"cuisine"`
	Score       float64 `json:"score"`
	Confidence  float64 `json:"confidence"`
	SignalCount int     `json:"signalCount"`
}

type IngredientAffinity struct {
	Ingredient  string  `json:"ingredient"`
	Score       float64 `json:"score"`
	Confidence  float64 `json:"confidence"`
	SignalCount int     `json:"signalCount"`
}

type ProteinPreference struct {
	Protein     string  `json:"protein"`
	Score       float64 `json:"score"`
	Confidence  float64 `json:"confidence"`
	SignalCount int     `json:"signalCount"`
}

// PassiveSignal is a low-weight behavioral breadcrumb. Logged for later
// inspection only; never folded back into scored preferences.
type PassiveSignal struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewDefault returns a fresh profile with all collections empty.
func NewDefault() Profile {
	return Profile{
		Version:  SchemaVersion,
		Identity: map[string]Observation{},
		Patterns: map[string]Observation{},
		Tastes: Tastes{
			FlavorProfile: map[string]ScoredObservation{},
		},
	}
}
