package profile

import "encoding/json"

// Signal is a partial, unvalidated observation about the user. Fields left
// nil or empty are ignored by the merge. Signals come from onboarding chat
// blocks, session extraction, or direct construction by callers.
type Signal struct {
	Identity  map[string]any `json:"identity,omitempty"`
	Equipment []string       `json:"equipment,omitempty"`
	Dietary   *DietarySignal `json:"dietary,omitempty"`
	Tastes    *TasteSignal   `json:"tastes,omitempty"`
	Patterns  map[string]any `json:"patterns,omitempty"`
}

// IsEmpty reports whether merging this signal would be a no-op.
func (s Signal) IsEmpty() bool {
	return len(s.Identity) == 0 && len(s.Equipment) == 0 &&
		(s.Dietary == nil || (len(s.Dietary.Restrictions) == 0 && len(s.Dietary.Allergies) == 0)) &&
		(s.Tastes == nil || (len(s.Tastes.Cuisines) == 0 && len(s.Tastes.Flavors) == 0 &&
			len(s.Tastes.Ingredients) == 0 && len(s.Tastes.Proteins) == 0)) &&
		len(s.Patterns) == 0
}

type DietarySignal struct {
	Restrictions []RestrictionSignal `json:"restrictions,omitempty"`
	Allergies    []AllergySignal     `json:"allergies,omitempty"`
}

type RestrictionSignal struct {
	Name       string  `json:"name"`
	Strict     bool    `json:"strict"`
	Confidence float64 `json:"confidence,omitempty"`
}

type AllergySignal struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence,omitempty"`
}

type TasteSignal struct {
	Cuisines    []ScoredItem `json:"cuisines,omitempty"`
	Flavors     []ScoredItem `json:"flavors,omitempty"`
	Ingredients []ScoredItem `json:"ingredients,omitempty"`
	Proteins    []ScoredItem `json:"proteins,omitempty"`
}

// ScoredItem is one raw taste observation: a key and a score in [0,1].
type ScoredItem struct {
	Name  string
	Score float64
}

// UnmarshalJSON accepts both the extractor contract ({"name": …}) and the
// onboarding profile-data blocks, which key items by the category noun
// ("cuisine", "flavor", "ingredient", "protein").
func (it *ScoredItem) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name       string  `json:"name"`
		Cuisine    string  `json:"cuisine"`
		Flavor     string  `json:"flavor"`
		Ingredient string  `json:"ingredient"`
		Protein    string  `json:"protein"`
		Score      float64 `json:"score"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, v := range []string{raw.Name, raw.Cuisine, raw.Flavor, raw.Ingredient, raw.Protein} {
		if v != "" {
			it.Name = v
			break
		}
	}
	it.Score = raw.Score
	return nil
}

func (it ScoredItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name  string  `json:"name"`
		Score float64 `json:"score"`
	}{it.Name, it.Score})
}
