package profile

import (
	"math"
	"strings"
)

// Confidence and smoothing constants. These are load-bearing: changing them
// silently reinterprets every confidence value already persisted, so they
// stay as named constants with tests pinning exact outputs.
const (
	// baseConfidence is the trust assigned to a single observation.
	baseConfidence = 0.3
	// confidenceStep scales the logarithmic growth per reinforcement.
	confidenceStep = 0.15
	// historyWeight is the share of the old score kept on each merge.
	// A single outlier signal moves a score by at most 30% of the gap.
	historyWeight = 0.7
	// defaultDietaryConfidence applies when a dietary signal carries no
	// explicit confidence. Hard constraints are taken at face value.
	defaultDietaryConfidence = 1.0
)

// ComputeConfidence maps a reinforcement count to a trust score in [0,1]:
// min(1.0, 0.3 + 0.15*log2(n)). One signal yields 0.3, five about 0.65,
// ten about 0.80, capped at 1.0. Diminishing returns per signal; never
// fully certain in practice.
func ComputeConfidence(signalCount int) float64 {
	if signalCount < 1 {
		return baseConfidence
	}
	c := baseConfidence + confidenceStep*math.Log2(float64(signalCount))
	return math.Min(1.0, c)
}

// MergeScore folds a new raw score into an existing one by exponential
// smoothing, weighted 70/30 toward history.
func MergeScore(oldScore, signalScore float64) float64 {
	return oldScore*historyWeight + signalScore*(1-historyWeight)
}

// Merge folds a partial signal into a copy of the profile and returns the
// result. It is pure: no I/O, the input profile is not mutated. Fields
// absent from the signal leave the profile untouched, so merging an empty
// signal is a no-op.
func Merge(p Profile, sig Signal) Profile {
	out := deepCopy(p)

	for key, value := range sig.Identity {
		out.Identity[key] = mergeObservation(out.Identity[key], value)
	}

	if len(sig.Equipment) > 0 {
		out.Equipment = mergeEquipment(out.Equipment, sig.Equipment)
	}

	if sig.Dietary != nil {
		out.Dietary = mergeDietary(out.Dietary, *sig.Dietary)
	}

	if sig.Tastes != nil {
		mergeTastes(&out.Tastes, *sig.Tastes)
	}

	for key, value := range sig.Patterns {
		out.Patterns[key] = mergeObservation(out.Patterns[key], value)
	}

	return out
}

// mergeObservation handles identity and pattern attributes. First sight
// creates a fresh observation; repeats bump the count and recompute
// confidence. Numeric values are smoothed, everything else is overwritten
// (categorical attributes change rather than average).
func mergeObservation(existing Observation, value any) Observation {
	if existing.SignalCount == 0 {
		return Observation{
			Value:       value,
			Confidence:  ComputeConfidence(1),
			SignalCount: 1,
		}
	}

	next := existing
	next.SignalCount++
	next.Confidence = ComputeConfidence(next.SignalCount)

	oldNum, oldOK := asFloat(existing.Value)
	newNum, newOK := asFloat(value)
	if oldOK && newOK {
		next.Value = MergeScore(oldNum, newNum)
	} else {
		next.Value = value
	}
	return next
}

// mergeEquipment unions owned items case-insensitively. Confidence is a
// function of the resulting set size, not of repeat signals per item.
func mergeEquipment(eq Equipment, items []string) Equipment {
	seen := make(map[string]bool, len(eq.Owned))
	for _, item := range eq.Owned {
		seen[strings.ToLower(strings.TrimSpace(item))] = true
	}
	for _, item := range items {
		key := strings.ToLower(strings.TrimSpace(item))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		eq.Owned = append(eq.Owned, strings.TrimSpace(item))
	}
	eq.Confidence = ComputeConfidence(len(eq.Owned))
	return eq
}

// mergeDietary appends restrictions and allergies not already present by
// name. Existing entries are never revised: first write wins, so a later
// noisy signal cannot soften an allergy.
func mergeDietary(d Dietary, sig DietarySignal) Dietary {
	for _, r := range sig.Restrictions {
		if r.Name == "" || containsName(restrictionNames(d.Restrictions), r.Name) {
			continue
		}
		conf := r.Confidence
		if conf == 0 {
			conf = defaultDietaryConfidence
		}
		d.Restrictions = append(d.Restrictions, Restriction{Name: r.Name, Confidence: conf, Strict: r.Strict})
	}
	for _, a := range sig.Allergies {
		if a.Name == "" || containsName(allergyNames(d.Allergies), a.Name) {
			continue
		}
		conf := a.Confidence
		if conf == 0 {
			conf = defaultDietaryConfidence
		}
		d.Allergies = append(d.Allergies, Allergy{Name: a.Name, Confidence: conf})
	}
	return d
}

func mergeTastes(t *Tastes, sig TasteSignal) {
	for _, item := range sig.Cuisines {
		if item.Name == "" {
			continue
		}
		idx := -1
		for i, c := range t.CuisineAffinities {
			if strings.EqualFold(c.Cuisine, item.Name) {
				idx = i
				break
			}
		}
		if idx < 0 {
			t.CuisineAffinities = append(t.CuisineAffinities, CuisineAffinity{
				Cuisine: item.Name, Score: item.Score, Confidence: ComputeConfidence(1), SignalCount: 1,
			})
			continue
		}
		c := &t.CuisineAffinities[idx]
		c.SignalCount++
		c.Score = MergeScore(c.Score, item.Score)
		c.Confidence = ComputeConfidence(c.SignalCount)
	}

	for _, item := range sig.Flavors {
		if item.Name == "" {
			continue
		}
		key := strings.ToLower(item.Name)
		obs, ok := t.FlavorProfile[key]
		if !ok {
			t.FlavorProfile[key] = ScoredObservation{Score: item.Score, Confidence: ComputeConfidence(1), SignalCount: 1}
			continue
		}
		obs.SignalCount++
		obs.Score = MergeScore(obs.Score, item.Score)
		obs.Confidence = ComputeConfidence(obs.SignalCount)
		t.FlavorProfile[key] = obs
	}

	for _, item := range sig.Ingredients {
		if item.Name == "" {
			continue
		}
		idx := -1
		for i, ing := range t.IngredientAffinities {
			if strings.EqualFold(ing.Ingredient, item.Name) {
				idx = i
				break
			}
		}
		if idx < 0 {
			t.IngredientAffinities = append(t.IngredientAffinities, IngredientAffinity{
				Ingredient: item.Name, Score: item.Score, Confidence: ComputeConfidence(1), SignalCount: 1,
			})
			continue
		}
		ing := &t.IngredientAffinities[idx]
		ing.SignalCount++
		ing.Score = MergeScore(ing.Score, item.Score)
		ing.Confidence = ComputeConfidence(ing.SignalCount)
	}

	for _, item := range sig.Proteins {
		if item.Name == "" {
			continue
		}
		idx := -1
		for i, pr := range t.ProteinPreferences {
			if strings.EqualFold(pr.Protein, item.Name) {
				idx = i
				break
			}
		}
		if idx < 0 {
			t.ProteinPreferences = append(t.ProteinPreferences, ProteinPreference{
				Protein: item.Name, Score: item.Score, Confidence: ComputeConfidence(1), SignalCount: 1,
			})
			continue
		}
		pr := &t.ProteinPreferences[idx]
		pr.SignalCount++
		pr.Score = MergeScore(pr.Score, item.Score)
		pr.Confidence = ComputeConfidence(pr.SignalCount)
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

func restrictionNames(rs []Restriction) []string {
	names := make([]string, len(rs))
	for i, r := range rs {
		names[i] = r.Name
	}
	return names
}

func allergyNames(as []Allergy) []string {
	names := make([]string, len(as))
	for i, a := range as {
		names[i] = a.Name
	}
	return names
}

// deepCopy clones the profile so Merge never aliases the caller's maps
// and slices.
func deepCopy(p Profile) Profile {
	cp := p

	cp.Identity = make(map[string]Observation, len(p.Identity))
	for k, v := range p.Identity {
		cp.Identity[k] = v
	}
	cp.Patterns = make(map[string]Observation, len(p.Patterns))
	for k, v := range p.Patterns {
		cp.Patterns[k] = v
	}

	if p.Equipment.Owned != nil {
		cp.Equipment.Owned = append([]string(nil), p.Equipment.Owned...)
	}
	if p.Dietary.Restrictions != nil {
		cp.Dietary.Restrictions = append([]Restriction(nil), p.Dietary.Restrictions...)
	}
	if p.Dietary.Allergies != nil {
		cp.Dietary.Allergies = append([]Allergy(nil), p.Dietary.Allergies...)
	}

	if p.Tastes.CuisineAffinities != nil {
		cp.Tastes.CuisineAffinities = append([]CuisineAffinity(nil), p.Tastes.CuisineAffinities...)
	}
	cp.Tastes.FlavorProfile = make(map[string]ScoredObservation, len(p.Tastes.FlavorProfile))
	for k, v := range p.Tastes.FlavorProfile {
		cp.Tastes.FlavorProfile[k] = v
	}
	if p.Tastes.IngredientAffinities != nil {
		cp.Tastes.IngredientAffinities = append([]IngredientAffinity(nil), p.Tastes.IngredientAffinities...)
	}
	if p.Tastes.ProteinPreferences != nil {
		cp.Tastes.ProteinPreferences = append([]ProteinPreference(nil), p.Tastes.ProteinPreferences...)
	}

	if p.Signals != nil {
		cp.Signals = append([]PassiveSignal(nil), p.Signals...)
	}
	return cp
}
