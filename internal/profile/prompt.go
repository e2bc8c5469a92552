package profile

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Inclusion thresholds for the rendered prompt. These are product tuning
// values; preserve them literally.
const (
	dislikeScoreMax      = 0.3
	dislikeConfidenceMin = 0.4

	cuisineScoreMin      = 0.6
	cuisineConfidenceMin = 0.3
	maxCuisines          = 5

	flavorScoreMin      = 0.6
	flavorConfidenceMin = 0.3
	maxFlavors          = 5

	proteinScoreMin      = 0.5
	proteinConfidenceMin = 0.3
	maxProteins          = 4

	lovedScoreMin       = 0.7
	lovedConfidenceMin  = 0.4
	maxLovedIngredients = 6

	maxEquipment = 8
)

const promptHeader = "User preferences (IMPORTANT — always respect these):"

const promptFooter = "Treat these preferences as defaults for vague requests only. " +
	"If the user explicitly asks for a specific dish or ingredient, make exactly what they asked for " +
	"and at most offer a brief suggestion afterward — never substitute based on preferences."

// RenderPrompt projects the profile into the personalization block appended
// to outbound LLM prompts. Sections appear in fixed priority order; hard
// constraints first, learned preferences after, context and equipment last.
// Returns "" when no section produces content.
func RenderPrompt(p Profile) string {
	var parts []string

	if line := renderAllergies(p); line != "" {
		parts = append(parts, line)
	}
	if line := renderRestrictions(p); line != "" {
		parts = append(parts, line)
	}
	if line := renderDislikes(p); line != "" {
		parts = append(parts, line)
	}
	if line := renderCuisines(p); line != "" {
		parts = append(parts, line)
	}
	if line := renderFlavors(p); line != "" {
		parts = append(parts, line)
	}
	if line := renderProteins(p); line != "" {
		parts = append(parts, line)
	}
	if line := renderLovedIngredients(p); line != "" {
		parts = append(parts, line)
	}
	if line := renderContext(p); line != "" {
		parts = append(parts, line)
	}
	if line := renderEquipment(p); line != "" {
		parts = append(parts, line)
	}

	if len(parts) == 0 {
		return ""
	}
	return "\n\n" + promptHeader + "\n" + strings.Join(parts, "\n") + "\n\n" + promptFooter
}

// renderLegacyPrompt renders the pre-profile flat preference record,
// matching the block the app produced before structured profiles existed.
func renderLegacyPrompt(prefs LegacyPrefs) string {
	var parts []string
	if s := strings.TrimSpace(prefs.Allergies); s != "" {
		parts = append(parts, "- Allergies & dietary restrictions: "+s)
	}
	if s := strings.TrimSpace(prefs.Cuisines); s != "" {
		parts = append(parts, "- Favorite cuisines: "+s)
	}
	if s := strings.TrimSpace(prefs.Dislikes); s != "" {
		parts = append(parts, "- Ingredients I dislike: "+s)
	}
	if len(parts) == 0 {
		return ""
	}
	return "\n\n" + promptHeader + "\n" + strings.Join(parts, "\n")
}

// renderAllergies includes every recorded allergy regardless of confidence,
// plus the manual free-text field. Allergies are never filtered.
func renderAllergies(p Profile) string {
	var names []string
	if s := strings.TrimSpace(p.Manual.Allergies); s != "" {
		names = append(names, s)
	}
	for _, a := range p.Dietary.Allergies {
		names = append(names, a.Name)
	}
	if len(names) == 0 {
		return ""
	}
	return "- Allergies (strict, never include): " + strings.Join(names, ", ")
}

func renderRestrictions(p Profile) string {
	var names []string
	for _, r := range p.Dietary.Restrictions {
		if r.Strict {
			names = append(names, r.Name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	return "- Dietary restrictions (strict): " + strings.Join(names, ", ")
}

func renderDislikes(p Profile) string {
	var names []string
	if s := strings.TrimSpace(p.Manual.Dislikes); s != "" {
		names = append(names, s)
	}
	for _, ing := range p.Tastes.IngredientAffinities {
		if ing.Score < dislikeScoreMax && ing.Confidence >= dislikeConfidenceMin {
			names = append(names, ing.Ingredient)
		}
	}
	if len(names) == 0 {
		return ""
	}
	return "- Ingredients to avoid: " + strings.Join(names, ", ")
}

func renderCuisines(p Profile) string {
	var names []string
	seen := map[string]bool{}
	for _, s := range splitManual(p.Manual.Cuisines) {
		if !seen[strings.ToLower(s)] {
			seen[strings.ToLower(s)] = true
			names = append(names, s)
		}
	}

	learned := make([]CuisineAffinity, 0, len(p.Tastes.CuisineAffinities))
	for _, c := range p.Tastes.CuisineAffinities {
		if c.Score >= cuisineScoreMin && c.Confidence >= cuisineConfidenceMin {
			learned = append(learned, c)
		}
	}
	sort.Slice(learned, func(i, j int) bool { return learned[i].Score > learned[j].Score })

	for _, c := range learned {
		if len(names) >= maxCuisines {
			break
		}
		if !seen[strings.ToLower(c.Cuisine)] {
			seen[strings.ToLower(c.Cuisine)] = true
			names = append(names, c.Cuisine)
		}
	}
	if len(names) == 0 {
		return ""
	}
	if len(names) > maxCuisines {
		names = names[:maxCuisines]
	}
	return "- Favorite cuisines: " + strings.Join(names, ", ")
}

func renderFlavors(p Profile) string {
	type flavor struct {
		name  string
		score float64
	}
	var selected []flavor
	for name, obs := range p.Tastes.FlavorProfile {
		if obs.Score >= flavorScoreMin && obs.Confidence >= flavorConfidenceMin {
			selected = append(selected, flavor{name, obs.Score})
		}
	}
	if len(selected) == 0 {
		return ""
	}
	sort.Slice(selected, func(i, j int) bool {
		if selected[i].score != selected[j].score {
			return selected[i].score > selected[j].score
		}
		return selected[i].name < selected[j].name
	})
	if len(selected) > maxFlavors {
		selected = selected[:maxFlavors]
	}
	entries := make([]string, len(selected))
	for i, f := range selected {
		entries[i] = fmt.Sprintf("%s (%d/10)", f.name, displayScore(f.score))
	}
	return "- Flavor preferences: " + strings.Join(entries, ", ")
}

func renderProteins(p Profile) string {
	selected := make([]ProteinPreference, 0, len(p.Tastes.ProteinPreferences))
	for _, pr := range p.Tastes.ProteinPreferences {
		if pr.Score >= proteinScoreMin && pr.Confidence >= proteinConfidenceMin {
			selected = append(selected, pr)
		}
	}
	if len(selected) == 0 {
		return ""
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].Score > selected[j].Score })
	if len(selected) > maxProteins {
		selected = selected[:maxProteins]
	}
	names := make([]string, len(selected))
	for i, pr := range selected {
		names[i] = pr.Protein
	}
	return "- Preferred proteins: " + strings.Join(names, ", ")
}

func renderLovedIngredients(p Profile) string {
	selected := make([]IngredientAffinity, 0, len(p.Tastes.IngredientAffinities))
	for _, ing := range p.Tastes.IngredientAffinities {
		if ing.Score >= lovedScoreMin && ing.Confidence >= lovedConfidenceMin {
			selected = append(selected, ing)
		}
	}
	if len(selected) == 0 {
		return ""
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].Score > selected[j].Score })
	if len(selected) > maxLovedIngredients {
		selected = selected[:maxLovedIngredients]
	}
	names := make([]string, len(selected))
	for i, ing := range selected {
		names[i] = ing.Ingredient
	}
	return "- Loved ingredients: " + strings.Join(names, ", ")
}

func renderContext(p Profile) string {
	var bits []string
	if v, ok := p.Identity["householdSize"]; ok {
		bits = append(bits, "household of "+formatValue(v.Value))
	}
	if v, ok := p.Identity["skillLevel"]; ok {
		bits = append(bits, formatValue(v.Value)+" cook")
	}
	if v, ok := p.Identity["cookingFrequency"]; ok {
		bits = append(bits, "cooks "+formatValue(v.Value))
	}
	if v, ok := p.Patterns["avgCookTime"]; ok {
		bits = append(bits, "~"+formatValue(v.Value)+" min meals")
	}
	if len(bits) == 0 {
		return ""
	}
	return "- Context: " + strings.Join(bits, ", ")
}

func renderEquipment(p Profile) string {
	owned := p.Equipment.Owned
	if len(owned) == 0 {
		return ""
	}
	if len(owned) > maxEquipment {
		owned = owned[:maxEquipment]
	}
	return "- Equipment available: " + strings.Join(owned, ", ")
}

// displayScore maps a [0,1] score to the 0–10 scale shown in prompts.
func displayScore(score float64) int {
	return int(math.Round(score * 10))
}

// formatValue renders observation values, trimming the ".0" JSON numbers
// pick up on round-trip.
func formatValue(v any) string {
	if f, ok := asFloat(v); ok && f == math.Trunc(f) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%v", v)
}

func splitManual(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}
