package recipes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/souschef/souschef/internal/anthropic"
	"github.com/souschef/souschef/internal/extract"
	"github.com/souschef/souschef/internal/storage"
)

const (
	// metadataCharBudget bounds the recipe text sent for analysis.
	metadataCharBudget  = 3000
	metadataMaxTokens   = 1200
	defaultBackfillSize = 100
	defaultConcurrency  = 3
)

const metadataInstructions = `Analyze this recipe and extract metadata. Return ONLY valid JSON, no other text.

{
  "discovery": {
    "cuisine": "string or null",
    "subCuisine": "string or null",
    "course": "main|side|dessert|snack|appetizer or null",
    "cookingMethods": ["list of methods"],
    "proteinType": "string or null",
    "keyIngredients": ["top 5 ingredients"],
    "dietary": {
      "vegetarian": bool, "vegan": bool, "glutenFree": bool, "dairyFree": bool,
      "kosherStyle": bool, "halalStyle": bool, "lowCarb": bool, "highProtein": bool
    },
    "context": {
      "weeknightFriendly": bool, "mealPrep": bool, "dinnerParty": bool,
      "comfortFood": bool, "seasonal": "string or null", "holiday": "string or null"
    }
  },
  "decision": {
    "flavorProfile": {
      "dominant": ["top 2-3 flavors"], "spiceLevel": 1-5, "richness": 1-5,
      "acidity": 1-5, "texture": ["textures"]
    }
  },
  "execution": {
    "time": {
      "activeMinutes": number, "passiveMinutes": number,
      "totalMinutes": number, "cleanupEstimate": "low|medium|high"
    },
    "difficulty": {
      "level": 1-3, "techniqueComplexity": 1-5,
      "prepSteps": number, "equipmentRequired": ["list"]
    },
    "failureRisk": {
      "overall": "low|medium|high", "temperatureSensitive": bool,
      "timingSensitive": bool, "requiresMultitasking": bool,
      "substitutionTolerance": "low|medium|high"
    }
  },
  "nutrition": {
    "estimatedPerServing": {
      "calories": number, "proteinGrams": number, "carbGrams": number,
      "fatGrams": number, "fiberGrams": number
    },
    "macroTags": ["high-protein", "low-carb", etc]
  },
  "servings": { "default": number, "scalesLinearly": bool },
  "ingredientAccessibility": { "specialtyCount": number, "pantryStapleRatio": 0-1 },
  "prepAhead": { "possible": bool, "components": ["list"] }
}`

// MetadataStore is the persistence surface metadata extraction needs.
type MetadataStore interface {
	GetRecipe(id string) (storage.Recipe, error)
	ListRecipesMissingMetadata(limit int) ([]storage.Recipe, error)
	UpdateRecipeMetadata(id, metadataJSON string) error
}

// MetadataExtractor derives structured discovery and planning metadata
// from recipe text with the LLM.
type MetadataExtractor struct {
	llm   Completer
	store MetadataStore
	model string
}

// NewMetadataExtractor creates a MetadataExtractor.
func NewMetadataExtractor(llm Completer, store MetadataStore, model string) *MetadataExtractor {
	return &MetadataExtractor{llm: llm, store: store, model: model}
}

// ExtractFor extracts and stores metadata for one recipe. Recipes that
// already have metadata are left alone; recipes with no usable text are
// marked with an empty object so they are not retried forever.
func (m *MetadataExtractor) ExtractFor(ctx context.Context, recipeID string) error {
	rec, err := m.store.GetRecipe(recipeID)
	if err != nil {
		return fmt.Errorf("loading recipe %s: %w", recipeID, err)
	}
	if rec.MetadataJSON != "" {
		return nil
	}

	text := recipeText(rec)
	if strings.TrimSpace(text) == "" {
		return m.store.UpdateRecipeMetadata(rec.ID, "{}")
	}
	if len(text) > metadataCharBudget {
		text = text[:metadataCharBudget]
	}

	resp, err := m.llm.Complete(ctx, anthropic.Request{
		Model:     m.model,
		MaxTokens: metadataMaxTokens,
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: metadataInstructions + "\n\nRecipe:\n" + text,
		}},
	})
	if err != nil {
		return fmt.Errorf("extracting metadata: %w", err)
	}

	span, ok := extract.FirstJSONObject(resp)
	if !ok {
		return fmt.Errorf("no JSON in metadata response")
	}
	var check map[string]any
	if err := json.Unmarshal([]byte(span), &check); err != nil {
		return fmt.Errorf("parsing metadata response: %w", err)
	}

	if err := m.store.UpdateRecipeMetadata(rec.ID, span); err != nil {
		return fmt.Errorf("storing metadata: %w", err)
	}
	return nil
}

// Backfill extracts metadata for recipes missing it, a few at a time.
// Individual failures are logged and skipped. Returns how many recipes
// were updated.
func (m *MetadataExtractor) Backfill(ctx context.Context, limit, concurrency int) (int, error) {
	if limit <= 0 {
		limit = defaultBackfillSize
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	pending, err := m.store.ListRecipesMissingMetadata(limit)
	if err != nil {
		return 0, fmt.Errorf("listing recipes: %w", err)
	}

	var updated atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, rec := range pending {
		g.Go(func() error {
			if err := m.ExtractFor(ctx, rec.ID); err != nil {
				slog.Warn("metadata backfill failed", "recipe_id", rec.ID, "error", err)
				return nil
			}
			updated.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(updated.Load()), err
	}
	return int(updated.Load()), nil
}

// recipeText picks the best text for analysis: the pinned recipe, else
// the assistant side of the cooking chat, else the title.
func recipeText(rec storage.Recipe) string {
	if strings.TrimSpace(rec.PinnedText) != "" {
		return rec.PinnedText
	}

	var history []extract.Turn
	if rec.ChatHistoryJSON != "" {
		if err := json.Unmarshal([]byte(rec.ChatHistoryJSON), &history); err == nil {
			var parts []string
			for _, turn := range history {
				if turn.Role == "assistant" && turn.Content != "" {
					parts = append(parts, turn.Content)
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, "\n")
			}
		}
	}
	return rec.Title
}
