// Package recipes manages the saved recipe collection: CRUD, cook
// tracking, imports from the web and PDFs, and LLM metadata extraction.
package recipes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/souschef/souschef/internal/extract"
	"github.com/souschef/souschef/internal/profile"
	"github.com/souschef/souschef/internal/storage"
)

const (
	defaultListLimit = 50

	// JobTypeMetadata is the queue type for deferred metadata extraction.
	JobTypeMetadata = "metadata_extract"
)

// Store is the persistence surface the service needs.
type Store interface {
	SaveRecipe(r storage.Recipe) error
	GetRecipe(id string) (storage.Recipe, error)
	ListRecipes(limit, offset int) ([]storage.Recipe, error)
	DeleteRecipe(id string) error
	EnqueueJob(job storage.Job) error
}

// SessionExtractor turns a finished cooking session into profile updates.
type SessionExtractor interface {
	ExtractAndMerge(ctx context.Context, rec extract.CookRecord) extract.Result
}

// Service coordinates recipe persistence with the learning side effects
// that saving and cooking trigger.
type Service struct {
	store     Store
	extractor SessionExtractor
	profiles  *profile.Manager
}

// NewService creates a recipe Service. extractor may be nil, in which
// case cooking updates the record but triggers no learning.
func NewService(store Store, extractor SessionExtractor, profiles *profile.Manager) *Service {
	return &Service{store: store, extractor: extractor, profiles: profiles}
}

// Save persists a recipe, assigning an ID when absent, and queues
// metadata extraction for records that do not have it yet.
func (s *Service) Save(rec storage.Recipe) (storage.Recipe, error) {
	isNew := rec.ID == ""
	if isNew {
		rec.ID = uuid.New().String()
	}
	if rec.Source == "" {
		rec.Source = "manual"
	}
	if rec.TagsJSON == "" {
		rec.TagsJSON = "[]"
	}
	if rec.ChatHistoryJSON == "" {
		rec.ChatHistoryJSON = "[]"
	}

	if err := s.store.SaveRecipe(rec); err != nil {
		return storage.Recipe{}, fmt.Errorf("saving recipe: %w", err)
	}

	if rec.MetadataJSON == "" {
		if err := s.enqueueMetadata(rec.ID); err != nil {
			slog.Warn("queueing metadata extraction failed", "recipe_id", rec.ID, "error", err)
		}
	}

	if isNew {
		s.profiles.LogPassiveSignal("recipe_saved", map[string]any{
			"recipeId": rec.ID,
			"title":    rec.Title,
			"source":   rec.Source,
		})
	}
	return rec, nil
}

// Get returns a recipe by ID.
func (s *Service) Get(id string) (storage.Recipe, error) {
	return s.store.GetRecipe(id)
}

// List returns recipes newest first. limit <= 0 uses the default page size.
func (s *Service) List(limit, offset int) ([]storage.Recipe, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListRecipes(limit, offset)
}

// Delete removes a recipe by ID.
func (s *Service) Delete(id string) error {
	return s.store.DeleteRecipe(id)
}

// CookFeedback is what the user reports after cooking. Zero ratings mean
// unrated and leave the stored value alone.
type CookFeedback struct {
	Rating       int      `json:"rating"`
	TasteRating  int      `json:"tasteRating"`
	EffortRating int      `json:"effortRating"`
	Notes        string   `json:"notes"`
	Tags         []string `json:"tags"`
}

// RecordCook marks a recipe cooked, stores the feedback, and kicks off
// session extraction in the background. The returned recipe reflects the
// stored update; extraction outcome is not reported here.
func (s *Service) RecordCook(ctx context.Context, id string, fb CookFeedback) (storage.Recipe, error) {
	rec, err := s.store.GetRecipe(id)
	if err != nil {
		return storage.Recipe{}, fmt.Errorf("loading recipe %s: %w", id, err)
	}

	rec.CookCount++
	if fb.Rating > 0 {
		rec.Rating = fb.Rating
	}
	if fb.TasteRating > 0 {
		rec.TasteRating = fb.TasteRating
	}
	if fb.EffortRating > 0 {
		rec.EffortRating = fb.EffortRating
	}
	if fb.Notes != "" {
		rec.Notes = fb.Notes
	}
	if len(fb.Tags) > 0 {
		tags, err := json.Marshal(fb.Tags)
		if err == nil {
			rec.TagsJSON = string(tags)
		}
	}

	if err := s.store.SaveRecipe(rec); err != nil {
		return storage.Recipe{}, fmt.Errorf("saving cook update: %w", err)
	}

	s.profiles.LogPassiveSignal("recipe_cooked", map[string]any{
		"recipeId": rec.ID,
		"title":    rec.Title,
		"rating":   fb.Rating,
	})

	if s.extractor != nil {
		cook := cookRecord(rec, fb)
		go func() {
			res := s.extractor.ExtractAndMerge(context.WithoutCancel(ctx), cook)
			if res.Status == extract.StatusFailed {
				slog.Warn("session extraction failed", "recipe_id", rec.ID, "error", res.Err)
			}
		}()
	}

	return rec, nil
}

func (s *Service) enqueueMetadata(recipeID string) error {
	payload, err := json.Marshal(metadataPayload{RecipeID: recipeID})
	if err != nil {
		return err
	}
	return s.store.EnqueueJob(storage.Job{
		ID:          uuid.New().String(),
		Type:        JobTypeMetadata,
		PayloadJSON: string(payload),
	})
}

// cookRecord assembles the extractor input from the stored recipe and the
// fresh feedback. A malformed transcript degrades to an empty history.
func cookRecord(rec storage.Recipe, fb CookFeedback) extract.CookRecord {
	var history []extract.Turn
	if rec.ChatHistoryJSON != "" {
		if err := json.Unmarshal([]byte(rec.ChatHistoryJSON), &history); err != nil {
			slog.Warn("parsing chat history failed", "recipe_id", rec.ID, "error", err)
			history = nil
		}
	}
	return extract.CookRecord{
		Title:        rec.Title,
		ChatHistory:  history,
		Rating:       fb.Rating,
		TasteRating:  fb.TasteRating,
		EffortRating: fb.EffortRating,
		Notes:        fb.Notes,
		Tags:         fb.Tags,
	}
}

type metadataPayload struct {
	RecipeID string `json:"recipe_id"`
}
