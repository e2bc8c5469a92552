// Package api exposes the local HTTP surface: profile and signal
// endpoints, recipe management, the onboarding chat, and the enriching
// chat proxy. It also hosts the MCP server.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/souschef/souschef/internal/anthropic"
	"github.com/souschef/souschef/internal/composer"
	"github.com/souschef/souschef/internal/onboarding"
	"github.com/souschef/souschef/internal/profile"
	"github.com/souschef/souschef/internal/recipes"
	"github.com/souschef/souschef/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxPDFBodySize = 20 << 20    // 20MB

// AppDeps holds everything the HTTP handlers need.
type AppDeps struct {
	Profiles   *profile.Manager
	Recipes    *recipes.Service
	Importer   *recipes.Importer
	Metadata   *recipes.MetadataExtractor
	Onboarding *onboarding.Engine
	LLM        *anthropic.Client
	// Token enables bearer auth when non-empty. The server binds to
	// loopback, so an empty token is permitted.
	Token string
}

// NewHandler builds the full route tree.
func NewHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/profile", handleGetProfile(deps))
		r.Put("/profile/manual", handleSetManual(deps))
		r.Post("/profile/reset-learned", handleResetLearned(deps))
		r.Post("/profile/onboarding-complete", handleOnboardingComplete(deps))
		r.Get("/profile/prompt", handleGetPrompt(deps))

		r.Post("/signals", handleMergeSignal(deps))
		r.Post("/signals/session", handleMergeSessionSignal(deps))
		r.Post("/signals/passive", handlePassiveSignal(deps))

		r.Post("/onboarding/chat", handleOnboardingChat(deps))

		r.Post("/recipes", handleSaveRecipe(deps))
		r.Get("/recipes", handleListRecipes(deps))
		r.Get("/recipes/{id}", handleGetRecipe(deps))
		r.Delete("/recipes/{id}", handleDeleteRecipe(deps))
		r.Post("/recipes/{id}/cooked", handleRecipeCooked(deps))
		r.Post("/recipes/import/url", handleImportURL(deps))
		r.Post("/recipes/import/pdf", handleImportPDF(deps))
		r.Post("/recipes/backfill-metadata", handleBackfill(deps))

		r.Post("/v1/messages", handleChat(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleGetProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := deps.Profiles.Get()
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "no profile yet")
			return
		}
		writeJSON(w, p)
	}
}

func handleSetManual(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var manual profile.Manual
		if err := json.NewDecoder(r.Body).Decode(&manual); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		p, err := deps.Profiles.SetManual(manual)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update manual preferences: %v", err)
			return
		}
		writeJSON(w, p)
	}
}

func handleResetLearned(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Profiles.ResetLearned()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to reset profile: %v", err)
			return
		}
		writeJSON(w, p)
	}
}

func handleOnboardingComplete(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Profiles.CompleteOnboarding(); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to mark onboarding complete: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "updated"})
	}
}

func handleGetPrompt(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"prompt": deps.Profiles.PromptSuffix()})
	}
}

func handleMergeSignal(deps AppDeps) http.HandlerFunc {
	return mergeSignalHandler(deps, false)
}

func handleMergeSessionSignal(deps AppDeps) http.HandlerFunc {
	return mergeSignalHandler(deps, true)
}

func mergeSignalHandler(deps AppDeps, session bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var sig profile.Signal
		if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		var (
			p   profile.Profile
			err error
		)
		if session {
			p, err = deps.Profiles.MergeSessionSignal(sig)
		} else {
			p, err = deps.Profiles.MergeSignal(sig)
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to merge signal: %v", err)
			return
		}
		writeJSON(w, p)
	}
}

type passiveSignalRequest struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func handlePassiveSignal(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req passiveSignalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Type == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "type is required")
			return
		}

		deps.Profiles.LogPassiveSignal(req.Type, req.Data)
		writeJSON(w, map[string]string{"status": "logged"})
	}
}

type onboardingChatRequest struct {
	Messages []anthropic.Message `json:"messages"`
}

func handleOnboardingChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req onboardingChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		writeJSON(w, deps.Onboarding.Exchange(r.Context(), req.Messages))
	}
}

type saveRecipeRequest struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	PinnedText  string          `json:"pinnedText"`
	ChatHistory json.RawMessage `json:"chatHistory"`
	Source      string          `json:"source"`
	Tags        []string        `json:"tags"`
}

func handleSaveRecipe(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req saveRecipeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Title == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title is required")
			return
		}

		rec := storage.Recipe{
			ID:         req.ID,
			Title:      req.Title,
			PinnedText: req.PinnedText,
			Source:     req.Source,
		}
		if len(req.ChatHistory) > 0 {
			rec.ChatHistoryJSON = string(req.ChatHistory)
		}
		if req.Tags != nil {
			b, err := json.Marshal(req.Tags)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to marshal tags: %v", err)
				return
			}
			rec.TagsJSON = string(b)
		}

		saved, err := deps.Recipes.Save(rec)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save recipe: %v", err)
			return
		}
		writeJSON(w, recipeView(saved))
	}
}

func handleListRecipes(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 200)
		offset := parseIntParam(r, "offset", 0, 0)

		recs, err := deps.Recipes.List(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list recipes: %v", err)
			return
		}

		views := make([]recipeJSON, 0, len(recs))
		for _, rec := range recs {
			views = append(views, recipeView(rec))
		}
		writeJSON(w, views)
	}
}

func handleGetRecipe(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := deps.Recipes.Get(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "recipe not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get recipe: %v", err)
			return
		}
		writeJSON(w, recipeView(rec))
	}
}

func handleDeleteRecipe(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Recipes.Delete(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "recipe not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete recipe: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handleRecipeCooked(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var fb recipes.CookFeedback
		if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		rec, err := deps.Recipes.RecordCook(r.Context(), chi.URLParam(r, "id"), fb)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "recipe not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to record cook: %v", err)
			return
		}
		writeJSON(w, recipeView(rec))
	}
}

type importURLRequest struct {
	URL string `json:"url"`
}

func handleImportURL(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req importURLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "url is required")
			return
		}

		rec, err := deps.Importer.ImportURL(r.Context(), req.URL)
		if errors.Is(err, recipes.ErrNoRecipe) {
			httpError(w, http.StatusUnprocessableEntity, "no_recipe", "no recipe found at that URL")
			return
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "import failed: %v", err)
			return
		}
		writeJSON(w, recipeView(rec))
	}
}

func handleImportPDF(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxPDFBodySize)
		data, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading body: %v", err)
			return
		}
		if len(data) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "request body must be the PDF bytes")
			return
		}

		rec, err := deps.Importer.ImportPDF(r.Context(), data)
		if errors.Is(err, recipes.ErrNoRecipe) {
			httpError(w, http.StatusUnprocessableEntity, "no_recipe", "no recipe found in that document")
			return
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "import failed: %v", err)
			return
		}
		writeJSON(w, recipeView(rec))
	}
}

func handleBackfill(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 100, 500)

		updated, err := deps.Metadata.Backfill(r.Context(), limit, 0)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "backfill failed: %v", err)
			return
		}
		writeJSON(w, map[string]int{"updated": updated})
	}
}

// handleChat proxies a Messages API request to Anthropic with the
// preference suffix folded into the system prompt.
func handleChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading body: %v", err)
			return
		}

		composed, err := composer.Compose(body, deps.Profiles.PromptSuffix())
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request: %v", err)
			return
		}

		status, respBody, err := deps.LLM.Forward(r.Context(), composed)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "upstream error: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(respBody)
	}
}

// recipeJSON is the wire shape for a recipe.
type recipeJSON struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	PinnedText   string          `json:"pinnedText,omitempty"`
	ChatHistory  json.RawMessage `json:"chatHistory,omitempty"`
	Source       string          `json:"source"`
	Rating       int             `json:"rating,omitempty"`
	TasteRating  int             `json:"tasteRating,omitempty"`
	EffortRating int             `json:"effortRating,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	Tags         json.RawMessage `json:"tags,omitempty"`
	CookCount    int             `json:"cookCount"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    string          `json:"createdAt"`
	UpdatedAt    string          `json:"updatedAt"`
}

func recipeView(rec storage.Recipe) recipeJSON {
	v := recipeJSON{
		ID:           rec.ID,
		Title:        rec.Title,
		PinnedText:   rec.PinnedText,
		Source:       rec.Source,
		Rating:       rec.Rating,
		TasteRating:  rec.TasteRating,
		EffortRating: rec.EffortRating,
		Notes:        rec.Notes,
		CookCount:    rec.CookCount,
		CreatedAt:    rec.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    rec.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if rec.ChatHistoryJSON != "" {
		v.ChatHistory = json.RawMessage(rec.ChatHistoryJSON)
	}
	if rec.TagsJSON != "" {
		v.Tags = json.RawMessage(rec.TagsJSON)
	}
	if rec.MetadataJSON != "" {
		v.Metadata = json.RawMessage(rec.MetadataJSON)
	}
	return v
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
