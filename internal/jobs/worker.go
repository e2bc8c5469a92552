// Package jobs runs the background queue: a poll loop that claims pending
// jobs from SQLite and dispatches them to their handlers.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/souschef/souschef/internal/recipes"
	"github.com/souschef/souschef/internal/storage"
)

const defaultPoll = 500 * time.Millisecond

// Queue abstracts the job queue operations.
type Queue interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// MetadataRunner extracts metadata for a single recipe.
type MetadataRunner interface {
	ExtractFor(ctx context.Context, recipeID string) error
}

// Worker processes metadata_extract jobs from the SQLite job queue.
type Worker struct {
	queue    Queue
	metadata MetadataRunner
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker. If pollInterval <= 0, it defaults to 500ms.
func NewWorker(queue Queue, metadata MetadataRunner, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = defaultPoll
	}
	return &Worker{
		queue:    queue,
		metadata: metadata,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job. Returns true if a job was
// processed, regardless of whether it succeeded.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.queue.ClaimNextJob([]string{recipes.JobTypeMetadata})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.queue.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.queue.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

type metadataPayload struct {
	RecipeID string `json:"recipe_id"`
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload metadataPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.RecipeID == "" {
		return fmt.Errorf("payload missing recipe_id")
	}
	return w.metadata.ExtractFor(ctx, payload.RecipeID)
}
