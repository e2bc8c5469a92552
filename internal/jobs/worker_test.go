package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/souschef/souschef/internal/storage"
)

// --- Mocks ---

type mockQueue struct {
	mu        sync.Mutex
	pending   []storage.Job
	completed []string
	failed    map[string]string
	claimErr  error
}

func newMockQueue() *mockQueue {
	return &mockQueue{failed: map[string]string{}}
}

func (q *mockQueue) enqueue(job storage.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, job)
}

func (q *mockQueue) ClaimNextJob(types []string) (*storage.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.claimErr != nil {
		return nil, q.claimErr
	}
	for i, j := range q.pending {
		for _, t := range types {
			if j.Type == t {
				q.pending = append(q.pending[:i], q.pending[i+1:]...)
				j.Status = "running"
				return &j, nil
			}
		}
	}
	return nil, nil
}

func (q *mockQueue) CompleteJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = append(q.completed, id)
	return nil
}

func (q *mockQueue) FailJob(id string, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed[id] = errMsg
	return nil
}

type mockRunner struct {
	mu      sync.Mutex
	runs    []string
	err     error
	started chan struct{}
}

func (r *mockRunner) ExtractFor(ctx context.Context, recipeID string) error {
	r.mu.Lock()
	r.runs = append(r.runs, recipeID)
	r.mu.Unlock()
	if r.started != nil {
		select {
		case r.started <- struct{}{}:
		default:
		}
	}
	return r.err
}

// --- Tests ---

func TestRunOnce_NoJobs(t *testing.T) {
	w := NewWorker(newMockQueue(), &mockRunner{}, time.Millisecond)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if done {
		t.Error("reported work with an empty queue")
	}
}

func TestRunOnce_ProcessesAndCompletes(t *testing.T) {
	q := newMockQueue()
	q.enqueue(storage.Job{ID: "j1", Type: "metadata_extract", PayloadJSON: `{"recipe_id": "r1"}`})
	runner := &mockRunner{}
	w := NewWorker(q, runner, time.Millisecond)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Error("job not processed")
	}
	if len(runner.runs) != 1 || runner.runs[0] != "r1" {
		t.Errorf("runs = %v", runner.runs)
	}
	if len(q.completed) != 1 || q.completed[0] != "j1" {
		t.Errorf("completed = %v", q.completed)
	}
}

func TestRunOnce_FailureMarksJobFailed(t *testing.T) {
	q := newMockQueue()
	q.enqueue(storage.Job{ID: "j1", Type: "metadata_extract", PayloadJSON: `{"recipe_id": "r1"}`})
	w := NewWorker(q, &mockRunner{err: errors.New("llm timeout")}, time.Millisecond)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Error("failed job not reported as processed")
	}
	if q.failed["j1"] != "llm timeout" {
		t.Errorf("failed = %v", q.failed)
	}
	if len(q.completed) != 0 {
		t.Errorf("failed job also completed: %v", q.completed)
	}
}

func TestRunOnce_BadPayload(t *testing.T) {
	q := newMockQueue()
	q.enqueue(storage.Job{ID: "j1", Type: "metadata_extract", PayloadJSON: `{}`})
	runner := &mockRunner{}
	w := NewWorker(q, runner, time.Millisecond)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(runner.runs) != 0 {
		t.Errorf("runner invoked with empty recipe_id: %v", runner.runs)
	}
	if _, ok := q.failed["j1"]; !ok {
		t.Error("job with bad payload not failed")
	}
}

func TestRunOnce_ClaimError(t *testing.T) {
	q := newMockQueue()
	q.claimErr = errors.New("db locked")
	w := NewWorker(q, &mockRunner{}, time.Millisecond)

	done, err := w.RunOnce(context.Background())
	if err == nil {
		t.Error("claim error swallowed")
	}
	if done {
		t.Error("reported work on claim error")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	q := newMockQueue()
	q.enqueue(storage.Job{ID: "j1", Type: "metadata_extract", PayloadJSON: `{"recipe_id": "r1"}`})
	runner := &mockRunner{started: make(chan struct{}, 1)}
	w := NewWorker(q, runner, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(stopped)
	}()

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never picked up the job")
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}
