package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("anthropic-version missing")
		}

		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Model != "test-model" || req.System != "be brief" {
			t.Errorf("unexpected request: %+v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"content": [{"type": "text", "text": "hello"}, {"type": "text", "text": " world"}]}`)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	got, err := c.Complete(context.Background(), Request{
		Model:     "test-model",
		MaxTokens: 100,
		System:    "be brief",
		Messages:  []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "hello world" {
		t.Errorf("text = %q", got)
	}
}

func TestComplete_SkipsNonTextBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"content": [{"type": "thinking", "text": "hmm"}, {"type": "text", "text": "answer"}]}`)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("k", srv.URL)
	got, err := c.Complete(context.Background(), Request{Model: "m", MaxTokens: 10})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "answer" {
		t.Errorf("text = %q", got)
	}
}

func TestComplete_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		io.WriteString(w, `{"content": [{"type": "text", "text": "ok"}]}`)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("k", srv.URL)
	got, err := c.Complete(context.Background(), Request{Model: "m", MaxTokens: 10})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "ok" {
		t.Errorf("text = %q", got)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestComplete_ServerErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error": "boom"}`)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("k", srv.URL)
	_, err := c.Complete(context.Background(), Request{Model: "m", MaxTokens: 10})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 5xx)", calls.Load())
	}
}

func TestForward_RelaysVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"model": "m", "stream": true}` {
			t.Errorf("upstream body = %s", body)
		}
		if r.Header.Get("x-api-key") != "k" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error": {"type": "invalid_request_error"}}`)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("k", srv.URL)
	status, body, err := c.Forward(context.Background(), []byte(`{"model": "m", "stream": true}`))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if status != http.StatusBadRequest {
		t.Errorf("status = %d", status)
	}
	if !strings.Contains(string(body), "invalid_request_error") {
		t.Errorf("body = %s", body)
	}
}
