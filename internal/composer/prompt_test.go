package composer

import (
	"encoding/json"
	"testing"
)

func TestCompose_EmptySuffixUnchanged(t *testing.T) {
	body := []byte(`{"model": "m", "system": "s", "weird_field": [1, 2]}`)
	out, err := Compose(body, "")
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if string(out) != string(body) {
		t.Errorf("body changed: %s", out)
	}
}

func TestCompose_NoSystemField(t *testing.T) {
	out, err := Compose([]byte(`{"model": "m"}`), "prefer Thai food")
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	var req struct {
		Model  string `json:"model"`
		System string `json:"system"`
	}
	if err := json.Unmarshal(out, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.System != "prefer Thai food" {
		t.Errorf("system = %q", req.System)
	}
	if req.Model != "m" {
		t.Errorf("model = %q", req.Model)
	}
}

func TestCompose_StringSystem(t *testing.T) {
	out, err := Compose([]byte(`{"system": "You are a chef."}`), "suffix")
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	var req struct {
		System string `json:"system"`
	}
	json.Unmarshal(out, &req)
	if req.System != "You are a chef.\n\nsuffix" {
		t.Errorf("system = %q", req.System)
	}
}

func TestCompose_EmptyStringSystem(t *testing.T) {
	out, err := Compose([]byte(`{"system": ""}`), "suffix")
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	var req struct {
		System string `json:"system"`
	}
	json.Unmarshal(out, &req)
	if req.System != "suffix" {
		t.Errorf("system = %q", req.System)
	}
}

func TestCompose_BlockArraySystem(t *testing.T) {
	body := []byte(`{"system": [{"type": "text", "text": "base", "cache_control": {"type": "ephemeral"}}]}`)
	out, err := Compose(body, "suffix")
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	var req struct {
		System []map[string]any `json:"system"`
	}
	if err := json.Unmarshal(out, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(req.System) != 2 {
		t.Fatalf("block count = %d", len(req.System))
	}
	// Existing block keeps its extra fields.
	if _, ok := req.System[0]["cache_control"]; !ok {
		t.Error("cache_control lost from original block")
	}
	if req.System[1]["text"] != "suffix" || req.System[1]["type"] != "text" {
		t.Errorf("appended block = %v", req.System[1])
	}
}

func TestCompose_PreservesUnknownFields(t *testing.T) {
	body := []byte(`{"model": "m", "stream": true, "metadata": {"user_id": "u1"}, "tools": [{"name": "t"}]}`)
	out, err := Compose(body, "suffix")
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	var req map[string]json.RawMessage
	if err := json.Unmarshal(out, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"model", "stream", "metadata", "tools", "system"} {
		if _, ok := req[key]; !ok {
			t.Errorf("field %s missing from composed request", key)
		}
	}
	if string(req["metadata"]) != `{"user_id":"u1"}` {
		t.Errorf("metadata = %s", req["metadata"])
	}
}

func TestCompose_InvalidBody(t *testing.T) {
	if _, err := Compose([]byte("not json"), "suffix"); err == nil {
		t.Error("expected error for invalid body")
	}
	if _, err := Compose([]byte(`{"system": 42}`), "suffix"); err == nil {
		t.Error("expected error for numeric system prompt")
	}
}
