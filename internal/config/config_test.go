package config

import (
	"strings"
	"testing"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	values map[string]string
	err    error
}

func (m mockKeychain) Get(service, account string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.values[service+"/"+account], nil
}

// mapBackend is an in-memory ConfigBackend for tests.
type mapBackend map[string]any

func (b mapBackend) GetString(key string) (string, bool, error) {
	v, ok := b[key]
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (b mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := b[key]
	if !ok {
		return 0, false, nil
	}
	return v.(int), true, nil
}

func (b mapBackend) SetString(key, val string) error { b[key] = val; return nil }
func (b mapBackend) SetInt(key string, val int) error { b[key] = val; return nil }
func (b mapBackend) Delete(key string) error { delete(b, key); return nil }

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		if s.env != "" {
			t.Setenv(s.env, "")
		}
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("SOUSCHEF_ANTHROPIC_API_KEY", "test-key")

	cfg, err := loadWith(mapBackend{}, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4040 {
		t.Errorf("Server.Port = %d, want 4040", cfg.Server.Port)
	}
	if cfg.Anthropic.Model != "claude-sonnet-4-20250514" {
		t.Errorf("Anthropic.Model = %q", cfg.Anthropic.Model)
	}
	if cfg.Anthropic.ExtractModel != "claude-3-5-haiku-20241022" {
		t.Errorf("Anthropic.ExtractModel = %q", cfg.Anthropic.ExtractModel)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.Worker.PollMS != 500 {
		t.Errorf("Worker.PollMS = %d, want 500", cfg.Worker.PollMS)
	}
}

func TestBackendValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("SOUSCHEF_ANTHROPIC_API_KEY", "test-key")

	b := mapBackend{
		"server.port":             5000,
		"anthropic.model":         "custom-model",
		"anthropic.extract_model": "custom-extract",
		"storage.data_dir":        "/tmp/souschef-test",
		"log.level":               "debug",
		"worker.poll_ms":          2000,
	}

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Anthropic.Model != "custom-model" {
		t.Errorf("Anthropic.Model = %q", cfg.Anthropic.Model)
	}
	if cfg.Anthropic.ExtractModel != "custom-extract" {
		t.Errorf("Anthropic.ExtractModel = %q", cfg.Anthropic.ExtractModel)
	}
	if cfg.Storage.DataDir != "/tmp/souschef-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if cfg.Worker.PollMS != 2000 {
		t.Errorf("Worker.PollMS = %d", cfg.Worker.PollMS)
	}
}

func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("SOUSCHEF_ANTHROPIC_API_KEY", "env-key")
	t.Setenv("SOUSCHEF_SERVER_PORT", "6060")

	b := mapBackend{"server.port": 5000}

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Anthropic.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want env-key", cfg.Anthropic.APIKey)
	}
	if cfg.Server.Port != 6060 {
		t.Errorf("Server.Port = %d, want env override 6060", cfg.Server.Port)
	}
}

func TestMissingRequiredField(t *testing.T) {
	clearEnv(t)

	_, err := loadWith(mapBackend{}, mockKeychain{})
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}
	if !strings.Contains(err.Error(), "missing required config") {
		t.Errorf("error = %q, want it to mention missing required config", err)
	}
}

func TestKeychainFallback(t *testing.T) {
	clearEnv(t)

	kc := mockKeychain{values: map[string]string{
		"souschef/anthropic_api_key": "keychain-secret",
		"souschef/auth_token":        "keychain-token",
	}}
	cfg, err := loadWith(mapBackend{}, kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Anthropic.APIKey != "keychain-secret" {
		t.Errorf("APIKey = %q, want keychain-secret", cfg.Anthropic.APIKey)
	}
	if cfg.Server.AuthToken != "keychain-token" {
		t.Errorf("AuthToken = %q, want keychain-token", cfg.Server.AuthToken)
	}
}

func TestSecretNotReadFromBackend(t *testing.T) {
	clearEnv(t)

	b := mapBackend{"anthropic.api_key": "backend-key"}
	_, err := loadWith(b, mockKeychain{})
	if err == nil {
		t.Fatal("expected error: secrets must not load from the plain backend")
	}
}
