package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server    ServerConfig
	Anthropic AnthropicConfig
	Storage   StorageConfig
	Log       LogConfig
	Worker    WorkerConfig
}

type ServerConfig struct {
	Port int
	// AuthToken protects the HTTP API. Empty disables auth, which is
	// acceptable only because the server binds to loopback.
	AuthToken string
}

type AnthropicConfig struct {
	APIKey string
	// Model handles user-facing generation: onboarding, imports, chat.
	Model string
	// ExtractModel handles background analysis: session signals and
	// recipe metadata. Cheaper and faster than Model.
	ExtractModel string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type WorkerConfig struct {
	PollMS int
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4040,
		},
		Anthropic: AnthropicConfig{
			Model:        "claude-sonnet-4-20250514",
			ExtractModel: "claude-3-5-haiku-20241022",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Worker: WorkerConfig{
			PollMS: 500,
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.souschef.app) and
// secrets fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/souschef/config.json
// and secrets live in a mode-0600 secrets file or environment variables.
//
// Environment variables (SOUSCHEF_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try platform keychain for secrets still empty.
	if cfg.Anthropic.APIKey == "" {
		if key, err := kc.Get("souschef", "anthropic_api_key"); err == nil && key != "" {
			cfg.Anthropic.APIKey = key
		}
	}
	if cfg.Server.AuthToken == "" {
		if tok, err := kc.Get("souschef", "auth_token"); err == nil && tok != "" {
			cfg.Server.AuthToken = tok
		}
	}

	if cfg.Anthropic.APIKey == "" {
		msg := "missing required config: Anthropic API key. " +
			"Set it via environment variable SOUSCHEF_ANTHROPIC_API_KEY" +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	return cfg, nil
}

// keychainReader reads from macOS Keychain via the security CLI.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
