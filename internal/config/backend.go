package config

// ConfigBackend is the platform-native store for non-secret settings.
// Darwin writes to the souschef UserDefaults domain via the `defaults`
// CLI; everywhere else an XDG config file stands in. Missing keys
// report ok=false rather than an error so layering can fall through
// to defaults.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
