package config

// ConfigBackend abstracts where settings live on each platform. macOS
// stores them in UserDefaults through the `defaults` CLI; other systems
// use a JSON file under the XDG config directory. Boolean settings are
// stored as strings ("true"/"false") so both backends stay simple.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
