package secret

import (
	"fmt"
	"os"
	"strings"
)

// SecretStore provides a pluggable interface for backend passwords.
// Config files reference a secret by key instead of carrying the password.
type SecretStore interface {
	// Set stores a secret value under the given key.
	Set(key string, value []byte) error

	// Get retrieves the secret value for the given key.
	// Returns empty slice and nil error if key does not exist.
	Get(key string) ([]byte, error)

	// Delete removes the secret for the given key.
	Delete(key string) error
}

// New returns the store for a backend name: "env" or "keychain".
func New(backend string) (SecretStore, error) {
	switch backend {
	case "", "env":
		return NewEnvStore(), nil
	case "keychain":
		return NewKeychainStore(), nil
	default:
		return nil, fmt.Errorf("unknown secret backend %q", backend)
	}
}

// Resolve returns password when set, otherwise the secret stored under
// key. A key with no stored value is an error.
func Resolve(store SecretStore, password, key string) (string, error) {
	if password != "" || key == "" {
		return password, nil
	}
	v, err := store.Get(key)
	if err != nil {
		return "", fmt.Errorf("secret %q: %w", key, err)
	}
	if len(v) == 0 {
		return "", fmt.Errorf("secret %q not found", key)
	}
	return string(v), nil
}

// ── Environment ────────────────────────────────────────────

const envPrefix = "HYBRIDDB_SECRET_"

// EnvStore reads secrets from HYBRIDDB_SECRET_<KEY> variables. Keys are
// upper-cased and every non-alphanumeric rune becomes '_'.
type EnvStore struct{}

// NewEnvStore creates a new EnvStore.
func NewEnvStore() *EnvStore {
	return &EnvStore{}
}

// EnvName returns the variable that holds key.
func EnvName(key string) string {
	return envPrefix + strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, key)
}

func (e *EnvStore) Set(key string, value []byte) error {
	return os.Setenv(EnvName(key), string(value))
}

func (e *EnvStore) Get(key string) ([]byte, error) {
	return []byte(os.Getenv(EnvName(key))), nil
}

func (e *EnvStore) Delete(key string) error {
	return os.Unsetenv(EnvName(key))
}
