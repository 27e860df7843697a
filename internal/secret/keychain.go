package secret

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

const keychainService = "hybriddb"

// exit status of `security` when no item matches
const keychainNotFound = 44

// KeychainStore keeps backend passwords in the macOS Keychain through the
// `security` tool, one generic password per key.
type KeychainStore struct {
	command func(args ...string) *exec.Cmd
}

// NewKeychainStore creates a new KeychainStore.
func NewKeychainStore() *KeychainStore {
	return &KeychainStore{command: func(args ...string) *exec.Cmd {
		return exec.Command("security", args...)
	}}
}

func (k *KeychainStore) Set(key string, value []byte) error {
	out, err := k.command("add-generic-password",
		"-a", key, "-s", keychainService, "-w", string(value), "-U").CombinedOutput()
	if err != nil {
		return fmt.Errorf("keychain set %q: %s: %w", key, strings.TrimSpace(string(out)), err)
	}
	return nil
}

func (k *KeychainStore) Get(key string) ([]byte, error) {
	out, err := k.command("find-generic-password",
		"-a", key, "-s", keychainService, "-w").Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == keychainNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("keychain get %q: %w", key, err)
	}
	return []byte(strings.TrimSpace(string(out))), nil
}

func (k *KeychainStore) Delete(key string) error {
	err := k.command("delete-generic-password", "-a", key, "-s", keychainService).Run()
	var exitErr *exec.ExitError
	if err != nil && !(errors.As(err, &exitErr) && exitErr.ExitCode() == keychainNotFound) {
		return fmt.Errorf("keychain delete %q: %w", key, err)
	}
	return nil
}
