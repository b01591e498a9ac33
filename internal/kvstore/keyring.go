package kvstore

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const defaultKeyringService = "portal-cli"

// Keyring stores values in the OS keychain/credential manager
type Keyring struct {
	service string
}

// NewKeyring creates a keychain-backed store under the given service name
func NewKeyring(service string) *Keyring {
	if service == "" {
		service = defaultKeyringService
	}
	return &Keyring{service: service}
}

// Get retrieves a value from the OS keychain
func (k *Keyring) Get(key string) (string, error) {
	value, err := keyring.Get(k.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read %s from keyring: %w", key, err)
	}
	return value, nil
}

// Set persists a value in the OS keychain
func (k *Keyring) Set(key, value string) error {
	if err := keyring.Set(k.service, key, value); err != nil {
		return fmt.Errorf("failed to write %s to keyring: %w", key, err)
	}
	return nil
}

// Remove deletes a value from the OS keychain. Missing keys are not an error.
func (k *Keyring) Remove(key string) error {
	if err := keyring.Delete(k.service, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete %s from keyring: %w", key, err)
	}
	return nil
}
