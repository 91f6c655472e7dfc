// Package keystore keeps unit-signing keys and scanner credentials in the
// OS keystore through github.com/99designs/keyring.
package keystore

import "errors"

// ErrSecretNotFound is returned when no item is stored under an ID.
var ErrSecretNotFound = errors.New("secret not found")

// Keystore interface for accessing OS keystores
type Keystore interface {
	// Get retrieves the item stored under id
	Get(id string) ([]byte, error)
	// Set stores data under id, replacing any previous item
	Set(id string, data []byte) error
	// Delete removes the item stored under id
	Delete(id string) error
	// List returns all item IDs in the keystore, sorted
	List() ([]string, error)
}
