package keystore

import (
	"errors"
	"fmt"
	"sort"

	"github.com/99designs/keyring"
)

// osBackends are the keyring backends tried by BackendKeyring, in order.
// The file backend is excluded because it prompts for a password.
var osBackends = []keyring.BackendType{
	keyring.KeychainBackend,
	keyring.WinCredBackend,
	keyring.SecretServiceBackend,
	keyring.KWalletBackend,
	keyring.PassBackend,
}

func init() {
	RegisterKeystore(BackendKeyring, NewKeyringKeystore)
	RegisterKeystore(BackendFile, NewFileKeystore)
	RegisterKeystore(BackendMemory, func(Config) (Keystore, error) {
		return NewMemoryKeystore(), nil
	})
}

// KeyringKeystore implements Keystore on top of a keyring.Keyring
type KeyringKeystore struct {
	ring keyring.Keyring
}

// NewKeyringKeystore opens the first available OS keystore: macOS Keychain,
// Windows Credential Manager, Secret Service, KWallet or pass.
func NewKeyringKeystore(cfg Config) (Keystore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              cfg.serviceName(),
		AllowedBackends:          osBackends,
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return &KeyringKeystore{ring: ring}, nil
}

// NewFileKeystore opens an encrypted file keystore in cfg.FileDir, for hosts
// without an OS keystore.
func NewFileKeystore(cfg Config) (Keystore, error) {
	if cfg.FileDir == "" {
		return nil, errors.New("file keystore requires a directory")
	}
	if cfg.Password == "" {
		return nil, errors.New("file keystore requires a password")
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName:      cfg.serviceName(),
		AllowedBackends:  []keyring.BackendType{keyring.FileBackend},
		FileDir:          cfg.FileDir,
		FilePasswordFunc: keyring.FixedStringPrompt(cfg.Password),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open file keystore: %w", err)
	}
	return &KeyringKeystore{ring: ring}, nil
}

// NewMemoryKeystore creates an in-memory keystore, used by tests and as a
// throwaway store.
func NewMemoryKeystore() *KeyringKeystore {
	return &KeyringKeystore{ring: keyring.NewArrayKeyring(nil)}
}

// Get retrieves an item from the keyring
func (k *KeyringKeystore) Get(id string) ([]byte, error) {
	item, err := k.ring.Get(id)
	if err != nil {
		return nil, notFound(id, err)
	}
	return append([]byte(nil), item.Data...), nil
}

// Set stores an item in the keyring
func (k *KeyringKeystore) Set(id string, data []byte) error {
	if id == "" {
		return errors.New("item ID cannot be empty")
	}
	err := k.ring.Set(keyring.Item{
		Key:   id,
		Data:  data,
		Label: DefaultServiceName + ": " + id,
	})
	if err != nil {
		return fmt.Errorf("failed to store %s in keyring: %w", id, err)
	}
	return nil
}

// Delete removes an item from the keyring
func (k *KeyringKeystore) Delete(id string) error {
	if err := k.ring.Remove(id); err != nil {
		return notFound(id, err)
	}
	return nil
}

// List returns all item IDs stored in the keyring
func (k *KeyringKeystore) List() ([]string, error) {
	keys, err := k.ring.Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys from keyring: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func notFound(id string, err error) error {
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrSecretNotFound, id)
	}
	return fmt.Errorf("keyring access for %s failed: %w", id, err)
}
