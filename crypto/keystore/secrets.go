package keystore

import (
	"errors"
	"fmt"
	"strings"
)

// SecretPrefix namespaces scanner credentials among other keystore items.
const SecretPrefix = "secret/"

// Secrets resolves scanner credentials referenced by command units
// ("secret:NAME" env values) from a Keystore.
type Secrets struct {
	ks Keystore
	// Fallback resolves names that are not in the keystore. Optional.
	Fallback interface {
		Secret(name string) (string, error)
	}
}

// NewSecrets wraps ks.
func NewSecrets(ks Keystore) *Secrets {
	return &Secrets{ks: ks}
}

// Secret returns the credential stored as name.
func (s *Secrets) Secret(name string) (string, error) {
	data, err := s.ks.Get(SecretPrefix + name)
	if err == nil {
		return string(data), nil
	}
	if errors.Is(err, ErrSecretNotFound) && s.Fallback != nil {
		return s.Fallback.Secret(name)
	}
	return "", err
}

// Store saves a credential as name.
func (s *Secrets) Store(name, value string) error {
	if name == "" || strings.ContainsAny(name, " \t\n") {
		return fmt.Errorf("invalid secret name %q", name)
	}
	return s.ks.Set(SecretPrefix+name, []byte(value))
}

// Remove deletes the credential stored as name.
func (s *Secrets) Remove(name string) error {
	return s.ks.Delete(SecretPrefix + name)
}

// Names returns the stored credential names, sorted.
func (s *Secrets) Names() ([]string, error) {
	ids, err := s.ks.List()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, id := range ids {
		if name, ok := strings.CutPrefix(id, SecretPrefix); ok {
			names = append(names, name)
		}
	}
	return names, nil
}
