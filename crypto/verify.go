package crypto

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joncooperworks/toolhost/crypto/keystore"
)

// ErrUntrusted is returned for a unit whose signature is missing, malformed,
// made by an unknown key or does not match its content.
var ErrUntrusted = errors.New("untrusted unit")

// Verifier checks unit signatures against a set of trusted public keys.
// It satisfies plugin.Verifier.
type Verifier struct {
	keys map[[32]byte]ed25519.PublicKey
}

// NewVerifier creates a verifier trusting keys.
func NewVerifier(keys ...ed25519.PublicKey) (*Verifier, error) {
	if len(keys) == 0 {
		return nil, errors.New("at least one trusted key is required")
	}
	v := &Verifier{keys: make(map[[32]byte]ed25519.PublicKey, len(keys))}
	for _, key := range keys {
		if len(key) != ed25519.PublicKeySize {
			return nil, errors.New("invalid trusted public key size")
		}
		v.keys[HashPublicKey(key)] = key
	}
	return v, nil
}

// LoadVerifier trusts every PEM public key in the given files and
// directories. Directory entries not ending in ".pem" are ignored.
func LoadVerifier(paths ...string) (*Verifier, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read trusted keys: %w", err)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read trusted key directory: %w", err)
		}
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".pem") {
				files = append(files, filepath.Join(path, e.Name()))
			}
		}
	}
	sort.Strings(files)

	var keys []ed25519.PublicKey
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read public key file: %w", err)
		}
		key, err := keystore.ParsePublicKey(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		keys = append(keys, key)
	}
	return NewVerifier(keys...)
}

// Verify checks the detached signature of the unit at unitPath.
func (v *Verifier) Verify(unitPath string) error {
	data, err := os.ReadFile(SignatureFile(unitPath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: no signature for %s", ErrUntrusted, filepath.Base(unitPath))
		}
		return fmt.Errorf("failed to read signature: %w", err)
	}
	sig, err := DecodeSignature(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUntrusted, err)
	}
	key, ok := v.keys[sig.SignerHash]
	if !ok {
		return fmt.Errorf("%w: %s is signed by an unknown key", ErrUntrusted, filepath.Base(unitPath))
	}

	content, err := os.ReadFile(unitPath)
	if err != nil {
		return fmt.Errorf("failed to read unit: %w", err)
	}
	transcript, err := BuildUnitTranscript(key, filepath.Base(unitPath), content)
	if err != nil {
		return err
	}
	if !ed25519.Verify(key, transcript, sig.Sig) {
		return fmt.Errorf("%w: signature verification failed for %s", ErrUntrusted, filepath.Base(unitPath))
	}
	return nil
}
