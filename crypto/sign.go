// Package crypto signs and verifies tool units with detached Ed25519
// signatures.
//
// A signed unit "scanner.wasm" has its signature in "scanner.wasm.sig" next
// to it. The signature file format is:
//
//	[magic:4 "THSG"][version:1][signer_key_hash:32][signature:64]
package crypto

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joncooperworks/toolhost/crypto/keystore"
)

// SignatureExt is appended to a unit path to name its signature file.
const SignatureExt = ".sig"

const (
	signatureMagic   = "THSG"
	signatureVersion = 1
	signatureSize    = 4 + 1 + 32 + ed25519.SignatureSize
)

// Signature is a decoded unit signature file.
type Signature struct {
	SignerHash [32]byte
	Sig        []byte
}

// SignatureFile returns the path of the detached signature of a unit.
func SignatureFile(unitPath string) string {
	return unitPath + SignatureExt
}

// SignUnitRequest contains everything needed to sign a unit file.
type SignUnitRequest struct {
	// UnitPath is the unit file to sign.
	UnitPath string
	// Keystore holds the signing key.
	Keystore keystore.Keystore
	// KeyID is the ID of the Ed25519 private key in Keystore.
	KeyID string
}

// SignUnit signs the unit at req.UnitPath with the keystore key and writes
// the detached signature file. It returns the signature file path.
func SignUnit(req *SignUnitRequest) (string, error) {
	if req == nil {
		return "", errors.New("request cannot be nil")
	}
	if req.UnitPath == "" {
		return "", errors.New("unit path cannot be empty")
	}
	if req.Keystore == nil {
		return "", errors.New("keystore cannot be nil")
	}
	if req.KeyID == "" {
		return "", errors.New("key ID cannot be empty")
	}

	priv, err := keystore.SigningKey(req.Keystore, req.KeyID)
	if err != nil {
		return "", fmt.Errorf("failed to load signing key %s: %w", req.KeyID, err)
	}
	defer func() {
		for i := range priv {
			priv[i] = 0
		}
	}()
	return SignUnitWithKey(priv, req.UnitPath)
}

// SignUnitWithKey signs the unit at unitPath with priv and writes the
// detached signature file.
func SignUnitWithKey(priv ed25519.PrivateKey, unitPath string) (string, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return "", errors.New("invalid private key size")
	}
	content, err := os.ReadFile(unitPath)
	if err != nil {
		return "", fmt.Errorf("failed to read unit: %w", err)
	}

	pub := priv.Public().(ed25519.PublicKey)
	transcript, err := BuildUnitTranscript(pub, filepath.Base(unitPath), content)
	if err != nil {
		return "", err
	}
	sig := Signature{SignerHash: HashPublicKey(pub), Sig: ed25519.Sign(priv, transcript)}

	sigPath := SignatureFile(unitPath)
	if err := os.WriteFile(sigPath, sig.Encode(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write signature: %w", err)
	}
	return sigPath, nil
}

// Encode returns the signature file bytes.
func (s Signature) Encode() []byte {
	out := make([]byte, 0, signatureSize)
	out = append(out, signatureMagic...)
	out = append(out, signatureVersion)
	out = append(out, s.SignerHash[:]...)
	out = append(out, s.Sig...)
	return out
}

// DecodeSignature parses signature file bytes.
func DecodeSignature(data []byte) (Signature, error) {
	var s Signature
	if len(data) != signatureSize {
		return s, fmt.Errorf("invalid signature file length: %d (expected %d)", len(data), signatureSize)
	}
	if string(data[0:4]) != signatureMagic {
		return s, errors.New("invalid magic bytes: not a unit signature")
	}
	if data[4] != signatureVersion {
		return s, fmt.Errorf("unsupported signature version: %d (expected %d)", data[4], signatureVersion)
	}
	copy(s.SignerHash[:], data[5:37])
	s.Sig = append([]byte(nil), data[37:]...)
	return s, nil
}
