package keystore

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// GenerateSigningKey creates an Ed25519 key pair, stores the private key
// under id and returns the public key.
func GenerateSigningKey(ks Keystore, id string) (ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	defer zeroize(priv)
	if err := SetSigningKey(ks, id, priv); err != nil {
		return nil, err
	}
	return pub, nil
}

// SetSigningKey stores an Ed25519 private key under id in PKCS8 PEM form.
func SetSigningKey(ks Keystore, id string, priv ed25519.PrivateKey) error {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}
	defer zeroize(der)
	data := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	defer zeroize(data)
	return ks.Set(id, data)
}

// SigningKey retrieves the Ed25519 private key stored under id.
func SigningKey(ks Keystore, id string) (ed25519.PrivateKey, error) {
	data, err := ks.Get(id)
	if err != nil {
		return nil, err
	}
	defer zeroize(data)
	return ParsePrivateKey(data)
}

// ParsePrivateKey parses a PKCS8 Ed25519 private key, PEM-encoded or raw DER.
func ParsePrivateKey(data []byte) (ed25519.PrivateKey, error) {
	if block, _ := pem.Decode(data); block != nil {
		data = block.Bytes
	}
	key, err := x509.ParsePKCS8PrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key is %T, not Ed25519", key)
	}
	return priv, nil
}

// MarshalPublicKey encodes an Ed25519 public key as a PKIX PEM block.
func MarshalPublicKey(pub ed25519.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ParsePublicKey parses a PKIX Ed25519 public key, PEM-encoded or raw DER.
func ParsePublicKey(data []byte) (ed25519.PublicKey, error) {
	if block, _ := pem.Decode(data); block != nil {
		data = block.Bytes
	}
	key, err := x509.ParsePKIXPublicKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("public key is not Ed25519")
	}
	return pub, nil
}
