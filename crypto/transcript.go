package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"errors"
)

// UnitSignatureContext separates unit signatures from any other use of the
// same key.
const UnitSignatureContext = "toolhost-unit-signature-v1"

// HashPublicKey computes the SHA-256 hash of an Ed25519 public key.
// This identifies the signer in signature files and transcripts.
func HashPublicKey(pub ed25519.PublicKey) [32]byte {
	return sha256.Sum256(pub)
}

// appendLengthPrefixed appends a length-prefixed field to a byte slice.
// The length is encoded as a uint32 (4 bytes, big-endian) followed by the field bytes.
func appendLengthPrefixed(buf []byte, field []byte) []byte {
	lengthBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lengthBuf, uint32(len(field)))
	buf = append(buf, lengthBuf...)
	buf = append(buf, field...)
	return buf
}

// BuildUnitTranscript builds the canonical message signed for a unit file.
//
// The transcript structure is:
//  1. Context string (length-prefixed): UnitSignatureContext
//  2. H(pk_signer) (32 bytes, fixed-length)
//  3. Unit file name (length-prefixed)
//  4. H(content) (32 bytes, fixed-length)
//
// The file name is bound so a signed unit cannot be renamed to change its
// load order or to shadow another unit.
func BuildUnitTranscript(signer ed25519.PublicKey, fileName string, content []byte) ([]byte, error) {
	if len(signer) != ed25519.PublicKeySize {
		return nil, errors.New("invalid signer public key size")
	}
	if fileName == "" {
		return nil, errors.New("unit file name cannot be empty")
	}

	var transcript []byte
	transcript = appendLengthPrefixed(transcript, []byte(UnitSignatureContext))

	signerHash := HashPublicKey(signer)
	transcript = append(transcript, signerHash[:]...)

	transcript = appendLengthPrefixed(transcript, []byte(fileName))

	contentHash := sha256.Sum256(content)
	transcript = append(transcript, contentHash[:]...)
	return transcript, nil
}
