package model

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// HashSize is the size in bytes of a block or content hash.
const HashSize = 32

// PublicKeySize is the size in bytes of an ed25519 public key.
const PublicKeySize = 32

// ShortHashSize is the size of the gossip-level short hash (first 4 bytes
// of a message's content hash).
const ShortHashSize = 4

// Hash is a 32-byte content or block hash.
type Hash [HashSize]byte

// PublicKey is an ed25519 public key, used both as a voting signing key
// and as a VRF public key.
type PublicKey [PublicKeySize]byte

// ShortHash is a 4-byte gossip identifier derived from a Hash.
type ShortHash [ShortHashSize]byte

// NewHash copies data into a Hash, returning an error if the length is
// wrong. Use for untrusted input (network, disk).
func NewHash(data []byte) (Hash, error) {
	if len(data) != HashSize {
		return Hash{}, fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(data))
	}
	var h Hash
	copy(h[:], data)
	return h, nil
}

// MustNewHash is NewHash, panicking on error. Use only for trusted data.
func MustNewHash(data []byte) Hash {
	h, err := NewHash(data)
	if err != nil {
		panic(err)
	}
	return h
}

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Equal reports whether two hashes are identical.
func (h Hash) Equal(other Hash) bool {
	return h == other
}

// String returns the hex encoding of h.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// NewPublicKey copies data into a PublicKey, returning an error if the
// length is wrong.
func NewPublicKey(data []byte) (PublicKey, error) {
	if len(data) != PublicKeySize {
		return PublicKey{}, fmt.Errorf("public key must be %d bytes, got %d", PublicKeySize, len(data))
	}
	var pk PublicKey
	copy(pk[:], data)
	return pk, nil
}

// Equal reports whether two public keys are identical.
func (pk PublicKey) Equal(other PublicKey) bool {
	return pk == other
}

// String returns the hex encoding of pk.
func (pk PublicKey) String() string {
	return hex.EncodeToString(pk[:])
}

// HashBytes computes the content hash of data using blake3.
func HashBytes(data []byte) Hash {
	sum := blake3.Sum256(data)
	return Hash(sum)
}

// ToShortHash truncates a content hash to its gossip-level short form.
func ToShortHash(h Hash) ShortHash {
	var sh ShortHash
	copy(sh[:], h[:ShortHashSize])
	return sh
}

// CompareHashes gives a deterministic, non-cryptographic ordering over
// hashes so tests and diagnostics have stable output.
func CompareHashes(a, b Hash) int {
	return bytes.Compare(a[:], b[:])
}
