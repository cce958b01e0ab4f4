package fincrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/blockberries/finalityberry/model"
)

// ErrInvalidSignature is returned when a message's signature does not
// verify under the claimed signer's public key.
var ErrInvalidSignature = errors.New("invalid message signature")

// VotingKeyPair is a validator's ed25519 signing key pair, used to
// produce the one-time-style signature carried by a finalization
// message.
type VotingKeyPair struct {
	Public  model.PublicKey
	private ed25519.PrivateKey
}

// GenerateVotingKeyPair creates a new voting signing key pair.
func GenerateVotingKeyPair() (VotingKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return VotingKeyPair{}, fmt.Errorf("generate voting key: %w", err)
	}
	var mpub model.PublicKey
	copy(mpub[:], pub)
	return VotingKeyPair{Public: mpub, private: priv}, nil
}

// Sign signs the message's signed bytes and fills in Signer/Signature.
func (kp VotingKeyPair) Sign(m *model.FinalizationMessage) {
	m.Signer = kp.Public
	sig := ed25519.Sign(kp.private, m.SignedBytes())
	copy(m.Signature[:], sig)
}

// PrivateHex returns the hex encoding of the raw ed25519 private key,
// for persistence by a file-backed key store.
func (kp VotingKeyPair) PrivateHex() string {
	return hex.EncodeToString(kp.private)
}

// VotingKeyPairFromHex reconstructs a voting key pair from its hex
// encoded public/private keys, as persisted by PrivateHex.
func VotingKeyPairFromHex(publicHex, privateHex string) (VotingKeyPair, error) {
	pubRaw, err := hex.DecodeString(publicHex)
	if err != nil {
		return VotingKeyPair{}, fmt.Errorf("decode public key: %w", err)
	}
	privRaw, err := hex.DecodeString(privateHex)
	if err != nil {
		return VotingKeyPair{}, fmt.Errorf("decode private key: %w", err)
	}
	pub, err := model.NewPublicKey(pubRaw)
	if err != nil {
		return VotingKeyPair{}, err
	}
	if len(privRaw) != ed25519.PrivateKeySize {
		return VotingKeyPair{}, fmt.Errorf("voting private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(privRaw))
	}
	return VotingKeyPair{Public: pub, private: ed25519.PrivateKey(privRaw)}, nil
}

// VerifySignature checks a message's signature against its claimed
// signer public key.
func VerifySignature(m *model.FinalizationMessage) error {
	if !ed25519.Verify(m.Signer[:], m.SignedBytes(), m.Signature[:]) {
		return ErrInvalidSignature
	}
	return nil
}
