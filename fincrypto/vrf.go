package fincrypto

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/coniks-sys/coniks-go/crypto/vrf"

	"github.com/blockberries/finalityberry/model"
)

// vrfOutputSize is the length of the coniks ECVRF output, vrf.Size.
const vrfOutputSize = 32

// VRFPrivateKey is a VRF signing key, used to produce sortition proofs.
type VRFPrivateKey struct {
	sk vrf.PrivateKey
}

// VRFPublicKey is the counterpart public key, used to verify proofs.
type VRFPublicKey struct {
	pk vrf.PublicKey
}

// GenerateVRFKeyPair creates a new VRF key pair.
func GenerateVRFKeyPair() (VRFPublicKey, VRFPrivateKey, error) {
	pk, sk, err := vrf.GenerateKey(rand.Reader)
	if err != nil {
		return VRFPublicKey{}, VRFPrivateKey{}, fmt.Errorf("generate vrf key: %w", err)
	}
	return VRFPublicKey{pk: pk}, VRFPrivateKey{sk: sk}, nil
}

// Bytes returns the raw encoding of the public key.
func (pk VRFPublicKey) Bytes() []byte {
	return []byte(pk.pk)
}

// VRFPublicKeyFromBytes reconstructs a public key from its raw encoding.
func VRFPublicKeyFromBytes(b []byte) VRFPublicKey {
	return VRFPublicKey{pk: vrf.PublicKey(b)}
}

// PrivateHex returns the hex encoding of the raw VRF private key, for
// persistence by a file-backed key store.
func (sk VRFPrivateKey) PrivateHex() string {
	return hex.EncodeToString([]byte(sk.sk))
}

// VRFPrivateKeyFromHex reconstructs a VRF private key from its hex
// encoding, as persisted by PrivateHex.
func VRFPrivateKeyFromHex(privateHex string) (VRFPrivateKey, error) {
	raw, err := hex.DecodeString(privateHex)
	if err != nil {
		return VRFPrivateKey{}, fmt.Errorf("decode vrf private key: %w", err)
	}
	return VRFPrivateKey{sk: vrf.PrivateKey(raw)}, nil
}

// sortitionMessage builds the message a sortition proof is evaluated
// over: generationHash || stepIdentifier, per the data model.
func sortitionMessage(genHash model.Hash, step model.StepIdentifier) []byte {
	buf := make([]byte, 0, model.HashSize+24)
	buf = append(buf, genHash[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(step.Point))
	buf = binary.BigEndian.AppendUint64(buf, step.Round)
	buf = binary.BigEndian.AppendUint64(buf, uint64(step.SubRound))
	return buf
}

// Prove produces a VRF proof over generationHash||stepIdentifier.
//
// vrf.PublicKey.Verify requires the claimed output alongside the proof,
// so the wire encoding bundles them: the first vrfOutputSize bytes are
// the VRF output, the remainder is the underlying proof.
func (sk VRFPrivateKey) Prove(genHash model.Hash, step model.StepIdentifier) model.VRFProof {
	msg := sortitionMessage(genHash, step)
	out, proof := sk.sk.Prove(msg)
	bundled := make([]byte, 0, len(out)+len(proof))
	bundled = append(bundled, out...)
	bundled = append(bundled, proof...)
	return model.VRFProof(bundled)
}

// Verify checks a VRF proof against this public key and returns the VRF
// output it commits to.
func (pk VRFPublicKey) Verify(genHash model.Hash, step model.StepIdentifier, proof model.VRFProof) ([]byte, bool) {
	if len(proof) < vrfOutputSize {
		return nil, false
	}
	out := proof[:vrfOutputSize]
	rawProof := proof[vrfOutputSize:]
	msg := sortitionMessage(genHash, step)
	if !pk.pk.Verify(msg, out, rawProof) {
		return nil, false
	}
	return out, true
}
