package model

import "encoding/binary"

// FixedHeaderSize is the size in bytes of the fixed-width portion of a
// FinalizationMessage's header: hashes count, signer public key,
// signature, step identifier and height, excluding the variable-length
// VRF proof and hash list.
//
// Layout:
//
//	4  bytes  HashesCount (uint32)
//	32 bytes  Signer (voting public key)
//	64 bytes  Signature
//	24 bytes  StepIdentifier (Point, Round, SubRound as uint64)
//	8  bytes  Height
const FixedHeaderSize = 4 + PublicKeySize + signatureSize + 24 + 8

const signatureSize = 64

// Signature is a raw ed25519 signature over a message's signed bytes.
type Signature [signatureSize]byte

// VRFProof is a VRF sortition proof, evaluated over
// generationHash || stepIdentifier. Its encoded length depends on the
// underlying VRF construction, so it is carried as a byte slice rather
// than a fixed-size array.
type VRFProof []byte

// FinalizationMessage is a signed vote carrying a step identifier, the
// height of its first target, a one-time signature, a VRF sortition
// proof and an ordered sequence of hashes. The k-th hash in Hashes
// targets block (Height+k, Hashes[k]).
type FinalizationMessage struct {
	StepIdentifier     StepIdentifier
	Height             uint64
	Signer             PublicKey
	Signature          Signature
	SortitionHashProof VRFProof
	Hashes             []Hash
}

// HashesCount returns the number of hashes carried by the message.
func (m *FinalizationMessage) HashesCount() uint32 {
	return uint32(len(m.Hashes))
}

// Size returns the message's size: the fixed header, plus the VRF proof,
// plus HashesCount*HashSize. It does not count the 4-byte proof length
// the wal package's encoding adds.
func (m *FinalizationMessage) Size() uint64 {
	return uint64(FixedHeaderSize) + uint64(len(m.SortitionHashProof)) + uint64(len(m.Hashes))*HashSize
}

// Target returns the height/hash pair targeted by the k-th hash.
func (m *FinalizationMessage) Target(k int) HeightHashPair {
	return HeightHashPair{Height: m.Height + uint64(k), Hash: m.Hashes[k]}
}

// SignedBytes returns the bytes that are signed: the step identifier,
// height, sortition proof and hash list, with the signature field itself
// and the hashes-count/signer header fields excluded so that replaying a
// header cannot change which bytes were signed.
func (m *FinalizationMessage) SignedBytes() []byte {
	buf := make([]byte, 0, 24+8+len(m.SortitionHashProof)+len(m.Hashes)*HashSize)
	buf = appendStepIdentifier(buf, m.StepIdentifier)
	buf = binary.BigEndian.AppendUint64(buf, m.Height)
	buf = append(buf, m.SortitionHashProof...)
	for _, h := range m.Hashes {
		buf = append(buf, h[:]...)
	}
	return buf
}

func appendStepIdentifier(buf []byte, s StepIdentifier) []byte {
	buf = binary.BigEndian.AppendUint64(buf, uint64(s.Point))
	buf = binary.BigEndian.AppendUint64(buf, s.Round)
	buf = binary.BigEndian.AppendUint64(buf, uint64(s.SubRound))
	return buf
}

// ContentHash returns the message's blake3 content hash, used to compute
// its gossip short hash.
func (m *FinalizationMessage) ContentHash() Hash {
	buf := append([]byte{}, m.Signer[:]...)
	buf = append(buf, m.Signature[:]...)
	buf = append(buf, m.SignedBytes()...)
	return HashBytes(buf)
}

// ShortHash returns the first four bytes of the message's content hash.
func (m *FinalizationMessage) ShortHash() ShortHash {
	return ToShortHash(m.ContentHash())
}

// ProcessResult is the outcome of running a message through the message
// processor (see the process package).
type ProcessResult int

const (
	// ProcessAccepted means the message passed every check and carries a
	// nonzero vote weight.
	ProcessAccepted ProcessResult = iota
	// ProcessFailureSignature means the one-time signature did not verify.
	ProcessFailureSignature
	// ProcessFailureVoter means the signer is not a registered voter for
	// this finalization point.
	ProcessFailureVoter
	// ProcessFailureSortitionProof means the VRF sortition proof did not
	// verify.
	ProcessFailureSortitionProof
	// ProcessFailureSelection means the voter was not selected this step
	// (derived weight was zero).
	ProcessFailureSelection
)

func (r ProcessResult) String() string {
	switch r {
	case ProcessAccepted:
		return "Accepted"
	case ProcessFailureSignature:
		return "Failure_Message_Signature"
	case ProcessFailureVoter:
		return "Failure_Voter"
	case ProcessFailureSortitionProof:
		return "Failure_Sortition_Hash_Proof"
	case ProcessFailureSelection:
		return "Failure_Selection"
	default:
		return "Unknown"
	}
}
