package privval

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/blockberries/finalityberry/fincrypto"
	"github.com/blockberries/finalityberry/model"
)

const (
	keyFilePerm   = 0600
	stateFilePerm = 0600
)

// FileSigner is a file-based Signer: it holds a voting key pair and a
// VRF key pair on disk, and persists LastSignState before returning a
// signature so double-voting is prevented even across crashes.
type FileSigner struct {
	mu sync.Mutex

	keyFilePath   string
	stateFilePath string

	voting fincrypto.VotingKeyPair
	vrfPub fincrypto.VRFPublicKey
	vrfSK  fincrypto.VRFPrivateKey

	lastSignState LastSignState
}

// filePVKey is the on-disk key file structure.
type filePVKey struct {
	VotingPublicKey  string `json:"voting_public_key"`
	VotingPrivateKey string `json:"voting_private_key"`
	VRFPublicKey     string `json:"vrf_public_key"`
	VRFPrivateKey    string `json:"vrf_private_key"`
}

// filePVState is the on-disk last-sign-state file structure.
type filePVState struct {
	Point    uint64 `json:"point"`
	Round    uint64 `json:"round"`
	SubRound uint64 `json:"sub_round"`
	BodyHash string `json:"body_hash,omitempty"`
}

// GenerateFileSigner creates a new voting and VRF key pair and persists
// them to keyFilePath, with a fresh state file at stateFilePath.
func GenerateFileSigner(keyFilePath, stateFilePath string) (*FileSigner, error) {
	votingKey, err := fincrypto.GenerateVotingKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate voting key: %w", err)
	}
	vrfPub, vrfSK, err := fincrypto.GenerateVRFKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate vrf key: %w", err)
	}

	s := &FileSigner{
		keyFilePath:   keyFilePath,
		stateFilePath: stateFilePath,
		voting:        votingKey,
		vrfPub:        vrfPub,
		vrfSK:         vrfSK,
	}
	if err := s.saveKey(); err != nil {
		return nil, err
	}
	if err := s.saveState(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadFileSigner loads a previously generated signer from disk.
func LoadFileSigner(keyFilePath, stateFilePath string) (*FileSigner, error) {
	s := &FileSigner{keyFilePath: keyFilePath, stateFilePath: stateFilePath}
	if err := s.loadKey(); err != nil {
		return nil, err
	}
	if err := s.loadState(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSigner) loadKey() error {
	data, err := os.ReadFile(s.keyFilePath)
	if err != nil {
		return fmt.Errorf("read key file: %w", err)
	}

	var k filePVKey
	if err := json.Unmarshal(data, &k); err != nil {
		return fmt.Errorf("parse key file: %w", err)
	}

	votingKey, err := fincrypto.VotingKeyPairFromHex(k.VotingPublicKey, k.VotingPrivateKey)
	if err != nil {
		return fmt.Errorf("decode voting key: %w", err)
	}
	vrfPubBytes, err := hex.DecodeString(k.VRFPublicKey)
	if err != nil {
		return fmt.Errorf("decode vrf public key: %w", err)
	}
	vrfSK, err := fincrypto.VRFPrivateKeyFromHex(k.VRFPrivateKey)
	if err != nil {
		return fmt.Errorf("decode vrf private key: %w", err)
	}

	s.voting = votingKey
	s.vrfPub = fincrypto.VRFPublicKeyFromBytes(vrfPubBytes)
	s.vrfSK = vrfSK
	return nil
}

func (s *FileSigner) saveKey() error {
	if err := os.MkdirAll(filepath.Dir(s.keyFilePath), 0700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	k := filePVKey{
		VotingPublicKey:  hex.EncodeToString(s.voting.Public[:]),
		VotingPrivateKey: s.voting.PrivateHex(),
		VRFPublicKey:     hex.EncodeToString(s.vrfPub.Bytes()),
		VRFPrivateKey:    s.vrfSK.PrivateHex(),
	}
	data, err := json.MarshalIndent(k, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal key: %w", err)
	}
	return os.WriteFile(s.keyFilePath, data, keyFilePerm)
}

func (s *FileSigner) loadState() error {
	data, err := os.ReadFile(s.stateFilePath)
	if os.IsNotExist(err) {
		s.lastSignState = LastSignState{}
		return s.saveState()
	}
	if err != nil {
		return fmt.Errorf("read state file: %w", err)
	}

	var st filePVState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("parse state file: %w", err)
	}

	s.lastSignState = LastSignState{
		Step: model.StepIdentifier{
			Point:    model.FinalizationPoint(st.Point),
			Round:    st.Round,
			SubRound: model.SubRound(st.SubRound),
		},
	}
	if st.BodyHash != "" {
		raw, err := hex.DecodeString(st.BodyHash)
		if err != nil {
			return fmt.Errorf("decode state body hash: %w", err)
		}
		hash, err := model.NewHash(raw)
		if err != nil {
			return fmt.Errorf("state body hash: %w", err)
		}
		s.lastSignState.BodyHash = hash
	}
	return nil
}

func (s *FileSigner) saveState() error {
	if err := os.MkdirAll(filepath.Dir(s.stateFilePath), 0700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	st := filePVState{
		Point:    uint64(s.lastSignState.Step.Point),
		Round:    s.lastSignState.Step.Round,
		SubRound: uint64(s.lastSignState.Step.SubRound),
	}
	if !s.lastSignState.BodyHash.IsZero() {
		st.BodyHash = hex.EncodeToString(s.lastSignState.BodyHash[:])
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return os.WriteFile(s.stateFilePath, data, stateFilePerm)
}

// VotingPublicKey returns the voting public key.
func (s *FileSigner) VotingPublicKey() model.PublicKey {
	return s.voting.Public
}

// VRFPublicKey returns the VRF public key.
func (s *FileSigner) VRFPublicKey() model.PublicKey {
	var pk model.PublicKey
	copy(pk[:], s.vrfPub.Bytes())
	return pk
}

// SignMessage signs m for its step identifier, refusing to sign a
// second, different message for a step at or before the last one
// signed. The VRF sortition proof must already be set on m; SignMessage
// only fills Signer/Signature.
func (s *FileSigner) SignMessage(m *model.FinalizationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bodyHash := model.HashBytes(m.SignedBytes())
	if err := s.lastSignState.CheckStep(m.StepIdentifier, bodyHash); err != nil {
		return err
	}

	s.voting.Sign(m)

	s.lastSignState = LastSignState{Step: m.StepIdentifier, BodyHash: bodyHash}
	return s.saveState()
}

// ProveSortition produces this signer's VRF sortition proof for step,
// evaluated over genHash||step.
func (s *FileSigner) ProveSortition(genHash model.Hash, step model.StepIdentifier) model.VRFProof {
	return s.vrfSK.Prove(genHash, step)
}

var _ Signer = (*FileSigner)(nil)
