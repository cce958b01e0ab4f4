package privval

import (
	"errors"

	"github.com/blockberries/finalityberry/model"
)

// Errors
var (
	ErrDoubleVote     = errors.New("double vote attempt")
	ErrPointRegression    = errors.New("finalization point regression")
	ErrRoundRegression    = errors.New("round regression")
	ErrSubRoundRegression = errors.New("sub-round regression")
)

// Signer is the interface the orchestrator's message preparation path
// consumes to sign outgoing finalization messages, guarding against
// signing two different messages for the same step.
type Signer interface {
	// VotingPublicKey returns the voting (ed25519) public key.
	VotingPublicKey() model.PublicKey
	// VRFPublicKey returns the VRF public key used for sortition proofs.
	VRFPublicKey() model.PublicKey
	// SignMessage signs a message being prepared for step, guarding
	// against re-signing a different message for a step already signed.
	// It mutates m in place, filling Signer and Signature.
	SignMessage(m *model.FinalizationMessage) error
	// ProveSortition produces this signer's VRF sortition proof for step,
	// evaluated over genHash||step.
	ProveSortition(genHash model.Hash, step model.StepIdentifier) model.VRFProof
}

// LastSignState tracks the last step identifier this signer voted for,
// guarding against double voting: signing two different messages for
// the same or an earlier step. BodyHash identifies the signed message
// body (SignedBytes, before a signature exists), not the content hash
// of the final signed message.
type LastSignState struct {
	Step     model.StepIdentifier
	BodyHash model.Hash
}

// CheckStep reports whether signing a message for step with the given
// body hash is safe. It returns nil if signing is allowed: either the
// step is strictly newer than the last signed one, or it is the exact
// same (step, bodyHash) pair already signed (idempotent re-signing, e.g.
// after a crash and WAL replay).
func (lss *LastSignState) CheckStep(step model.StepIdentifier, bodyHash model.Hash) error {
	switch step.Compare(lss.Step) {
	case -1:
		if step.Point < lss.Step.Point {
			return ErrPointRegression
		}
		if step.Round < lss.Step.Round {
			return ErrRoundRegression
		}
		return ErrSubRoundRegression
	case 0:
		if bodyHash.Equal(lss.BodyHash) {
			return nil
		}
		return ErrDoubleVote
	default:
		return nil
	}
}
