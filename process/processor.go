package process

import (
	"go.uber.org/zap"

	"github.com/blockberries/finalityberry/fincrypto"
	"github.com/blockberries/finalityberry/model"
)

// Processor validates finalization messages and derives their vote
// weight. It holds no mutable state: process(message, context) is a
// pure function of its two arguments, modulo logging.
type Processor struct {
	log *zap.Logger
}

// NewProcessor creates a message processor. A nil logger disables
// logging.
func NewProcessor(log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{log: log}
}

// Process runs a message through the ordered checks in the data model:
// signature, voter eligibility, sortition proof, then weight derivation.
// The first failing check short-circuits the rest.
func (p *Processor) Process(m *model.FinalizationMessage, ctx *model.FinalizationContext) (model.ProcessResult, uint64) {
	if err := fincrypto.VerifySignature(m); err != nil {
		p.log.Debug("message signature invalid", zap.Stringer("step", m.StepIdentifier), zap.Error(err))
		return model.ProcessFailureSignature, 0
	}

	voter, ok := ctx.Voter(m.Signer)
	if !ok {
		p.log.Debug("message signer is not a registered voter", zap.Stringer("step", m.StepIdentifier), zap.Stringer("signer", m.Signer))
		return model.ProcessFailureVoter, 0
	}

	vrfPub := fincrypto.VRFPublicKeyFromBytes(voter.VRFPublicKey[:])
	vrfOutput, ok := vrfPub.Verify(ctx.GenerationHash, m.StepIdentifier, m.SortitionHashProof)
	if !ok {
		p.log.Debug("sortition proof invalid", zap.Stringer("step", m.StepIdentifier), zap.Stringer("signer", m.Signer))
		return model.ProcessFailureSortitionProof, 0
	}

	weight := fincrypto.DeriveWeight(voter.Weight, ctx.TotalWeight, ctx.Size, vrfOutput)
	if weight == 0 {
		p.log.Debug("voter not selected this step", zap.Stringer("step", m.StepIdentifier), zap.Stringer("signer", m.Signer))
		return model.ProcessFailureSelection, 0
	}

	return model.ProcessAccepted, weight
}
