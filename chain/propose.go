package chain

import (
	"go.uber.org/zap"

	"github.com/blockberries/finalityberry/fincrypto"
	"github.com/blockberries/finalityberry/model"
	"github.com/blockberries/finalityberry/privval"
)

// MessagePreparer runs the message processor's eligibility checks in
// reverse for this node's own signer: given a step and a proposed
// (height, hashes) pair, it decides whether the signer is selected to
// vote this step and, if so, builds and signs the resulting message.
// It is the counterpart Propose/Advance need to turn a raw pair into an
// actual outgoing FinalizationMessage instead of leaving that to an
// unspecified external collaborator.
type MessagePreparer struct {
	signer         privval.Signer
	contextFactory ContextFactory
	log            *zap.Logger
}

// NewMessagePreparer creates a MessagePreparer. A nil logger disables
// logging.
func NewMessagePreparer(signer privval.Signer, contextFactory ContextFactory, log *zap.Logger) *MessagePreparer {
	if log == nil {
		log = zap.NewNop()
	}
	return &MessagePreparer{signer: signer, contextFactory: contextFactory, log: log}
}

// Prepare decides whether this node's signer is selected to vote at step
// and, if so, returns a signed message carrying baseHeight/hashes. ok is
// false if the context factory failed, the signer isn't a registered
// voter, its own sortition proof failed verification, the derived weight
// was zero, or the signer refused to sign — every one of those is a
// reason to simply skip voting this step, not to abort.
func (p *MessagePreparer) Prepare(step model.StepIdentifier, baseHeight uint64, hashes []model.Hash) (message *model.FinalizationMessage, ok bool) {
	ctx, err := p.contextFactory()
	if err != nil {
		p.log.Warn("message preparation: context factory failed", zap.Stringer("step", step), zap.Error(err))
		return nil, false
	}

	votingKey := p.signer.VotingPublicKey()
	voter, known := ctx.Voter(votingKey)
	if !known {
		p.log.Debug("message preparation: not a registered voter", zap.Stringer("step", step), zap.Stringer("signer", votingKey))
		return nil, false
	}

	proof := p.signer.ProveSortition(ctx.GenerationHash, step)
	vrfPub := fincrypto.VRFPublicKeyFromBytes(p.signer.VRFPublicKey()[:])
	vrfOutput, verified := vrfPub.Verify(ctx.GenerationHash, step, proof)
	if !verified {
		p.log.Error("message preparation: self-produced sortition proof failed verification", zap.Stringer("step", step), zap.Stringer("signer", votingKey))
		return nil, false
	}

	weight := fincrypto.DeriveWeight(voter.Weight, ctx.TotalWeight, ctx.Size, vrfOutput)
	if weight == 0 {
		p.log.Debug("message preparation: not selected this step", zap.Stringer("step", step), zap.Stringer("signer", votingKey))
		return nil, false
	}

	m := &model.FinalizationMessage{
		StepIdentifier:     step,
		Height:             baseHeight,
		SortitionHashProof: proof,
		Hashes:             hashes,
	}
	if err := p.signer.SignMessage(m); err != nil {
		p.log.Warn("message preparation: signing refused", zap.Stringer("step", step), zap.Stringer("signer", votingKey), zap.Error(err))
		return nil, false
	}
	return m, true
}

// NewSigningMessageSink builds a MessageSink that runs preparer against
// the aggregator's current floor — with its sub-round component replaced
// by currentSubRound, since the floor otherwise lags behind the
// orchestrator's true stage across a timeout-driven stage advance that
// didn't reach consensus. A selected message is fed to addMessage so
// this node's own vote is aggregated exactly like one received over the
// network, then handed to broadcast so peers learn about it too.
func NewSigningMessageSink(
	preparer *MessagePreparer,
	aggregator *MultiStepAggregator,
	currentSubRound func() model.SubRound,
	addMessage func(*model.FinalizationMessage),
	broadcast func(*model.FinalizationMessage),
	log *zap.Logger,
) MessageSink {
	if log == nil {
		log = zap.NewNop()
	}
	return func(baseHeight uint64, hashes []model.Hash) {
		view, release := aggregator.View()
		floor := view.MinStepIdentifier()
		release()

		step := model.StepIdentifier{Point: floor.Point, Round: floor.Round, SubRound: currentSubRound()}

		message, ok := preparer.Prepare(step, baseHeight, hashes)
		if !ok {
			return
		}

		addMessage(message)
		if broadcast != nil {
			broadcast(message)
		}
		log.Debug("prepared and dispatched self-vote", zap.Stringer("step", step))
	}
}
