package chain

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blockberries/finalityberry/model"
)

// HeightHashesPairSupplier returns the node's current local chain
// proposal: the height of the first hash and the ordered hash list.
type HeightHashesPairSupplier func() (baseHeight uint64, hashes []model.Hash)

// MessageSink builds and broadcasts a proposal message for the given
// height/hashes pair.
type MessageSink func(baseHeight uint64, hashes []model.Hash)

// PointConsensusSink is invoked once per finalization point, when the
// BinaryBA-End stage reaches consensus — the true finalization event.
type PointConsensusSink func(step model.StepIdentifier, target model.HeightHashPair, proof model.FinalizationProof)

// Orchestrator drives the five-substage voting protocol: it picks the
// right single-step aggregator variant per sub-round, wraps the point
// consensus sink with per-stage behavior, and advances on timeout.
type Orchestrator struct {
	mu sync.Mutex

	config                    FinalizationConfiguration
	heightHashesPairSupplier  HeightHashesPairSupplier
	messageSink               MessageSink
	log                       *zap.Logger

	stage              model.SubRound
	stageStartTime     time.Time
	lastProposeMessage *model.FinalizationMessage
}

// NewOrchestrator creates an orchestrator starting at the Propose-Chain
// stage. messageSink may be nil if it will be supplied later via
// SetMessageSink — e.g. when it is itself built from a MessagePreparer
// that needs a handle on the orchestrator/aggregator this constructor
// returns.
func NewOrchestrator(config FinalizationConfiguration, heightHashesPairSupplier HeightHashesPairSupplier, messageSink MessageSink, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		config:                   config,
		heightHashesPairSupplier: heightHashesPairSupplier,
		messageSink:              messageSink,
		log:                      log,
		stage:                    model.SubRoundProposeChain,
	}
}

// SubRound returns the current stage.
func (o *Orchestrator) SubRound() model.SubRound {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stage
}

// SetMessageSink installs the sink Propose/Advance emit through. It
// exists so a MessageSink built from a MessagePreparer — which itself
// needs a handle on this orchestrator and its aggregator — can be wired
// in after construction, breaking the construction-order cycle.
func (o *Orchestrator) SetMessageSink(sink MessageSink) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messageSink = sink
}

// SubRoundStartTime returns the time the current stage began, or the
// zero time if unset.
func (o *Orchestrator) SubRoundStartTime() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stageStartTime
}

// CreateSingleStepAggregatorFactory returns a closure that maps a step's
// sub-round to the aggregator variant from the sub-round table. For
// Collect-Chain-Votes it pulls the current local chain proposal from
// heightHashesPairSupplier at factory-invocation time.
func (o *Orchestrator) CreateSingleStepAggregatorFactory() AggregatorFactory {
	return func(step model.StepIdentifier) Aggregator {
		o.log.Debug("creating single step aggregator", zap.Stringer("step", step))

		switch step.SubRound {
		case model.SubRoundProposeChain:
			return NewMaximumVotesAggregator(o.config.MaxHashesPerPoint)
		case model.SubRoundCollectChainVotes:
			baseHeight, hashes := o.heightHashesPairSupplier()
			return NewCommonBlockAggregator(o.config.Threshold, baseHeight, hashes)
		default:
			return NewCountVotesAggregator(o.config.Threshold)
		}
	}
}

// CreateConsensusSink wraps pointConsensusSink with the per-stage
// behavior from the sub-round table:
//
//   - Propose-Chain retains the best proposal and does not advance, since
//     Maximum-Votes may still be overtaken by a higher-weight message;
//   - Collect-Chain-Votes / Count-Best-Hash-Votes / BinaryBA-Start advance
//     the stage;
//   - BinaryBA-End delegates to pointConsensusSink — the true finalization
//     event — and then advances, wrapping back to Propose-Chain.
func (o *Orchestrator) CreateConsensusSink(pointConsensusSink PointConsensusSink) ConsensusSink {
	return func(step model.StepIdentifier, target model.HeightHashPair, proof model.FinalizationProof) {
		o.mu.Lock()
		defer o.mu.Unlock()

		switch step.SubRound {
		case model.SubRoundProposeChain:
			if len(proof) > 0 {
				o.lastProposeMessage = proof[0]
			}
			return
		case model.SubRoundBinaryBAEnd:
			pointConsensusSink(step, target, proof)
		}

		o.incrementStageLocked()
	}
}

// Propose builds and broadcasts a proposal message from the node's
// current local chain.
func (o *Orchestrator) Propose() {
	o.mu.Lock()
	sink := o.messageSink
	o.mu.Unlock()
	if sink == nil {
		return
	}
	baseHeight, hashes := o.heightHashesPairSupplier()
	sink(baseHeight, hashes)
}

// Advance performs time-based stage progression. On the first call it
// only records the stage start time. Thereafter, Propose-Chain times out
// after ProposeMessageStageDuration (clearing any retained proposal or
// emitting an empty one); every other stage times out after
// AggregationStageMaxDuration and always emits an empty proposal.
func (o *Orchestrator) Advance(now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stageStartTime.IsZero() {
		o.stageStartTime = now
		return
	}

	if o.stage == model.SubRoundProposeChain {
		if now.Sub(o.stageStartTime) > o.config.ProposeMessageStageDuration {
			if o.lastProposeMessage != nil {
				o.lastProposeMessage = nil
			} else {
				o.emitEmptyProposal()
			}
			o.incrementStageLocked()
		}
		return
	}

	if now.Sub(o.stageStartTime) > o.config.AggregationStageMaxDuration {
		o.emitEmptyProposal()
		o.incrementStageLocked()
	}
}

func (o *Orchestrator) emitEmptyProposal() {
	if o.messageSink == nil {
		return
	}
	o.messageSink(0, []model.Hash{{}})
}

// incrementStageLocked resets the stage start time and advances to the next
// sub-round, wrapping BinaryBA-End back to Propose-Chain. Caller must
// hold o.mu.
func (o *Orchestrator) incrementStageLocked() {
	o.stageStartTime = time.Time{}
	if o.stage == model.SubRoundBinaryBAEnd {
		o.stage = model.SubRoundProposeChain
		return
	}
	o.stage++
}
