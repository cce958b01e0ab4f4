package chain

import (
	"fmt"
	"sync"

	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/blockberries/finalityberry/model"
)

// AggregatorFactory builds the single-step aggregator for a given step.
// It is invoked when a processor-accepted message arrives for a step that
// has no entry yet. If that message's hashes count is outside the new
// aggregator's range, the aggregator is discarded and the factory runs
// again for the step's next message.
type AggregatorFactory func(step model.StepIdentifier) Aggregator

// ContextFactory builds the finalization context a message is verified
// against. It is invoked once per add call so the context always
// reflects the latest finalized tip.
type ContextFactory func() (*model.FinalizationContext, error)

// MessageProcessor validates a message against a context and derives
// its vote weight.
type MessageProcessor interface {
	Process(m *model.FinalizationMessage, ctx *model.FinalizationContext) (model.ProcessResult, uint64)
}

// ConsensusSink is invoked when a step's aggregator reaches consensus or
// its consensus target changes. It runs under the writer lock, so it must
// not call View or Modifier (the lock is not reentrant).
type ConsensusSink func(step model.StepIdentifier, target model.HeightHashPair, proof model.FinalizationProof)

type stepDataTuple struct {
	aggregator Aggregator
	proof      model.FinalizationProof
}

type stepEntry struct {
	step  model.StepIdentifier
	tuple *stepDataTuple
}

func stepEntryLess(a, b stepEntry) bool {
	return a.step.Less(b.step)
}

// MultiStepAggregator is the concurrent cache of per-step aggregators
// for the current finalization point. It exposes a read-only View and
// an exclusive Modifier, mirroring a reader/writer lock with scoped
// handles: callers must release what they acquire.
type MultiStepAggregator struct {
	mu sync.RWMutex

	maxResponseSize       uint64
	messageProcessor       MessageProcessor
	contextFactory         ContextFactory
	aggregatorFactory      AggregatorFactory
	consensusSink          ConsensusSink
	log                    *zap.Logger

	minStepIdentifier     model.StepIdentifier
	nextFinalizationPoint model.FinalizationPoint
	tree                  *btree.BTreeG[stepEntry]
}

// NewMultiStepAggregator creates an aggregator whose initial acceptance
// floor is (nextPoint, 0, 0).
func NewMultiStepAggregator(
	maxResponseSize uint64,
	messageProcessor MessageProcessor,
	aggregatorFactory AggregatorFactory,
	contextFactory ContextFactory,
	consensusSink ConsensusSink,
	nextFinalizationPoint model.FinalizationPoint,
	log *zap.Logger,
) *MultiStepAggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &MultiStepAggregator{
		maxResponseSize:       maxResponseSize,
		messageProcessor:      messageProcessor,
		contextFactory:        contextFactory,
		aggregatorFactory:     aggregatorFactory,
		consensusSink:         consensusSink,
		log:                   log,
		minStepIdentifier:     model.StepIdentifier{Point: nextFinalizationPoint},
		nextFinalizationPoint: nextFinalizationPoint,
		tree:                  btree.NewG(32, stepEntryLess),
	}
}

// View is a read-only handle on the aggregator. It must be released
// (via the func returned by View()) once the caller is done with it.
type View struct {
	agg *MultiStepAggregator
}

// View acquires a read lock and returns a handle plus a release func.
func (a *MultiStepAggregator) View() (View, func()) {
	a.mu.RLock()
	return View{agg: a}, a.mu.RUnlock
}

// Size returns the number of currently tracked steps.
func (v View) Size() int {
	return v.agg.tree.Len()
}

// MinStepIdentifier returns the acceptance floor.
func (v View) MinStepIdentifier() model.StepIdentifier {
	return v.agg.minStepIdentifier
}

// ShortHashes returns the short hash of every retained message, in step
// order.
func (v View) ShortHashes() []model.ShortHash {
	var hashes []model.ShortHash
	v.agg.tree.Ascend(func(e stepEntry) bool {
		for _, m := range e.tuple.proof {
			hashes = append(hashes, m.ShortHash())
		}
		return true
	})
	return hashes
}

// UnknownMessages returns messages from steps >= minStep whose short
// hash is not in knownShortHashes, in step order, truncated so the total
// serialised size does not exceed maxResponseSize. Once adding another
// message would exceed the cap, the scan stops and returns what it has.
func (v View) UnknownMessages(minStep model.StepIdentifier, knownShortHashes map[model.ShortHash]struct{}) model.FinalizationProof {
	var result model.FinalizationProof
	var totalSize uint64

	v.agg.tree.AscendGreaterOrEqual(stepEntry{step: minStep}, func(e stepEntry) bool {
		for _, m := range e.tuple.proof {
			if _, known := knownShortHashes[m.ShortHash()]; known {
				continue
			}
			if totalSize+m.Size() > v.agg.maxResponseSize {
				return false
			}
			result = append(result, m)
			totalSize += m.Size()
		}
		return true
	})
	return result
}

// Modifier is an exclusive handle on the aggregator. It must be released
// (via the func returned by Modifier()) once the caller is done with it.
type Modifier struct {
	agg *MultiStepAggregator
}

// Modifier acquires the writer lock and returns a handle plus a release
// func.
func (a *MultiStepAggregator) Modifier() (Modifier, func()) {
	a.mu.Lock()
	return Modifier{agg: a}, a.mu.Unlock
}

// SetNextFinalizationPoint advances the finalization point the
// aggregator will accept messages for. It fails if point would decrease
// the current one; it is a no-op if point equals the current one.
func (m Modifier) SetNextFinalizationPoint(point model.FinalizationPoint) error {
	a := m.agg
	if point < a.nextFinalizationPoint {
		return fmt.Errorf("%w: have %d, got %d", ErrDecreasingFinalizationPoint, a.nextFinalizationPoint, point)
	}
	if point == a.nextFinalizationPoint {
		return nil
	}
	a.nextFinalizationPoint = point
	a.minStepIdentifier = model.StepIdentifier{Point: point}
	a.tree = btree.NewG(32, stepEntryLess)
	return nil
}

func (a *MultiStepAggregator) canAccept(step model.StepIdentifier) bool {
	return step.Point == a.nextFinalizationPoint && step.GreaterOrEqual(a.minStepIdentifier)
}

// Add validates message via the injected processor, routes it to the
// step's single-step aggregator, and — if that aggregator now reports
// consensus — reduces the proof, invokes the consensus sink, and prunes
// every step strictly below the one that just reached consensus.
//
// A non-nil return is always an ErrContextFactoryFailed: every other
// rejection (stale step, out-of-range hashes count, a processor result
// other than Accepted) is attributable to the remote sender and is
// dropped silently rather than returned. A context factory failure
// means local storage can't reproduce state the node itself already
// finalized, so it is surfaced instead.
func (m Modifier) Add(message *model.FinalizationMessage) error {
	a := m.agg
	step := message.StepIdentifier

	if !a.canAccept(step) {
		a.log.Debug("dropping message outside acceptance window", zap.Stringer("step", step))
		return nil
	}

	ctx, err := a.contextFactory()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrContextFactoryFailed, err)
	}

	result, weight := a.messageProcessor.Process(message, ctx)
	if result != model.ProcessAccepted {
		a.log.Debug("dropping message rejected by processor", zap.Stringer("step", step), zap.Stringer("result", result))
		return nil
	}

	// The step's aggregator is only instantiated once a message has
	// actually passed the processor: an unauthenticated message must
	// never be the reason a step starts existing in stepMap (it would
	// otherwise leave a permanent empty-proof entry behind) or the reason
	// Collect-Chain-Votes reads local chain storage via
	// heightHashesPairSupplier.
	entry, found := a.tree.Get(stepEntry{step: step})
	if !found {
		agg := a.aggregatorFactory(step)
		if !agg.AcceptsHashesCount(message.HashesCount()) {
			a.log.Debug("dropping message with out-of-range hashes count", zap.Stringer("step", step), zap.Uint32("hashesCount", message.HashesCount()))
			return nil
		}
		entry = stepEntry{step: step, tuple: &stepDataTuple{aggregator: agg}}
		a.tree.ReplaceOrInsert(entry)
	} else if !entry.tuple.aggregator.AcceptsHashesCount(message.HashesCount()) {
		a.log.Debug("dropping message with out-of-range hashes count", zap.Stringer("step", step), zap.Uint32("hashesCount", message.HashesCount()))
		return nil
	}

	hadConsensus := entry.tuple.aggregator.HasConsensus()
	var prevTarget model.HeightHashPair
	if hadConsensus {
		prevTarget = entry.tuple.aggregator.ConsensusTarget()
	}

	entry.tuple.proof = append(entry.tuple.proof, message)
	entry.tuple.aggregator.Add(message, weight)

	if !entry.tuple.aggregator.HasConsensus() {
		return nil
	}

	target := entry.tuple.aggregator.ConsensusTarget()
	if hadConsensus && target.Equal(prevTarget) {
		return nil
	}
	reduced := entry.tuple.aggregator.Reduce(entry.tuple.proof)
	entry.tuple.proof = reduced
	a.tree.ReplaceOrInsert(entry)

	a.consensusSink(step, target, reduced)

	// The sink may have moved the aggregator to a later finalization
	// point; the floor SetNextFinalizationPoint set then stands.
	if a.nextFinalizationPoint != step.Point {
		return nil
	}
	a.minStepIdentifier = step
	a.pruneBelow(step)
	return nil
}

// pruneBelow removes every tracked step strictly less than floor.
// Caller must hold the writer lock.
func (a *MultiStepAggregator) pruneBelow(floor model.StepIdentifier) {
	var toRemove []stepEntry
	a.tree.AscendLessThan(stepEntry{step: floor}, func(e stepEntry) bool {
		toRemove = append(toRemove, e)
		return true
	})
	for _, e := range toRemove {
		a.tree.Delete(e)
	}
}
