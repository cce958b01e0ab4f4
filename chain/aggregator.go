package chain

import (
	"github.com/blockberries/finalityberry/model"
)

// Aggregator is the contract shared by the three single-step vote
// counters. Implementations are single-threaded internally; concurrent
// safety is provided by MultiStepAggregator's writer lock.
type Aggregator interface {
	// Add incorporates one validated vote.
	Add(m *model.FinalizationMessage, weight uint64)
	// HasConsensus reports whether the threshold has been crossed.
	HasConsensus() bool
	// ConsensusTarget is meaningful only once HasConsensus is true.
	ConsensusTarget() model.HeightHashPair
	// Reduce shrinks proof to the minimum set of messages necessary to
	// attest the result. The default behavior is the identity function.
	Reduce(proof model.FinalizationProof) model.FinalizationProof
	// AcceptsHashesCount reports whether a message with the given
	// HashesCount is within this variant's accepted range.
	AcceptsHashesCount(count uint32) bool
}

// ---------------------------------------------------------------------
// Maximum-Votes (Propose-Chain)
// ---------------------------------------------------------------------

// MaximumVotesAggregator picks the voter whose claim carries the largest
// vote weight. It accepts messages with HashesCount in
// [1, maxHashesPerPoint]; the target is the message's first hash, the
// remaining hashes describe a proposed chain extension.
type MaximumVotesAggregator struct {
	maxHashesPerPoint uint32

	hasConsensus    bool
	maxWeight       uint64
	bestVoter       model.PublicKey
	bestTarget      model.HeightHashPair
}

// NewMaximumVotesAggregator creates a Maximum-Votes aggregator.
func NewMaximumVotesAggregator(maxHashesPerPoint uint32) *MaximumVotesAggregator {
	return &MaximumVotesAggregator{maxHashesPerPoint: maxHashesPerPoint}
}

func (a *MaximumVotesAggregator) AcceptsHashesCount(count uint32) bool {
	return count >= 1 && count <= a.maxHashesPerPoint
}

func (a *MaximumVotesAggregator) Add(m *model.FinalizationMessage, weight uint64) {
	if weight <= a.maxWeight {
		return
	}
	a.maxWeight = weight
	a.bestVoter = m.Signer
	a.bestTarget = m.Target(0)
	a.hasConsensus = true
}

func (a *MaximumVotesAggregator) HasConsensus() bool {
	return a.hasConsensus
}

func (a *MaximumVotesAggregator) ConsensusTarget() model.HeightHashPair {
	return a.bestTarget
}

// Reduce keeps exactly the one message whose signer matches the best
// voter, or empties the proof if none match.
func (a *MaximumVotesAggregator) Reduce(proof model.FinalizationProof) model.FinalizationProof {
	for _, m := range proof {
		if m.Signer.Equal(a.bestVoter) {
			return model.FinalizationProof{m}
		}
	}
	return model.FinalizationProof{}
}

// ---------------------------------------------------------------------
// Count-Votes (most sub-rounds)
// ---------------------------------------------------------------------

// CountVotesAggregator accumulates weight per target and declares
// consensus for the first target whose cumulative weight reaches the
// threshold. It accepts messages with HashesCount == 1.
type CountVotesAggregator struct {
	threshold uint64

	weights      map[model.HeightHashPair]uint64
	votedSigners map[model.PublicKey]struct{}

	hasConsensus bool
	target       model.HeightHashPair
}

// NewCountVotesAggregator creates a Count-Votes aggregator.
func NewCountVotesAggregator(threshold uint64) *CountVotesAggregator {
	return &CountVotesAggregator{
		threshold:    threshold,
		weights:      make(map[model.HeightHashPair]uint64),
		votedSigners: make(map[model.PublicKey]struct{}),
	}
}

func (a *CountVotesAggregator) AcceptsHashesCount(count uint32) bool {
	return count == 1
}

func (a *CountVotesAggregator) Add(m *model.FinalizationMessage, weight uint64) {
	if a.hasConsensus {
		return
	}
	if _, voted := a.votedSigners[m.Signer]; voted {
		return
	}
	a.votedSigners[m.Signer] = struct{}{}

	target := m.Target(0)
	a.weights[target] += weight
	if a.weights[target] >= a.threshold {
		a.hasConsensus = true
		a.target = target
	}
}

func (a *CountVotesAggregator) HasConsensus() bool {
	return a.hasConsensus
}

func (a *CountVotesAggregator) ConsensusTarget() model.HeightHashPair {
	return a.target
}

func (a *CountVotesAggregator) Reduce(proof model.FinalizationProof) model.FinalizationProof {
	return proof
}

// ---------------------------------------------------------------------
// Common-Block (Collect-Chain-Votes)
// ---------------------------------------------------------------------

// CommonBlockAggregator finds the longest prefix of a locally proposed
// chain that threshold-many voters agree on. It accepts messages with
// HashesCount == 1.
type CommonBlockAggregator struct {
	threshold  uint64
	baseHeight uint64
	hashes     []model.Hash

	votes             []uint64 // per-index cumulative vote weight
	signerIndex       map[model.PublicKey]int
	hasConsensus      bool
	consensusIndex    int
}

// NewCommonBlockAggregator creates a Common-Block aggregator given the
// locally proposed chain hashes and its base height.
func NewCommonBlockAggregator(threshold uint64, baseHeight uint64, hashes []model.Hash) *CommonBlockAggregator {
	return &CommonBlockAggregator{
		threshold:      threshold,
		baseHeight:     baseHeight,
		hashes:         hashes,
		votes:          make([]uint64, len(hashes)),
		signerIndex:    make(map[model.PublicKey]int),
		consensusIndex: -1,
	}
}

func (a *CommonBlockAggregator) AcceptsHashesCount(count uint32) bool {
	return count == 1
}

// findIndex locates the unique index i such that hashes[i] == hash and
// baseHeight+i == height, or -1 if the target is off the proposed chain.
func (a *CommonBlockAggregator) findIndex(height uint64, hash model.Hash) int {
	if height < a.baseHeight {
		return -1
	}
	i := height - a.baseHeight
	if i >= uint64(len(a.hashes)) {
		return -1
	}
	if !a.hashes[i].Equal(hash) {
		return -1
	}
	return int(i)
}

func (a *CommonBlockAggregator) Add(m *model.FinalizationMessage, weight uint64) {
	target := m.Target(0)
	i := a.findIndex(target.Height, target.Hash)
	if i < 0 {
		return
	}

	// Per-signer credit range: a signer's first vote credits every
	// prefix up to i; a later vote with a strictly higher index credits
	// only the newly covered indices; a non-increasing index is ignored.
	first := 0
	if prevIndex, voted := a.signerIndex[m.Signer]; voted {
		if i <= prevIndex {
			return
		}
		first = prevIndex + 1
	}
	a.signerIndex[m.Signer] = i

	for j := first; j <= i; j++ {
		a.votes[j] += weight
	}

	// The scan for new consensus never reconsiders indices at or below
	// the already-locked consensus index, guaranteeing monotonicity.
	scanLow := first
	if a.hasConsensus && scanLow <= a.consensusIndex {
		scanLow = a.consensusIndex + 1
	}
	for j := i; j >= scanLow; j-- {
		if a.votes[j] >= a.threshold {
			a.hasConsensus = true
			a.consensusIndex = j
			break
		}
	}
}

func (a *CommonBlockAggregator) HasConsensus() bool {
	return a.hasConsensus
}

func (a *CommonBlockAggregator) ConsensusTarget() model.HeightHashPair {
	return model.HeightHashPair{
		Height: a.baseHeight + uint64(a.consensusIndex),
		Hash:   a.hashes[a.consensusIndex],
	}
}

func (a *CommonBlockAggregator) Reduce(proof model.FinalizationProof) model.FinalizationProof {
	return proof
}
