package model

import "fmt"

// FinalizationPoint is the monotone sequence number over the whole
// finalization protocol. A point only advances once the previous one has
// been finalized.
type FinalizationPoint uint64

// SubRound indexes the stage inside a finalization round.
type SubRound uint64

// Sub-round values, in protocol order. The orchestrator cycles through
// them once per round; BinaryBAEnd wraps back to ProposeChain.
const (
	SubRoundProposeChain SubRound = iota
	SubRoundCollectChainVotes
	SubRoundCountBestHashVotes
	SubRoundBinaryBAStart
	SubRoundBinaryBAEnd
)

// numSubRounds is the count of distinct sub-rounds in one round.
const numSubRounds = SubRoundBinaryBAEnd + 1

func (s SubRound) String() string {
	switch s {
	case SubRoundProposeChain:
		return "ProposeChain"
	case SubRoundCollectChainVotes:
		return "CollectChainVotes"
	case SubRoundCountBestHashVotes:
		return "CountBestHashVotes"
	case SubRoundBinaryBAStart:
		return "BinaryBAStart"
	case SubRoundBinaryBAEnd:
		return "BinaryBAEnd"
	default:
		return fmt.Sprintf("SubRound(%d)", uint64(s))
	}
}

// StepIdentifier is the lexicographic triple (Point, Round, SubRound)
// pinpointing a single consensus stage. It is totally ordered.
type StepIdentifier struct {
	Point    FinalizationPoint
	Round    uint64
	SubRound SubRound
}

// Compare returns -1, 0 or 1 as s is lexicographically less than, equal
// to, or greater than other.
func (s StepIdentifier) Compare(other StepIdentifier) int {
	if s.Point != other.Point {
		return cmpUint64(uint64(s.Point), uint64(other.Point))
	}
	if s.Round != other.Round {
		return cmpUint64(s.Round, other.Round)
	}
	return cmpUint64(uint64(s.SubRound), uint64(other.SubRound))
}

// Less reports whether s sorts strictly before other.
func (s StepIdentifier) Less(other StepIdentifier) bool {
	return s.Compare(other) < 0
}

// GreaterOrEqual reports whether s sorts at or after other.
func (s StepIdentifier) GreaterOrEqual(other StepIdentifier) bool {
	return s.Compare(other) >= 0
}

func (s StepIdentifier) String() string {
	return fmt.Sprintf("(%d,%d,%s)", s.Point, s.Round, s.SubRound)
}

// NextSubRound returns the step identifier for the next sub-round,
// wrapping to round+1, sub-round 0 after BinaryBAEnd.
func (s StepIdentifier) NextSubRound() StepIdentifier {
	if s.SubRound == SubRoundBinaryBAEnd {
		return StepIdentifier{Point: s.Point, Round: s.Round + 1, SubRound: SubRoundProposeChain}
	}
	return StepIdentifier{Point: s.Point, Round: s.Round, SubRound: s.SubRound + 1}
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// HeightHashPair identifies a specific block by height and content hash.
type HeightHashPair struct {
	Height uint64
	Hash   Hash
}

// Equal reports whether two height/hash pairs identify the same block.
func (p HeightHashPair) Equal(other HeightHashPair) bool {
	return p.Height == other.Height && p.Hash.Equal(other.Hash)
}

func (p HeightHashPair) String() string {
	return fmt.Sprintf("%d:%s", p.Height, p.Hash)
}
