package model

// VoterInfo is the per-voter data a finalization context exposes: the
// voter's weight (stake) and VRF public key.
type VoterInfo struct {
	Weight       uint64
	VRFPublicKey PublicKey
}

// FinalizationContext is the immutable snapshot of the validator set a
// message is verified against. A fresh one is built from storage on
// every add (see the context factory in the chain package), so it always
// reflects the latest finalized tip.
type FinalizationContext struct {
	Point          FinalizationPoint
	Height         uint64
	GenerationHash Hash
	TotalWeight    uint64
	Threshold      uint64
	// Size is the expected number of voters selected per step, used by
	// the sortition weight derivation.
	Size float64

	voters map[PublicKey]VoterInfo
}

// NewFinalizationContext builds a context from an explicit voter map.
// Callers must not mutate the map passed in.
func NewFinalizationContext(point FinalizationPoint, height uint64, genHash Hash, totalWeight, threshold uint64, size float64, voters map[PublicKey]VoterInfo) *FinalizationContext {
	return &FinalizationContext{
		Point:          point,
		Height:         height,
		GenerationHash: genHash,
		TotalWeight:    totalWeight,
		Threshold:      threshold,
		Size:           size,
		voters:         voters,
	}
}

// Voter looks up a registered voter by its voting public key.
func (c *FinalizationContext) Voter(signer PublicKey) (VoterInfo, bool) {
	info, ok := c.voters[signer]
	return info, ok
}

// NumVoters returns the number of registered voters in this context.
func (c *FinalizationContext) NumVoters() int {
	return len(c.voters)
}
