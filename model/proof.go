package model

// FinalizationProof is the ordered list of messages that jointly reached
// consensus for one step. Messages are shared: the aggregator may retain
// them past the lifetime of the network message-range that delivered
// them, and the network layer may independently still hold a reference
// for rebroadcast.
type FinalizationProof []*FinalizationMessage

// TotalSize returns the sum of the serialised sizes of every message in
// the proof.
func (p FinalizationProof) TotalSize() uint64 {
	var total uint64
	for _, m := range p {
		total += m.Size()
	}
	return total
}

// Signers returns the set of voting public keys represented in the
// proof, in proof order, without duplicates.
func (p FinalizationProof) Signers() []PublicKey {
	seen := make(map[PublicKey]struct{}, len(p))
	out := make([]PublicKey, 0, len(p))
	for _, m := range p {
		if _, ok := seen[m.Signer]; ok {
			continue
		}
		seen[m.Signer] = struct{}{}
		out = append(out, m.Signer)
	}
	return out
}
