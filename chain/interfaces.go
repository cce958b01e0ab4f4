package chain

import "github.com/blockberries/finalityberry/model"

// ProofStorage is the external collaborator that persists finalization
// proofs and reports the node's finalized tip. See storage.PebbleProofStorage
// for the concrete pebble-backed implementation.
type ProofStorage interface {
	// FinalizationPoint returns the last finalized point. The nemesis
	// value is 1.
	FinalizationPoint() (model.FinalizationPoint, error)
	// FinalizedHeight returns the block height of the last finalized
	// block. The nemesis value is 1.
	FinalizedHeight() (uint64, error)
	// SaveProof durably persists proof for the given finalized target
	// before returning.
	SaveProof(point model.FinalizationPoint, target model.HeightHashPair, proof model.FinalizationProof) error
	// LoadProof reads a previously saved proof.
	LoadProof(point model.FinalizationPoint) (model.FinalizationProof, error)
	// LoadFinalizedHashesFrom forward-scans finalized (height, hash)
	// pairs starting at point, returning at most maxHashes entries.
	LoadFinalizedHashesFrom(point model.FinalizationPoint, maxHashes int) ([]model.HeightHashPair, error)
}

// BlockStorageView is the read view of block storage the context
// factory needs: the generation hash of a given block.
type BlockStorageView interface {
	GenerationHash(height uint64) (model.Hash, error)
}

// AccountStateView is the read view of the account-state cache the
// context factory needs: the registered voters at a finalized height.
type AccountStateView interface {
	Voters(height uint64) (totalWeight uint64, voters map[model.PublicKey]model.VoterInfo, err error)
}

// FinalizationSubscriber is notified exactly once per finalized point,
// when the final round's consensus is reached.
type FinalizationSubscriber interface {
	NotifyFinalizedBlock(height uint64, hash model.Hash, point model.FinalizationPoint)
}
