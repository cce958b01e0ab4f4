package chain

import (
	"fmt"

	"github.com/blockberries/finalityberry/model"
)

// BuildContextFactory returns a ContextFactory that rebuilds a
// FinalizationContext from the node's last finalized block: its
// generation hash from blockStorage and its registered voter set from
// accountState. Because it re-reads both on every call, the context an
// in-flight add sees always reflects the latest finalized tip rather
// than a snapshot taken when the aggregator for that step was created.
func BuildContextFactory(proofStorage ProofStorage, blockStorage BlockStorageView, accountState AccountStateView, config FinalizationConfiguration) ContextFactory {
	return func() (*model.FinalizationContext, error) {
		lastFinalized, err := proofStorage.FinalizationPoint()
		if err != nil {
			return nil, fmt.Errorf("reading finalization point: %w", err)
		}
		point := lastFinalized + 1

		height, err := proofStorage.FinalizedHeight()
		if err != nil {
			return nil, fmt.Errorf("reading finalized height: %w", err)
		}

		genHash, err := blockStorage.GenerationHash(height)
		if err != nil {
			return nil, fmt.Errorf("reading generation hash at height %d: %w", height, err)
		}

		totalWeight, voters, err := accountState.Voters(height)
		if err != nil {
			return nil, fmt.Errorf("reading voters at height %d: %w", height, err)
		}

		return model.NewFinalizationContext(point, height, genHash, totalWeight, config.Threshold, config.Size, voters), nil
	}
}
