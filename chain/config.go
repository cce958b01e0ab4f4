package chain

import (
	"fmt"
	"time"
)

// FinalizationConfiguration holds the tunables the finalization core
// consumes: sortition selection size, consensus threshold, cache and
// response-size limits, and the orchestrator's stage timeouts.
type FinalizationConfiguration struct {
	// Size is the expected number of voters selected per step, used by
	// the sortition weight derivation.
	Size float64

	// Threshold is the vote weight required for consensus in the
	// Count-Votes and Common-Block variants.
	Threshold uint64

	// ShortLivedCacheMessageDuration is the retention window for the
	// external dedup cache (see the ionet package).
	ShortLivedCacheMessageDuration time.Duration

	// MessageSynchronizationMaxResponseSize bounds the total serialised
	// size of an unknownMessages response.
	MessageSynchronizationMaxResponseSize uint64

	// MaxHashesPerPoint upper-bounds HashesCount for Maximum-Votes
	// messages.
	MaxHashesPerPoint uint32

	// ProposeMessageStageDuration is the orchestrator timeout for the
	// Propose-Chain stage.
	ProposeMessageStageDuration time.Duration

	// AggregationStageMaxDuration is the orchestrator timeout for every
	// other stage.
	AggregationStageMaxDuration time.Duration
}

// DefaultFinalizationConfiguration returns a configuration with
// reasonable defaults for a single-node test network.
func DefaultFinalizationConfiguration() FinalizationConfiguration {
	return FinalizationConfiguration{
		Size:                                   3000,
		Threshold:                              2000,
		ShortLivedCacheMessageDuration:          10 * time.Minute,
		MessageSynchronizationMaxResponseSize:   1 << 20,
		MaxHashesPerPoint:                       256,
		ProposeMessageStageDuration:             4 * time.Second,
		AggregationStageMaxDuration:             2 * time.Second,
	}
}

// Validate performs basic sanity checks on the configuration.
func (c FinalizationConfiguration) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("%w: Size must be positive", ErrInvalidConfiguration)
	}
	if c.Threshold == 0 {
		return fmt.Errorf("%w: Threshold must be positive", ErrInvalidConfiguration)
	}
	if c.MessageSynchronizationMaxResponseSize == 0 {
		return fmt.Errorf("%w: MessageSynchronizationMaxResponseSize must be positive", ErrInvalidConfiguration)
	}
	if c.MaxHashesPerPoint == 0 {
		return fmt.Errorf("%w: MaxHashesPerPoint must be positive", ErrInvalidConfiguration)
	}
	if c.ProposeMessageStageDuration <= 0 || c.AggregationStageMaxDuration <= 0 {
		return fmt.Errorf("%w: stage durations must be positive", ErrInvalidConfiguration)
	}
	return nil
}
