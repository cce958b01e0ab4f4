package chain

import "errors"

// Errors
var (
	ErrInvalidConfiguration   = errors.New("invalid finalization configuration")
	ErrDecreasingFinalizationPoint = errors.New("finalization point may not decrease")
	ErrHashesCountOutOfRange  = errors.New("hashes count outside variant's accepted range")
	ErrStepBelowAcceptanceFloor = errors.New("step identifier below acceptance floor")
	ErrStepWrongPoint         = errors.New("step identifier targets the wrong finalization point")
	ErrUnknownSubRound        = errors.New("unknown sub-round")
	// ErrContextFactoryFailed means the context factory could not rebuild
	// a FinalizationContext from local storage. Unlike every other
	// disposition in Modifier.Add, this is not attributable to a remote
	// peer: it means local storage is missing data the node itself
	// finalized, so it is propagated rather than dropped.
	ErrContextFactoryFailed = errors.New("context factory failed: local storage is missing finalized state")
)
