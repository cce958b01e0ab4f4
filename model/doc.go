// Package model defines the wire-level data structures for finalization
// vote messages and the read-only context a node verifies them against.
//
// # Core types
//
// StepIdentifier orders a single consensus stage within a finalization
// round. FinalizationMessage is the signed vote a validator broadcasts for
// one step. FinalizationContext is the immutable snapshot of the
// validator set a step's votes are checked against.
//
// # Immutability
//
// FinalizationMessage and FinalizationContext are treated as read-only
// once constructed; aggregators and the message processor only ever read
// from them, never mutate them in place.
package model
