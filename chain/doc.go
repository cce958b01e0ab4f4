// Package chain implements the finalization core: the single-step vote
// aggregators, the multi-step aggregator cache that tracks every
// in-flight step for the current finalization point, and the
// orchestrator that drives the sub-round state machine.
//
// # Core types
//
// Aggregator is the interface shared by the three single-step variants
// (Maximum-Votes, Count-Votes, Common-Block). MultiStepAggregator is the
// concurrent cache keyed by StepIdentifier. Orchestrator owns the outer
// sub-round loop and wires MultiStepAggregator with the right aggregator
// factory and consensus sink per sub-round.
package chain
