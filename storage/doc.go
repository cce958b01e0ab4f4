// Package storage implements chain.ProofStorage on top of pebble.
//
// Finalization proofs are rare, large writes on the hot path of the
// multi-step aggregator (one per finalized point, holding every vote
// that contributed to it), so they are zstd-compressed before being
// written and decompressed lazily on LoadProof. A small amount of
// metadata (the current finalization point, the finalized height, and a
// forward index of finalized height/hash targets) is kept alongside the
// proofs themselves so a restarted node can resume without replaying
// the WAL from genesis.
package storage
