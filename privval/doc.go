// Package privval manages a validator's voting and VRF key material and
// guards against double voting.
//
// A FileSigner holds the Ed25519 voting key pair used to sign
// finalization messages and the VRF key pair used to produce sortition
// proofs, persisted to a key file. Before signing, it checks
// LastSignState: a message may only be signed for a step identifier
// strictly newer than the last one signed, or for the exact same step
// and message body already signed (idempotent re-signing after a
// crash). The state file is written before SignMessage returns, so the
// guard holds across restarts.
package privval
