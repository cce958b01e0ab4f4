// Package fincrypto provides the cryptographic primitives the
// finalization core consumes: message signing, VRF-based sortition
// proofs, and the deterministic vote-weight derivation that turns a VRF
// output into an integer vote count.
package fincrypto
