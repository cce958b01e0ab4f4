package model

import "testing"

func TestFinalizationMessageSignedBytesExcludesSignatureAndHeader(t *testing.T) {
	base := &FinalizationMessage{
		StepIdentifier: StepIdentifier{Point: 1, Round: 0, SubRound: SubRoundProposeChain},
		Height:         100,
		Hashes:         []Hash{MustNewHash(make([]byte, 32))},
	}

	before := base.SignedBytes()

	base.Signer = PublicKey{1}
	base.Signature = Signature{1, 2, 3}

	after := base.SignedBytes()
	if string(before) != string(after) {
		t.Error("SignedBytes must not depend on Signer or Signature")
	}
}

func TestFinalizationMessageContentHashChangesWithSignature(t *testing.T) {
	m := &FinalizationMessage{
		StepIdentifier: StepIdentifier{Point: 1},
		Height:         1,
		Hashes:         []Hash{MustNewHash(make([]byte, 32))},
	}

	h1 := m.ContentHash()
	m.Signature = Signature{9}
	h2 := m.ContentHash()

	if h1.Equal(h2) {
		t.Error("ContentHash should change once the signature is set")
	}
}

func TestFinalizationMessageSize(t *testing.T) {
	m := &FinalizationMessage{
		SortitionHashProof: make([]byte, 16),
		Hashes:             []Hash{{}, {}},
	}
	want := uint64(FixedHeaderSize) + 16 + 2*HashSize
	if got := m.Size(); got != want {
		t.Errorf("Size() = %d, want %d", got, want)
	}
}

func TestFinalizationMessageTarget(t *testing.T) {
	m := &FinalizationMessage{
		Height: 10,
		Hashes: []Hash{MustNewHash(make([]byte, 32)), MustNewHash(append(make([]byte, 31), 1))},
	}
	target := m.Target(1)
	if target.Height != 11 || !target.Hash.Equal(m.Hashes[1]) {
		t.Errorf("Target(1) = %v, want height 11 hash %v", target, m.Hashes[1])
	}
}
