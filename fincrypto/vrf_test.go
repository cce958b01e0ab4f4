package fincrypto

import (
	"testing"

	"github.com/blockberries/finalityberry/model"
)

func TestVRFProveAndVerify(t *testing.T) {
	pub, priv, err := GenerateVRFKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	genHash := model.MustNewHash(make([]byte, 32))
	step := model.StepIdentifier{Point: 1, Round: 0, SubRound: model.SubRoundProposeChain}

	proof := priv.Prove(genHash, step)
	out, ok := pub.Verify(genHash, step, proof)
	if !ok {
		t.Fatal("expected proof to verify")
	}
	if len(out) == 0 {
		t.Error("expected a nonempty VRF output")
	}
}

func TestVRFVerifyRejectsWrongStep(t *testing.T) {
	pub, priv, err := GenerateVRFKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	genHash := model.MustNewHash(make([]byte, 32))
	step := model.StepIdentifier{Point: 1}
	otherStep := model.StepIdentifier{Point: 2}

	proof := priv.Prove(genHash, step)
	if _, ok := pub.Verify(genHash, otherStep, proof); ok {
		t.Error("expected verification to fail for a different step identifier")
	}
}

func TestVRFPrivateKeyHexRoundTrip(t *testing.T) {
	pub, priv, err := GenerateVRFKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	reloaded, err := VRFPrivateKeyFromHex(priv.PrivateHex())
	if err != nil {
		t.Fatalf("from hex: %v", err)
	}

	genHash := model.MustNewHash(make([]byte, 32))
	step := model.StepIdentifier{Point: 1}

	proof := reloaded.Prove(genHash, step)
	if _, ok := pub.Verify(genHash, step, proof); !ok {
		t.Error("proof from a reloaded private key should still verify")
	}
}
