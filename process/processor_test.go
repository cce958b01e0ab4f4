package process

import (
	"testing"

	"github.com/blockberries/finalityberry/fincrypto"
	"github.com/blockberries/finalityberry/model"
)

type testVoter struct {
	signing fincrypto.VotingKeyPair
	vrfPub  fincrypto.VRFPublicKey
	vrfPriv fincrypto.VRFPrivateKey
	weight  uint64
}

func newTestVoter(t *testing.T, weight uint64) testVoter {
	t.Helper()
	signing, err := fincrypto.GenerateVotingKeyPair()
	if err != nil {
		t.Fatalf("generate voting key: %v", err)
	}
	vrfPub, vrfPriv, err := fincrypto.GenerateVRFKeyPair()
	if err != nil {
		t.Fatalf("generate vrf key: %v", err)
	}
	return testVoter{signing: signing, vrfPub: vrfPub, vrfPriv: vrfPriv, weight: weight}
}

func newTestContext(t *testing.T, genHash model.Hash, size float64, voters ...testVoter) *model.FinalizationContext {
	t.Helper()
	m := make(map[model.PublicKey]model.VoterInfo, len(voters))
	var total uint64
	for _, v := range voters {
		var vrfKey model.PublicKey
		copy(vrfKey[:], v.vrfPub.Bytes())
		m[v.signing.Public] = model.VoterInfo{Weight: v.weight, VRFPublicKey: vrfKey}
		total += v.weight
	}
	return model.NewFinalizationContext(1, 10, genHash, total, total/2+1, size, m)
}

func newMessage(step model.StepIdentifier, genHash model.Hash, v testVoter) *model.FinalizationMessage {
	m := &model.FinalizationMessage{
		StepIdentifier:     step,
		Height:             11,
		Hashes:             []model.Hash{model.MustNewHash(make([]byte, 32))},
		SortitionHashProof: v.vrfPriv.Prove(genHash, step),
	}
	v.signing.Sign(m)
	return m
}

func TestProcessorAcceptsValidMessage(t *testing.T) {
	genHash := model.MustNewHash(make([]byte, 32))
	voter := newTestVoter(t, 1000)
	ctx := newTestContext(t, genHash, 100, voter)
	step := model.StepIdentifier{Point: 1, Round: 0, SubRound: model.SubRoundProposeChain}

	m := newMessage(step, genHash, voter)

	p := NewProcessor(nil)
	result, weight := p.Process(m, ctx)
	if result != model.ProcessAccepted {
		t.Fatalf("Process() result = %v, want ProcessAccepted", result)
	}
	if weight == 0 {
		t.Error("expected a nonzero derived weight for an eligible voter")
	}
}

func TestProcessorRejectsBadSignature(t *testing.T) {
	genHash := model.MustNewHash(make([]byte, 32))
	voter := newTestVoter(t, 1000)
	ctx := newTestContext(t, genHash, 100, voter)
	step := model.StepIdentifier{Point: 1}

	m := newMessage(step, genHash, voter)
	m.Height = 12 // tamper after signing

	p := NewProcessor(nil)
	result, weight := p.Process(m, ctx)
	if result != model.ProcessFailureSignature {
		t.Errorf("Process() result = %v, want ProcessFailureSignature", result)
	}
	if weight != 0 {
		t.Error("expected zero weight on a rejected message")
	}
}

func TestProcessorRejectsUnknownVoter(t *testing.T) {
	genHash := model.MustNewHash(make([]byte, 32))
	registered := newTestVoter(t, 1000)
	stranger := newTestVoter(t, 1000)
	ctx := newTestContext(t, genHash, 100, registered)
	step := model.StepIdentifier{Point: 1}

	m := newMessage(step, genHash, stranger)

	p := NewProcessor(nil)
	result, _ := p.Process(m, ctx)
	if result != model.ProcessFailureVoter {
		t.Errorf("Process() result = %v, want ProcessFailureVoter", result)
	}
}

func TestProcessorRejectsInvalidSortitionProof(t *testing.T) {
	genHash := model.MustNewHash(make([]byte, 32))
	voter := newTestVoter(t, 1000)
	ctx := newTestContext(t, genHash, 100, voter)
	step := model.StepIdentifier{Point: 1}
	otherStep := model.StepIdentifier{Point: 2}

	// Prove a different step than the one the message actually carries,
	// so the sortition proof no longer matches.
	m := &model.FinalizationMessage{
		StepIdentifier:     step,
		Height:             11,
		Hashes:             []model.Hash{model.MustNewHash(make([]byte, 32))},
		SortitionHashProof: voter.vrfPriv.Prove(genHash, otherStep),
	}
	voter.signing.Sign(m)

	p := NewProcessor(nil)
	result, _ := p.Process(m, ctx)
	if result != model.ProcessFailureSortitionProof {
		t.Errorf("Process() result = %v, want ProcessFailureSortitionProof", result)
	}
}

func TestProcessorRejectsUnselectedVoter(t *testing.T) {
	genHash := model.MustNewHash(make([]byte, 32))
	// A zero expected committee size drives DeriveWeight to zero for
	// every voter regardless of stake or VRF output.
	voter := newTestVoter(t, 1000)
	ctx := newTestContext(t, genHash, 0, voter)
	step := model.StepIdentifier{Point: 1}

	m := newMessage(step, genHash, voter)

	p := NewProcessor(nil)
	result, weight := p.Process(m, ctx)
	if result != model.ProcessFailureSelection {
		t.Errorf("Process() result = %v, want ProcessFailureSelection", result)
	}
	if weight != 0 {
		t.Error("expected zero weight when the voter was not selected")
	}
}
