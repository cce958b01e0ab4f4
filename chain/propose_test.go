package chain

import (
	"path/filepath"
	"testing"

	"github.com/blockberries/finalityberry/model"
	"github.com/blockberries/finalityberry/privval"
	"github.com/blockberries/finalityberry/process"
)

func newTestFileSigner(t *testing.T) *privval.FileSigner {
	t.Helper()
	dir := t.TempDir()
	s, err := privval.GenerateFileSigner(filepath.Join(dir, "key.json"), filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatalf("generate file signer: %v", err)
	}
	return s
}

// contextFactoryFor builds a ContextFactory that always returns a fixed
// context registering signer with weight, alongside a genesis hash.
func contextFactoryFor(genHash model.Hash, signer *privval.FileSigner, weight uint64, size float64) ContextFactory {
	voters := map[model.PublicKey]model.VoterInfo{
		signer.VotingPublicKey(): {Weight: weight, VRFPublicKey: signer.VRFPublicKey()},
	}
	return func() (*model.FinalizationContext, error) {
		return model.NewFinalizationContext(1, 10, genHash, weight, weight/2+1, size, voters), nil
	}
}

func TestMessagePreparerSignsWhenSelected(t *testing.T) {
	signer := newTestFileSigner(t)
	genHash := model.MustNewHash(make([]byte, model.HashSize))
	// A large expected committee size relative to total weight all but
	// guarantees a nonzero derived weight for the sole registered voter.
	contextFactory := contextFactoryFor(genHash, signer, 1000, 1000)

	preparer := NewMessagePreparer(signer, contextFactory, nil)
	step := model.StepIdentifier{Point: 1, SubRound: model.SubRoundProposeChain}

	message, ok := preparer.Prepare(step, 10, []model.Hash{hashN(9)})
	if !ok {
		t.Fatal("expected the sole registered voter to be selected with a high expected committee size")
	}
	if message.Signer != signer.VotingPublicKey() {
		t.Error("prepared message is not signed by the preparer's signer")
	}

	// The self-prepared message must pass through the same processor
	// checks as a message received from the network: signing and
	// processing are inverse operations.
	ctx, err := contextFactory()
	if err != nil {
		t.Fatalf("context factory: %v", err)
	}
	p := process.NewProcessor(nil)
	result, weight := p.Process(message, ctx)
	if result != model.ProcessAccepted {
		t.Errorf("Process() result = %v, want ProcessAccepted", result)
	}
	if weight == 0 {
		t.Error("expected a nonzero derived weight")
	}
}

func TestMessagePreparerSkipsWhenNotSelected(t *testing.T) {
	signer := newTestFileSigner(t)
	genHash := model.MustNewHash(make([]byte, model.HashSize))
	// A zero expected committee size drives DeriveWeight to zero
	// regardless of stake or VRF output (see fincrypto.DeriveWeight).
	contextFactory := contextFactoryFor(genHash, signer, 1000, 0)

	preparer := NewMessagePreparer(signer, contextFactory, nil)
	step := model.StepIdentifier{Point: 1, SubRound: model.SubRoundProposeChain}

	if _, ok := preparer.Prepare(step, 10, []model.Hash{hashN(1)}); ok {
		t.Error("expected Prepare to report not-selected when the derived weight is zero")
	}
}

func TestMessagePreparerSkipsUnregisteredVoter(t *testing.T) {
	signer := newTestFileSigner(t)
	genHash := model.MustNewHash(make([]byte, model.HashSize))
	emptyContextFactory := func() (*model.FinalizationContext, error) {
		return model.NewFinalizationContext(1, 10, genHash, 0, 1, 1000, nil), nil
	}

	preparer := NewMessagePreparer(signer, emptyContextFactory, nil)
	step := model.StepIdentifier{Point: 1, SubRound: model.SubRoundProposeChain}

	if _, ok := preparer.Prepare(step, 10, []model.Hash{hashN(1)}); ok {
		t.Error("expected Prepare to skip a signer absent from the voter set")
	}
}

func TestNewSigningMessageSinkAddsAndBroadcastsSelfVote(t *testing.T) {
	signer := newTestFileSigner(t)
	genHash := model.MustNewHash(make([]byte, model.HashSize))
	contextFactory := contextFactoryFor(genHash, signer, 1000, 1000)
	preparer := NewMessagePreparer(signer, contextFactory, nil)

	agg := NewMultiStepAggregator(
		1<<20,
		process.NewProcessor(nil),
		func(step model.StepIdentifier) Aggregator { return NewCountVotesAggregator(1) },
		func() (*model.FinalizationContext, error) { return contextFactory() },
		func(model.StepIdentifier, model.HeightHashPair, model.FinalizationProof) {},
		1,
		nil,
	)

	var added, broadcast []*model.FinalizationMessage
	addMessage := func(m *model.FinalizationMessage) { added = append(added, m) }
	broadcastFn := func(m *model.FinalizationMessage) { broadcast = append(broadcast, m) }

	sink := NewSigningMessageSink(preparer, agg, func() model.SubRound { return model.SubRoundProposeChain }, addMessage, broadcastFn, nil)
	sink(10, []model.Hash{hashN(1)})

	if len(added) != 1 {
		t.Fatalf("addMessage called %d times, want 1", len(added))
	}
	if len(broadcast) != 1 {
		t.Fatalf("broadcast called %d times, want 1", len(broadcast))
	}
	if added[0] != broadcast[0] {
		t.Error("addMessage and broadcast must receive the same prepared message")
	}
	if added[0].StepIdentifier.SubRound != model.SubRoundProposeChain {
		t.Errorf("prepared message sub-round = %v, want ProposeChain", added[0].StepIdentifier.SubRound)
	}
}
