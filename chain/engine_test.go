package chain

import (
	"context"
	"testing"
	"time"

	"github.com/blockberries/finalityberry/model"
	"github.com/blockberries/finalityberry/wal"
)

type fakeProofStorage struct {
	point       model.FinalizationPoint
	height      uint64
	savedProofs map[model.FinalizationPoint]model.FinalizationProof
}

func newFakeProofStorage() *fakeProofStorage {
	return &fakeProofStorage{point: 1, height: 1, savedProofs: map[model.FinalizationPoint]model.FinalizationProof{}}
}

func (s *fakeProofStorage) FinalizationPoint() (model.FinalizationPoint, error) { return s.point, nil }
func (s *fakeProofStorage) FinalizedHeight() (uint64, error)                    { return s.height, nil }
func (s *fakeProofStorage) SaveProof(point model.FinalizationPoint, target model.HeightHashPair, proof model.FinalizationProof) error {
	s.savedProofs[point] = proof
	s.point = point
	s.height = target.Height
	return nil
}
func (s *fakeProofStorage) LoadProof(point model.FinalizationPoint) (model.FinalizationProof, error) {
	return s.savedProofs[point], nil
}
func (s *fakeProofStorage) LoadFinalizedHashesFrom(model.FinalizationPoint, int) ([]model.HeightHashPair, error) {
	return nil, nil
}

type fakeBlockStorage struct{ hash model.Hash }

func (b fakeBlockStorage) GenerationHash(uint64) (model.Hash, error) { return b.hash, nil }

type fakeAccountState struct{}

func (fakeAccountState) Voters(uint64) (uint64, map[model.PublicKey]model.VoterInfo, error) {
	return 0, nil, nil
}

type fakeSubscriber struct {
	notified []model.FinalizationPoint
}

func (s *fakeSubscriber) NotifyFinalizedBlock(height uint64, hash model.Hash, point model.FinalizationPoint) {
	s.notified = append(s.notified, point)
}

type fakeProcessor struct {
	weights map[model.PublicKey]uint64
}

func (p fakeProcessor) Process(m *model.FinalizationMessage, _ *model.FinalizationContext) (model.ProcessResult, uint64) {
	return model.ProcessAccepted, p.weights[m.Signer]
}

func engineSigner(b byte) model.PublicKey { var pk model.PublicKey; pk[0] = b; return pk }

// TestEngineFinalizationWritesAndCheckpointsWAL drives a single
// BinaryBA-End vote past threshold through Engine.AddMessage, with a
// file WAL attached, and checks that the subscriber is notified of the
// point, that its one-message proof is saved, and that the WAL still
// reports its segment group afterwards.
func TestEngineFinalizationWritesAndCheckpointsWAL(t *testing.T) {
	dir := t.TempDir()
	writeAheadLog, err := wal.NewFileWAL(dir, nil)
	if err != nil {
		t.Fatalf("NewFileWAL: %v", err)
	}

	storage := newFakeProofStorage()
	subscriber := &fakeSubscriber{}
	signer := engineSigner(1)
	processor := fakeProcessor{weights: map[model.PublicKey]uint64{signer: 5000}}

	config := DefaultFinalizationConfiguration()
	config.Threshold = 2000

	engine, err := NewEngine(
		config,
		storage,
		fakeBlockStorage{},
		fakeAccountState{},
		processor,
		func() (uint64, []model.Hash) { return 1, nil },
		func(uint64, []model.Hash) {},
		subscriber,
		writeAheadLog,
		nil,
	)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := engine.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer engine.Stop()

	target := model.HeightHashPair{Height: 42, Hash: hashN(7)}
	msg := &model.FinalizationMessage{
		StepIdentifier: model.StepIdentifier{Point: 2, SubRound: model.SubRoundBinaryBAEnd},
		Height:         target.Height,
		Signer:         signer,
		Hashes:         []model.Hash{target.Hash},
	}
	engine.AddMessage(msg)

	if len(subscriber.notified) != 1 || subscriber.notified[0] != 2 {
		t.Fatalf("subscriber.notified = %v, want [2]", subscriber.notified)
	}
	if proof := storage.savedProofs[2]; len(proof) != 1 {
		t.Fatalf("savedProofs[2] = %v, want a single-message proof", proof)
	}

	group := writeAheadLog.Group()
	if group == nil {
		t.Fatal("expected a non-nil WAL segment group after writing")
	}
}

// TestEngineStartIsIdempotent ensures calling Start twice does not try
// to reopen the WAL or spawn a second background loop.
func TestEngineStartIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeAheadLog, err := wal.NewFileWAL(dir, nil)
	if err != nil {
		t.Fatalf("NewFileWAL: %v", err)
	}

	engine, err := NewEngine(
		DefaultFinalizationConfiguration(),
		newFakeProofStorage(),
		fakeBlockStorage{},
		fakeAccountState{},
		fakeProcessor{weights: map[model.PublicKey]uint64{}},
		func() (uint64, []model.Hash) { return 1, nil },
		func(uint64, []model.Hash) {},
		&fakeSubscriber{},
		writeAheadLog,
		nil,
	)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := engine.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := engine.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	engine.Stop()
}
