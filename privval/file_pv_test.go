package privval

import (
	"path/filepath"
	"testing"

	"github.com/blockberries/finalityberry/model"
)

func testMessage(step model.StepIdentifier, hash model.Hash) *model.FinalizationMessage {
	return &model.FinalizationMessage{
		StepIdentifier: step,
		Height:         100,
		Hashes:         []model.Hash{hash},
	}
}

func TestFileSignerSignAndPersist(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "key.json")
	statePath := filepath.Join(dir, "state.json")

	s, err := GenerateFileSigner(keyPath, statePath)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	step := model.StepIdentifier{Point: 1, Round: 0, SubRound: model.SubRoundProposeChain}
	m := testMessage(step, model.MustNewHash(make([]byte, 32)))
	if err := s.SignMessage(m); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if m.Signer != s.VotingPublicKey() {
		t.Fatalf("message signer does not match signing key")
	}

	reloaded, err := LoadFileSigner(keyPath, statePath)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.VotingPublicKey() != s.VotingPublicKey() {
		t.Fatalf("reloaded voting key mismatch")
	}
	if reloaded.lastSignState.Step != step {
		t.Fatalf("reloaded last sign state step mismatch: got %v want %v", reloaded.lastSignState.Step, step)
	}
}

func TestFileSignerRejectsDoubleVote(t *testing.T) {
	dir := t.TempDir()
	s, err := GenerateFileSigner(filepath.Join(dir, "key.json"), filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	step := model.StepIdentifier{Point: 1, Round: 0, SubRound: model.SubRoundCountBestHashVotes}
	m1 := testMessage(step, model.MustNewHash(make([]byte, 32)))
	if err := s.SignMessage(m1); err != nil {
		t.Fatalf("first sign: %v", err)
	}

	otherHash := model.MustNewHash(append(make([]byte, 31), 1))
	m2 := testMessage(step, otherHash)
	if err := s.SignMessage(m2); err != ErrDoubleVote {
		t.Fatalf("expected ErrDoubleVote, got %v", err)
	}
}

func TestFileSignerAllowsIdempotentResign(t *testing.T) {
	dir := t.TempDir()
	s, err := GenerateFileSigner(filepath.Join(dir, "key.json"), filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	step := model.StepIdentifier{Point: 1, Round: 0, SubRound: model.SubRoundCountBestHashVotes}
	hash := model.MustNewHash(make([]byte, 32))
	m1 := testMessage(step, hash)
	if err := s.SignMessage(m1); err != nil {
		t.Fatalf("first sign: %v", err)
	}

	m2 := testMessage(step, hash)
	if err := s.SignMessage(m2); err != nil {
		t.Fatalf("idempotent resign should succeed, got %v", err)
	}
}

func TestFileSignerRejectsStepRegression(t *testing.T) {
	dir := t.TempDir()
	s, err := GenerateFileSigner(filepath.Join(dir, "key.json"), filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	hi := model.StepIdentifier{Point: 2, Round: 0, SubRound: model.SubRoundProposeChain}
	lo := model.StepIdentifier{Point: 1, Round: 0, SubRound: model.SubRoundProposeChain}

	if err := s.SignMessage(testMessage(hi, model.MustNewHash(make([]byte, 32)))); err != nil {
		t.Fatalf("sign hi: %v", err)
	}
	if err := s.SignMessage(testMessage(lo, model.MustNewHash(make([]byte, 32)))); err != ErrPointRegression {
		t.Fatalf("expected ErrPointRegression, got %v", err)
	}
}
